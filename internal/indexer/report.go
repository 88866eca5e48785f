package indexer

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/imgsearch/internal/models"
	"github.com/hyperjump/imgsearch/internal/session"
)

// SkippedImage is an image left out of a session because it could not be embedded.
type SkippedImage struct {
	Path string
	Err  error
}

// Report summarizes a build.
type Report struct {
	Session    *session.Session
	Folder     string
	Discovered int
	Indexed    int
	Skipped    []SkippedImage
	Duration   time.Duration
}

// SkippedPaths returns the paths of skipped images in discovery order.
func (r *Report) SkippedPaths() []string {
	if len(r.Skipped) == 0 {
		return nil
	}
	out := make([]string, len(r.Skipped))
	for i, s := range r.Skipped {
		out[i] = s.Path
	}
	return out
}

// Err returns a *PartialFailureError when images were skipped, nil otherwise.
func (r *Report) Err() error {
	if r == nil || len(r.Skipped) == 0 {
		return nil
	}
	return &PartialFailureError{Skipped: r.Skipped}
}

// PartialFailureError lists images skipped by a build that otherwise succeeded.
type PartialFailureError struct {
	Skipped []SkippedImage
}

func (e *PartialFailureError) Error() string {
	paths := make([]string, len(e.Skipped))
	for i, s := range e.Skipped {
		paths[i] = s.Path
	}
	return fmt.Sprintf("%d image(s) skipped: %s", len(e.Skipped), strings.Join(paths, ", "))
}

// Unwrap exposes the per-image causes so errors.Is(err, embedding.ErrDecodeFailure) works.
func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Skipped))
	for _, s := range e.Skipped {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errs
}

// Response converts the report to its wire form.
func (r *Report) Response() models.IndexResponse {
	resp := models.IndexResponse{
		Discovered: r.Discovered,
		Indexed:    r.Indexed,
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Session != nil {
		resp.Session = r.Session.Info
	}
	for _, s := range r.Skipped {
		msg := ""
		if s.Err != nil {
			msg = s.Err.Error()
		}
		resp.Skipped = append(resp.Skipped, models.SkippedImage{Path: s.Path, Error: msg})
	}
	return resp
}
