// Package session holds the single active folder session and swaps it atomically.
package session

import (
	"sync/atomic"

	"github.com/hyperjump/imgsearch/internal/keyword"
	"github.com/hyperjump/imgsearch/internal/models"
	"github.com/hyperjump/imgsearch/internal/vector"
)

// Session is an immutable handle on one folder load: the collection it populated,
// the filename index over the same images, and what the build reported.
type Session struct {
	Info       models.SessionInfo
	Collection *vector.Collection
	Names      *keyword.NameIndex // nil when filename search is unavailable
}

// Count returns the number of indexed images.
func (s *Session) Count() int {
	if s == nil || s.Collection == nil {
		return 0
	}
	return s.Collection.Count()
}

// Image returns the record stored under id.
func (s *Session) Image(id string) (models.ImageRecord, bool) {
	if s == nil || s.Collection == nil {
		return models.ImageRecord{}, false
	}
	rec, ok := s.Collection.Get(id)
	if !ok {
		return models.ImageRecord{}, false
	}
	return models.ImageFromMetadata(rec.ID, rec.Metadata), true
}

// Holder publishes the active session. Readers load a handle once per request and keep
// using it even if a rebuild publishes a newer one meanwhile.
type Holder struct {
	current atomic.Pointer[Session]
}

// Current returns the active session, or nil.
func (h *Holder) Current() *Session {
	return h.current.Load()
}

// Publish makes s the active session and returns the one it replaced.
func (h *Holder) Publish(s *Session) *Session {
	return h.current.Swap(s)
}

// Clear removes the active session and returns it.
func (h *Holder) Clear() *Session {
	return h.current.Swap(nil)
}
