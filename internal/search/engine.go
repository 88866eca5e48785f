// Package search answers text, image and filename queries against the active session.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/imgsearch/internal/embedding"
	"github.com/hyperjump/imgsearch/internal/models"
	"github.com/hyperjump/imgsearch/internal/session"
)

// Engine embeds queries and ranks the active session's images against them.
// Each call reads the active session once, so a concurrent rebuild never mixes
// results from two sessions.
type Engine struct {
	embedder embedding.Embedder
	holder   *session.Holder
	defaultK int
	maxK     int
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for query events.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithLimits sets the result count used when k <= 0 and the upper bound on k.
func WithLimits(defaultK, maxK int) EngineOption {
	return func(e *Engine) {
		if defaultK > 0 {
			e.defaultK = defaultK
		}
		if maxK > 0 {
			e.maxK = maxK
		}
	}
}

// NewEngine creates a search engine over the sessions published to holder.
func NewEngine(embedder embedding.Embedder, holder *session.Holder, opts ...EngineOption) *Engine {
	e := &Engine{
		embedder: embedder,
		holder:   holder,
		defaultK: models.DefaultK,
		maxK:     models.MaxK,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Search validates query and dispatches on its mode.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := ProcessQuery(query); err != nil {
		return nil, err
	}
	sess := e.holder.Current()

	var (
		results []*models.SearchResult
		err     error
	)
	switch query.Mode {
	case models.ModeImage:
		results, err = e.searchImage(ctx, sess, query.Query, query.K)
	case models.ModeName:
		results, err = e.searchName(ctx, sess, query.Query, query.K)
	default:
		results, err = e.searchText(ctx, sess, query.Query, query.K)
	}
	if err != nil {
		return nil, err
	}
	resp := &models.SearchResponse{
		Query:     query.Query,
		Mode:      query.Mode,
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(startTime).Milliseconds(),
	}
	if sess != nil {
		resp.SessionID = sess.Info.ID
	}
	e.logger.Debug("search",
		zap.String("mode", resp.Mode),
		zap.String("query", resp.Query),
		zap.Int("results", resp.Total),
		zap.Int64("query_time_ms", resp.QueryTime))
	return resp, nil
}

// SearchByText returns the k images closest to text. Blank text or an empty session
// yields no results.
func (e *Engine) SearchByText(ctx context.Context, text string, k int) ([]*models.SearchResult, error) {
	return e.searchText(ctx, e.holder.Current(), text, k)
}

// SearchByImage returns the k images closest to the image file at path.
// An unreadable image fails with ErrUnreadableQueryImage.
func (e *Engine) SearchByImage(ctx context.Context, path string, k int) ([]*models.SearchResult, error) {
	return e.searchImage(ctx, e.holder.Current(), path, k)
}

// SearchByImageBytes is SearchByImage for an encoded image held in memory.
func (e *Engine) SearchByImageBytes(ctx context.Context, data []byte, k int) ([]*models.SearchResult, error) {
	sess := e.holder.Current()
	vec, err := e.embedder.EmbedImageBytes(ctx, data)
	if err != nil {
		return nil, queryImageError(err)
	}
	return e.nearest(ctx, sess, vec, k)
}

// SearchByName returns up to k images whose filenames match query.
func (e *Engine) SearchByName(ctx context.Context, query string, k int) ([]*models.SearchResult, error) {
	return e.searchName(ctx, e.holder.Current(), query, k)
}

func (e *Engine) searchText(ctx context.Context, sess *session.Session, text string, k int) ([]*models.SearchResult, error) {
	text = strings.TrimSpace(text)
	if text == "" || sess.Count() == 0 {
		return []*models.SearchResult{}, nil
	}
	vec, err := e.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query text: %w", err)
	}
	return e.nearest(ctx, sess, vec, k)
}

func (e *Engine) searchImage(ctx context.Context, sess *session.Session, path string, k int) ([]*models.SearchResult, error) {
	vec, err := e.embedder.EmbedImage(ctx, path)
	if err != nil {
		return nil, queryImageError(err)
	}
	return e.nearest(ctx, sess, vec, k)
}

func (e *Engine) searchName(ctx context.Context, sess *session.Session, query string, k int) ([]*models.SearchResult, error) {
	if strings.TrimSpace(query) == "" || sess.Count() == 0 || sess.Names == nil {
		return []*models.SearchResult{}, nil
	}
	hits, err := sess.Names.Search(ctx, query, e.limit(k, sess.Count()))
	if err != nil {
		return nil, fmt.Errorf("filename search: %w", err)
	}
	results := make([]*models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		img, ok := sess.Image(hit.ID)
		if !ok {
			continue
		}
		results = append(results, &models.SearchResult{
			ID:    img.ID,
			Path:  img.Path,
			Name:  img.Name,
			Score: hit.Score,
			Rank:  len(results) + 1,
		})
	}
	return results, nil
}

func (e *Engine) nearest(ctx context.Context, sess *session.Session, vec []float32, k int) ([]*models.SearchResult, error) {
	if sess.Count() == 0 {
		return []*models.SearchResult{}, nil
	}
	neighbors, err := sess.Collection.Query(ctx, vec, e.limit(k, sess.Count()))
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}
	results := make([]*models.SearchResult, len(neighbors))
	for i, n := range neighbors {
		img := models.ImageFromMetadata(n.ID, n.Metadata)
		results[i] = &models.SearchResult{
			ID:       img.ID,
			Path:     img.Path,
			Name:     img.Name,
			Score:    1 - n.Distance,
			Distance: n.Distance,
			Rank:     i + 1,
		}
	}
	return results, nil
}

// limit applies the default and the maximum to k, then clamps it to count.
func (e *Engine) limit(k, count int) int {
	if k <= 0 {
		k = e.defaultK
	}
	if k > e.maxK {
		k = e.maxK
	}
	if k > count {
		k = count
	}
	return k
}
