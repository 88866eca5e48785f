package search

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/imgsearch/internal/embedding"
	"github.com/hyperjump/imgsearch/internal/models"
)

// Query errors. "No matches" is never an error.
var (
	ErrEmptyQueryText       = errors.New("empty query text")
	ErrUnreadableQueryImage = errors.New("unreadable query image")
)

// ProcessQuery validates and applies defaults to the search query.
// A blank query fails with ErrEmptyQueryText.
func ProcessQuery(query *models.SearchQuery) error {
	if strings.TrimSpace(query.Query) == "" {
		return ErrEmptyQueryText
	}
	return query.Validate()
}

// queryImageError maps an embedder failure on a query image to the query error taxonomy.
func queryImageError(err error) error {
	if errors.Is(err, embedding.ErrDecodeFailure) {
		return fmt.Errorf("%w: %w", ErrUnreadableQueryImage, err)
	}
	return fmt.Errorf("embed query image: %w", err)
}
