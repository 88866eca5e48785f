package models

import (
	"fmt"
	"strings"
)

// Search modes.
const (
	ModeText  = "text"
	ModeImage = "image"
	ModeName  = "name"
)

// Result limits used by the search engine when none are configured.
const (
	DefaultK = 5
	MaxK     = 100
)

// SearchQuery is a search request. Query holds the text, the image path, or the filename
// terms depending on Mode.
type SearchQuery struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"`
	K     int    `json:"k,omitempty"`
}

// Validate trims the query and normalizes the mode. An empty query is an error.
// K is left to the engine; a negative K becomes 0, meaning the configured default.
func (q *SearchQuery) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	switch q.Mode {
	case "":
		q.Mode = ModeText
	case ModeText, ModeImage, ModeName:
	default:
		return fmt.Errorf("unknown search mode %q", q.Mode)
	}
	if q.K < 0 {
		q.K = 0
	}
	return nil
}
