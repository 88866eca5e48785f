package models

// SearchResult is a single ranked hit. Score is higher for better matches; for vector
// search it is 1 - Distance.
type SearchResult struct {
	ID       string  `json:"id"`
	Path     string  `json:"path"`
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Distance float64 `json:"distance"`
	Rank     int     `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query     string          `json:"query"`
	Mode      string          `json:"mode"`
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	SessionID string          `json:"session_id,omitempty"`
}
