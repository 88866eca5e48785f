package models

// IndexRequest asks the server to load a folder as the new session.
type IndexRequest struct {
	Path string `json:"path"`
}

// SkippedImage is an image a build could not embed.
type SkippedImage struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// IndexResponse reports a completed folder load.
type IndexResponse struct {
	Session    SessionInfo    `json:"session"`
	Discovered int            `json:"discovered"`
	Indexed    int            `json:"indexed"`
	Skipped    []SkippedImage `json:"skipped,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}
