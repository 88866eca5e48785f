package models

import "time"

// SessionInfo describes one folder load.
type SessionInfo struct {
	ID        string    `json:"id"`
	Folder    string    `json:"folder"`
	Indexed   int       `json:"indexed"`
	Skipped   []string  `json:"skipped,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
