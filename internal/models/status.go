package models

// Status reports the active session and the store backing it.
type Status struct {
	Session        *SessionInfo `json:"session,omitempty"`
	Images         int          `json:"images"`
	Collection     string       `json:"collection"`
	Dimension      int          `json:"dimension,omitempty"`
	Metric         string       `json:"metric,omitempty"`
	Persisted      int64        `json:"persisted"`
	StoreDir       string       `json:"store_dir,omitempty"`
	DiskUsageBytes int64        `json:"disk_usage_bytes"`
	WatchedFolder  string       `json:"watched_folder,omitempty"`
}
