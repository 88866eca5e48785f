// Package models defines core data structures for indexed images, queries, and search results.
package models

// Metadata keys stored with every indexed image.
const (
	MetaPath = "path"
	MetaName = "name"
)

// ImageRecord is one indexed image. Vector is never serialized.
type ImageRecord struct {
	ID     string    `json:"id"`
	Path   string    `json:"path"`
	Name   string    `json:"name"`
	Vector []float32 `json:"-"`
}

// Metadata returns the record's {path, name} metadata map.
func (r ImageRecord) Metadata() map[string]string {
	return map[string]string{MetaPath: r.Path, MetaName: r.Name}
}

// ImageFromMetadata rebuilds a record (without vector) from stored metadata.
func ImageFromMetadata(id string, md map[string]string) ImageRecord {
	return ImageRecord{ID: id, Path: md[MetaPath], Name: md[MetaName]}
}
