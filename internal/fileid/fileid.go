// Package fileid derives stable keys for image files and in-memory images.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
)

const (
	imagePrefix = "img:"
	bytesPrefix = "bytes:"
)

// ImageKey returns a key that changes whenever the file at path is modified,
// so cached embeddings of an older version are never reused.
func ImageKey(absolutePath string, info fs.FileInfo) string {
	s := fmt.Sprintf("%s|%d|%d", filepath.Clean(absolutePath), info.ModTime().UnixNano(), info.Size())
	return imagePrefix + digest([]byte(s))
}

// BytesKey returns a content key for an encoded image held in memory.
func BytesKey(data []byte) string {
	return bytesPrefix + digest(data)
}

func digest(b []byte) string {
	hash := sha256.Sum256(b)
	return hex.EncodeToString(hash[:])
}
