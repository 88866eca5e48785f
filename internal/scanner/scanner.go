// Package scanner lists image files in a folder by glob pattern.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPatterns are the image patterns used when none are configured.
var DefaultPatterns = []string{"*.jpg", "*.png", "*.jpeg"}

// ErrNotDirectory is returned when the scan root is not a directory.
var ErrNotDirectory = errors.New("not a directory")

// Options controls a scan.
type Options struct {
	// Patterns are doublestar globs matched against the file name and the path relative
	// to the root. Files are returned grouped by the first pattern they match, in pattern order.
	Patterns []string
	// Recursive descends into subdirectories. Hidden directories are always skipped.
	Recursive bool
}

// Scan returns the absolute paths of files under dir matching opts.Patterns.
// Within a pattern, files are in lexical path order.
func Scan(dir string, opts Options) ([]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}
	patterns := opts.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !opts.Recursive || strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	seen := make(map[string]struct{}, len(files))
	var out []string
	for _, pattern := range patterns {
		for _, path := range files {
			if _, ok := seen[path]; ok {
				continue
			}
			if matches(pattern, root, path) {
				seen[path] = struct{}{}
				out = append(out, path)
			}
		}
	}
	return out, nil
}

// Match reports whether path (absolute, under root) matches any of patterns.
func Match(patterns []string, root, path string) bool {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	for _, p := range patterns {
		if matches(p, root, path) {
			return true
		}
	}
	return false
}

func matches(pattern, root, path string) bool {
	if ok, _ := doublestar.Match(pattern, filepath.Base(path)); ok {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel))
	return ok
}
