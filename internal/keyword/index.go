// Package keyword indexes image filenames for term search with Bleve.
package keyword

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/imgsearch/internal/models"
)

// Hit is a single filename search hit.
type Hit struct {
	ID    string
	Score float64
}

// nameDoc is the indexed form of an image. Terms splits the filename on separators
// so "red_car-01.jpg" is found by "red", "car" or "01".
type nameDoc struct {
	Name  string `json:"name"`
	Terms string `json:"terms"`
	Dir   string `json:"dir"`
}

// NameIndex is an in-memory Bleve index over the filenames of one session.
type NameIndex struct {
	mu    sync.RWMutex
	index bleve.Index
}

// NewNameIndex creates an empty in-memory index.
func NewNameIndex() (*NameIndex, error) {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("terms", textFieldMapping)
	docMapping.AddFieldMappingsAt("dir", textFieldMapping)

	nameFieldMapping := bleve.NewTextFieldMapping()
	nameFieldMapping.Analyzer = keywordanalyzer.Name
	docMapping.AddFieldMappingsAt("name", nameFieldMapping)

	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &NameIndex{index: index}, nil
}

// Index adds images in one batch.
func (n *NameIndex) Index(ctx context.Context, images []models.ImageRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	batch := n.index.NewBatch()
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := nameDoc{
			Name:  strings.ToLower(img.Name),
			Terms: strings.Join(SplitName(img.Name), " "),
			Dir:   strings.Join(SplitName(filepath.Dir(img.Path)), " "),
		}
		if err := batch.Index(img.ID, doc); err != nil {
			return fmt.Errorf("index %s: %w", img.ID, err)
		}
	}
	return n.index.Batch(batch)
}

// Search returns up to k images whose filenames match query. Exact filename matches
// rank first, then term, prefix and fuzzy term matches, then directory matches.
func (n *NameIndex) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	terms := SplitName(query)
	if len(terms) == 0 || k <= 0 {
		return []Hit{}, nil
	}

	exact := bleve.NewTermQuery(strings.ToLower(strings.TrimSpace(query)))
	exact.SetField("name")
	exact.SetBoost(10)
	should := []blevequery.Query{exact}
	for _, term := range terms {
		match := bleve.NewMatchQuery(term)
		match.SetField("terms")
		match.SetBoost(3)

		prefix := bleve.NewPrefixQuery(term)
		prefix.SetField("terms")
		prefix.SetBoost(2)

		dir := bleve.NewMatchQuery(term)
		dir.SetField("dir")
		dir.SetBoost(0.5)

		should = append(should, match, prefix, dir)
		if len(term) > 3 {
			fuzzy := bleve.NewFuzzyQuery(term)
			fuzzy.SetField("terms")
			fuzzy.SetFuzziness(1)
			should = append(should, fuzzy)
		}
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(should...), k, 0, false)
	n.mu.RLock()
	defer n.mu.RUnlock()
	results, err := n.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]Hit, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = Hit{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// Close releases the index.
func (n *NameIndex) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index.Close()
}

// SplitName lowercases s and splits it on anything that is not a letter or digit.
func SplitName(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
