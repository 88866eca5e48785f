// Package vector provides named vector collections with cosine nearest-neighbor search
// and the store that owns and persists them.
package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Metric is a distance metric fixed at collection creation.
type Metric string

// MetricCosine ranks by 1 - cosine similarity. It is the only supported metric.
const MetricCosine Metric = "cosine"

// Record is a stored vector with its id and metadata.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Neighbor is a single query hit.
type Neighbor struct {
	ID       string
	Distance float64
	Metadata map[string]string
}

// Collection is an append-only named set of records keyed by unique id.
// Records are kept in insertion order, which breaks distance ties in Query.
// Safe for concurrent use.
type Collection struct {
	name      string
	dimension int
	metric    Metric
	backend   Backend // nil for memory-only collections

	mu      sync.RWMutex
	records []Record
	byID    map[string]int
}

// NewCollection creates a detached, memory-only collection.
func NewCollection(name string, dimension int, metric Metric) (*Collection, error) {
	return newCollection(name, dimension, metric, nil)
}

func newCollection(name string, dimension int, metric Metric, backend Backend) (*Collection, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, dimension)
	}
	if metric == "" {
		metric = MetricCosine
	}
	if metric != MetricCosine {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMetric, metric)
	}
	return &Collection{
		name:      name,
		dimension: dimension,
		metric:    metric,
		backend:   backend,
		byID:      make(map[string]int),
	}, nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Dimension returns the declared vector dimension.
func (c *Collection) Dimension() int { return c.dimension }

// Metric returns the distance metric.
func (c *Collection) Metric() Metric { return c.metric }

// Add stores a vector under id. It fails with ErrDimensionMismatch or ErrDuplicateID and
// leaves the collection unchanged. With a backend the record is persisted before it becomes
// visible to queries.
func (c *Collection) Add(ctx context.Context, id string, vec []float32, metadata map[string]string) error {
	if len(vec) != c.dimension {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), c.dimension)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	rec := Record{ID: id, Vector: make([]float32, c.dimension), Metadata: copyMetadata(metadata)}
	copy(rec.Vector, vec)
	if c.backend != nil {
		if err := c.backend.InsertRecord(ctx, c.name, len(c.records), rec); err != nil {
			return fmt.Errorf("persist record %s: %w", id, err)
		}
	}
	c.byID[id] = len(c.records)
	c.records = append(c.records, rec)
	return nil
}

// Query returns at most k records nearest to vec by cosine distance, ascending.
// Ties keep insertion order. An empty collection or k <= 0 yields an empty result.
func (c *Collection) Query(ctx context.Context, vec []float32, k int) ([]Neighbor, error) {
	if len(vec) != c.dimension {
		return nil, fmt.Errorf("%w: query has %d, collection expects %d", ErrDimensionMismatch, len(vec), c.dimension)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if k <= 0 || len(c.records) == 0 {
		return []Neighbor{}, nil
	}
	type scored struct {
		pos      int
		distance float64
	}
	scores := make([]scored, len(c.records))
	for i := range c.records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		scores[i] = scored{pos: i, distance: CosineDistance(vec, c.records[i].Vector)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].distance < scores[j].distance })
	if k > len(scores) {
		k = len(scores)
	}
	out := make([]Neighbor, k)
	for i := 0; i < k; i++ {
		rec := c.records[scores[i].pos]
		out[i] = Neighbor{ID: rec.ID, Distance: scores[i].distance, Metadata: copyMetadata(rec.Metadata)}
	}
	return out, nil
}

// Get returns the record stored under id.
func (c *Collection) Get(id string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos, ok := c.byID[id]
	if !ok {
		return Record{}, false
	}
	rec := c.records[pos]
	return Record{ID: rec.ID, Vector: append([]float32(nil), rec.Vector...), Metadata: copyMetadata(rec.Metadata)}, true
}

// Records returns a copy of all records in insertion order.
func (c *Collection) Records() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, len(c.records))
	for i, rec := range c.records {
		out[i] = Record{ID: rec.ID, Vector: append([]float32(nil), rec.Vector...), Metadata: copyMetadata(rec.Metadata)}
	}
	return out
}

// Count returns the number of stored vectors.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// restore appends already-persisted records without writing them back.
func (c *Collection) restore(records []Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range records {
		if len(rec.Vector) != c.dimension {
			return fmt.Errorf("%w: record %s has %d, expected %d", ErrDimensionMismatch, rec.ID, len(rec.Vector), c.dimension)
		}
		if _, ok := c.byID[rec.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
		c.byID[rec.ID] = len(c.records)
		c.records = append(c.records, rec)
	}
	return nil
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
