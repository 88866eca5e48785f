package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Backend persists collections and records for a Store.
type Backend interface {
	CreateCollection(ctx context.Context, name string, dimension int, metric Metric) error
	// InsertRecord stores rec at position seq (0-based insertion order) in collection.
	InsertRecord(ctx context.Context, collection string, seq int, rec Record) error
	// LoadCollections returns every persisted collection with records in insertion order.
	LoadCollections(ctx context.Context) ([]Snapshot, error)
	Close() error
}

// Snapshot is a persisted collection as read back from a Backend.
type Snapshot struct {
	Name      string
	Dimension int
	Metric    Metric
	Records   []Record
}

// BackendOpener opens (or creates) the backend living inside dir.
type BackendOpener func(dir string) (Backend, error)

// Store owns the named collections under one storage directory.
type Store struct {
	dir    string
	open   BackendOpener
	logger *zap.Logger

	mu          sync.RWMutex
	backend     Backend
	collections map[string]*Collection
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a logger for reset and load events.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithBackend makes the store persist through backends opened by open.
// Without it the store is memory-only.
func WithBackend(open BackendOpener) StoreOption {
	return func(s *Store) { s.open = open }
}

// OpenStore opens the store rooted at dir, reloading any persisted collections.
// An empty dir gives a memory-only store.
func OpenStore(ctx context.Context, dir string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		dir:         dir,
		logger:      zap.NewNop(),
		collections: make(map[string]*Collection),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		s.sweepTrash()
	}
	if err := s.openBackendLocked(); err != nil {
		return nil, err
	}
	if s.backend == nil {
		return s, nil
	}
	snapshots, err := s.backend.LoadCollections(ctx)
	if err != nil {
		_ = s.backend.Close()
		return nil, fmt.Errorf("load collections: %w", err)
	}
	for _, snap := range snapshots {
		c, err := newCollection(snap.Name, snap.Dimension, snap.Metric, s.backend)
		if err != nil {
			_ = s.backend.Close()
			return nil, fmt.Errorf("load collection %s: %w", snap.Name, err)
		}
		if err := c.restore(snap.Records); err != nil {
			_ = s.backend.Close()
			return nil, fmt.Errorf("load collection %s: %w", snap.Name, err)
		}
		s.collections[snap.Name] = c
		s.logger.Debug("collection loaded", zap.String("name", snap.Name), zap.Int("records", c.Count()))
	}
	return s, nil
}

func (s *Store) openBackendLocked() error {
	if s.open == nil || s.dir == "" {
		return nil
	}
	b, err := s.open(s.dir)
	if err != nil {
		return fmt.Errorf("open store backend: %w", err)
	}
	s.backend = b
	return nil
}

// Create makes a new empty collection. It fails with ErrAlreadyExists if name is in use.
func (s *Store) Create(ctx context.Context, name string, dimension int, metric Metric) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	c, err := newCollection(name, dimension, metric, s.backend)
	if err != nil {
		return nil, err
	}
	if s.backend != nil {
		if err := s.backend.CreateCollection(ctx, name, dimension, c.metric); err != nil {
			return nil, fmt.Errorf("persist collection %s: %w", name, err)
		}
	}
	s.collections[name] = c
	return c, nil
}

// Collection returns the named collection.
func (s *Store) Collection(name string) (*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

// Names returns the collection names, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dir returns the storage directory ("" for memory-only stores).
func (s *Store) Dir() string { return s.dir }

// Backend returns the current backend, or nil. Reset replaces it.
func (s *Store) Backend() Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

// Reset drops every collection and all persisted state. The storage directory is renamed
// aside before deletion, so a crash never leaves a half-deleted store in place.
// Collections handed out earlier stay readable but are detached from the store.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Warn("store backend close failed", zap.Error(err))
		}
		s.backend = nil
	}
	s.collections = make(map[string]*Collection)
	if s.dir != "" {
		trash := s.dir + ".trash-" + uuid.NewString()
		if err := os.Rename(s.dir, trash); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("move store dir aside: %w", err)
		}
		if err := os.MkdirAll(s.dir, 0755); err != nil {
			return fmt.Errorf("recreate store dir: %w", err)
		}
		if err := os.RemoveAll(trash); err != nil {
			s.logger.Warn("store trash removal failed", zap.String("path", trash), zap.Error(err))
		}
	}
	if err := s.openBackendLocked(); err != nil {
		return err
	}
	s.logger.Info("store reset", zap.String("dir", s.dir))
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	return err
}

// sweepTrash removes directories left behind by a reset that was interrupted.
func (s *Store) sweepTrash() {
	matches, err := filepath.Glob(s.dir + ".trash-*")
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			s.logger.Warn("store trash removal failed", zap.String("path", m), zap.Error(err))
		}
	}
}
