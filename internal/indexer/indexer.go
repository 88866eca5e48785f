// Package indexer builds a searchable session from a folder of images.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hyperjump/imgsearch/internal/embedding"
	"github.com/hyperjump/imgsearch/internal/keyword"
	"github.com/hyperjump/imgsearch/internal/models"
	"github.com/hyperjump/imgsearch/internal/scanner"
	"github.com/hyperjump/imgsearch/internal/session"
	"github.com/hyperjump/imgsearch/internal/vector"
)

// DefaultCollection is the name of the single collection a session populates.
const DefaultCollection = "image"

// ErrNoImagesFound is returned when the folder has no file matching the image patterns.
var ErrNoImagesFound = errors.New("no images found")

// ProgressFunc is called after each image is embedded (or skipped). It may be called
// from several goroutines.
type ProgressFunc func(done, total int)

// SessionRecorder persists a completed session's summary.
type SessionRecorder func(ctx context.Context, info models.SessionInfo) error

// Builder turns a folder into the active session: scan, embed, reset the store,
// create the collection, insert in discovery order, publish.
// Only one build runs at a time.
type Builder struct {
	store      *vector.Store
	embedder   embedding.Embedder
	holder     *session.Holder
	collection string
	scanOpts   scanner.Options
	workers    int
	limiter    *rate.Limiter
	progress   ProgressFunc
	record     SessionRecorder
	logger     *zap.Logger

	mu sync.Mutex
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets a logger for build events and skipped images.
func WithLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithCollection overrides the collection name.
func WithCollection(name string) BuilderOption {
	return func(b *Builder) {
		if name != "" {
			b.collection = name
		}
	}
}

// WithScanOptions sets the file patterns and recursion used to discover images.
func WithScanOptions(opts scanner.Options) BuilderOption {
	return func(b *Builder) { b.scanOpts = opts }
}

// WithWorkers bounds the number of images embedded concurrently. n <= 0 means NumCPU.
func WithWorkers(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithRateLimit caps embedding calls per second. perSecond <= 0 means unlimited.
func WithRateLimit(perSecond float64) BuilderOption {
	return func(b *Builder) {
		if perSecond > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithProgress sets a progress callback.
func WithProgress(fn ProgressFunc) BuilderOption {
	return func(b *Builder) { b.progress = fn }
}

// WithSessionRecorder persists each published session.
func WithSessionRecorder(fn SessionRecorder) BuilderOption {
	return func(b *Builder) { b.record = fn }
}

// NewBuilder creates a builder writing into store and publishing to holder.
func NewBuilder(store *vector.Store, embedder embedding.Embedder, holder *session.Holder, opts ...BuilderOption) *Builder {
	b := &Builder{
		store:      store,
		embedder:   embedder,
		holder:     holder,
		collection: DefaultCollection,
		workers:    runtime.NumCPU(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b
}

// Build indexes folder and publishes the result as the active session, replacing the
// previous one. Images that fail to embed are skipped and listed in the report; the
// build then still succeeds and Report.Err returns a *PartialFailureError.
// A folder without images resets the store, clears the active session and returns
// ErrNoImagesFound. If ctx is cancelled while embedding, the previous session is kept;
// a failure once the store has been reset leaves no active session and an empty store.
func (b *Builder) Build(ctx context.Context, folder string) (*Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	paths, err := scanner.Scan(folder, b.scanOpts)
	if err != nil {
		return nil, fmt.Errorf("scan folder: %w", err)
	}
	root, _ := filepath.Abs(folder)
	if len(paths) == 0 {
		if err := b.store.Reset(ctx); err != nil {
			return nil, fmt.Errorf("reset store: %w", err)
		}
		b.holder.Clear()
		b.logger.Info("no images found", zap.String("folder", root))
		return nil, fmt.Errorf("%w in %s", ErrNoImagesFound, root)
	}
	b.logger.Debug("images discovered", zap.String("folder", root), zap.Int("count", len(paths)))

	vectors, failures, err := b.embedAll(ctx, paths)
	if err != nil {
		return nil, err
	}

	if err := b.store.Reset(ctx); err != nil {
		b.holder.Clear()
		return nil, fmt.Errorf("reset store: %w", err)
	}
	coll, err := b.store.Create(ctx, b.collection, b.embedder.Dimensions(), vector.MetricCosine)
	if err != nil {
		return nil, b.discard(ctx, fmt.Errorf("create collection: %w", err))
	}

	report := &Report{Folder: root, Discovered: len(paths)}
	images := make([]models.ImageRecord, 0, len(paths))
	for i, path := range paths {
		if failures[i] != nil {
			b.logger.Warn("image skipped", zap.String("path", path), zap.Error(failures[i]))
			report.Skipped = append(report.Skipped, SkippedImage{Path: path, Err: failures[i]})
			continue
		}
		// ids are discovery positions, so a skipped image leaves a gap
		img := models.ImageRecord{ID: strconv.Itoa(i + 1), Path: path, Name: filepath.Base(path)}
		if err := coll.Add(ctx, img.ID, vectors[i], img.Metadata()); err != nil {
			return nil, b.discard(ctx, fmt.Errorf("insert image %s: %w", img.ID, err))
		}
		images = append(images, img)
	}
	report.Indexed = len(images)

	names := b.nameIndex(ctx, images)
	info := models.SessionInfo{
		ID:        uuid.NewString(),
		Folder:    root,
		Indexed:   report.Indexed,
		Skipped:   report.SkippedPaths(),
		CreatedAt: time.Now().UTC(),
	}
	sess := &session.Session{Info: info, Collection: coll, Names: names}
	if b.record != nil {
		if err := b.record(ctx, info); err != nil {
			b.logger.Warn("session record failed", zap.String("session", info.ID), zap.Error(err))
		}
	}
	b.holder.Publish(sess)
	report.Session = sess
	report.Duration = time.Since(start)

	b.logger.Info("session published",
		zap.String("session", info.ID),
		zap.String("folder", root),
		zap.Int("indexed", report.Indexed),
		zap.Int("skipped", len(report.Skipped)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// discard handles a build that failed after the store was reset: the previous session
// is gone, so the active session is cleared and the partial collection is dropped.
func (b *Builder) discard(ctx context.Context, cause error) error {
	b.holder.Clear()
	if err := b.store.Reset(context.WithoutCancel(ctx)); err != nil {
		b.logger.Error("discard partial collection", zap.Error(err))
		return errors.Join(cause, fmt.Errorf("reset store: %w", err))
	}
	b.logger.Warn("build failed after reset, index cleared", zap.Error(cause))
	return cause
}

// Restore republishes the collection already in the store, e.g. after a restart.
// info describes the session that built it; a zero info gets a fresh id.
// It returns nil and no error when the store holds no collection.
func (b *Builder) Restore(ctx context.Context, info models.SessionInfo) (*session.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	coll, err := b.store.Collection(b.collection)
	if errors.Is(err, vector.ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if coll.Dimension() != b.embedder.Dimensions() {
		return nil, fmt.Errorf("%w: stored collection has %d, embedder produces %d",
			vector.ErrDimensionMismatch, coll.Dimension(), b.embedder.Dimensions())
	}
	records := coll.Records()
	images := make([]models.ImageRecord, len(records))
	for i, rec := range records {
		images[i] = models.ImageFromMetadata(rec.ID, rec.Metadata)
	}
	if info.ID == "" {
		info.ID = uuid.NewString()
		info.CreatedAt = time.Now().UTC()
	}
	info.Indexed = len(images)
	sess := &session.Session{Info: info, Collection: coll, Names: b.nameIndex(ctx, images)}
	b.holder.Publish(sess)
	b.logger.Info("session restored", zap.String("session", info.ID), zap.Int("indexed", info.Indexed))
	return sess, nil
}

// embedAll embeds paths concurrently. failures[i] holds the error for a skipped image.
// The returned error is non-nil only when ctx ends.
func (b *Builder) embedAll(ctx context.Context, paths []string) (vectors [][]float32, failures []error, err error) {
	vectors = make([][]float32, len(paths))
	failures = make([]error, len(paths))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, path := range paths {
		if gctx.Err() != nil {
			break
		}
		i, path := i, path
		g.Go(func() error {
			if b.limiter != nil {
				if err := b.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			v, err := b.embedder.EmbedImage(gctx, path)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failures[i] = err
			} else {
				vectors[i] = v
			}
			n := done.Add(1)
			if b.progress != nil {
				b.progress(int(n), len(paths))
			}
			b.logger.Debug("image embedded", zap.String("path", path), zap.Bool("ok", err == nil))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("embed images: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("embed images: %w", err)
	}
	return vectors, failures, nil
}

func (b *Builder) nameIndex(ctx context.Context, images []models.ImageRecord) *keyword.NameIndex {
	names, err := keyword.NewNameIndex()
	if err != nil {
		b.logger.Warn("filename index unavailable", zap.Error(err))
		return nil
	}
	if err := names.Index(ctx, images); err != nil {
		b.logger.Warn("filename index unavailable", zap.Error(err))
		_ = names.Close()
		return nil
	}
	return names
}
