package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/imgsearch/internal/models"
	"github.com/hyperjump/imgsearch/internal/storage"
)

// Reset discards every collection in the store and clears the active session.
// It waits for a running build to finish.
func (b *Builder) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	if prev := b.holder.Clear(); prev != nil {
		b.logger.Info("session cleared", zap.String("session", prev.Info.ID))
	}
	return nil
}

// Status describes the active session and the store's footprint on disk.
// Persisted counts the records the backend holds for the collection, if it can count them.
func (b *Builder) Status(ctx context.Context) models.Status {
	st := models.Status{Collection: b.collection, StoreDir: b.store.Dir()}
	if sess := b.holder.Current(); sess != nil {
		info := sess.Info
		st.Session = &info
		st.Images = sess.Count()
		if sess.Collection != nil {
			st.Dimension = sess.Collection.Dimension()
			st.Metric = string(sess.Collection.Metric())
		}
	}
	if counter, ok := b.store.Backend().(storage.RecordCounter); ok {
		n, err := counter.CountRecords(ctx, b.collection)
		if err != nil {
			b.logger.Debug("persisted count unavailable", zap.Error(err))
		}
		st.Persisted = n
	}
	if st.StoreDir != "" {
		n, err := storage.DiskUsageBytes(st.StoreDir)
		if err != nil {
			b.logger.Debug("disk usage unavailable", zap.String("dir", st.StoreDir), zap.Error(err))
		}
		st.DiskUsageBytes = n
	}
	return st
}
