// Package storage persists the vector store and session history in SQLite.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/imgsearch/internal/models"
	"github.com/hyperjump/imgsearch/internal/vector"
)

// DBFileName is the database file created inside the store directory.
const DBFileName = "image_search.db"

// ErrNoSession is returned by LastSession when nothing has been indexed yet.
var ErrNoSession = errors.New("no session recorded")

// SessionRecorder records folder loads alongside the collections they produced.
type SessionRecorder interface {
	RecordSession(ctx context.Context, info models.SessionInfo) error
	LastSession(ctx context.Context) (models.SessionInfo, error)
}

// RecordCounter counts the records persisted for a collection.
type RecordCounter interface {
	CountRecords(ctx context.Context, collection string) (int64, error)
}

var (
	_ vector.Backend  = (*SQLiteStorage)(nil)
	_ SessionRecorder = (*SQLiteStorage)(nil)
	_ RecordCounter   = (*SQLiteStorage)(nil)
)
