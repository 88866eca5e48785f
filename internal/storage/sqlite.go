package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/imgsearch/internal/models"
	"github.com/hyperjump/imgsearch/internal/vector"
)

// SQLiteStorage implements vector.Backend and SessionRecorder using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// Open opens the database inside the store directory dir. It matches vector.BackendOpener.
func Open(dir string) (vector.Backend, error) {
	return NewSQLiteStorage(filepath.Join(dir, DBFileName))
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL,
		metric TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		seq INTEGER NOT NULL,
		id TEXT NOT NULL,
		vector BLOB NOT NULL,
		metadata TEXT,
		PRIMARY KEY (collection, id),
		FOREIGN KEY (collection) REFERENCES collections(name) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_records_collection_seq ON records(collection, seq);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		folder TEXT NOT NULL,
		indexed INTEGER NOT NULL,
		skipped TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateCollection inserts a collection row.
func (s *SQLiteStorage) CreateCollection(ctx context.Context, name string, dimension int, metric vector.Metric) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, metric, created_at) VALUES (?, ?, ?, ?)`,
		name, dimension, string(metric), time.Now(),
	)
	return err
}

// InsertRecord inserts one record at position seq.
func (s *SQLiteStorage) InsertRecord(ctx context.Context, collection string, seq int, rec vector.Record) error {
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (collection, seq, id, vector, metadata) VALUES (?, ?, ?, ?, ?)`,
		collection, seq, rec.ID, float32SliceToBytes(rec.Vector), string(metadataJSON),
	)
	return err
}

// LoadCollections returns all collections with their records ordered by seq.
func (s *SQLiteStorage) LoadCollections(ctx context.Context) ([]vector.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, dimension, metric FROM collections ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	var snaps []vector.Snapshot
	for rows.Next() {
		var snap vector.Snapshot
		var metric string
		if err := rows.Scan(&snap.Name, &snap.Dimension, &metric); err != nil {
			rows.Close()
			return nil, err
		}
		snap.Metric = vector.Metric(metric)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range snaps {
		records, err := s.loadRecords(ctx, snaps[i].Name)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", snaps[i].Name, err)
		}
		snaps[i].Records = records
	}
	return snaps, nil
}

func (s *SQLiteStorage) loadRecords(ctx context.Context, collection string) ([]vector.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vector, metadata FROM records WHERE collection = ? ORDER BY seq`, collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []vector.Record
	for rows.Next() {
		var rec vector.Record
		var blob []byte
		var metadataJSON sql.NullString
		if err := rows.Scan(&rec.ID, &blob, &metadataJSON); err != nil {
			return nil, err
		}
		vec, err := bytesToFloat32Slice(blob)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		rec.Vector = vec
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountRecords returns the number of records in a collection.
func (s *SQLiteStorage) CountRecords(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&count)
	return count, err
}

// RecordSession stores a completed folder load.
func (s *SQLiteStorage) RecordSession(ctx context.Context, info models.SessionInfo) error {
	skippedJSON, err := json.Marshal(info.Skipped)
	if err != nil {
		return fmt.Errorf("failed to marshal skipped paths: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, folder, indexed, skipped, created_at) VALUES (?, ?, ?, ?, ?)`,
		info.ID, info.Folder, info.Indexed, string(skippedJSON), info.CreatedAt,
	)
	return err
}

// LastSession returns the most recent session, or ErrNoSession.
func (s *SQLiteStorage) LastSession(ctx context.Context) (models.SessionInfo, error) {
	var info models.SessionInfo
	var skippedJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, folder, indexed, skipped, created_at
		 FROM sessions ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	).Scan(&info.ID, &info.Folder, &info.Indexed, &skippedJSON, &info.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SessionInfo{}, ErrNoSession
	}
	if err != nil {
		return models.SessionInfo{}, err
	}
	if skippedJSON.Valid && skippedJSON.String != "" {
		if err := json.Unmarshal([]byte(skippedJSON.String), &info.Skipped); err != nil {
			return models.SessionInfo{}, fmt.Errorf("failed to unmarshal skipped paths: %w", err)
		}
	}
	return info, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func float32SliceToBytes(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
