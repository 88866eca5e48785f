package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/imgsearch/internal/models"
	"github.com/hyperjump/imgsearch/internal/vector"
)

func TestSQLiteStorage_CollectionsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := store.CreateCollection(ctx, "image", 3, vector.MetricCosine); err != nil {
		t.Fatal(err)
	}
	recs := []vector.Record{
		{ID: "1", Vector: []float32{0.1, -0.2, 0.3}, Metadata: map[string]string{"path": "/p/a.jpg", "name": "a.jpg"}},
		{ID: "3", Vector: []float32{1, 0, 0}, Metadata: map[string]string{"path": "/p/c.jpeg", "name": "c.jpeg"}},
	}
	for i, r := range recs {
		if err := store.InsertRecord(ctx, "image", i, r); err != nil {
			t.Fatal(err)
		}
	}
	n, err := store.CountRecords(ctx, "image")
	if err != nil || n != 2 {
		t.Errorf("CountRecords = %d, %v", n, err)
	}
	_ = store.Close()

	store, err = NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	snaps, err := store.LoadCollections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 collection, got %d", len(snaps))
	}
	snap := snaps[0]
	if snap.Name != "image" || snap.Dimension != 3 || snap.Metric != vector.MetricCosine {
		t.Errorf("snapshot header = %+v", snap)
	}
	if len(snap.Records) != 2 || snap.Records[0].ID != "1" || snap.Records[1].ID != "3" {
		t.Fatalf("records = %+v", snap.Records)
	}
	if snap.Records[0].Vector[1] != -0.2 {
		t.Errorf("vector not preserved: %v", snap.Records[0].Vector)
	}
	if snap.Records[1].Metadata["name"] != "c.jpeg" {
		t.Errorf("metadata not preserved: %v", snap.Records[1].Metadata)
	}
}

func TestSQLiteStorage_DuplicateRecord(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "dup.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	_ = store.CreateCollection(ctx, "image", 1, vector.MetricCosine)
	if err := store.InsertRecord(ctx, "image", 0, vector.Record{ID: "1", Vector: []float32{1}}); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertRecord(ctx, "image", 1, vector.Record{ID: "1", Vector: []float32{1}}); err == nil {
		t.Error("expected primary key violation")
	}
	if err := store.CreateCollection(ctx, "image", 1, vector.MetricCosine); err == nil {
		t.Error("expected duplicate collection error")
	}
}

func TestSQLiteStorage_Sessions(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if _, err := store.LastSession(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := models.SessionInfo{ID: "s1", Folder: "/photos", Indexed: 3, CreatedAt: base}
	second := models.SessionInfo{ID: "s2", Folder: "/other", Indexed: 2, Skipped: []string{"/other/bad.jpg"}, CreatedAt: base.Add(time.Minute)}
	if err := store.RecordSession(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordSession(ctx, second); err != nil {
		t.Fatal(err)
	}
	got, err := store.LastSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "s2" || got.Folder != "/other" || got.Indexed != 2 {
		t.Errorf("LastSession = %+v", got)
	}
	if len(got.Skipped) != 1 || got.Skipped[0] != "/other/bad.jpg" {
		t.Errorf("skipped = %v", got.Skipped)
	}
}

func TestOpen_WithStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "store")
	s, err := vector.OpenStore(ctx, dir, vector.WithBackend(Open))
	if err != nil {
		t.Fatal(err)
	}
	c, err := s.Create(ctx, "image", 2, vector.MetricCosine)
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Add(ctx, "1", []float32{1, 0}, map[string]string{"name": "a.jpg"})
	_ = c.Add(ctx, "2", []float32{0, 1}, map[string]string{"name": "b.jpg"})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = vector.OpenStore(ctx, dir, vector.WithBackend(Open))
	if err != nil {
		t.Fatal(err)
	}
	c, err = s.Collection("image")
	if err != nil {
		t.Fatal(err)
	}
	results, err := c.Query(ctx, []float32{0, 1}, 1)
	if err != nil || len(results) != 1 || results[0].ID != "2" {
		t.Fatalf("query after reopen: %v %v", results, err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if len(s.Names()) != 0 {
		t.Errorf("names after reset = %v", s.Names())
	}
	_ = s.Close()

	s, err = vector.OpenStore(ctx, dir, vector.WithBackend(Open))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if len(s.Names()) != 0 {
		t.Errorf("reset did not clear persisted state: %v", s.Names())
	}
}

func TestVectorBlobCodec(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3e-8}
	got, err := bytesToFloat32Slice(float32SliceToBytes(v))
	if err != nil {
		t.Fatal(err)
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("index %d: got %v want %v", i, got[i], v[i])
		}
	}
	if _, err := bytesToFloat32Slice([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
