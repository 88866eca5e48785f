package session

import (
	"context"
	"sync"
	"testing"

	"github.com/hyperjump/imgsearch/internal/models"
	"github.com/hyperjump/imgsearch/internal/vector"
)

func newSession(t *testing.T, id string, n int) *Session {
	t.Helper()
	c, err := vector.NewCollection("image", 2, vector.MetricCosine)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		rec := models.ImageRecord{ID: string(rune('1' + i)), Path: "/p/x.jpg", Name: "x.jpg"}
		if err := c.Add(context.Background(), rec.ID, []float32{1, float32(i)}, rec.Metadata()); err != nil {
			t.Fatal(err)
		}
	}
	return &Session{Info: models.SessionInfo{ID: id, Indexed: n}, Collection: c}
}

func TestHolder_PublishAndClear(t *testing.T) {
	var h Holder
	if h.Current() != nil {
		t.Fatal("new holder should be empty")
	}
	s1 := newSession(t, "s1", 1)
	if prev := h.Publish(s1); prev != nil {
		t.Errorf("first publish replaced %v", prev)
	}
	s2 := newSession(t, "s2", 2)
	if prev := h.Publish(s2); prev != s1 {
		t.Error("publish should return previous session")
	}
	if h.Current() != s2 {
		t.Error("current should be s2")
	}
	// the replaced handle keeps working
	if s1.Count() != 1 {
		t.Errorf("old session count = %d", s1.Count())
	}
	if cleared := h.Clear(); cleared != s2 || h.Current() != nil {
		t.Error("clear should remove s2")
	}
}

func TestSession_Image(t *testing.T) {
	s := newSession(t, "s", 2)
	img, ok := s.Image("2")
	if !ok || img.Name != "x.jpg" || img.ID != "2" {
		t.Errorf("Image(2) = %+v, %v", img, ok)
	}
	if _, ok := s.Image("9"); ok {
		t.Error("unknown id should not be found")
	}
	var nilSession *Session
	if nilSession.Count() != 0 {
		t.Error("nil session count should be 0")
	}
	if _, ok := nilSession.Image("1"); ok {
		t.Error("nil session has no images")
	}
}

func TestHolder_ConcurrentReaders(t *testing.T) {
	var h Holder
	h.Publish(newSession(t, "s0", 1))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if s := h.Current(); s == nil || s.Count() == 0 {
					t.Error("reader saw empty session")
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		h.Publish(newSession(t, "s", 1+i%3))
	}
	wg.Wait()
}
