package search

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/hyperjump/imgsearch/internal/embedding"
	"github.com/hyperjump/imgsearch/internal/keyword"
	"github.com/hyperjump/imgsearch/internal/models"
	"github.com/hyperjump/imgsearch/internal/session"
	"github.com/hyperjump/imgsearch/internal/vector"
)

// handEmbedder returns hand-crafted vectors so the expected winner is unambiguous.
type handEmbedder struct {
	texts  map[string][]float32
	images map[string][]float32
}

func (h *handEmbedder) EmbedImage(_ context.Context, path string) ([]float32, error) {
	v, ok := h.images[filepath.Base(path)]
	if !ok {
		return nil, &embedding.EmbedError{Kind: embedding.ErrDecodeFailure, Path: path}
	}
	return v, nil
}

func (h *handEmbedder) EmbedImageBytes(_ context.Context, data []byte) ([]float32, error) {
	return h.EmbedImage(context.Background(), string(data))
}

func (h *handEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	v, ok := h.texts[text]
	if !ok {
		return nil, &embedding.EmbedError{Kind: embedding.ErrModelFailure}
	}
	return v, nil
}

func (h *handEmbedder) Dimensions() int { return 3 }
func (h *handEmbedder) Close() error    { return nil }

var testImages = []struct {
	name string
	vec  []float32
}{
	{"blue_boat.jpg", []float32{0, 1, 0}},
	{"red_car.jpg", []float32{0.9, 0.1, 0}},
	{"tree.png", []float32{0, 0.2, 1}},
}

func newTestEngine(t *testing.T) (*Engine, *session.Holder, *handEmbedder) {
	t.Helper()
	emb := &handEmbedder{
		texts: map[string][]float32{
			"a red car": {1, 0, 0},
			"forest":    {0, 0, 1},
		},
		images: map[string][]float32{"query_car.jpg": {0.8, 0.2, 0}},
	}
	ctx := context.Background()
	coll, err := vector.NewCollection("image", 3, vector.MetricCosine)
	if err != nil {
		t.Fatal(err)
	}
	var images []models.ImageRecord
	for i, img := range testImages {
		rec := models.ImageRecord{ID: string(rune('1' + i)), Path: "/photos/" + img.name, Name: img.name}
		if err := coll.Add(ctx, rec.ID, img.vec, rec.Metadata()); err != nil {
			t.Fatal(err)
		}
		emb.images[img.name] = img.vec
		images = append(images, rec)
	}
	names, err := keyword.NewNameIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = names.Close() })
	if err := names.Index(ctx, images); err != nil {
		t.Fatal(err)
	}
	holder := &session.Holder{}
	holder.Publish(&session.Session{
		Info:       models.SessionInfo{ID: "sess-1", Folder: "/photos", Indexed: 3},
		Collection: coll,
		Names:      names,
	})
	return NewEngine(emb, holder), holder, emb
}

func TestEngine_SearchByText(t *testing.T) {
	e, _, _ := newTestEngine(t)
	results, err := e.SearchByText(context.Background(), "a red car", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("default k should clamp to collection size, got %d", len(results))
	}
	top := results[0]
	if top.Name != "red_car.jpg" || top.Path != "/photos/red_car.jpg" || top.Rank != 1 {
		t.Errorf("top result = %+v", top)
	}
	if math.Abs(top.Score-(1-top.Distance)) > 1e-12 {
		t.Errorf("score %f should be 1 - distance %f", top.Score, top.Distance)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not ranked by score at %d", i)
		}
		if results[i].Rank != i+1 {
			t.Errorf("rank[%d] = %d", i, results[i].Rank)
		}
	}

	one, err := e.SearchByText(context.Background(), "forest", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 1 || one[0].Name != "tree.png" {
		t.Errorf("forest top-1 = %+v", one)
	}
}

func TestEngine_EmptyCases(t *testing.T) {
	e, holder, _ := newTestEngine(t)
	ctx := context.Background()

	results, err := e.SearchByText(ctx, "   ", 5)
	if err != nil || len(results) != 0 {
		t.Errorf("blank text = %v, %v", results, err)
	}

	empty, _ := vector.NewCollection("image", 3, vector.MetricCosine)
	holder.Publish(&session.Session{Collection: empty})
	results, err = e.SearchByText(ctx, "a red car", 5)
	if err != nil || results == nil || len(results) != 0 {
		t.Errorf("empty collection = %v, %v", results, err)
	}

	holder.Clear()
	results, err = e.SearchByText(ctx, "a red car", 5)
	if err != nil || len(results) != 0 {
		t.Errorf("no session = %v, %v", results, err)
	}
	results, err = e.SearchByName(ctx, "car", 5)
	if err != nil || len(results) != 0 {
		t.Errorf("no session name search = %v, %v", results, err)
	}
}

func TestEngine_SearchByImage(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	results, err := e.SearchByImage(ctx, "/queries/query_car.jpg", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Name != "red_car.jpg" {
		t.Errorf("image search = %+v", results)
	}

	self, err := e.SearchByImage(ctx, "/photos/tree.png", 1)
	if err != nil {
		t.Fatal(err)
	}
	if self[0].Name != "tree.png" || self[0].Distance > 1e-5 {
		t.Errorf("self query = %+v", self[0])
	}

	_, err = e.SearchByImage(ctx, "/queries/corrupt.jpg", 5)
	if !errors.Is(err, ErrUnreadableQueryImage) {
		t.Errorf("expected ErrUnreadableQueryImage, got %v", err)
	}
	if !errors.Is(err, embedding.ErrDecodeFailure) {
		t.Errorf("cause should stay visible, got %v", err)
	}

	byBytes, err := e.SearchByImageBytes(ctx, []byte("query_car.jpg"), 1)
	if err != nil || len(byBytes) != 1 || byBytes[0].Name != "red_car.jpg" {
		t.Errorf("bytes search = %+v, %v", byBytes, err)
	}
}

func TestEngine_TextModelFailure(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.SearchByText(context.Background(), "unknown phrase", 5)
	if !errors.Is(err, embedding.ErrModelFailure) {
		t.Errorf("expected ErrModelFailure, got %v", err)
	}
	if errors.Is(err, ErrUnreadableQueryImage) {
		t.Error("text failure must not be reported as an image error")
	}
}

func TestEngine_SearchByName(t *testing.T) {
	e, _, _ := newTestEngine(t)
	results, err := e.SearchByName(context.Background(), "boat", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].Name != "blue_boat.jpg" || results[0].Rank != 1 {
		t.Errorf("name search = %+v", results)
	}
}

func TestEngine_Search(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	resp, err := e.Search(ctx, &models.SearchQuery{Query: " a red car ", K: 2})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Mode != models.ModeText || resp.Total != 2 || resp.SessionID != "sess-1" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Results[0].Name != "red_car.jpg" {
		t.Errorf("top = %+v", resp.Results[0])
	}

	resp, err = e.Search(ctx, &models.SearchQuery{Query: "tree", Mode: models.ModeName})
	if err != nil || resp.Total == 0 || resp.Results[0].Name != "tree.png" {
		t.Errorf("name mode = %+v, %v", resp, err)
	}

	resp, err = e.Search(ctx, &models.SearchQuery{Query: "/photos/blue_boat.jpg", Mode: models.ModeImage, K: 1})
	if err != nil || resp.Results[0].Name != "blue_boat.jpg" {
		t.Errorf("image mode = %+v, %v", resp, err)
	}

	if _, err := e.Search(ctx, &models.SearchQuery{Query: "  "}); !errors.Is(err, ErrEmptyQueryText) {
		t.Errorf("expected ErrEmptyQueryText, got %v", err)
	}
}

func TestEngine_Limits(t *testing.T) {
	e := NewEngine(nil, &session.Holder{}, WithLimits(2, 3))
	tests := []struct{ k, count, want int }{
		{0, 10, 2},
		{-1, 10, 2},
		{7, 10, 3},
		{3, 1, 1},
		{1, 0, 0},
	}
	for _, tt := range tests {
		if got := e.limit(tt.k, tt.count); got != tt.want {
			t.Errorf("limit(%d, %d) = %d, want %d", tt.k, tt.count, got, tt.want)
		}
	}
}

func TestEngine_SearchConfiguredLimits(t *testing.T) {
	_, holder, emb := newTestEngine(t)
	e := NewEngine(emb, holder, WithLimits(1, 2))
	ctx := context.Background()

	tests := []struct {
		name  string
		query *models.SearchQuery
		want  int
	}{
		{"text default k", &models.SearchQuery{Query: "a red car"}, 1},
		{"text capped k", &models.SearchQuery{Query: "a red car", K: 50}, 2},
		{"image default k", &models.SearchQuery{Query: "/photos/tree.png", Mode: models.ModeImage}, 1},
		{"name capped k", &models.SearchQuery{Query: "photos", Mode: models.ModeName, K: 50}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := e.Search(ctx, tt.query)
			if err != nil {
				t.Fatal(err)
			}
			if resp.Total != tt.want {
				t.Errorf("Total = %d, want %d", resp.Total, tt.want)
			}
		})
	}
}
