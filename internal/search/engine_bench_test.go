package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/imgsearch/internal/embedding"
	"github.com/hyperjump/imgsearch/internal/models"
	"github.com/hyperjump/imgsearch/internal/session"
	"github.com/hyperjump/imgsearch/internal/vector"
)

func BenchmarkEngine_SearchByText(b *testing.B) {
	ctx := context.Background()
	emb := embedding.NewMockEmbedder(512)
	coll, _ := vector.NewCollection("image", 512, vector.MetricCosine)
	for i := 0; i < 1000; i++ {
		v, _ := emb.EmbedText(ctx, fmt.Sprintf("image %d", i))
		rec := models.ImageRecord{ID: fmt.Sprint(i + 1), Path: fmt.Sprintf("/photos/%d.jpg", i), Name: fmt.Sprintf("%d.jpg", i)}
		_ = coll.Add(ctx, rec.ID, v, rec.Metadata())
	}
	holder := &session.Holder{}
	holder.Publish(&session.Session{Info: models.SessionInfo{ID: "bench"}, Collection: coll})
	engine := NewEngine(emb, holder)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.SearchByText(ctx, "benchmark query text", 10); err != nil {
			b.Fatal(err)
		}
	}
}
