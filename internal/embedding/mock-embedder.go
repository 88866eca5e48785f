package embedding

import (
	"bytes"
	"context"
	"hash/fnv"
	"image"
	"math"
	"os"

	"github.com/hyperjump/imgsearch/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and model-less runs. Text vectors are
// derived from the text hash and image vectors from the file content hash, so equal inputs
// always get equal embeddings. Images are still decoded so corrupt files fail like they
// would with a real model.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockEmbedder{dimensions: dimensions}
}

// EmbedImage returns a deterministic embedding of the file content.
func (e *MockEmbedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, decodeError(path, err)
	}
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return nil, decodeError(path, err)
	}
	return e.fromSeed(bytesSeed(data)), nil
}

// EmbedImageBytes returns a deterministic embedding of the encoded image.
func (e *MockEmbedder) EmbedImageBytes(ctx context.Context, data []byte) ([]float32, error) {
	if _, err := DecodeImage(data); err != nil {
		return nil, err
	}
	return e.fromSeed(bytesSeed(data)), nil
}

// EmbedText returns a deterministic embedding based on the text hash.
func (e *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return e.fromSeed(HashString(text)), nil
}

func (e *MockEmbedder) fromSeed(h int) []float32 {
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb
}

func bytesSeed(data []byte) int {
	h := fnv.New64a()
	_, _ = h.Write(data)
	return int(h.Sum64() >> 1)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
