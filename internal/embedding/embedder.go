// Package embedding maps images and text into a shared vector space.
package embedding

import (
	"context"

	"go.uber.org/zap"
)

// Embedder produces vectors for images and text in the same embedding space,
// so an image vector and a text vector can be compared by cosine similarity.
// Implementations are safe for concurrent use.
type Embedder interface {
	// EmbedImage embeds the image file at path.
	EmbedImage(ctx context.Context, path string) ([]float32, error)
	// EmbedImageBytes embeds an encoded image held in memory.
	EmbedImageBytes(ctx context.Context, data []byte) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}

// Option configures an embedder.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets a logger for model loading and inference events.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func applyOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

var (
	_ Embedder = (*MockEmbedder)(nil)
	_ Embedder = (*ONNXEmbedder)(nil)
	_ Embedder = (*CachedEmbedder)(nil)
)
