//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCgo = errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXEmbedder stub type when built without CGO (see onnx.go for real implementation).
type ONNXEmbedder struct{}

// NewONNXEmbedder returns an error when built without CGO (ONNX not available).
func NewONNXEmbedder(_ ONNXConfig, _ ...Option) (*ONNXEmbedder, error) {
	return nil, modelError("", errNoCgo)
}

func (e *ONNXEmbedder) EmbedImage(context.Context, string) ([]float32, error) {
	return nil, modelError("", errNoCgo)
}

func (e *ONNXEmbedder) EmbedImageBytes(context.Context, []byte) ([]float32, error) {
	return nil, modelError("", errNoCgo)
}

func (e *ONNXEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return nil, modelError("", errNoCgo)
}

func (e *ONNXEmbedder) Dimensions() int { return 0 }

func (e *ONNXEmbedder) Close() error { return nil }
