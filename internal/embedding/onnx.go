//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/hyperjump/imgsearch/pkg/utils"
)

var (
	ortEnvOnce sync.Once
	ortEnvErr  error
)

var errClosed = errors.New("embedder is closed")

func initEnvironment(libraryPath string) error {
	ortEnvOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortEnvErr = fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	})
	return ortEnvErr
}

// ONNXEmbedder runs CLIP visual and text encoders with ONNX Runtime. It requires CGO and the
// onnxruntime shared library. Sessions are created on first use and reused afterwards.
type ONNXEmbedder struct {
	cfg    ONNXConfig
	logger *zap.Logger

	initOnce sync.Once
	initErr  error
	closed   bool // guarded by both visualMu and textMu

	tokenizer Tokenizer

	visualMu    sync.Mutex
	visual      *ort.AdvancedSession
	pixelTensor *ort.Tensor[float32]
	imageOutput *ort.Tensor[float32]

	textMu     sync.Mutex
	text       *ort.AdvancedSession
	idsTensor  *ort.Tensor[int64]
	maskTensor *ort.Tensor[int64]
	textOutput *ort.Tensor[float32]
}

// NewONNXEmbedder validates cfg and returns an embedder. Model loading is deferred to the first call.
func NewONNXEmbedder(cfg ONNXConfig, opts ...Option) (*ONNXEmbedder, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	tok, err := cfg.tokenizer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelFailure, err)
	}
	o := applyOptions(opts)
	return &ONNXEmbedder{cfg: cfg, logger: o.logger, tokenizer: tok}, nil
}

func (e *ONNXEmbedder) init() error {
	e.initOnce.Do(func() {
		e.initErr = e.load()
		if e.initErr != nil {
			e.release()
			e.logger.Error("clip model load failed", zap.Error(e.initErr))
			return
		}
		e.logger.Info("clip model loaded",
			zap.String("visual", e.cfg.VisualModelPath),
			zap.String("text", e.cfg.TextModelPath),
			zap.Int("dimensions", e.cfg.Dimensions))
	})
	return e.initErr
}

func (e *ONNXEmbedder) load() error {
	if err := initEnvironment(e.cfg.LibraryPath); err != nil {
		return err
	}
	size := int64(e.cfg.ImageSize)
	ctxLen := int64(e.cfg.ContextLength)
	dims := int64(e.cfg.Dimensions)

	var err error
	if e.pixelTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size)); err != nil {
		return fmt.Errorf("failed to create pixel tensor: %w", err)
	}
	if e.imageOutput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, dims)); err != nil {
		return fmt.Errorf("failed to create image output tensor: %w", err)
	}
	e.visual, err = ort.NewAdvancedSession(
		e.cfg.VisualModelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{e.pixelTensor},
		[]ort.ArbitraryTensor{e.imageOutput},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create visual session: %w", err)
	}

	if e.idsTensor, err = ort.NewEmptyTensor[int64](ort.NewShape(1, ctxLen)); err != nil {
		return fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if e.maskTensor, err = ort.NewEmptyTensor[int64](ort.NewShape(1, ctxLen)); err != nil {
		return fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if e.textOutput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, dims)); err != nil {
		return fmt.Errorf("failed to create text output tensor: %w", err)
	}
	e.text, err = ort.NewAdvancedSession(
		e.cfg.TextModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"text_embeds"},
		[]ort.ArbitraryTensor{e.idsTensor, e.maskTensor},
		[]ort.ArbitraryTensor{e.textOutput},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create text session: %w", err)
	}
	return nil
}

// EmbedImage decodes, preprocesses and embeds the image at path.
func (e *ONNXEmbedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	return e.embedPixels(ctx, path, Preprocess(img, e.cfg.ImageSize))
}

// EmbedImageBytes embeds an encoded image held in memory.
func (e *ONNXEmbedder) EmbedImageBytes(ctx context.Context, data []byte) ([]float32, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return e.embedPixels(ctx, "", Preprocess(img, e.cfg.ImageSize))
}

func (e *ONNXEmbedder) embedPixels(ctx context.Context, path string, pixels []float32) ([]float32, error) {
	if err := e.init(); err != nil {
		return nil, modelError(path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.visualMu.Lock()
	defer e.visualMu.Unlock()
	if e.closed {
		return nil, modelError(path, errClosed)
	}

	copy(e.pixelTensor.GetData(), pixels)
	if err := e.visual.Run(); err != nil {
		return nil, modelError(path, fmt.Errorf("inference failed: %w", err))
	}
	out := make([]float32, e.cfg.Dimensions)
	copy(out, e.imageOutput.GetData())
	utils.NormalizeL2(out)
	return out, nil
}

// EmbedText tokenizes and embeds text.
func (e *ONNXEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := e.init(); err != nil {
		return nil, modelError("", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, mask := e.tokenizer.Tokenize(text, e.cfg.ContextLength)

	e.textMu.Lock()
	defer e.textMu.Unlock()
	if e.closed {
		return nil, modelError("", errClosed)
	}

	copy(e.idsTensor.GetData(), ids)
	copy(e.maskTensor.GetData(), mask)
	if err := e.text.Run(); err != nil {
		return nil, modelError("", fmt.Errorf("inference failed: %w", err))
	}
	out := make([]float32, e.cfg.Dimensions)
	copy(out, e.textOutput.GetData())
	utils.NormalizeL2(out)
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

// Close destroys the sessions and tensors. Later calls fail with ErrModelFailure.
func (e *ONNXEmbedder) Close() error {
	e.initOnce.Do(func() { e.initErr = errClosed })
	e.visualMu.Lock()
	defer e.visualMu.Unlock()
	e.textMu.Lock()
	defer e.textMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.release()
}

func (e *ONNXEmbedder) release() error {
	var err error
	if e.visual != nil {
		err = e.visual.Destroy()
		e.visual = nil
	}
	if e.text != nil {
		if terr := e.text.Destroy(); err == nil {
			err = terr
		}
		e.text = nil
	}
	for _, t := range []*ort.Tensor[float32]{e.pixelTensor, e.imageOutput, e.textOutput} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	for _, t := range []*ort.Tensor[int64]{e.idsTensor, e.maskTensor} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	e.pixelTensor, e.imageOutput, e.textOutput = nil, nil, nil
	e.idsTensor, e.maskTensor = nil, nil
	return err
}
