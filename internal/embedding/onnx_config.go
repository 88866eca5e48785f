package embedding

import (
	"fmt"
	"os"
)

// ONNXConfig locates the CLIP visual and text encoders exported to ONNX.
// Both encoders must include the projection head so their outputs share one space.
type ONNXConfig struct {
	VisualModelPath string
	TextModelPath   string
	// VocabPath and MergesPath select the CLIP BPE tokenizer. When either is empty
	// the hash tokenizer is used, which only suits smoke tests.
	VocabPath  string
	MergesPath string
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath   string
	Dimensions    int
	ImageSize     int
	ContextLength int
}

func (c *ONNXConfig) applyDefaults() {
	if c.Dimensions <= 0 {
		c.Dimensions = 512
	}
	if c.ImageSize <= 0 {
		c.ImageSize = 224
	}
	if c.ContextLength <= 0 {
		c.ContextLength = DefaultContextLength
	}
}

func (c *ONNXConfig) validate() error {
	for _, p := range []string{c.VisualModelPath, c.TextModelPath} {
		if p == "" {
			return fmt.Errorf("%w: visual and text model paths are required", ErrModelFailure)
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrModelFailure, err)
		}
	}
	return nil
}

func (c *ONNXConfig) tokenizer() (Tokenizer, error) {
	if c.VocabPath == "" || c.MergesPath == "" {
		return &HashTokenizer{}, nil
	}
	return LoadBPETokenizer(c.VocabPath, c.MergesPath)
}
