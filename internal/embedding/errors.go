package embedding

import (
	"errors"
	"fmt"
)

// Embedding failure kinds. Match with errors.Is on any error returned by an Embedder.
var (
	ErrDecodeFailure = errors.New("image decode failure")
	ErrModelFailure  = errors.New("model failure")
)

// EmbedError carries the failure kind and the input that caused it.
type EmbedError struct {
	Kind error  // ErrDecodeFailure or ErrModelFailure
	Path string // image path; empty for text and in-memory images
	Err  error
}

func (e *EmbedError) Error() string {
	msg := e.Kind.Error()
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *EmbedError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func decodeError(path string, err error) error {
	return &EmbedError{Kind: ErrDecodeFailure, Path: path, Err: err}
}

func modelError(path string, err error) error {
	return &EmbedError{Kind: ErrModelFailure, Path: path, Err: err}
}
