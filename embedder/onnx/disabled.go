//go:build !onnx

package onnx

import (
	"context"
	"errors"

	"github.com/becomeliminal/nim-graph/embedder"
	"github.com/becomeliminal/nim-graph/logger"
)

// Available reports whether this build links ONNX Runtime.
const Available = false

var errDisabled = errors.New("onnx embedder not compiled in, rebuild with -tags onnx")

// Embedder is a placeholder in builds without the onnx tag. New always fails.
type Embedder struct{}

func New(Config, *logger.Logger) (*Embedder, error) {
	return nil, errDisabled
}

func (*Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	return nil, embedder.Unavailable("onnx", text, errDisabled)
}

func (*Embedder) Dimensions() int { return 0 }

func (*Embedder) Close() error { return nil }
