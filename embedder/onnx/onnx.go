//go:build onnx

package onnx

import (
	"context"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/becomeliminal/nim-graph/embedder"
	"github.com/becomeliminal/nim-graph/logger"
)

// Embedder runs a sentence-transformer model with ONNX Runtime.
type Embedder struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *Tokenizer
	dims      int
	maxLen    int
	log       *logger.Logger
}

var _ embedder.Embedder = (*Embedder)(nil)

// Available reports whether this build links ONNX Runtime.
const Available = true

// New loads the tokenizer and model described by cfg.
func New(cfg Config, log *logger.Logger) (*Embedder, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	log = logger.OrNop(log).With("component", "embedder.onnx")

	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}

	tokenizer, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	log.Info("loaded onnx model", "model", cfg.ModelPath, "dimensions", cfg.Dimensions)

	return &Embedder{
		session:   session,
		tokenizer: tokenizer,
		dims:      cfg.Dimensions,
		maxLen:    cfg.MaxSequenceLength,
		log:       log,
	}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, embedder.Unavailable("onnx", text, err)
	}
	in := e.tokenizer.Encode(text, e.maxLen)

	shape := ort.NewShape(1, int64(e.maxLen))
	ids, err := ort.NewTensor(shape, in.InputIDs)
	if err != nil {
		return nil, embedder.Unavailable("onnx", text, fmt.Errorf("input_ids tensor: %w", err))
	}
	defer ids.Destroy()
	mask, err := ort.NewTensor(shape, in.AttentionMask)
	if err != nil {
		return nil, embedder.Unavailable("onnx", text, fmt.Errorf("attention_mask tensor: %w", err))
	}
	defer mask.Destroy()
	types, err := ort.NewTensor(shape, in.TokenTypeIDs)
	if err != nil {
		return nil, embedder.Unavailable("onnx", text, fmt.Errorf("token_type_ids tensor: %w", err))
	}
	defer types.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{ids, mask, types}, outputs); err != nil {
		return nil, embedder.Unavailable("onnx", text, fmt.Errorf("inference: %w", err))
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, embedder.Unavailable("onnx", text, fmt.Errorf("unexpected output type %T", outputs[0]))
	}
	vec, err := Pool(out.GetData(), []int64(out.GetShape()), in.AttentionMask, e.dims)
	if err != nil {
		return nil, embedder.Unavailable("onnx", text, err)
	}
	return vec, nil
}

func (e *Embedder) Dimensions() int {
	return e.dims
}

func (e *Embedder) Close() error {
	if e.session == nil {
		return nil
	}
	return e.session.Destroy()
}
