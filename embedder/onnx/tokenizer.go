// Package onnx provides a local embedder running a BERT-style sentence model
// (all-MiniLM-L6-v2 by default) with ONNX Runtime. The runtime is linked only
// when building with -tags onnx; the tokenizer and pooling work everywhere.
package onnx

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
)

type Config struct {
	ModelPath     string
	TokenizerPath string
	// SharedLibraryPath locates libonnxruntime. Empty uses the runtime's
	// default lookup.
	SharedLibraryPath string
	// Dimensions defaults to 384.
	Dimensions int
	// MaxSequenceLength defaults to 128 tokens, [CLS] and [SEP] included.
	MaxSequenceLength int
}

func (c Config) withDefaults() (Config, error) {
	if c.ModelPath == "" {
		return c, errors.New("onnx model path is required")
	}
	if c.TokenizerPath == "" {
		return c, errors.New("onnx tokenizer path is required")
	}
	if c.Dimensions <= 0 {
		c.Dimensions = 384
	}
	if c.MaxSequenceLength < 3 {
		c.MaxSequenceLength = 128
	}
	return c, nil
}

const (
	clsToken = 101
	sepToken = 102
	unkToken = 100
)

// Tokenizer is a lower-casing WordPiece tokenizer over a tokenizer.json vocab.
type Tokenizer struct {
	vocab map[string]int
}

// Encoded holds fixed-length model inputs.
type Encoded struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer: %w", err)
	}
	var doc struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode tokenizer: %w", err)
	}
	if len(doc.Model.Vocab) == 0 {
		return nil, errors.New("tokenizer vocab is empty")
	}
	return &Tokenizer{vocab: doc.Model.Vocab}, nil
}

// Tokenize returns the vocab IDs of text, without special tokens.
func (t *Tokenizer) Tokenize(text string) []int64 {
	var ids []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			ids = append(ids, int64(id))
			continue
		}
		for _, piece := range t.wordPieces(word) {
			if id, ok := t.vocab[piece]; ok {
				ids = append(ids, int64(id))
			} else {
				ids = append(ids, unkToken)
			}
		}
	}
	return ids
}

// wordPieces splits word greedily into the longest known prefixes.
func (t *Tokenizer) wordPieces(word string) []string {
	var pieces []string
	for start := 0; start < len(word); {
		end := len(word)
		for ; end > start; end-- {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if _, ok := t.vocab[piece]; ok {
				pieces = append(pieces, piece)
				break
			}
		}
		if end == start {
			pieces = append(pieces, "[UNK]")
			end = start + 1
		}
		start = end
	}
	return pieces
}

// Encode wraps the tokens of text in [CLS] and [SEP] and pads to maxLen.
func (t *Tokenizer) Encode(text string, maxLen int) Encoded {
	tokens := t.Tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}
	enc := Encoded{
		InputIDs:      make([]int64, maxLen),
		AttentionMask: make([]int64, maxLen),
		TokenTypeIDs:  make([]int64, maxLen),
	}
	enc.InputIDs[0] = clsToken
	enc.AttentionMask[0] = 1
	for i, id := range tokens {
		enc.InputIDs[i+1] = id
		enc.AttentionMask[i+1] = 1
	}
	end := len(tokens) + 1
	enc.InputIDs[end] = sepToken
	enc.AttentionMask[end] = 1
	return enc
}

// Pool turns model output into a unit vector. Output of shape [1, dims] is
// already pooled; [1, seq, dims] is mean-pooled over attended positions.
func Pool(data []float32, shape []int64, mask []int64, dims int) ([]float32, error) {
	vec := make([]float32, dims)
	switch len(shape) {
	case 2:
		if len(data) < dims {
			return nil, fmt.Errorf("output has %d values, want %d", len(data), dims)
		}
		copy(vec, data[:dims])
	case 3:
		if shape[0] != 1 {
			return nil, fmt.Errorf("expected batch size 1, got %d", shape[0])
		}
		if shape[2] != int64(dims) {
			return nil, fmt.Errorf("hidden size %d, want %d", shape[2], dims)
		}
		seq := min(int(shape[1]), len(mask))
		var attended float32
		for i := 0; i < seq; i++ {
			if mask[i] == 0 {
				continue
			}
			attended++
			row := data[i*dims : (i+1)*dims]
			for j, v := range row {
				vec[j] += v
			}
		}
		if attended > 0 {
			for j := range vec {
				vec[j] /= attended
			}
		}
	default:
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}
	return normalize(vec), nil
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
