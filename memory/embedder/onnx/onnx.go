//go:build onnx

// Package onnx provides a local embedding provider backed by ONNX
// Runtime and an all-MiniLM-style sentence transformer. It exists so
// the engine can run fully offline; the mock embedder covers tests.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json vocab file.
	TokenizerPath string

	// SharedLibraryPath locates libonnxruntime. Optional; the runtime
	// default search path is used when empty.
	SharedLibraryPath string

	// Dimensions is the embedding size (default 384, all-MiniLM-L6-v2).
	Dimensions int

	// MaxTokens caps the input sequence length (default 256).
	MaxTokens int
}

// Embedder generates embeddings with ONNX Runtime, mean-pooling the
// last hidden state over the attention mask.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	vocab      map[string]int64
	clsID      int64
	sepID      int64
	unkID      int64
	dimensions int
	maxTokens  int
}

// New creates an ONNX embedder from a model and tokenizer vocabulary.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("ModelPath is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 256
	}
	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	vocab, err := loadVocab(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	e := &Embedder{
		session:    session,
		vocab:      vocab,
		dimensions: cfg.Dimensions,
		maxTokens:  cfg.MaxTokens,
	}
	e.clsID = e.lookup("[CLS]")
	e.sepID = e.lookup("[SEP]")
	e.unkID = e.lookup("[UNK]")
	return e, nil
}

func loadVocab(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// tokenizer.json layout: {"model": {"vocab": {token: id, ...}}}
	var file struct {
		Model struct {
			Vocab map[string]int64 `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Model.Vocab) == 0 {
		return nil, fmt.Errorf("empty vocab in %s", path)
	}
	return file.Model.Vocab, nil
}

func (e *Embedder) lookup(token string) int64 {
	if id, ok := e.vocab[token]; ok {
		return id
	}
	return 0
}

// tokenize performs greedy WordPiece over lowercased whitespace tokens.
func (e *Embedder) tokenize(text string) []int64 {
	ids := []int64{e.clsID}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if len(ids) >= e.maxTokens-1 {
			break
		}
		ids = append(ids, e.wordPiece(word)...)
	}
	return append(ids, e.sepID)
}

func (e *Embedder) wordPiece(word string) []int64 {
	var pieces []int64
	start := 0
	for start < len(word) {
		end := len(word)
		var match int64 = -1
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := e.vocab[sub]; ok {
				match = id
				break
			}
			end--
		}
		if match < 0 {
			return []int64{e.unkID}
		}
		pieces = append(pieces, match)
		start = end
	}
	return pieces
}

// Embed converts text to a normalized embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ids := e.tokenize(text)
	n := int64(len(ids))

	mask := make([]int64, n)
	types := make([]int64, n)
	for i := range mask {
		mask[i] = 1
	}

	shape := ort.NewShape(1, n)
	inputIDs, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer inputIDs.Destroy()
	attnMask, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("mask tensor: %w", err)
	}
	defer attnMask.Destroy()
	tokenTypes, err := ort.NewTensor(shape, types)
	if err != nil {
		return nil, fmt.Errorf("type tensor: %w", err)
	}
	defer tokenTypes.Destroy()

	outputs := []ort.ArbitraryTensor{nil}
	err = e.session.Run([]ort.ArbitraryTensor{inputIDs, attnMask, tokenTypes}, outputs)
	if err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	defer out.Destroy()

	// Mean-pool token vectors into one sentence vector.
	hidden := out.GetData()
	pooled := make([]float32, e.dimensions)
	for t := 0; t < int(n); t++ {
		for d := 0; d < e.dimensions; d++ {
			pooled[d] += hidden[t*e.dimensions+d]
		}
	}
	var norm float64
	for d := range pooled {
		pooled[d] /= float32(n)
		norm += float64(pooled[d]) * float64(pooled[d])
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for d := range pooled {
			pooled[d] *= inv
		}
	}
	return pooled, nil
}

// EmbedBatch embeds each text sequentially.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session.
func (e *Embedder) Close() error {
	return e.session.Destroy()
}
