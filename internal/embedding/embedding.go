// Package embedding provides the optional vector embedding capability used
// to sharpen similarity scoring. Backends: a local Ollama server, and a
// deterministic hash engine for tests and offline runs. Atlas dedupe blends
// it into its lexical similarity when one is wired; retrieval ranking stays
// lexical either way, and nothing in the core requires one.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"time"

	"concord/internal/logging"
	"concord/internal/textsim"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the embedding dimensionality.
	Dimensions() int
	// Name returns the engine name.
	Name() string
}

// Cosine returns the cosine similarity of two vectors, 0 on mismatch.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// =============================================================================
// OLLAMA ENGINE
// =============================================================================

// OllamaEngine generates embeddings from a local Ollama server.
type OllamaEngine struct {
	endpoint string
	model    string
	dims     int
	client   *http.Client
}

// NewOllamaEngine builds an engine with sane defaults.
func NewOllamaEngine(endpoint, model string) *OllamaEngine {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "embeddinggemma"
	}
	return &OllamaEngine{
		endpoint: endpoint,
		model:    model,
		dims:     768,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Name identifies the backend.
func (e *OllamaEngine) Name() string { return "ollama:" + e.model }

// Dimensions returns the model dimensionality.
func (e *OllamaEngine) Dimensions() int { return e.dims }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates an embedding for a single text.
func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("embedding: status %d: %s", resp.StatusCode, string(data))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(out.Embedding) > 0 {
		e.dims = len(out.Embedding)
	}
	logging.Get(logging.CategoryEmbedding).Sugar().Debugw("embedded",
		"model", e.model, "dims", len(out.Embedding))
	return out.Embedding, nil
}

// =============================================================================
// HASH ENGINE
// =============================================================================

// HashEngine is a deterministic token-hash embedding. Cheap, offline, and
// stable across runs; good enough for tests and coarse similarity.
type HashEngine struct {
	dims int
}

// NewHashEngine builds a hash engine. dims <= 0 uses 64.
func NewHashEngine(dims int) *HashEngine {
	if dims <= 0 {
		dims = 64
	}
	return &HashEngine{dims: dims}
}

// Name identifies the backend.
func (e *HashEngine) Name() string { return "hash" }

// Dimensions returns the configured dimensionality.
func (e *HashEngine) Dimensions() int { return e.dims }

// Embed hashes each token into a bucket and L2-normalizes the result.
func (e *HashEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, tok := range textsim.Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%e.dims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}
