// Package llm defines the optional language-model collaborator. The core
// treats the LLM as a stochastic untrusted service: its absence degrades
// autogen shaping, its failures are recorded and never fatal, and its output
// is validated before use.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"concord/internal/logging"
)

// Response is an LLM completion.
type Response struct {
	OK      bool   `json:"ok"`
	Content string `json:"content"`
}

// CallOpts tunes one completion call.
type CallOpts struct {
	MaxTokens   int
	Temperature float64
}

// Client is the capability the host supplies. Nil is a valid configuration;
// features that need a client check for one.
type Client interface {
	Call(ctx context.Context, prompt string, opts CallOpts) (Response, error)
	Name() string
}

// =============================================================================
// OLLAMA CLIENT
// =============================================================================

// OllamaClient talks to a local Ollama server's generate endpoint.
type OllamaClient struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllamaClient builds a client with sane defaults.
func NewOllamaClient(endpoint, model string, timeout time.Duration) *OllamaClient {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaClient{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name identifies the backend.
func (c *OllamaClient) Name() string { return "ollama:" + c.model }

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Call runs one completion.
func (c *OllamaClient) Call(ctx context.Context, prompt string, opts CallOpts) (Response, error) {
	req := ollamaGenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	}
	if opts.Temperature > 0 || opts.MaxTokens > 0 {
		req.Options = map[string]any{}
		if opts.Temperature > 0 {
			req.Options["temperature"] = opts.Temperature
		}
		if opts.MaxTokens > 0 {
			req.Options["num_predict"] = opts.MaxTokens
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("llm: call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Response{}, fmt.Errorf("llm: status %d: %s", resp.StatusCode, string(data))
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("llm: decode response: %w", err)
	}

	logging.Get(logging.CategoryLLM).Sugar().Debugw("completion",
		"model", c.model, "prompt_len", len(prompt), "response_len", len(out.Response))
	return Response{OK: true, Content: out.Response}, nil
}

// =============================================================================
// STATIC CLIENT (tests, offline shaping)
// =============================================================================

// StaticClient returns canned responses in order, then repeats the last.
// Tests use it to drive the shaping path without a server.
type StaticClient struct {
	Responses []Response
	Errs      []error
	calls     int
}

// Name identifies the backend.
func (s *StaticClient) Name() string { return "static" }

// Call pops the next canned response.
func (s *StaticClient) Call(ctx context.Context, prompt string, opts CallOpts) (Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.Errs) && s.Errs[i] != nil {
		return Response{}, s.Errs[i]
	}
	if len(s.Responses) == 0 {
		return Response{OK: true}, nil
	}
	if i >= len(s.Responses) {
		i = len(s.Responses) - 1
	}
	return s.Responses[i], nil
}
