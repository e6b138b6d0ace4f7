// Package ollama adapts a local Ollama server to the pipeline's embedding
// and generation interfaces.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/docquery-dev/docquery/internal/embedding"
	"github.com/docquery-dev/docquery/internal/llm"
)

// DefaultBaseURL is where a locally installed Ollama listens.
const DefaultBaseURL = "http://localhost:11434"

// Client talks to an Ollama server over its HTTP API.
type Client struct {
	baseURL         string
	embeddingModel  string
	generationModel string
	httpClient      *http.Client

	// Retry tuning, adjustable in tests.
	retryInitial time.Duration
	retryElapsed time.Duration
}

var (
	_ embedding.Embedder = (*Client)(nil)
	_ llm.Generator      = (*Client)(nil)
	_ llm.JSONGenerator  = (*Client)(nil)
)

// New builds a client for the given server and models. An empty baseURL
// falls back to DefaultBaseURL.
func New(baseURL, embeddingModel, generationModel string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		embeddingModel:  embeddingModel,
		generationModel: generationModel,
		httpClient:      &http.Client{Timeout: 2 * time.Minute},
		retryInitial:    500 * time.Millisecond,
		retryElapsed:    20 * time.Second,
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed implements embedding.Embedder. The embeddings endpoint takes one
// prompt per call, so a batch turns into sequential requests in input
// order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		var resp embedResponse
		err := c.post(ctx, "/api/embeddings", embedRequest{
			Model:  c.embeddingModel,
			Prompt: text,
		}, &resp)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w: %s", i, embedding.ErrUnavailable, err)
		}

		vec := make([]float32, len(resp.Embedding))
		for j, v := range resp.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}

	if err := embedding.CheckBatch(texts, vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate implements llm.Generator.
func (c *Client) Generate(ctx context.Context, prompt string, params llm.Params) (string, error) {
	return c.generate(ctx, prompt, params, "")
}

// GenerateJSON implements llm.JSONGenerator via Ollama's JSON format mode.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, params llm.Params) (string, error) {
	return c.generate(ctx, prompt, params, "json")
}

func (c *Client) generate(ctx context.Context, prompt string, params llm.Params, format string) (string, error) {
	req := generateRequest{
		Model:  c.generationModel,
		Prompt: prompt,
		Format: format,
		Options: generateOptions{
			Temperature: params.Temperature,
			TopP:        params.TopP,
			TopK:        params.TopK,
			NumPredict:  params.MaxTokens,
		},
	}

	var resp generateResponse
	if err := c.post(ctx, "/api/generate", req, &resp); err != nil {
		return "", fmt.Errorf("%w: %s", llm.ErrUnavailable, err)
	}
	return resp.Response, nil
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned %d", resp.StatusCode)
	}
	return nil
}

// statusError carries a non-200 response so retry logic can tell server
// overload apart from client mistakes.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ollama returned %d: %s", e.code, e.body)
}

// post sends a JSON request and decodes a JSON response. Connection
// failures and 5xx responses are retried with exponential backoff; other
// HTTP errors fail immediately.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	operation := func() error {
		err := c.postOnce(ctx, path, body, out)
		if err == nil {
			return nil
		}
		var se *statusError
		if errors.As(err, &se) && se.code < 500 && se.code != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = c.retryElapsed

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func (c *Client) postOnce(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(data))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
