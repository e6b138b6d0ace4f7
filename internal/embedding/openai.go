package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// DefaultBatchSize balances requests-per-minute against tokens-per-minute
// rate limits. OpenAI accepts up to 2048 texts per request, but smaller
// batches reduce TPM pressure.
const DefaultBatchSize = 500

// OpenAI generates embeddings through the OpenAI embeddings API. Large
// inputs are split into batches, requests are rate limited client-side
// and retried with exponential backoff on HTTP 429.
type OpenAI struct {
	client    openai.Client
	model     string
	batchSize int
	limiter   *rate.Limiter
}

var _ Embedder = (*OpenAI)(nil)

// OpenAIOption adjusts an OpenAI embedder.
type OpenAIOption func(*OpenAI)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) OpenAIOption {
	return func(o *OpenAI) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithRateLimit caps outgoing API requests per second.
func WithRateLimit(rps float64, burst int) OpenAIOption {
	return func(o *OpenAI) {
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewOpenAI builds an embedder for the given model. When apiKey is empty
// the client falls back to the OPENAI_API_KEY environment variable.
func NewOpenAI(model, apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if model == "" {
		return nil, fmt.Errorf("embedding model must not be empty")
	}
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	o := &OpenAI{
		client:    openai.NewClient(clientOpts...),
		model:     model,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Embed implements Embedder. Vectors come back in input order.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += o.batchSize {
		end := min(i+o.batchSize, len(texts))
		batch := texts[i:end]

		vectors, err := o.embedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, vectors...)
	}

	if err := CheckBatch(texts, all); err != nil {
		return nil, err
	}
	return all, nil
}

// embedBatch sends a single batch, retrying rate limit errors with
// exponential backoff. Other errors fail immediately.
func (o *OpenAI) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var vectors [][]float32
	operation := func() error {
		resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: o.model,
		})
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		vectors = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			vectors[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return vectors, nil
}

// isRateLimitError reports whether the error is an HTTP 429 from the API.
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 narrows API float64 vectors to the float32 the index stores.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
