package llm

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

// OpenAI generates answers through the OpenAI chat completions API.
// Requests are rate limited client-side when configured and retried
// with exponential backoff on HTTP 429.
type OpenAI struct {
	client  openai.Client
	model   string
	limiter *rate.Limiter
}

var (
	_ Generator     = (*OpenAI)(nil)
	_ JSONGenerator = (*OpenAI)(nil)
)

// OpenAIOption adjusts an OpenAI generator.
type OpenAIOption func(*OpenAI)

// WithRateLimit caps outgoing API requests per second.
func WithRateLimit(rps float64, burst int) OpenAIOption {
	return func(o *OpenAI) {
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewOpenAI builds a generator for the given chat model. When apiKey is
// empty the client falls back to the OPENAI_API_KEY environment variable.
func NewOpenAI(model, apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if model == "" {
		return nil, fmt.Errorf("generation model must not be empty")
	}
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	o := &OpenAI{client: openai.NewClient(clientOpts...), model: model}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Generate implements Generator.
func (o *OpenAI) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	return o.complete(ctx, prompt, params, false)
}

// GenerateJSON implements JSONGenerator using the json_object response
// format.
func (o *OpenAI) GenerateJSON(ctx context.Context, prompt string, params Params) (string, error) {
	return o.complete(ctx, prompt, params, true)
}

func (o *OpenAI) complete(ctx context.Context, prompt string, params Params, jsonObject bool) (string, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	req := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       o.model,
		Temperature: openai.Float(params.Temperature),
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}
	if params.TopP > 0 {
		req.TopP = openai.Float(params.TopP)
	}
	if jsonObject {
		req.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		}
	}

	var answer string
	operation := func() error {
		resp, err := o.client.Chat.Completions.New(ctx, req)
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("empty completion response"))
		}
		answer = resp.Choices[0].Message.Content
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return answer, nil
}

// isRateLimitError reports whether the error is an HTTP 429 from the API.
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
