// Package llm generates answers from assembled prompts.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the generation backend could not produce a
// completion after retries were exhausted.
var ErrUnavailable = errors.New("generation backend unavailable")

// Params tunes a single generation call. TopK only applies to backends
// that support it.
type Params struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
}

// Generator produces an answer for a fully assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, params Params) (string, error)
}

// JSONGenerator is implemented by backends that can constrain output to a
// JSON object. Callers fall back to Generate plus brace extraction when a
// backend does not implement it.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, prompt string, params Params) (string, error)
}
