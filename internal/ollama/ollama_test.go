package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docquery-dev/docquery/internal/embedding"
	"github.com/docquery-dev/docquery/internal/llm"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(srv.URL, "test-embed", "test-generate")
	c.retryInitial = 5 * time.Millisecond
	c.retryElapsed = 50 * time.Millisecond
	return c
}

func TestEmbed_SequentialRequests(t *testing.T) {
	var prompts []string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-embed" {
			t.Errorf("model = %q", req.Model)
		}
		prompts = append(prompts, req.Prompt)

		json.NewEncoder(w).Encode(embedResponse{Embedding: []float64{0.1, 0.2, float64(len(prompts))}})
	}))

	vectors, err := c.Embed(context.Background(), []string{"first", "second", "third"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if len(vectors) != 3 {
		t.Fatalf("got %d vectors, expected 3", len(vectors))
	}
	if len(prompts) != 3 || prompts[0] != "first" || prompts[2] != "third" {
		t.Errorf("prompts sent out of order: %v", prompts)
	}
	// Response order must match input order.
	if vectors[0][2] != 1 || vectors[1][2] != 2 || vectors[2][2] != 3 {
		t.Errorf("vectors out of order: %v", vectors)
	}
}

func TestEmbed_EmptyInput(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty input")
	}))

	vectors, err := c.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vectors) != 0 {
		t.Errorf("got %d vectors, expected none", len(vectors))
	}
}

func TestEmbed_ServerErrorMapsToUnavailable(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))

	_, err := c.Embed(context.Background(), []string{"text"})
	if !errors.Is(err, embedding.ErrUnavailable) {
		t.Errorf("error = %v, expected embedding.ErrUnavailable", err)
	}
}

func TestGenerate_SendsOptions(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-generate" {
			t.Errorf("model = %q", req.Model)
		}
		if req.Stream {
			t.Error("streaming must be disabled")
		}
		if req.Options.Temperature != 0.1 || req.Options.TopP != 0.9 ||
			req.Options.TopK != 40 || req.Options.NumPredict != 256 {
			t.Errorf("options = %+v", req.Options)
		}

		json.NewEncoder(w).Encode(generateResponse{Response: "30 days"})
	}))

	answer, err := c.Generate(context.Background(), "What is the grace period?", llm.Params{
		MaxTokens:   256,
		Temperature: 0.1,
		TopP:        0.9,
		TopK:        40,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if answer != "30 days" {
		t.Errorf("answer = %q, expected \"30 days\"", answer)
	}
}

func TestGenerateJSON_SetsFormat(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Format != "json" {
			t.Errorf("format = %q, expected json", req.Format)
		}
		json.NewEncoder(w).Encode(generateResponse{Response: `{"decision": "approved"}`})
	}))

	raw, err := c.GenerateJSON(context.Background(), "Evaluate the claim.", llm.Params{})
	if err != nil {
		t.Fatalf("GenerateJSON failed: %v", err)
	}
	if raw != `{"decision": "approved"}` {
		t.Errorf("raw = %q", raw)
	}
}

func TestGenerate_RetriesServerErrors(t *testing.T) {
	var calls int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "recovered"})
	}))

	answer, err := c.Generate(context.Background(), "prompt", llm.Params{})
	if err != nil {
		t.Fatalf("Generate failed after retries: %v", err)
	}
	if answer != "recovered" {
		t.Errorf("answer = %q", answer)
	}
	if calls < 3 {
		t.Errorf("server saw %d calls, expected at least 3", calls)
	}
}

func TestGenerate_ClientErrorNotRetried(t *testing.T) {
	var calls int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))

	_, err := c.Generate(context.Background(), "prompt", llm.Params{})
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Errorf("error = %v, expected llm.ErrUnavailable", err)
	}
	if calls != 1 {
		t.Errorf("server saw %d calls, expected exactly 1", calls)
	}
}
