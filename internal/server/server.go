// Package server exposes the question answering pipeline over HTTP.
//
// The API follows a small surface: POST /api/v1/query takes a document
// reference and a list of questions and returns one answer per
// question, GET /health reports backend reachability, and GET / serves
// a short service description. Authentication is a static bearer token
// checked on the query endpoint only.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/docquery-dev/docquery/internal/fetch"
	"github.com/docquery-dev/docquery/internal/query"
)

// Version is reported by the root and health endpoints.
const Version = "1.0.0"

// healthTimeout bounds the backend probes run by the health endpoint.
const healthTimeout = 3 * time.Second

// maxRequestBytes caps the query request body.
const maxRequestBytes = 1 << 20

// DocumentFetcher resolves a document reference to plain text.
type DocumentFetcher interface {
	Fetch(ctx context.Context, reference string) (*fetch.Document, error)
}

// QueryProcessor answers questions against an ingested document.
type QueryProcessor interface {
	Process(ctx context.Context, documentID, text string, questions []string) (*query.Response, error)
}

// HealthChecker reports whether a backend is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// QueryRequest is the request body for the query endpoint.
type QueryRequest struct {
	Documents string   `json:"documents"`
	Questions []string `json:"questions"`
}

// QueryResponse is the response body for the query endpoint.
type QueryResponse struct {
	Answers []string `json:"answers"`
}

// HealthResponse is the response body for the health endpoint.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Backends  map[string]string `json:"backends,omitempty"`
	Timestamp string            `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server routes HTTP requests to the query pipeline.
type Server struct {
	fetcher   DocumentFetcher
	processor QueryProcessor
	checks    map[string]HealthChecker
	token     string
	cors      string
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithToken sets the bearer token required on the query endpoint.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithCORS sets the allowed CORS origin.
func WithCORS(origin string) Option {
	return func(s *Server) { s.cors = origin }
}

// WithHealthCheck registers a named backend probe for the health
// endpoint.
func WithHealthCheck(name string, hc HealthChecker) Option {
	return func(s *Server) { s.checks[name] = hc }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a Server around a fetcher and a processor.
func New(fetcher DocumentFetcher, processor QueryProcessor, opts ...Option) (*Server, error) {
	if fetcher == nil || processor == nil {
		return nil, errors.New("server: fetcher and processor are required")
	}
	s := &Server{
		fetcher:   fetcher,
		processor: processor,
		checks:    make(map[string]HealthChecker),
		cors:      "*",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the routed HTTP handler with logging, panic
// recovery, and CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /api/v1/query", Chain(
		http.HandlerFunc(s.handleQuery),
		BearerAuth(s.token),
	))
	return Chain(mux, Recover(s.logger), Logger(s.logger), CORS(s.cors))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "docquery document question answering API",
		"version": Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if len(s.checks) > 0 {
		resp.Backends = make(map[string]string, len(s.checks))
	}
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check.Health(ctx); err != nil {
			s.logger.Warn("health check failed", "backend", name, "error", err)
			resp.Backends[name] = "disconnected"
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Backends[name] = "connected"
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Documents == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "documents is required"})
		return
	}
	if len(req.Questions) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "questions is required"})
		return
	}

	doc, err := s.fetcher.Fetch(r.Context(), req.Documents)
	if err != nil {
		s.logger.Error("document fetch failed", "reference", req.Documents, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: fmt.Sprintf("Error processing queries: %s", err),
		})
		return
	}

	resp, err := s.processor.Process(r.Context(), doc.ID, doc.Text, req.Questions)
	if err != nil {
		s.logger.Error("query processing failed", "document_id", doc.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: fmt.Sprintf("Error processing queries: %s", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{Answers: resp.Strings()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}
