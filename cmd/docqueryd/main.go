// Package main provides the docquery server entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/docquery-dev/docquery/internal/answercache"
	"github.com/docquery-dev/docquery/internal/config"
	"github.com/docquery-dev/docquery/internal/docstore"
	"github.com/docquery-dev/docquery/internal/embedding"
	"github.com/docquery-dev/docquery/internal/events"
	"github.com/docquery-dev/docquery/internal/fetch"
	"github.com/docquery-dev/docquery/internal/llm"
	"github.com/docquery-dev/docquery/internal/mcpserver"
	"github.com/docquery-dev/docquery/internal/ollama"
	"github.com/docquery-dev/docquery/internal/query"
	"github.com/docquery-dev/docquery/internal/server"
	"github.com/docquery-dev/docquery/internal/vectorindex/qdrant"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	// Logs go to stderr so stdio MCP transport keeps stdout to itself.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	app, err := buildApp(cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// SERVER_MODE selects the serving surface: the HTTP API, MCP over
	// stdio, or MCP over streamable HTTP.
	mode := getEnv("SERVER_MODE", "http")
	switch mode {
	case "http":
		err = runHTTP(ctx, cfg, app, logger)
	case "mcp":
		err = runMCP(ctx, app, logger)
	case "mcp-http":
		err = runMCPHTTP(ctx, cfg, app, logger)
	default:
		logger.Error("unknown server mode", "mode", mode)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// healthChecker is what every probeable backend exposes.
type healthChecker interface {
	Health(ctx context.Context) error
}

// Client-side request rate toward the OpenAI API, under the default
// tier limits with headroom for concurrent questions.
const (
	openaiRequestsPerSecond = 10
	openaiBurst             = 5
)

// app bundles the wired pipeline with everything that needs closing on
// shutdown.
type app struct {
	fetcher   *fetch.Fetcher
	processor *query.Processor
	store     *docstore.Store
	activity  *events.SQLiteSink
	health    map[string]healthChecker
	closers   []func() error
	logger    *slog.Logger
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// buildApp wires backends, store, cache, and event sinks into a query
// processor according to the configuration.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		health: make(map[string]healthChecker),
		logger: logger,
	}

	// Model backends: one client serves both embedding and generation
	// for ollama, separate clients for openai.
	var (
		embedder  embedding.Embedder
		generator llm.Generator
	)
	switch cfg.Backend {
	case "openai":
		emb, err := embedding.NewOpenAI(cfg.EmbeddingModel, cfg.OpenAIKey,
			embedding.WithRateLimit(openaiRequestsPerSecond, openaiBurst))
		if err != nil {
			return nil, fmt.Errorf("embedding backend: %w", err)
		}
		gen, err := llm.NewOpenAI(cfg.GenerationModel, cfg.OpenAIKey,
			llm.WithRateLimit(openaiRequestsPerSecond, openaiBurst))
		if err != nil {
			return nil, fmt.Errorf("generation backend: %w", err)
		}
		embedder, generator = emb, gen
	case "ollama":
		client := ollama.New(cfg.OllamaBaseURL, cfg.EmbeddingModel, cfg.GenerationModel)
		embedder, generator = client, client
		a.health["ollama"] = client
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	// Vector index backend.
	storeOpts := []docstore.Option{docstore.WithLogger(logger)}
	if cfg.IndexBackend == "qdrant" {
		qd, err := qdrant.New(cfg.QdrantHost, cfg.QdrantPort)
		if err != nil {
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		storeOpts = append(storeOpts, docstore.WithBackend(qd))
		a.health["qdrant"] = qd
		a.closers = append(a.closers, qd.Close)
	}

	// Snapshots let a restart skip re-embedding resident documents.
	if snaps, err := docstore.NewSnapshots(cfg.SnapshotDir()); err != nil {
		logger.Warn("snapshots disabled", "dir", cfg.SnapshotDir(), "error", err)
	} else {
		storeOpts = append(storeOpts, docstore.WithSnapshots(snaps))
	}

	store, err := docstore.New(embedder, cfg.MaxDocuments, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}
	a.store = store

	// Query events always reach the log; the SQLite sink is added when
	// EVENTS_DB is set.
	sinks := events.Fanout{events.NewLogSink(logger)}
	if cfg.EventsDB != "" {
		sqlSink, err := events.NewSQLiteSink(cfg.EventsDB)
		if err != nil {
			logger.Warn("event persistence disabled", "path", cfg.EventsDB, "error", err)
		} else {
			sinks = append(sinks, sqlSink)
			a.activity = sqlSink
			a.closers = append(a.closers, sqlSink.Close)
		}
	}

	cache := answercache.New(cfg.CacheCapacity, cfg.CacheTTL)

	processor, err := query.New(store, embedder, generator, cache, query.OptionsFromConfig(cfg),
		query.WithEvents(sinks),
		query.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("query processor: %w", err)
	}
	a.processor = processor
	a.fetcher = fetch.New()

	return a, nil
}

// runHTTP serves the REST API until the context is cancelled, then
// shuts down gracefully.
func runHTTP(ctx context.Context, cfg *config.Config, app *app, logger *slog.Logger) error {
	opts := []server.Option{
		server.WithToken(cfg.APIToken),
		server.WithCORS(cfg.CORSOrigin),
		server.WithLogger(logger),
	}
	for name, check := range app.health {
		opts = append(opts, server.WithHealthCheck(name, check))
	}
	srv, err := server.New(app.fetcher, app.processor, opts...)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, httpServer, logger)
}

// runMCP serves MCP over stdio (blocks until the client disconnects).
func runMCP(ctx context.Context, app *app, logger *slog.Logger) error {
	logger.Info("starting MCP server", "transport", "stdio")
	return newMCPServer(app).Run(ctx)
}

// runMCPHTTP serves MCP over streamable HTTP with a landing page and a
// health endpoint alongside.
func runMCPHTTP(ctx context.Context, cfg *config.Config, app *app, logger *slog.Logger) error {
	srv := newMCPServer(app)

	checks := make(map[string]mcpserver.HealthChecker, len(app.health))
	for name, check := range app.health {
		checks[name] = check
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(srv, nil))
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(checks))
	mux.HandleFunc("/", mcpserver.NewLandingHandler())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, httpServer, logger)
}

func newMCPServer(app *app) *mcpserver.Server {
	mcpCfg := &mcpserver.Config{
		Fetcher:  app.fetcher,
		Pipeline: app.processor,
		Store:    app.store,
	}
	if app.activity != nil {
		mcpCfg.Activity = app.activity
	}
	return mcpserver.NewServer(mcpCfg)
}

// serve runs an HTTP server until the context is cancelled, then gives
// in-flight requests ten seconds to finish.
func serve(ctx context.Context, httpServer *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
