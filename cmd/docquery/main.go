// Package main provides the docquery CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/docquery-dev/docquery/internal/answercache"
	"github.com/docquery-dev/docquery/internal/config"
	"github.com/docquery-dev/docquery/internal/docstore"
	"github.com/docquery-dev/docquery/internal/embedding"
	"github.com/docquery-dev/docquery/internal/events"
	"github.com/docquery-dev/docquery/internal/fetch"
	"github.com/docquery-dev/docquery/internal/llm"
	"github.com/docquery-dev/docquery/internal/ollama"
	"github.com/docquery-dev/docquery/internal/query"
	"github.com/docquery-dev/docquery/internal/vectorindex/qdrant"
)

var rootCmd = &cobra.Command{
	Use:   "docquery",
	Short: "Document question answering tool",
	Long:  "CLI for answering natural language questions from documents using retrieval augmented generation",
}

var askCmd = &cobra.Command{
	Use:   "ask <document> <question> [question...]",
	Short: "Answer questions from a document",
	Long: `Fetches a document, ingests it, and answers each question.

The document argument is a local file path, an http(s) URL, or a
github://owner/repo/path reference.

Environment variables:
  DOCQUERY_ENV    Configuration profile (development, testing, production)
  BACKEND         Model backend: ollama (default) or openai
  OPENAI_API_KEY  OpenAI API key (required for the openai backend)
  OLLAMA_BASE_URL Ollama server URL (default: http://localhost:11434)
  INDEX_BACKEND   Vector index: memory (default) or qdrant`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAsk,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <document> <claim>",
	Short: "Evaluate a claim against a policy document",
	Long: `Fetches a policy document, retrieves the passages most relevant to
the claim, and asks the model for a structured verdict: decision,
payout amount, justification, clauses used, and a confidence score.`,
	Args: cobra.ExactArgs(2),
	RunE: runAnalyze,
}

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Process a batch file of documents and questions",
	Long: `Processes every document in a JSON batch file and writes the results
to an output file.

Batch file format:
  {"documents": [{"url": "policy.txt", "questions": ["..."]}]}

Each result row records the document, processing time, status, and the
answers (or the error that stopped that document). A failing document
does not stop the batch.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent query events",
	Long: `Reads the persisted query event log and prints the most recent
entries, newest first. Requires EVENTS_DB (or --db) to point at the
event database used by the server.`,
	RunE: runEvents,
}

var (
	batchOutput string
	eventsDB    string
	eventsKind  string
	eventsLimit int
)

func init() {
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "batch_results.json", "output file for batch results")
	eventsCmd.Flags().StringVar(&eventsDB, "db", "", "event database path (default: EVENTS_DB)")
	eventsCmd.Flags().StringVar(&eventsKind, "kind", "", "filter by event kind: ingest, question, or request")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 20, "maximum number of events to show")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(eventsCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Client-side request rate toward the OpenAI API, under the default
// tier limits with headroom for concurrent questions.
const (
	openaiRequestsPerSecond = 10
	openaiBurst             = 5
)

// pipeline bundles what the subcommands need, with a close func for
// backends that hold connections.
type pipeline struct {
	fetcher   *fetch.Fetcher
	processor *query.Processor
	close     func()
}

// buildPipeline wires the pipeline from configuration. The CLI keeps
// logs at warn level on stderr so answers stay readable on stdout.
func buildPipeline(cfg *config.Config) (*pipeline, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

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
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	closeFn := func() {}
	storeOpts := []docstore.Option{docstore.WithLogger(logger)}
	if cfg.IndexBackend == "qdrant" {
		qd, err := qdrant.New(cfg.QdrantHost, cfg.QdrantPort)
		if err != nil {
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		storeOpts = append(storeOpts, docstore.WithBackend(qd))
		closeFn = func() { qd.Close() }
	}
	if snaps, err := docstore.NewSnapshots(cfg.SnapshotDir()); err == nil {
		storeOpts = append(storeOpts, docstore.WithSnapshots(snaps))
	}

	store, err := docstore.New(embedder, cfg.MaxDocuments, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}

	cache := answercache.New(cfg.CacheCapacity, cfg.CacheTTL)

	processor, err := query.New(store, embedder, generator, cache, query.OptionsFromConfig(cfg),
		query.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("query processor: %w", err)
	}

	return &pipeline{
		fetcher:   fetch.New(),
		processor: processor,
		close:     closeFn,
	}, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	reference, questions := args[0], args[1:]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	doc, err := p.fetcher.Fetch(ctx, reference)
	if err != nil {
		return fmt.Errorf("failed to fetch document: %w", err)
	}

	resp, err := p.processor.Process(ctx, doc.ID, doc.Text, questions)
	if err != nil {
		return fmt.Errorf("failed to process questions: %w", err)
	}

	for _, a := range resp.Answers {
		fmt.Printf("Q: %s\n", a.Question)
		fmt.Printf("A: %s\n\n", a.Marker())
	}
	fmt.Printf("(%d chunks, %s)\n", resp.Chunks, resp.Duration.Round(time.Millisecond))
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	reference, claim := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	doc, err := p.fetcher.Fetch(ctx, reference)
	if err != nil {
		return fmt.Errorf("failed to fetch document: %w", err)
	}

	decision, err := p.processor.Analyze(ctx, doc.ID, doc.Text, claim)
	if err != nil {
		return fmt.Errorf("failed to analyze claim: %w", err)
	}

	out, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// batchFile mirrors the JSON accepted by the batch command.
type batchFile struct {
	Documents []batchDocument `json:"documents"`
}

type batchDocument struct {
	URL       string   `json:"url"`
	Questions []string `json:"questions"`
}

// batchResult is one output row per processed document.
type batchResult struct {
	DocumentURL    string   `json:"document_url"`
	ProcessingTime float64  `json:"processing_time"`
	Status         string   `json:"status"`
	QuestionsCount int      `json:"questions_count"`
	Answers        []string `json:"answers,omitempty"`
	Error          string   `json:"error,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	start := time.Now()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read batch file: %w", err)
	}
	var batch batchFile
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("failed to parse batch file: %w", err)
	}
	if len(batch.Documents) == 0 {
		return fmt.Errorf("batch file has no documents")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	fmt.Printf("Processing %d documents...\n\n", len(batch.Documents))

	results := make([]batchResult, 0, len(batch.Documents))
	succeeded := 0
	for i, bd := range batch.Documents {
		fmt.Printf("[%d/%d] %s\n", i+1, len(batch.Documents), bd.URL)
		docStart := time.Now()

		result := batchResult{
			DocumentURL:    bd.URL,
			QuestionsCount: len(bd.Questions),
		}
		answers, err := processOne(ctx, p, bd)
		result.ProcessingTime = time.Since(docStart).Seconds()
		if err != nil {
			result.Status = "error"
			result.Error = err.Error()
			fmt.Printf("  error: %s\n", err)
		} else {
			result.Status = "success"
			result.Answers = answers
			succeeded++
			fmt.Printf("  %d answers in %.2fs\n", len(answers), result.ProcessingTime)
		}
		results = append(results, result)
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(batchOutput, out, 0o644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	fmt.Println()
	fmt.Println("Batch complete!")
	fmt.Printf("  Documents: %d/%d\n", succeeded, len(batch.Documents))
	fmt.Printf("  Results:   %s\n", batchOutput)
	fmt.Printf("  Duration:  %s\n", time.Since(start).Round(time.Second))
	return nil
}

func processOne(ctx context.Context, p *pipeline, bd batchDocument) ([]string, error) {
	if len(bd.Questions) == 0 {
		return nil, fmt.Errorf("no questions")
	}
	doc, err := p.fetcher.Fetch(ctx, bd.URL)
	if err != nil {
		return nil, err
	}
	resp, err := p.processor.Process(ctx, doc.ID, doc.Text, bd.Questions)
	if err != nil {
		return nil, err
	}
	return resp.Strings(), nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	path := eventsDB
	if path == "" {
		path = os.Getenv("EVENTS_DB")
	}
	if path == "" {
		return fmt.Errorf("no event database: set EVENTS_DB or pass --db")
	}

	sink, err := events.NewSQLiteSink(path)
	if err != nil {
		return fmt.Errorf("failed to open event database: %w", err)
	}
	defer sink.Close()

	recent, err := sink.Recent(ctx, events.Kind(eventsKind), eventsLimit)
	if err != nil {
		return fmt.Errorf("failed to read events: %w", err)
	}
	if len(recent) == 0 {
		fmt.Println("No events recorded.")
		return nil
	}

	for _, e := range recent {
		line := fmt.Sprintf("%s  %-8s  doc=%s", e.At.Local().Format(time.DateTime), e.Kind, short(e.DocumentID))
		if e.Question != "" {
			line += fmt.Sprintf("  q=%q", e.Question)
		}
		if e.CacheHit {
			line += "  (cached)"
		}
		if e.Error != "" {
			line += fmt.Sprintf("  error=%q", e.Error)
		}
		fmt.Println(line)
	}
	return nil
}

// short truncates a document ID for terminal display.
func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
