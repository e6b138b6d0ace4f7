// Package query coordinates the answer pipeline for one request: ingest
// the document once, then answer every question through cache lookup,
// retrieval, prompt assembly and generation.
package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docquery-dev/docquery/internal/answercache"
	"github.com/docquery-dev/docquery/internal/config"
	"github.com/docquery-dev/docquery/internal/docstore"
	"github.com/docquery-dev/docquery/internal/embedding"
	"github.com/docquery-dev/docquery/internal/events"
	"github.com/docquery-dev/docquery/internal/llm"
	"github.com/docquery-dev/docquery/internal/prompt"
	"github.com/docquery-dev/docquery/internal/retrieval"
)

// ErrTimeout marks a question abandoned because its deadline passed.
var ErrTimeout = errors.New("question timed out")

// noAnswer is returned when retrieval finds nothing to ground an answer
// on, e.g. for an empty document.
const noAnswer = "No relevant information found in the document for this question."

// State tracks how far a request has progressed.
type State string

const (
	StateReceived  State = "received"
	StateIngesting State = "ingesting"
	StateReady     State = "ready"
	StateAnswering State = "answering"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Options selects the models and budgets a Processor answers with. The
// zero value is not usable; start from OptionsFromConfig or fill in at
// least the chunking fields and models.
type Options struct {
	ChunkSize       int
	ChunkOverlap    int
	ChunkBoundary   string
	TopK            int
	MaxContextChars int
	EmbeddingModel  string
	GenerationModel string
	MaxTokens       int
	Temperature     float64
	TopP            float64
	GenTopK         int
	MaxConcurrent   int
	QuestionTimeout time.Duration
}

// OptionsFromConfig maps the runtime configuration onto pipeline options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ChunkSize:       cfg.ChunkSize,
		ChunkOverlap:    cfg.ChunkOverlap,
		ChunkBoundary:   cfg.ChunkBoundary,
		TopK:            cfg.TopK,
		MaxContextChars: cfg.MaxContextChars,
		EmbeddingModel:  cfg.EmbeddingModel,
		GenerationModel: cfg.GenerationModel,
		MaxTokens:       cfg.MaxTokens,
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		MaxConcurrent:   cfg.MaxConcurrentQueries,
		QuestionTimeout: cfg.QuestionTimeout,
	}
}

// fingerprint covers every option that changes what an answer looks
// like, so cached answers go stale the moment the configuration moves.
func (o Options) fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%s|%d|%d|%s|%s|%d|%g|%g|%d",
		o.ChunkSize, o.ChunkOverlap, o.ChunkBoundary, o.TopK, o.MaxContextChars,
		o.EmbeddingModel, o.GenerationModel, o.MaxTokens, o.Temperature, o.TopP, o.GenTopK)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Answer is the outcome for one question, kept in input order.
type Answer struct {
	Question string
	Text     string
	Err      error
	CacheHit bool
	Chunks   []int
	Duration time.Duration
}

// Marker renders the user-visible string for this slot: the answer text,
// or an error marker when the question failed.
func (a Answer) Marker() string {
	if a.Err != nil {
		return "Error processing question: " + a.Err.Error()
	}
	return a.Text
}

// Response is the result of one request.
type Response struct {
	RequestID  string
	DocumentID string
	State      State
	Answers    []Answer
	Chunks     int
	Duration   time.Duration
}

// Strings returns one entry per input question, answers and error
// markers in input order.
func (r *Response) Strings() []string {
	out := make([]string, len(r.Answers))
	for i, a := range r.Answers {
		out[i] = a.Marker()
	}
	return out
}

// Processor answers question batches against single documents.
type Processor struct {
	opts      Options
	store     *docstore.Store
	retriever *retrieval.Retriever
	prompts   *prompt.Builder
	generator llm.Generator
	jsonGen   llm.JSONGenerator
	cache     *answercache.Cache
	sink      events.Sink
	logger    *slog.Logger
}

// Option adjusts a Processor.
type Option func(*Processor)

// WithEvents streams request, ingest and question events to sink.
// Emission failures are logged and otherwise ignored.
func WithEvents(sink events.Sink) Option {
	return func(p *Processor) { p.sink = sink }
}

// WithLogger replaces slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// New wires a Processor. When the generator also implements
// llm.JSONGenerator, Analyze uses its JSON mode.
func New(store *docstore.Store, embedder embedding.Embedder, generator llm.Generator, cache *answercache.Cache, opts Options, extra ...Option) (*Processor, error) {
	if store == nil || embedder == nil || generator == nil || cache == nil {
		return nil, errors.New("query: store, embedder, generator and cache are all required")
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = 4000
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}

	p := &Processor{
		opts:      opts,
		store:     store,
		retriever: retrieval.New(embedder, opts.TopK),
		prompts:   prompt.NewBuilder(opts.MaxContextChars),
		generator: generator,
		cache:     cache,
		logger:    slog.Default(),
	}
	if jg, ok := generator.(llm.JSONGenerator); ok {
		p.jsonGen = jg
	}
	for _, opt := range extra {
		opt(p)
	}
	return p, nil
}

// Process answers questions against one document. The document is
// ingested at most once; questions then run concurrently, each getting
// an answer slot in input order. A failed question marks only its own
// slot, but an ingestion failure fails the whole request since nothing
// can be answered without an index.
func (p *Processor) Process(ctx context.Context, documentID, text string, questions []string) (*Response, error) {
	start := time.Now()
	resp := &Response{
		RequestID:  uuid.NewString(),
		DocumentID: documentID,
		State:      StateReceived,
	}
	logger := p.logger.With("request_id", resp.RequestID, "document_id", documentID)
	logger.Info("processing request", "questions", len(questions))

	resp.State = StateIngesting
	ingestStart := time.Now()
	doc, err := p.store.Ingest(ctx, documentID, text, p.storeConfig())
	if err != nil {
		resp.State = StateFailed
		resp.Duration = time.Since(start)
		p.emit(ctx, events.Event{
			Kind:       events.KindIngest,
			RequestID:  resp.RequestID,
			DocumentID: documentID,
			Duration:   time.Since(ingestStart),
			Error:      err.Error(),
		})
		logger.Error("ingestion failed", "error", err)
		return resp, fmt.Errorf("ingesting document %s: %w", documentID, err)
	}
	resp.Chunks = len(doc.Chunks)
	p.emit(ctx, events.Event{
		Kind:       events.KindIngest,
		RequestID:  resp.RequestID,
		DocumentID: documentID,
		Chunks:     len(doc.Chunks),
		Duration:   time.Since(ingestStart),
	})

	resp.State = StateReady
	resp.Answers = make([]Answer, len(questions))
	if len(questions) > 0 {
		resp.State = StateAnswering
		p.answerAll(ctx, resp, doc, questions)
	}

	resp.State = StateCompleted
	resp.Duration = time.Since(start)
	p.emit(ctx, events.Event{
		Kind:       events.KindRequest,
		RequestID:  resp.RequestID,
		DocumentID: documentID,
		Chunks:     resp.Chunks,
		Duration:   resp.Duration,
	})
	logger.Info("request completed", "took", resp.Duration)
	return resp, nil
}

// answerAll fans questions out over a bounded worker group. Questions
// that normalize to the same cache key run once; the shared result fills
// every slot that asked it.
func (p *Processor) answerAll(ctx context.Context, resp *Response, doc *docstore.Resident, questions []string) {
	fp := p.opts.fingerprint()

	slots := make(map[string][]int, len(questions))
	var order []string
	for i, q := range questions {
		key := answercache.Key(resp.DocumentID, q, fp)
		if _, seen := slots[key]; !seen {
			order = append(order, key)
		}
		slots[key] = append(slots[key], i)
	}

	var g errgroup.Group
	g.SetLimit(p.opts.MaxConcurrent)
	for _, key := range order {
		indexes := slots[key]
		g.Go(func() error {
			a := p.answerOne(ctx, resp, doc, questions[indexes[0]], key)
			for n, i := range indexes {
				slot := a
				slot.Question = questions[i]
				if n > 0 {
					slot.CacheHit = true
				}
				resp.Answers[i] = slot
			}
			return nil
		})
	}
	g.Wait()
}

// answerOne resolves a single question: cache first, then retrieve,
// build the prompt, generate and cache the sanitized answer.
func (p *Processor) answerOne(ctx context.Context, resp *Response, doc *docstore.Resident, question, key string) Answer {
	start := time.Now()
	a := Answer{Question: question}

	if entry, ok := p.cache.Get(key); ok {
		a.Text = entry.Answer
		a.Chunks = entry.Chunks
		a.CacheHit = true
		a.Duration = time.Since(start)
		p.logger.Debug("answer served from cache",
			"request_id", resp.RequestID, "question", question)
		p.emitQuestion(ctx, resp, a)
		return a
	}

	if p.opts.QuestionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.QuestionTimeout)
		defer cancel()
	}

	text, positions, err := p.generate(ctx, doc, question)
	a.Duration = time.Since(start)
	if err != nil {
		a.Err = classify(ctx, err)
		p.logger.Warn("question failed",
			"request_id", resp.RequestID, "question", question, "error", err)
		p.emitQuestion(ctx, resp, a)
		return a
	}

	a.Text = text
	a.Chunks = positions
	p.cache.Put(key, answercache.Entry{Answer: text, Chunks: positions})
	p.emitQuestion(ctx, resp, a)
	return a
}

// generate runs the retrieve-prompt-generate path for a cache miss.
func (p *Processor) generate(ctx context.Context, doc *docstore.Resident, question string) (string, []int, error) {
	results, err := p.retriever.Retrieve(ctx, doc, question)
	if err != nil {
		return "", nil, err
	}
	if len(results) == 0 {
		return noAnswer, nil, nil
	}

	passages := make([]prompt.Passage, len(results))
	positions := make([]int, len(results))
	for i, r := range results {
		passages[i] = prompt.Passage{Text: r.Chunk.Text, Section: r.Chunk.Section}
		positions[i] = r.Chunk.Index
	}

	raw, err := p.generator.Generate(ctx, p.prompts.Build(question, passages), p.genParams())
	if err != nil {
		return "", nil, err
	}
	return llm.Sanitize(raw), positions, nil
}

// Invalidate drops the resident index and all cached answers for a
// document, e.g. when its source content changed.
func (p *Processor) Invalidate(documentID string) {
	p.store.Evict(documentID)
	removed := p.cache.Invalidate(documentID)
	p.logger.Info("document invalidated", "document_id", documentID, "answers_dropped", removed)
}

func (p *Processor) storeConfig() docstore.Config {
	return docstore.Config{
		ChunkSize:      p.opts.ChunkSize,
		ChunkOverlap:   p.opts.ChunkOverlap,
		ChunkBoundary:  p.opts.ChunkBoundary,
		EmbeddingModel: p.opts.EmbeddingModel,
	}
}

func (p *Processor) genParams() llm.Params {
	return llm.Params{
		MaxTokens:   p.opts.MaxTokens,
		Temperature: p.opts.Temperature,
		TopP:        p.opts.TopP,
		TopK:        p.opts.GenTopK,
	}
}

func (p *Processor) emitQuestion(ctx context.Context, resp *Response, a Answer) {
	e := events.Event{
		Kind:       events.KindQuestion,
		RequestID:  resp.RequestID,
		DocumentID: resp.DocumentID,
		Question:   a.Question,
		Answer:     a.Text,
		CacheHit:   a.CacheHit,
		Duration:   a.Duration,
	}
	if a.Err != nil {
		e.Error = a.Err.Error()
	}
	p.emit(ctx, e)
}

// emit records an event. The pipeline never depends on the sink: a
// failed emission is logged and dropped. The detached context lets
// events for timed-out questions still land.
func (p *Processor) emit(ctx context.Context, e events.Event) {
	if p.sink == nil {
		return
	}
	if err := p.sink.Emit(context.WithoutCancel(ctx), e); err != nil {
		p.logger.Warn("event emission failed", "kind", string(e.Kind), "error", err)
	}
}

// classify maps low-level failures onto the error taxonomy surfaced in
// answer markers. The question context is consulted because backend
// adapters flatten their causes, so a deadline hit inside a retry loop
// may not be visible in the error chain itself.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	}
	return err
}
