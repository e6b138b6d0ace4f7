// Package events records what happened to each request and question, for
// structured logs and offline analysis.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Kind labels an event.
type Kind string

const (
	// KindIngest marks a document ingestion attempt.
	KindIngest Kind = "ingest"
	// KindQuestion marks a single answered question.
	KindQuestion Kind = "question"
	// KindRequest marks a whole query request.
	KindRequest Kind = "request"
)

// Event is one record of pipeline activity. Unused fields stay zero.
type Event struct {
	Kind       Kind
	RequestID  string
	DocumentID string
	Question   string
	Answer     string
	CacheHit   bool
	Chunks     int
	Duration   time.Duration
	Error      string
	At         time.Time
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, e Event) error
	Close() error
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

var _ Sink = (*LogSink)(nil)

// NewLogSink wraps a logger as a Sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(ctx context.Context, e Event) error {
	attrs := []slog.Attr{
		slog.String("kind", string(e.Kind)),
		slog.String("document_id", e.DocumentID),
		slog.Duration("duration", e.Duration),
	}
	if e.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", e.RequestID))
	}
	if e.Question != "" {
		attrs = append(attrs, slog.String("question", e.Question))
	}
	if e.Kind == KindQuestion {
		attrs = append(attrs, slog.Bool("cache_hit", e.CacheHit))
	}
	if e.Chunks > 0 {
		attrs = append(attrs, slog.Int("chunks", e.Chunks))
	}

	level := slog.LevelInfo
	if e.Error != "" {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", e.Error))
	}
	s.logger.LogAttrs(ctx, level, "query event", attrs...)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error {
	return nil
}

// Fanout sends each event to every sink, returning the first error.
type Fanout []Sink

var _ Sink = Fanout(nil)

// Emit implements Sink.
func (f Fanout) Emit(ctx context.Context, e Event) error {
	var first error
	for _, sink := range f {
		if err := sink.Emit(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close implements Sink.
func (f Fanout) Close() error {
	var first error
	for _, sink := range f {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
