package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestSQLiteSink_EmitAndRecent(t *testing.T) {
	ctx := context.Background()
	sink := newTestSink(t)

	emitted := []Event{
		{Kind: KindIngest, RequestID: "req-1", DocumentID: "doc-1", Chunks: 12, Duration: 400 * time.Millisecond},
		{Kind: KindQuestion, RequestID: "req-1", DocumentID: "doc-1", Question: "What is covered?", Answer: "Hospitalization.", CacheHit: true},
		{Kind: KindQuestion, RequestID: "req-1", DocumentID: "doc-1", Question: "Deductible?", Error: "generation backend unavailable"},
	}
	for _, e := range emitted {
		if err := sink.Emit(ctx, e); err != nil {
			t.Fatalf("Emit(%s): %v", e.Kind, err)
		}
	}

	got, err := sink.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d events, want 3", len(got))
	}

	// Most recent first.
	if got[0].Question != "Deductible?" || got[0].Error != "generation backend unavailable" {
		t.Errorf("newest event = %+v, want the failed question", got[0])
	}
	if got[2].Kind != KindIngest || got[2].Chunks != 12 {
		t.Errorf("oldest event = %+v, want the ingest event", got[2])
	}
	if got[2].Duration != 400*time.Millisecond {
		t.Errorf("Duration = %v, want 400ms", got[2].Duration)
	}
	if !got[1].CacheHit {
		t.Errorf("CacheHit not preserved for %+v", got[1])
	}
	if got[0].At.IsZero() {
		t.Errorf("At should be filled in when the event omits it")
	}
}

func TestSQLiteSink_RecentFiltersByKind(t *testing.T) {
	ctx := context.Background()
	sink := newTestSink(t)

	for _, k := range []Kind{KindIngest, KindQuestion, KindRequest, KindQuestion} {
		if err := sink.Emit(ctx, Event{Kind: k, DocumentID: "doc-1"}); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	got, err := sink.Recent(ctx, KindQuestion, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(%q) returned %d events, want 2", KindQuestion, len(got))
	}
	for _, e := range got {
		if e.Kind != KindQuestion {
			t.Errorf("event kind = %q, want %q", e.Kind, KindQuestion)
		}
	}
}

func TestSQLiteSink_ReopenKeepsEvents(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	first, err := NewSQLiteSink(path)
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	if err := first.Emit(ctx, Event{Kind: KindRequest, RequestID: "req-1"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening must not re-run migrations destructively.
	second, err := NewSQLiteSink(path)
	if err != nil {
		t.Fatalf("NewSQLiteSink (reopen): %v", err)
	}
	defer second.Close()

	got, err := second.Recent(ctx, KindRequest, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].RequestID != "req-1" {
		t.Errorf("after reopen got %+v, want the original event", got)
	}
}

func TestSQLiteSink_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteSink(""); err == nil {
		t.Fatal("NewSQLiteSink(\"\") should fail")
	}
}

func TestLogSink_Emit(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	err := sink.Emit(context.Background(), Event{
		Kind:       KindQuestion,
		DocumentID: "doc-1",
		Question:   "What is the grace period?",
		CacheHit:   true,
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"query event", "kind=question", "document_id=doc-1", "cache_hit=true"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := sink.Emit(context.Background(), Event{Kind: KindIngest, Error: "boom"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("level=WARN")) {
		t.Errorf("failed event should log at warn level:\n%s", buf.String())
	}
}

type recordingSink struct {
	events []Event
	err    error
}

func (r *recordingSink) Emit(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) Close() error { return nil }

func TestFanout_EmitsToAllSinks(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("sink b failed")}
	c := &recordingSink{}
	fan := Fanout{a, b, c}

	err := fan.Emit(context.Background(), Event{Kind: KindRequest})
	if err == nil || err.Error() != "sink b failed" {
		t.Errorf("Emit error = %v, want the first sink error", err)
	}
	for i, sink := range []*recordingSink{a, b, c} {
		if len(sink.events) != 1 {
			t.Errorf("sink %d received %d events, want 1", i, len(sink.events))
		}
	}
}
