package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docquery-dev/docquery/internal/fetch"
	"github.com/docquery-dev/docquery/internal/query"
)

type stubFetcher struct {
	doc    *fetch.Document
	err    error
	gotRef string
}

func (f *stubFetcher) Fetch(ctx context.Context, reference string) (*fetch.Document, error) {
	f.gotRef = reference
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

type stubProcessor struct {
	resp         *query.Response
	err          error
	gotID        string
	gotText      string
	gotQuestions []string
}

func (p *stubProcessor) Process(ctx context.Context, documentID, text string, questions []string) (*query.Response, error) {
	p.gotID = documentID
	p.gotText = text
	p.gotQuestions = questions
	if p.err != nil {
		return nil, p.err
	}
	return p.resp, nil
}

type stubChecker struct {
	err error
}

func (c stubChecker) Health(ctx context.Context) error { return c.err }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, fetcher DocumentFetcher, processor QueryProcessor, opts ...Option) http.Handler {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	s, err := New(fetcher, processor, opts...)
	require.NoError(t, err)
	return s.Handler()
}

func postQuery(t *testing.T, h http.Handler, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQuery_Success(t *testing.T) {
	fetcher := &stubFetcher{doc: &fetch.Document{
		ID:     "doc-1",
		Source: "https://example.com/policy.txt",
		Text:   "The grace period for premium payment is thirty days.",
	}}
	processor := &stubProcessor{resp: &query.Response{
		DocumentID: "doc-1",
		State:      query.StateCompleted,
		Answers: []query.Answer{
			{Question: "What is the grace period?", Text: "30 days"},
		},
	}}
	h := newTestServer(t, fetcher, processor)

	rec := postQuery(t, h, `{"documents": "https://example.com/policy.txt", "questions": ["What is the grace period?"]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"30 days"}, resp.Answers)

	assert.Equal(t, "https://example.com/policy.txt", fetcher.gotRef)
	assert.Equal(t, "doc-1", processor.gotID)
	assert.Equal(t, fetcher.doc.Text, processor.gotText)
	assert.Equal(t, []string{"What is the grace period?"}, processor.gotQuestions)
}

func TestQuery_FailedQuestionsStayInOrder(t *testing.T) {
	fetcher := &stubFetcher{doc: &fetch.Document{ID: "doc-1", Text: "text"}}
	processor := &stubProcessor{resp: &query.Response{
		Answers: []query.Answer{
			{Question: "first", Text: "First answer."},
			{Question: "second", Err: errors.New("generation backend unavailable")},
			{Question: "third", Text: "Third answer."},
		},
	}}
	h := newTestServer(t, fetcher, processor)

	rec := postQuery(t, h, `{"documents": "file.txt", "questions": ["first", "second", "third"]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Answers, 3)
	assert.Equal(t, "First answer.", resp.Answers[0])
	assert.Equal(t, "Error processing question: generation backend unavailable", resp.Answers[1])
	assert.Equal(t, "Third answer.", resp.Answers[2])
}

func TestQuery_RequiresToken(t *testing.T) {
	fetcher := &stubFetcher{doc: &fetch.Document{ID: "doc-1", Text: "text"}}
	processor := &stubProcessor{resp: &query.Response{}}
	h := newTestServer(t, fetcher, processor, WithToken("secret"))

	body := `{"documents": "file.txt", "questions": ["q"]}`

	rec := postQuery(t, h, body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	assert.Contains(t, rec.Body.String(), "Invalid authentication credentials")

	rec = postQuery(t, h, body, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postQuery(t, h, body, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestQuery_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{"documents": `, "invalid request body"},
		{"missing documents", `{"questions": ["q"]}`, "documents is required"},
		{"missing questions", `{"documents": "file.txt"}`, "questions is required"},
		{"empty questions", `{"documents": "file.txt", "questions": []}`, "questions is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &stubFetcher{doc: &fetch.Document{ID: "doc-1"}}
			processor := &stubProcessor{resp: &query.Response{}}
			h := newTestServer(t, fetcher, processor)

			rec := postQuery(t, h, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestQuery_FetchFailureReturns500(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("unexpected status 404")}
	processor := &stubProcessor{resp: &query.Response{}}
	h := newTestServer(t, fetcher, processor)

	rec := postQuery(t, h, `{"documents": "https://example.com/gone.txt", "questions": ["q"]}`, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error processing queries: unexpected status 404")
	assert.Empty(t, processor.gotQuestions, "processor should not run when the fetch fails")
}

func TestQuery_IngestionFailureReturns500(t *testing.T) {
	fetcher := &stubFetcher{doc: &fetch.Document{ID: "doc-1", Text: "text"}}
	processor := &stubProcessor{err: errors.New("ingesting document doc-1: embedding backend unavailable")}
	h := newTestServer(t, fetcher, processor)

	rec := postQuery(t, h, `{"documents": "file.txt", "questions": ["q"]}`, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error processing queries")
	assert.Contains(t, rec.Body.String(), "embedding backend unavailable")
}

func TestQuery_MethodNotAllowed(t *testing.T) {
	h := newTestServer(t, &stubFetcher{doc: &fetch.Document{}}, &stubProcessor{resp: &query.Response{}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/query", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth_AllBackendsConnected(t *testing.T) {
	h := newTestServer(t, &stubFetcher{doc: &fetch.Document{}}, &stubProcessor{resp: &query.Response{}},
		WithHealthCheck("qdrant", stubChecker{}),
		WithHealthCheck("ollama", stubChecker{}),
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, Version, resp.Version)
	assert.Equal(t, "connected", resp.Backends["qdrant"])
	assert.Equal(t, "connected", resp.Backends["ollama"])

	ts, err := time.Parse(time.RFC3339, resp.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestHealth_ReportsDisconnectedBackend(t *testing.T) {
	h := newTestServer(t, &stubFetcher{doc: &fetch.Document{}}, &stubProcessor{resp: &query.Response{}},
		WithHealthCheck("qdrant", stubChecker{err: errors.New("connection refused")}),
		WithHealthCheck("ollama", stubChecker{}),
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "disconnected", resp.Backends["qdrant"])
	assert.Equal(t, "connected", resp.Backends["ollama"])
}

func TestHealth_NoBackends(t *testing.T) {
	h := newTestServer(t, &stubFetcher{doc: &fetch.Document{}}, &stubProcessor{resp: &query.Response{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Nil(t, resp.Backends)
}

func TestRoot_DescribesService(t *testing.T) {
	h := newTestServer(t, &stubFetcher{doc: &fetch.Document{}}, &stubProcessor{resp: &query.Response{}})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docquery")
	assert.Contains(t, rec.Body.String(), Version)

	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(nil, &stubProcessor{})
	assert.Error(t, err)

	_, err = New(&stubFetcher{}, nil)
	assert.Error(t, err)
}

func TestQuery_BodySizeLimit(t *testing.T) {
	fetcher := &stubFetcher{doc: &fetch.Document{ID: "doc-1"}}
	processor := &stubProcessor{resp: &query.Response{}}
	h := newTestServer(t, fetcher, processor)

	var sb bytes.Buffer
	sb.WriteString(`{"documents": "file.txt", "questions": ["`)
	sb.WriteString(strings.Repeat("x", maxRequestBytes+1024))
	sb.WriteString(`"]}`)

	rec := postQuery(t, h, sb.String(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
