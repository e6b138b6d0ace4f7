// Package fetch resolves document references into plain text plus a
// stable content identity. Supported references are local paths, http(s)
// URLs and github://owner/repo/path blobs. Format parsing is out of
// scope: a reference must already point at UTF-8 text.
package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrNotPlainText indicates the referenced content is binary or not
// valid UTF-8 and cannot be ingested.
var ErrNotPlainText = errors.New("document is not plain text")

// DefaultMaxBytes caps how much document content is read.
const DefaultMaxBytes = 10 << 20

// Document is extracted text ready for ingestion. ID is the SHA-256 of
// the content, so the same text fetched from two places shares identity.
type Document struct {
	ID        string
	Source    string
	Text      string
	FetchedAt time.Time
}

// Fetcher resolves document references. Safe for concurrent use.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64

	github githubSource
}

// Option adjusts a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client used for http(s)
// references.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.httpClient = c }
}

// WithMaxBytes overrides DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// New builds a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxBytes:   DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch resolves a reference to its document.
func (f *Fetcher) Fetch(ctx context.Context, reference string) (*Document, error) {
	switch {
	case strings.HasPrefix(reference, "http://"), strings.HasPrefix(reference, "https://"):
		return f.fetchHTTP(ctx, reference)
	case strings.HasPrefix(reference, githubScheme):
		return f.fetchGitHub(ctx, reference)
	case strings.Contains(reference, "://"):
		return nil, fmt.Errorf("unsupported reference scheme in %q", reference)
	default:
		return f.fetchFile(reference)
	}
}

func (f *Fetcher) fetchFile(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", path, err)
	}
	if info.Size() > f.maxBytes {
		return nil, fmt.Errorf("document %s exceeds %d bytes", path, f.maxBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", path, err)
	}
	return f.newDocument(path, data)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, url string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("document %s exceeds %d bytes", url, f.maxBytes)
	}
	return f.newDocument(url, data)
}

// newDocument validates the content and derives its identity.
func (f *Fetcher) newDocument(source string, data []byte) (*Document, error) {
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotPlainText, source)
	}

	sum := sha256.Sum256(data)
	return &Document{
		ID:        hex.EncodeToString(sum[:]),
		Source:    source,
		Text:      string(data),
		FetchedAt: time.Now(),
	}, nil
}
