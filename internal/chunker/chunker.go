// Package chunker splits document text into overlapping fixed-size chunks.
//
// Chunks are measured in runes so that offsets are stable character
// positions into the original text regardless of encoding. Adjacent chunks
// from one document overlap by a configured amount and together cover the
// full text with no gaps.
package chunker

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig indicates chunking parameters that can never produce a
// valid chunk sequence, such as a non-positive size or overlap >= size.
var ErrInvalidConfig = errors.New("invalid chunking configuration")

// Chunk is a contiguous span of a source document's text.
type Chunk struct {
	DocumentID  string
	Index       int
	Text        string
	StartOffset int    // rune offset into the original text, inclusive
	EndOffset   int    // rune offset into the original text, exclusive
	Section     string // heading path when a structure-aware boundary is used
}

// Boundary locates a preferred break point for a chunk.
//
// Cut is given the full document and the candidate end range for the current
// chunk: min is the lowest acceptable end (exclusive) and ideal is the end a
// plain fixed-width window would use. Implementations return a rune offset in
// (min, ideal] to end the chunk at, or ideal when no better break exists.
type Boundary interface {
	Cut(text []rune, min, ideal int) int
}

// Sectioner is implemented by boundaries that can label a text offset with a
// document section, such as a markdown heading path.
type Sectioner interface {
	Section(offset int) string
}

// Chunker produces overlapping chunks of a fixed window size.
type Chunker struct {
	chunkSize int
	overlap   int
	boundary  Boundary
}

// Option configures optional Chunker behavior.
type Option func(*Chunker)

// WithBoundary sets a boundary strategy that refines where chunks end.
// Without one, chunks are exact fixed-width windows.
func WithBoundary(b Boundary) Option {
	return func(c *Chunker) {
		c.boundary = b
	}
}

// New creates a Chunker for the given window size and overlap, both in runes.
// Returns ErrInvalidConfig unless chunkSize > 0 and 0 <= overlap < chunkSize.
func New(chunkSize, overlap int, opts ...Option) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidConfig, chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidConfig, overlap)
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidConfig, overlap, chunkSize)
	}

	c := &Chunker{
		chunkSize: chunkSize,
		overlap:   overlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Split divides text into overlapping chunks owned by documentID.
//
// The window advances by chunkSize - overlap. The final chunk may be shorter
// than chunkSize and is always kept, so the union of chunk spans covers the
// whole text. With no boundary strategy every adjacent pair overlaps by
// exactly the configured amount; a boundary strategy may move chunk ends
// earlier, in which case the following chunk still starts overlap runes
// before the adjusted end. Empty text yields no chunks.
func (c *Chunker) Split(documentID, text string) []Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < n {
		ideal := start + c.chunkSize
		if ideal >= n {
			chunks = append(chunks, newChunk(documentID, len(chunks), runes, start, n))
			break
		}

		end := ideal
		if c.boundary != nil {
			min := start + c.chunkSize/2
			if cut := c.boundary.Cut(runes, min, ideal); cut > min && cut <= ideal {
				end = cut
			}
		}
		chunks = append(chunks, newChunk(documentID, len(chunks), runes, start, end))

		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	if s, ok := c.boundary.(Sectioner); ok {
		for i := range chunks {
			chunks[i].Section = s.Section(chunks[i].StartOffset)
		}
	}
	return chunks
}

// ChunkSize returns the configured window size in runes.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }

func newChunk(documentID string, index int, runes []rune, start, end int) Chunk {
	return Chunk{
		DocumentID:  documentID,
		Index:       index,
		Text:        string(runes[start:end]),
		StartOffset: start,
		EndOffset:   end,
	}
}
