package chunker

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// headingMark records where a markdown heading line begins and the heading
// hierarchy in effect from that point on.
type headingMark struct {
	offset int    // rune offset of the heading line start
	path   string // "# Title > ## Section"
}

// MarkdownBoundary prefers to end chunks just before a heading so that
// sections stay intact, and labels each chunk with its heading path. Where no
// heading falls inside the acceptable range it defers to sentence breaks.
type MarkdownBoundary struct {
	headings []headingMark
	fallback Boundary
}

// NewMarkdownBoundary parses source as markdown and builds a boundary
// strategy from its heading structure. Documents without headings behave
// exactly like Sentences.
func NewMarkdownBoundary(source string) (*MarkdownBoundary, error) {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)

	src := []byte(source)
	doc := md.Parser().Parse(text.NewReader(src))

	tree, err := toc.Inspect(doc, src,
		toc.MinDepth(1),
		toc.MaxDepth(3),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect headings: %w", err)
	}

	b := &MarkdownBoundary{fallback: Sentences()}
	collectHeadings(doc, src, source, tree.Items, nil, &b.headings)
	sort.Slice(b.headings, func(i, j int) bool {
		return b.headings[i].offset < b.headings[j].offset
	})
	return b, nil
}

// Cut ends the chunk at the last heading inside (min, ideal] when one
// exists, so the next chunk starts at a section break.
func (b *MarkdownBoundary) Cut(text []rune, min, ideal int) int {
	for i := len(b.headings) - 1; i >= 0; i-- {
		off := b.headings[i].offset
		if off <= min {
			break
		}
		if off <= ideal {
			return off
		}
	}
	return b.fallback.Cut(text, min, ideal)
}

// Section returns the heading path governing the given rune offset.
func (b *MarkdownBoundary) Section(offset int) string {
	path := ""
	for _, h := range b.headings {
		if h.offset > offset {
			break
		}
		path = h.path
	}
	return path
}

// collectHeadings walks TOC items recursively, resolving each to its heading
// node in the AST and recording the rune offset of the heading line start.
func collectHeadings(doc ast.Node, src []byte, source string, items toc.Items, ancestors []string, out *[]headingMark) {
	for _, item := range items {
		currentPath := append(ancestors, string(item.Title))

		headerNode := findHeaderByID(doc, string(item.ID))
		if headerNode != nil && headerNode.Lines().Len() > 0 {
			seg := headerNode.Lines().At(0)
			lineStart := bytes.LastIndexByte(src[:seg.Start], '\n') + 1
			*out = append(*out, headingMark{
				offset: utf8.RuneCountInString(source[:lineStart]),
				path:   formatHeaderPath(currentPath),
			})
		}

		if len(item.Items) > 0 {
			collectHeadings(doc, src, source, item.Items, currentPath, out)
		}
	}
}

// formatHeaderPath builds a header hierarchy string.
// Example: ["Coverage", "Grace Period"] -> "# Coverage > ## Grace Period"
func formatHeaderPath(path []string) string {
	if len(path) == 0 {
		return ""
	}

	var parts []string
	for i, segment := range path {
		prefix := strings.Repeat("#", i+1)
		parts = append(parts, fmt.Sprintf("%s %s", prefix, segment))
	}

	return strings.Join(parts, " > ")
}

// findHeaderByID locates a heading node by its auto-generated ID.
func findHeaderByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			heading := n.(*ast.Heading)
			headingID, ok := heading.AttributeString("id")
			if ok && string(headingID.([]byte)) == id {
				found = n
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}
