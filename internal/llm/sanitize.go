package llm

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	preamblePattern = regexp.MustCompile(`(?i)^(based on (the )?(provided )?(context|document|information|text)|according to (the )?(context|document|text)|the answer is|answer)\s*[:,]?\s*`)
	chunkRefPattern = regexp.MustCompile(`(?i)\s*[(\[]chunk \d+[)\]]`)
	bulletPattern   = regexp.MustCompile(`(?m)^\s*[-*•]\s+`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

// Sanitize normalizes a raw completion into flowing prose: boilerplate
// preambles and chunk references are removed, bullet lists collapse into
// plain text, whitespace is compacted and the first letter is capitalized.
// Already clean answers pass through unchanged.
func Sanitize(raw string) string {
	s := strings.TrimSpace(raw)
	s = preamblePattern.ReplaceAllString(s, "")
	s = chunkRefPattern.ReplaceAllString(s, "")
	s = bulletPattern.ReplaceAllString(s, "")
	s = spacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	r, size := utf8.DecodeRuneInString(s)
	if unicode.IsLower(r) {
		s = string(unicode.ToUpper(r)) + s[size:]
	}
	return s
}
