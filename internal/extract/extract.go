// Package extract pulls structured references out of free text, such as
// the dates, amounts and clause numbers mentioned in a question or an
// answer.
package extract

import (
	"regexp"
	"strings"
)

var (
	numericDatePattern = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`)
	writtenDatePattern = regexp.MustCompile(`(?i)\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:,\s*|\s+)\d{4}\b`)
	amountPattern      = regexp.MustCompile(`(?i)(?:\$|₹|Rs\.?\s?|INR\s?|USD\s?)\d(?:[\d,]*\d)?(?:\.\d+)?`)
	durationPattern    = regexp.MustCompile(`(?i)\b(?:\d+|one|two|three|four|five|six|seven|eight|nine|ten|fifteen|thirty|forty-five|sixty|ninety)[-\s](?:day|week|month|year)s?\b`)
	clausePattern      = regexp.MustCompile(`(?i)\b(?:clause|section|article)\s+\d+(?:\.\d+)*\b`)

	labeledPolicyPattern = regexp.MustCompile(`(?i)\b(?:policy|certificate)\s+(?:no\.?|number)\s*:?\s*([A-Z0-9][A-Z0-9\-/]*)`)
	barePolicyPattern    = regexp.MustCompile(`\b[A-Z]{2,4}\d{6,12}\b`)
)

// References are the structured mentions found in a piece of text, in
// order of first appearance.
type References struct {
	Dates         []string `json:"dates,omitempty"`
	Amounts       []string `json:"amounts,omitempty"`
	Durations     []string `json:"durations,omitempty"`
	PolicyNumbers []string `json:"policy_numbers,omitempty"`
	Clauses       []string `json:"clauses,omitempty"`
}

// Find extracts every kind of reference at once.
func Find(text string) References {
	return References{
		Dates:         Dates(text),
		Amounts:       Amounts(text),
		Durations:     Durations(text),
		PolicyNumbers: PolicyNumbers(text),
		Clauses:       Clauses(text),
	}
}

// Empty reports whether nothing was found.
func (r References) Empty() bool {
	return len(r.Dates) == 0 && len(r.Amounts) == 0 &&
		len(r.Durations) == 0 && len(r.PolicyNumbers) == 0 &&
		len(r.Clauses) == 0
}

// Dates finds calendar dates, numeric (12/31/2024) or written out
// (December 31, 2024).
func Dates(text string) []string {
	found := numericDatePattern.FindAllString(text, -1)
	found = append(found, writtenDatePattern.FindAllString(text, -1)...)
	return dedupe(found)
}

// Amounts finds currency amounts such as $5,000 or Rs. 200000.
func Amounts(text string) []string {
	return dedupe(amountPattern.FindAllString(text, -1))
}

// Durations finds spans such as "thirty days", "3-month" or "90 days".
func Durations(text string) []string {
	return dedupe(durationPattern.FindAllString(text, -1))
}

// PolicyNumbers finds policy identifiers, either labeled
// ("Policy No: ABC-12345") or bare insurer-style codes ("HDFC1234567").
func PolicyNumbers(text string) []string {
	var found []string
	for _, m := range labeledPolicyPattern.FindAllStringSubmatch(text, -1) {
		found = append(found, m[1])
	}
	found = append(found, barePolicyPattern.FindAllString(text, -1)...)
	return dedupe(found)
}

// Clauses finds clause, section and article references such as
// "clause 4.2".
func Clauses(text string) []string {
	return dedupe(clausePattern.FindAllString(text, -1))
}

// dedupe removes case-insensitive duplicates, keeping first appearances
// in order.
func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
