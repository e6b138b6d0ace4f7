package llm

import (
	"encoding/json"
	"strings"
)

// Decision verdict values.
const (
	DecisionApproved       = "approved"
	DecisionRejected       = "rejected"
	DecisionRequiresReview = "requires_review"
)

// Decision is a structured verdict extracted from a model response when
// the caller asked for claim analysis rather than a plain answer.
type Decision struct {
	Decision        string   `json:"decision"`
	Amount          *float64 `json:"amount"`
	Justification   string   `json:"justification"`
	ClausesUsed     []string `json:"clauses_used"`
	ConfidenceScore float64  `json:"confidence_score"`
}

// ParseDecision extracts a Decision from a raw completion. It first looks
// for a JSON object anywhere in the text; when none parses it falls back
// to keyword scanning, so a malformed response still yields a usable
// verdict instead of an error.
func ParseDecision(raw string) *Decision {
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			var d Decision
			if err := json.Unmarshal([]byte(raw[start:end+1]), &d); err == nil && d.Decision != "" {
				d.Decision = canonicalDecision(d.Decision)
				d.ConfidenceScore = clampScore(d.ConfidenceScore)
				return &d
			}
		}
	}

	d := &Decision{
		Decision:        DecisionRequiresReview,
		Justification:   Sanitize(raw),
		ConfidenceScore: 0.4,
	}
	// Rejection phrasing is checked first so negated approvals land rejected.
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "reject") || strings.Contains(lower, "denied") ||
		strings.Contains(lower, "not covered") || strings.Contains(lower, "not approved") ||
		strings.Contains(lower, "cannot be approved"):
		d.Decision = DecisionRejected
	case strings.Contains(lower, "approve"):
		d.Decision = DecisionApproved
	}
	return d
}

func canonicalDecision(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "approve", "yes":
		return DecisionApproved
	case "rejected", "reject", "denied", "no":
		return DecisionRejected
	default:
		return DecisionRequiresReview
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
