package llm

import "testing"

func TestSanitize(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		expected string
	}{
		{
			"clean answer passes through",
			"30 days",
			"30 days",
		},
		{
			"context preamble stripped",
			"Based on the context, the grace period is thirty days.",
			"The grace period is thirty days.",
		},
		{
			"document preamble stripped",
			"According to the document: premiums are due monthly.",
			"Premiums are due monthly.",
		},
		{
			"chunk reference removed",
			"The waiting period is two years (chunk 3).",
			"The waiting period is two years.",
		},
		{
			"bracketed chunk reference removed",
			"Coverage starts immediately [chunk 12] after enrollment.",
			"Coverage starts immediately after enrollment.",
		},
		{
			"bullets collapse into prose",
			"- premiums due monthly\n- grace period applies",
			"Premiums due monthly grace period applies",
		},
		{
			"whitespace compacted",
			"the  answer\n\nspans   lines",
			"The answer spans lines",
		},
		{
			"empty input",
			"   ",
			"",
		},
		{
			"capitalized answer unchanged",
			"Thirty days.",
			"Thirty days.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Sanitize(tc.raw); got != tc.expected {
				t.Errorf("Sanitize(%q) = %q, expected %q", tc.raw, got, tc.expected)
			}
		})
	}
}

func TestParseDecision_JSON(t *testing.T) {
	raw := `Here is my assessment:
{"decision": "approved", "amount": 50000, "justification": "Knee surgery is covered under clause 4.2.", "clauses_used": ["4.2"], "confidence_score": 0.92}`

	d := ParseDecision(raw)

	if d.Decision != DecisionApproved {
		t.Errorf("Decision = %q, expected approved", d.Decision)
	}
	if d.Amount == nil || *d.Amount != 50000 {
		t.Errorf("Amount = %v, expected 50000", d.Amount)
	}
	if len(d.ClausesUsed) != 1 || d.ClausesUsed[0] != "4.2" {
		t.Errorf("ClausesUsed = %v", d.ClausesUsed)
	}
	if d.ConfidenceScore != 0.92 {
		t.Errorf("ConfidenceScore = %f", d.ConfidenceScore)
	}
}

func TestParseDecision_CanonicalizesVerdict(t *testing.T) {
	raw := `{"decision": "Reject", "justification": "Pre-existing condition.", "confidence_score": 0.8}`

	d := ParseDecision(raw)
	if d.Decision != DecisionRejected {
		t.Errorf("Decision = %q, expected rejected", d.Decision)
	}
}

func TestParseDecision_ClampsConfidence(t *testing.T) {
	raw := `{"decision": "approved", "confidence_score": 1.7}`

	d := ParseDecision(raw)
	if d.ConfidenceScore != 1 {
		t.Errorf("ConfidenceScore = %f, expected clamp to 1", d.ConfidenceScore)
	}
}

func TestParseDecision_KeywordFallback(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		expected string
	}{
		{"approval wording", "The claim should be approved given clause 2.", DecisionApproved},
		{"rejection wording", "This claim is rejected: the condition is excluded.", DecisionRejected},
		{"denied wording", "Coverage is denied for cosmetic procedures.", DecisionRejected},
		{"negated approval", "This claim cannot be approved under the policy.", DecisionRejected},
		{"no verdict", "The document does not address this scenario.", DecisionRequiresReview},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := ParseDecision(tc.raw)
			if d.Decision != tc.expected {
				t.Errorf("Decision = %q, expected %q", d.Decision, tc.expected)
			}
			if d.Justification == "" {
				t.Error("fallback should keep the raw text as justification")
			}
		})
	}
}

func TestParseDecision_MalformedJSONFallsBack(t *testing.T) {
	d := ParseDecision(`{"decision": approved,}`)
	if d.Decision != DecisionApproved {
		t.Errorf("Decision = %q, expected keyword fallback to approved", d.Decision)
	}
}
