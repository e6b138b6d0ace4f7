package query

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docquery-dev/docquery/internal/llm"
)

type scriptedJSONGenerator struct {
	scriptedGenerator
	jsonCalls atomic.Int32
	jsonOut   string
}

func (g *scriptedJSONGenerator) GenerateJSON(_ context.Context, _ string, _ llm.Params) (string, error) {
	g.jsonCalls.Add(1)
	return g.jsonOut, nil
}

func TestAnalyze_StructuredDecision(t *testing.T) {
	gen := &scriptedJSONGenerator{
		jsonOut: `{"decision": "approved", "amount": 50000, "justification": "Covered under clause 3.2.", "clauses_used": ["Clause 3.2"], "confidence_score": 0.92}`,
	}
	p, _ := newTestProcessor(t, gen, testOptions())

	d, err := p.Analyze(context.Background(), "doc-policy", policyText,
		"Claim for knee surgery for a 45 year old male")
	require.NoError(t, err)

	assert.Equal(t, llm.DecisionApproved, d.Decision)
	require.NotNil(t, d.Amount)
	assert.Equal(t, 50000.0, *d.Amount)
	assert.Equal(t, []string{"Clause 3.2"}, d.ClausesUsed)
	assert.InDelta(t, 0.92, d.ConfidenceScore, 1e-9)

	assert.Equal(t, int32(1), gen.jsonCalls.Load(), "JSON mode preferred when available")
	assert.Zero(t, gen.calls.Load())
}

func TestAnalyze_KeywordFallbackFindsClauses(t *testing.T) {
	doc := "Knee surgery is excluded under clause 7.1 of this policy. A waiting period of two years applies to joint procedures."
	gen := &scriptedGenerator{
		answer: "The claim is rejected. Knee surgery is excluded under the policy terms.",
	}
	p, _ := newTestProcessor(t, gen, testOptions())

	d, err := p.Analyze(context.Background(), "doc-exclusions", doc,
		"Is knee surgery covered for a 45 year old?")
	require.NoError(t, err)

	assert.Equal(t, llm.DecisionRejected, d.Decision)
	assert.InDelta(t, 0.4, d.ConfidenceScore, 1e-9)
	assert.Contains(t, d.ClausesUsed, "clause 7.1",
		"clause references recovered from the retrieved text when the model cites none")
}

func TestAnalyze_EmptyDocument(t *testing.T) {
	gen := &scriptedGenerator{answer: "unused"}
	p, _ := newTestProcessor(t, gen, testOptions())

	d, err := p.Analyze(context.Background(), "doc-empty", "", "Is anything covered?")
	require.NoError(t, err)

	assert.Equal(t, llm.DecisionRequiresReview, d.Decision)
	assert.Equal(t, noAnswer, d.Justification)
	assert.Zero(t, gen.calls.Load())
}
