package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/docquery-dev/docquery/internal/extract"
	"github.com/docquery-dev/docquery/internal/llm"
	"github.com/docquery-dev/docquery/internal/prompt"
)

// Analyze evaluates a claim against a document and returns a structured
// verdict grounded in the retrieved clauses. The JSON generation mode is
// used when the backend supports it; either way a malformed response
// degrades to a keyword-based verdict rather than an error.
func (p *Processor) Analyze(ctx context.Context, documentID, text, claim string) (*llm.Decision, error) {
	doc, err := p.store.Ingest(ctx, documentID, text, p.storeConfig())
	if err != nil {
		return nil, fmt.Errorf("ingesting document %s: %w", documentID, err)
	}

	results, err := p.retriever.Retrieve(ctx, doc, claim)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &llm.Decision{
			Decision:      llm.DecisionRequiresReview,
			Justification: noAnswer,
		}, nil
	}

	passages := make([]prompt.Passage, len(results))
	var clauseSource strings.Builder
	for i, r := range results {
		passages[i] = prompt.Passage{Text: r.Chunk.Text, Section: r.Chunk.Section}
		clauseSource.WriteString(r.Chunk.Text)
		clauseSource.WriteByte('\n')
	}

	promptText := p.prompts.BuildDecision(claim, passages)
	var raw string
	if p.jsonGen != nil {
		raw, err = p.jsonGen.GenerateJSON(ctx, promptText, p.genParams())
	} else {
		raw, err = p.generator.Generate(ctx, promptText, p.genParams())
	}
	if err != nil {
		return nil, err
	}

	d := llm.ParseDecision(raw)
	if len(d.ClausesUsed) == 0 {
		// The model did not cite clauses; fall back to the references
		// present in the retrieved text.
		d.ClausesUsed = extract.Clauses(clauseSource.String())
	}
	return d, nil
}
