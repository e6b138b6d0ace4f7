// Package prompt assembles generation prompts from retrieved passages.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const answerInstruction = `Answer the question using only the provided context. If the context does not contain the answer, say "The document does not specify." Keep the answer to one to three sentences.`

const decisionInstruction = `You are evaluating a claim against the provided policy clauses. Using only those clauses, decide whether the claim is approved or rejected. Respond with a JSON object of this exact shape:
{"decision": "approved" or "rejected" or "requires_review", "amount": number or null, "justification": "one or two sentences citing the clauses", "clauses_used": ["clause references"], "confidence_score": number between 0 and 1}`

// Passage is one retrieved chunk, given to the builder in rank order.
type Passage struct {
	Text    string
	Section string
}

// Builder renders prompts under a context character budget. Passages are
// consumed in rank order and kept or dropped whole, never cut mid-span:
// the first passage that would overflow the budget ends the context, and
// everything ranked below it is dropped with it.
type Builder struct {
	maxContextChars int
}

// NewBuilder returns a Builder with the given context budget in runes.
func NewBuilder(maxContextChars int) *Builder {
	return &Builder{maxContextChars: maxContextChars}
}

// Build renders the question answering prompt.
func (b *Builder) Build(question string, passages []Passage) string {
	return b.render(answerInstruction, "Question", question, "Answer:", passages)
}

// BuildDecision renders the claim evaluation prompt. The response is
// expected to be a JSON object, see llm.ParseDecision.
func (b *Builder) BuildDecision(claim string, passages []Passage) string {
	return b.render(decisionInstruction, "Claim", claim, "Decision (JSON):", passages)
}

func (b *Builder) render(instruction, queryLabel, query, answerLabel string, passages []Passage) string {
	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n\nContext:\n")

	used := 0
	for i, p := range passages {
		n := utf8.RuneCountInString(p.Text)
		if used+n > b.maxContextChars {
			break
		}
		used += n
		sb.WriteString(formatPassage(i+1, p))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(queryLabel)
	sb.WriteString(": ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	sb.WriteString(answerLabel)
	return sb.String()
}

func formatPassage(rank int, p Passage) string {
	if p.Section != "" {
		return fmt.Sprintf("[%d] (%s) %s", rank, p.Section, p.Text)
	}
	return fmt.Sprintf("[%d] %s", rank, p.Text)
}
