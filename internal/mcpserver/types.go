// Package mcpserver exposes the question answering pipeline as MCP
// tools.
package mcpserver

import "time"

// AnswerQuestionsInput defines the input parameters for the
// answer_questions tool.
type AnswerQuestionsInput struct {
	// Documents is the document reference to answer against.
	Documents string `json:"documents" jsonschema:"required,description=Document reference: an http(s) URL or a local file path or github://owner/repo/path"`
	// Questions are the natural language questions to answer.
	Questions []string `json:"questions" jsonschema:"required,description=Natural language questions to answer from the document"`
}

// AnswerQuestionsOutput contains one answer per question, in input
// order.
type AnswerQuestionsOutput struct {
	// Answers holds one answer string per question. Failed questions
	// carry an error marker instead of an answer.
	Answers []string `json:"answers"`
	// DocumentID identifies the ingested document for later status or
	// invalidation calls.
	DocumentID string `json:"document_id"`
	// Chunks is how many chunks the document was split into.
	Chunks int `json:"chunks"`
}

// AnalyzeClaimInput defines the input parameters for the analyze_claim
// tool.
type AnalyzeClaimInput struct {
	// Documents is the policy document reference.
	Documents string `json:"documents" jsonschema:"required,description=Policy document reference: an http(s) URL or a local file path or github://owner/repo/path"`
	// Claim is the claim description to evaluate against the policy.
	Claim string `json:"claim" jsonschema:"required,description=Free text claim description to evaluate against the policy"`
}

// AnalyzeClaimOutput is the structured verdict for a claim.
type AnalyzeClaimOutput struct {
	// Decision is one of approved, rejected, or requires_review.
	Decision string `json:"decision"`
	// Amount is the approved payout when the model stated one.
	Amount *float64 `json:"amount,omitempty"`
	// Justification explains the decision.
	Justification string `json:"justification"`
	// ClausesUsed lists the policy clauses the decision relied on.
	ClausesUsed []string `json:"clauses_used"`
	// ConfidenceScore is the model's confidence in [0,1].
	ConfidenceScore float64 `json:"confidence_score"`
}

// ExtractReferencesInput defines the input parameters for the
// extract_references tool.
type ExtractReferencesInput struct {
	// Text is the raw text to scan for structured references.
	Text string `json:"text" jsonschema:"required,description=Raw text to scan for dates and amounts and durations and clause references"`
}

// ExtractReferencesOutput lists the structured references found in the
// text, each in order of first appearance.
type ExtractReferencesOutput struct {
	// Dates are calendar dates, numeric or written out.
	Dates []string `json:"dates"`
	// Amounts are monetary amounts.
	Amounts []string `json:"amounts"`
	// Durations are spans like "thirty days" or "2 years".
	Durations []string `json:"durations"`
	// PolicyNumbers are policy identifiers like "Policy No: HLT-2024/889".
	PolicyNumbers []string `json:"policy_numbers"`
	// Clauses are clause or section references like "Clause 3.2".
	Clauses []string `json:"clauses"`
}

// StatusInput defines the input parameters for the get_store_status
// tool. This tool takes no parameters.
type StatusInput struct {
	// No input parameters required
}

// ResidentDocument describes one document currently held for
// retrieval.
type ResidentDocument struct {
	// DocumentID is the content-derived document identifier.
	DocumentID string `json:"document_id"`
	// Chunks is how many chunks the document was split into.
	Chunks int `json:"chunks"`
	// IngestedAt is when the document was prepared.
	IngestedAt time.Time `json:"ingested_at"`
}

// StatusOutput reports what the pipeline currently holds.
type StatusOutput struct {
	// ResidentDocs is the number of resident document variants.
	ResidentDocs int `json:"resident_docs"`
	// TotalChunks is the chunk count summed over resident documents.
	TotalChunks int `json:"total_chunks"`
	// Documents describes each resident document.
	Documents []ResidentDocument `json:"documents"`
	// RecentQuestions holds the latest answered questions when event
	// persistence is enabled.
	RecentQuestions []string `json:"recent_questions,omitempty"`
}
