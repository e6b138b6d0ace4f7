package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docquery-dev/docquery/internal/events"
	"github.com/docquery-dev/docquery/internal/extract"
)

// makeAnswerHandler creates the answer_questions tool handler.
// Answer flow:
// 1. Resolve the document reference to plain text
// 2. Ingest (chunk, embed, index) unless the document is already resident
// 3. Answer each question with retrieval plus generation
// 4. Return one answer per question in input order; failed questions
// carry an error marker instead of failing the call
func makeAnswerHandler(fetcher DocumentFetcher, pipeline Pipeline) func(
	context.Context, *mcp.CallToolRequest, AnswerQuestionsInput,
) (*mcp.CallToolResult, AnswerQuestionsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AnswerQuestionsInput) (
		*mcp.CallToolResult, AnswerQuestionsOutput, error,
	) {
		if input.Documents == "" {
			return nil, AnswerQuestionsOutput{}, errors.New("documents is required")
		}
		if len(input.Questions) == 0 {
			return nil, AnswerQuestionsOutput{}, errors.New("questions is required")
		}

		doc, err := fetcher.Fetch(ctx, input.Documents)
		if err != nil {
			return nil, AnswerQuestionsOutput{}, fmt.Errorf("failed to fetch document: %w", err)
		}

		resp, err := pipeline.Process(ctx, doc.ID, doc.Text, input.Questions)
		if err != nil {
			return nil, AnswerQuestionsOutput{}, fmt.Errorf("failed to process questions: %w", err)
		}

		return nil, AnswerQuestionsOutput{
			Answers:    resp.Strings(),
			DocumentID: doc.ID,
			Chunks:     resp.Chunks,
		}, nil
	}
}

// makeAnalyzeHandler creates the analyze_claim tool handler.
// Runs the retrieval pipeline with the claim as the query, then asks
// the model for a structured verdict instead of a prose answer.
func makeAnalyzeHandler(fetcher DocumentFetcher, pipeline Pipeline) func(
	context.Context, *mcp.CallToolRequest, AnalyzeClaimInput,
) (*mcp.CallToolResult, AnalyzeClaimOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AnalyzeClaimInput) (
		*mcp.CallToolResult, AnalyzeClaimOutput, error,
	) {
		if input.Documents == "" {
			return nil, AnalyzeClaimOutput{}, errors.New("documents is required")
		}
		if input.Claim == "" {
			return nil, AnalyzeClaimOutput{}, errors.New("claim is required")
		}

		doc, err := fetcher.Fetch(ctx, input.Documents)
		if err != nil {
			return nil, AnalyzeClaimOutput{}, fmt.Errorf("failed to fetch document: %w", err)
		}

		decision, err := pipeline.Analyze(ctx, doc.ID, doc.Text, input.Claim)
		if err != nil {
			return nil, AnalyzeClaimOutput{}, fmt.Errorf("failed to analyze claim: %w", err)
		}

		clauses := decision.ClausesUsed
		if clauses == nil {
			clauses = []string{} // Ensure non-nil for JSON marshaling
		}
		return nil, AnalyzeClaimOutput{
			Decision:        decision.Decision,
			Amount:          decision.Amount,
			Justification:   decision.Justification,
			ClausesUsed:     clauses,
			ConfidenceScore: decision.ConfidenceScore,
		}, nil
	}
}

// makeExtractHandler creates the extract_references tool handler.
// Pure text scan, no backends involved.
func makeExtractHandler() func(
	context.Context, *mcp.CallToolRequest, ExtractReferencesInput,
) (*mcp.CallToolResult, ExtractReferencesOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ExtractReferencesInput) (
		*mcp.CallToolResult, ExtractReferencesOutput, error,
	) {
		if input.Text == "" {
			return nil, ExtractReferencesOutput{}, errors.New("text is required")
		}

		refs := extract.Find(input.Text)
		return nil, ExtractReferencesOutput{
			Dates:         nonNil(refs.Dates),
			Amounts:       nonNil(refs.Amounts),
			Durations:     nonNil(refs.Durations),
			PolicyNumbers: nonNil(refs.PolicyNumbers),
			Clauses:       nonNil(refs.Clauses),
		}, nil
	}
}

// makeStatusHandler creates the get_store_status tool handler.
// Reports resident documents and chunk counts; when an activity log is
// wired in, also the latest answered questions. Activity log failures
// are not an error for the tool, the field is just omitted.
func makeStatusHandler(store ResidencyReporter, activity ActivityLog) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		residents := store.Residents()

		out := StatusOutput{
			ResidentDocs: len(residents),
			Documents:    make([]ResidentDocument, 0, len(residents)),
		}
		for _, r := range residents {
			out.TotalChunks += len(r.Chunks)
			out.Documents = append(out.Documents, ResidentDocument{
				DocumentID: r.DocumentID,
				Chunks:     len(r.Chunks),
				IngestedAt: r.IngestedAt,
			})
		}

		if activity != nil {
			recent, err := activity.Recent(ctx, events.KindQuestion, 10)
			if err == nil {
				for _, e := range recent {
					out.RecentQuestions = append(out.RecentQuestions, e.Question)
				}
			}
		}

		return nil, out, nil
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
