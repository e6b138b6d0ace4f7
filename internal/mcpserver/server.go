package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docquery-dev/docquery/internal/docstore"
	"github.com/docquery-dev/docquery/internal/events"
	"github.com/docquery-dev/docquery/internal/fetch"
	"github.com/docquery-dev/docquery/internal/llm"
	"github.com/docquery-dev/docquery/internal/query"
)

// DocumentFetcher resolves a document reference to plain text.
type DocumentFetcher interface {
	Fetch(ctx context.Context, reference string) (*fetch.Document, error)
}

// Pipeline answers questions and analyzes claims against an ingested
// document.
type Pipeline interface {
	Process(ctx context.Context, documentID, text string, questions []string) (*query.Response, error)
	Analyze(ctx context.Context, documentID, text, claim string) (*llm.Decision, error)
}

// ResidencyReporter lists the documents currently held for retrieval.
type ResidencyReporter interface {
	Residents() []*docstore.Resident
}

// ActivityLog reads back persisted query events.
type ActivityLog interface {
	Recent(ctx context.Context, kind events.Kind, limit int) ([]events.Event, error)
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies. Activity is optional; the status
// tool omits recent questions when it is nil.
type Config struct {
	Fetcher  DocumentFetcher
	Pipeline Pipeline
	Store    ResidencyReporter
	Activity ActivityLog
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	impl := &mcp.Implementation{
		Name:    "docquery-server",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "answer_questions",
		Description: "Answer natural language questions from a document. Takes a document reference (URL, file path, or github://owner/repo/path) and a list of questions; returns one answer per question grounded in the document text.",
	}, makeAnswerHandler(cfg.Fetcher, cfg.Pipeline))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_claim",
		Description: "Evaluate a claim against a policy document. Returns a structured verdict: decision, payout amount, justification, clauses used, and a confidence score.",
	}, makeAnalyzeHandler(cfg.Fetcher, cfg.Pipeline))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "extract_references",
		Description: "Extract structured references from raw text: calendar dates, monetary amounts, durations, and clause or section references.",
	}, makeExtractHandler())

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_store_status",
		Description: "Get the current pipeline status: resident documents, chunk counts, and recently answered questions when event persistence is enabled.",
	}, makeStatusHandler(cfg.Store, cfg.Activity))

	return &Server{server: server}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
