// Package mcp exposes the review engine over the Model Context Protocol
// so hosting agents can launch sessions and inspect past ones. Sessions
// started this way run unattended, answering negotiations from the
// configured policy.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/reviewloop/reviewloop/internal/build"
	"github.com/reviewloop/reviewloop/internal/session"
	"github.com/reviewloop/reviewloop/internal/store"
)

// log is the package-wide logger for the mcp package.
var log = build.NewSubLogger("MCP")

// SessionRunner launches one review session and blocks until it
// finishes. The CLI wires this to the session driver; tests substitute a
// stub.
type SessionRunner interface {
	RunSession(ctx context.Context, params RunParams) (*session.Snapshot,
		error)
}

// RunParams are the knobs a run_review call may set.
type RunParams struct {
	// RepoPath is the repository to review.
	RepoPath string

	// Branch and BaseBranch select the diff range.
	Branch     string
	BaseBranch string

	// MaxIterations caps the review rounds. Zero uses the configured
	// default.
	MaxIterations uint32

	// GrantPermissions makes the unattended policy grant permission
	// requests instead of denying them.
	GrantPermissions bool
}

// Config holds configuration for the MCP server.
type Config struct {
	// Store is the session store for the query tools.
	Store store.Store

	// Runner launches sessions for the run_review tool.
	Runner SessionRunner
}

// Server wraps the MCP server with the review engine dependencies.
type Server struct {
	server *mcp.Server
	store  store.Store
	runner SessionRunner
}

// NewServer creates a new MCP server with all review tools registered.
func NewServer(cfg Config) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "reviewloop",
		Version: build.Version(),
	}, nil)

	s := &Server{
		server: mcpServer,
		store:  cfg.Store,
		runner: cfg.Runner,
	}
	s.registerTools()

	return s
}

// Run starts the MCP server on the given transport.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	log.InfoS(ctx, "MCP server starting")
	return s.server.Run(ctx, transport)
}

// registerTools registers all review tools.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "run_review",
		Description: "Run a full review session on a repository " +
			"branch and return the outcome",
	}, s.handleRunReview)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_session",
		Description: "Get a review session with its recorded rounds",
	}, s.handleGetSession)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List recent review sessions, newest first",
	}, s.handleListSessions)
}
