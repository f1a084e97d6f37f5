package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RunReviewArgs are the arguments for the run_review tool.
type RunReviewArgs struct {
	// RepoPath is the repository to review.
	RepoPath string `json:"repo_path" jsonschema:"Path to the git repository to review"`

	// Branch is the branch under review. Defaults to the current HEAD.
	Branch string `json:"branch,omitempty" jsonschema:"Branch under review,defaults to HEAD"`

	// BaseBranch is the diff base.
	BaseBranch string `json:"base_branch,omitempty" jsonschema:"Base branch for the diff range"`

	// MaxIterations caps the review rounds.
	MaxIterations uint32 `json:"max_iterations,omitempty" jsonschema:"Maximum review rounds,default uses configuration"`

	// GrantPermissions grants reviewee permission requests instead of
	// denying them.
	GrantPermissions bool `json:"grant_permissions,omitempty" jsonschema:"Grant reviewee permission requests instead of denying"`
}

// RunReviewResult is the result of the run_review tool.
type RunReviewResult struct {
	SessionID      string   `json:"session_id"`
	Outcome        string   `json:"outcome"`
	Iterations     uint32   `json:"iterations"`
	Summary        string   `json:"summary"`
	BlockingIssues []string `json:"blocking_issues,omitempty"`
}

func (s *Server) handleRunReview(ctx context.Context,
	req *mcp.CallToolRequest,
	args RunReviewArgs) (*mcp.CallToolResult, RunReviewResult, error) {

	if s.runner == nil {
		return nil, RunReviewResult{},
			errors.New("no session runner configured")
	}
	if args.RepoPath == "" {
		return nil, RunReviewResult{},
			errors.New("repo_path is required")
	}

	log.InfoS(ctx, "MCP run_review",
		"repo", args.RepoPath,
		"branch", args.Branch,
		"base", args.BaseBranch)

	snap, err := s.runner.RunSession(ctx, RunParams{
		RepoPath:         args.RepoPath,
		Branch:           args.Branch,
		BaseBranch:       args.BaseBranch,
		MaxIterations:    args.MaxIterations,
		GrantPermissions: args.GrantPermissions,
	})
	if err != nil {
		return nil, RunReviewResult{},
			fmt.Errorf("session failed: %w", err)
	}

	return nil, RunReviewResult{
		SessionID:      snap.SessionID,
		Outcome:        string(snap.Outcome.UnwrapOr("")),
		Iterations:     snap.Iteration,
		Summary:        snap.Summary,
		BlockingIssues: snap.BlockingIssues,
	}, nil
}

// GetSessionArgs are the arguments for the get_session tool.
type GetSessionArgs struct {
	SessionID string `json:"session_id" jsonschema:"ID of the session to fetch"`
}

// RoundResult is one recorded round of a session.
type RoundResult struct {
	Iteration      uint32          `json:"iteration"`
	ReReview       bool            `json:"re_review"`
	Action         string          `json:"action"`
	Summary        string          `json:"summary"`
	Comments       []CommentResult `json:"comments,omitempty"`
	BlockingIssues []string        `json:"blocking_issues,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

// CommentResult is one review comment.
type CommentResult struct {
	Path     string `json:"path"`
	Line     uint32 `json:"line"`
	Severity string `json:"severity"`
	Body     string `json:"body"`
}

// GetSessionResult is the result of the get_session tool.
type GetSessionResult struct {
	SessionID     string        `json:"session_id"`
	Phase         string        `json:"phase"`
	MaxIterations uint32        `json:"max_iterations"`
	Outcome       string        `json:"outcome,omitempty"`
	Summary       string        `json:"summary,omitempty"`
	Rounds        []RoundResult `json:"rounds"`
}

func (s *Server) handleGetSession(ctx context.Context,
	req *mcp.CallToolRequest,
	args GetSessionArgs) (*mcp.CallToolResult, GetSessionResult, error) {

	if args.SessionID == "" {
		return nil, GetSessionResult{},
			errors.New("session_id is required")
	}

	rec, err := s.store.GetSession(ctx, args.SessionID)
	if err != nil {
		return nil, GetSessionResult{}, err
	}

	rounds, err := s.store.ListRounds(ctx, args.SessionID)
	if err != nil {
		return nil, GetSessionResult{}, err
	}

	result := GetSessionResult{
		SessionID:     rec.ID,
		Phase:         rec.Phase,
		MaxIterations: rec.MaxIterations,
		Outcome:       string(rec.Outcome.UnwrapOr("")),
		Summary:       rec.Summary,
		Rounds:        make([]RoundResult, 0, len(rounds)),
	}

	for _, r := range rounds {
		round := RoundResult{
			Iteration:      r.Iteration,
			ReReview:       r.ReReview,
			Action:         string(r.Action),
			Summary:        r.Summary,
			BlockingIssues: r.Blocking,
			CreatedAt:      r.CreatedAt.Format(time.RFC3339),
		}
		for _, c := range r.Comments {
			round.Comments = append(round.Comments,
				CommentResult{
					Path:     c.Path,
					Line:     c.Line,
					Severity: string(c.Severity),
					Body:     c.Body,
				})
		}
		result.Rounds = append(result.Rounds, round)
	}

	return nil, result, nil
}

// ListSessionsArgs are the arguments for the list_sessions tool.
type ListSessionsArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of sessions to return,default=20"`
}

// SessionSummary is one session in the list.
type SessionSummary struct {
	SessionID string `json:"session_id"`
	Phase     string `json:"phase"`
	Outcome   string `json:"outcome,omitempty"`
	Summary   string `json:"summary,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ListSessionsResult is the result of the list_sessions tool.
type ListSessionsResult struct {
	Sessions []SessionSummary `json:"sessions"`
}

func (s *Server) handleListSessions(ctx context.Context,
	req *mcp.CallToolRequest,
	args ListSessionsArgs) (*mcp.CallToolResult, ListSessionsResult,
	error) {

	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}

	records, err := s.store.ListSessions(ctx, limit)
	if err != nil {
		return nil, ListSessionsResult{}, err
	}

	result := ListSessionsResult{
		Sessions: make([]SessionSummary, 0, len(records)),
	}
	for _, rec := range records {
		result.Sessions = append(result.Sessions, SessionSummary{
			SessionID: rec.ID,
			Phase:     rec.Phase,
			Outcome:   string(rec.Outcome.UnwrapOr("")),
			Summary:   rec.Summary,
			CreatedAt: rec.CreatedAt.Format(time.RFC3339),
		})
	}

	return nil, result, nil
}
