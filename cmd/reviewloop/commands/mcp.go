package commands

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/reviewloop/reviewloop/internal/db"
	"github.com/reviewloop/reviewloop/internal/diff"
	"github.com/reviewloop/reviewloop/internal/mcp"
	"github.com/reviewloop/reviewloop/internal/session"
	"github.com/reviewloop/reviewloop/internal/store"
	"github.com/reviewloop/reviewloop/internal/ui"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the review engine over MCP on stdio",
	Long: `Mcp exposes run_review, get_session, and list_sessions as Model
Context Protocol tools on stdio, so a hosting agent can drive review
sessions. Sessions run unattended: permission requests follow the
caller's grant_permissions argument and clarifications are skipped.`,
	RunE: serveMCP,
}

func serveMCP(cmd *cobra.Command, _ []string) error {
	dbPath, err := databasePath()
	if err != nil {
		return err
	}
	sqlDB, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessions := store.NewSQLStore(sqlDB)
	server := mcp.NewServer(mcp.Config{
		Store:  sessions,
		Runner: &mcpRunner{sessions: sessions},
	})

	return server.Run(cmd.Context(), &sdkmcp.StdioTransport{})
}

// mcpRunner launches driver-backed sessions for the run_review tool.
type mcpRunner struct {
	sessions *store.SQLStore
}

// RunSession implements the mcp.SessionRunner interface.
func (r *mcpRunner) RunSession(ctx context.Context,
	params mcp.RunParams) (*session.Snapshot, error) {

	cfg, err := buildSessionConfig(settings)
	if err != nil {
		return nil, err
	}

	cfg.Diff = &diff.GitProvider{
		RepoPath:   params.RepoPath,
		Branch:     params.Branch,
		BaseBranch: params.BaseBranch,
	}
	cfg.WorkDir = params.RepoPath
	if params.MaxIterations != 0 {
		cfg.MaxIterations = params.MaxIterations
	}

	cfg.Recorder = r.sessions
	cfg.Prompter = &ui.PolicyPrompter{
		GrantPermissions: params.GrantPermissions,
	}

	driver, err := session.NewDriver(cfg)
	if err != nil {
		return nil, err
	}

	if err := r.sessions.CreateSession(
		ctx, driver.SessionID(), cfg.MaxIterations,
	); err != nil {
		return nil, err
	}

	return driver.Run(ctx)
}
