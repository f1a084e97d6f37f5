package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/reviewloop/reviewloop/internal/adapter"
	"github.com/reviewloop/reviewloop/internal/config"
	"github.com/reviewloop/reviewloop/internal/db"
	"github.com/reviewloop/reviewloop/internal/diff"
	"github.com/reviewloop/reviewloop/internal/harness"
	"github.com/reviewloop/reviewloop/internal/prompt"
	"github.com/reviewloop/reviewloop/internal/session"
	"github.com/reviewloop/reviewloop/internal/store"
	"github.com/reviewloop/reviewloop/internal/ui"
	"github.com/spf13/cobra"
)

var (
	runRepoPath      string
	runBranch        string
	runBaseBranch    string
	runReviewer      string
	runReviewee      string
	runMaxIterations uint32
	runGuidelines    string
	runUnattended    bool
	runGrantPerms    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a review session on a repository diff",
	Long: `Run drives a full review session: the reviewer backend critiques
the branch diff, the reviewee backend applies the requested fixes in the
working tree, and the loop repeats until approval or a bound is hit.

Permission and clarification requests from the reviewee are relayed to
the terminal unless --unattended is set, in which case permissions are
denied (or granted with --grant-permissions) and questions are skipped.`,
	RunE: runSession,
}

func init() {
	runCmd.Flags().StringVar(
		&runRepoPath, "repo", ".", "Path to the git repository",
	)
	runCmd.Flags().StringVar(
		&runBranch, "branch", "",
		"Branch under review (default: HEAD)",
	)
	runCmd.Flags().StringVar(
		&runBaseBranch, "base", "",
		"Base branch for the diff range (default: HEAD~1)",
	)
	runCmd.Flags().StringVar(
		&runReviewer, "reviewer", "",
		"Reviewer backend: claude or codex",
	)
	runCmd.Flags().StringVar(
		&runReviewee, "reviewee", "",
		"Reviewee backend: claude or codex",
	)
	runCmd.Flags().Uint32Var(
		&runMaxIterations, "max-iterations", 0,
		"Cap on review rounds (default from settings)",
	)
	runCmd.Flags().StringVar(
		&runGuidelines, "guidelines", "",
		"Path to a project guidelines file for the reviewer",
	)
	runCmd.Flags().BoolVar(
		&runUnattended, "unattended", false,
		"Answer negotiations from policy instead of the terminal",
	)
	runCmd.Flags().BoolVar(
		&runGrantPerms, "grant-permissions", false,
		"With --unattended, grant permission requests",
	)
}

func runSession(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(
		cmd.Context(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	cfg, err := buildSessionConfig(settings)
	if err != nil {
		return err
	}

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
	cfg.Recorder = sessions
	cfg.Notifier = ui.NewProgressNotifier(os.Stderr)

	if runUnattended {
		cfg.Prompter = &ui.PolicyPrompter{
			GrantPermissions: runGrantPerms,
		}
	} else {
		cfg.Prompter = ui.NewTerminalPrompter(os.Stdin, os.Stderr)
	}

	driver, err := session.NewDriver(cfg)
	if err != nil {
		return err
	}

	if err := sessions.CreateSession(
		ctx, driver.SessionID(), cfg.MaxIterations,
	); err != nil {
		return err
	}

	snap, err := driver.Run(ctx)
	if err != nil {
		return err
	}

	outcome := snap.Outcome.UnwrapOr("")
	fmt.Printf("\nSession %s finished: %s\n", snap.SessionID, outcome)
	if snap.Summary != "" {
		fmt.Printf("  %s\n", snap.Summary)
	}
	fmt.Printf("Details: reviewloop sessions show %s\n", snap.SessionID)

	// A non-approval outcome is a non-zero exit for scripting.
	if outcome != session.OutcomeApproved {
		return fmt.Errorf("review not approved: %s", outcome)
	}
	return nil
}

// buildSessionConfig assembles a driver config from the settings and run
// flags, without the store-backed collaborators.
func buildSessionConfig(
	settings *config.Settings) (session.Config, error) {

	reviewerName := settings.Reviewer
	if runReviewer != "" {
		reviewerName = runReviewer
	}
	revieweeName := settings.Reviewee
	if runReviewee != "" {
		revieweeName = runReviewee
	}

	backendCfg := adapter.DefaultConfig()
	if settings.Claude.BinPath != "" {
		backendCfg.Claude.BinPath = settings.Claude.BinPath
	}
	backendCfg.Claude.Model = settings.Claude.Model
	if settings.Codex.BinPath != "" {
		backendCfg.Codex.BinPath = settings.Codex.BinPath
	}
	backendCfg.Codex.Model = settings.Codex.Model

	reviewer, err := adapter.New(reviewerName, backendCfg)
	if err != nil {
		return session.Config{}, err
	}
	reviewee, err := adapter.New(revieweeName, backendCfg)
	if err != nil {
		return session.Config{}, err
	}

	renderer, err := prompt.NewRenderer(settings.PromptDir)
	if err != nil {
		return session.Config{}, err
	}

	guidelines := ""
	guidelinesPath := runGuidelines
	if guidelinesPath == "" {
		guidelinesPath = settings.Guidelines
	}
	if guidelinesPath != "" {
		data, err := os.ReadFile(guidelinesPath)
		if err != nil {
			return session.Config{},
				fmt.Errorf("read guidelines: %w", err)
		}
		guidelines = string(data)
	}

	maxIterations := settings.MaxIterations
	if runMaxIterations != 0 {
		maxIterations = runMaxIterations
	}

	return session.Config{
		Reviewer: reviewer,
		Reviewee: reviewee,
		Harness: harness.New(harness.Config{
			Timeout: settings.Timeout(),
		}),
		Renderer: renderer,
		Diff: &diff.GitProvider{
			RepoPath:   runRepoPath,
			Branch:     runBranch,
			BaseBranch: runBaseBranch,
		},
		MaxIterations: maxIterations,
		WorkDir:       runRepoPath,
		Guidelines:    guidelines,
	}, nil
}
