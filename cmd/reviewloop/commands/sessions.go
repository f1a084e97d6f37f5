package commands

import (
	"fmt"
	"os"

	"github.com/reviewloop/reviewloop/internal/db"
	"github.com/reviewloop/reviewloop/internal/report"
	"github.com/reviewloop/reviewloop/internal/store"
	"github.com/spf13/cobra"
)

var (
	sessionsLimit int
	sessionsHTML  string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect past review sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent review sessions",
	RunE:  listSessions,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the full report for one session",
	Args:  cobra.ExactArgs(1),
	RunE:  showSession,
}

func init() {
	sessionsListCmd.Flags().IntVar(
		&sessionsLimit, "limit", 20,
		"Maximum number of sessions to list",
	)
	sessionsShowCmd.Flags().StringVar(
		&sessionsHTML, "html", "",
		"Write the report as HTML to the given file",
	)

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
}

// openStore opens the session store read side.
func openStore() (*store.SQLStore, error) {
	dbPath, err := databasePath()
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	return store.NewSQLStore(sqlDB), nil
}

func listSessions(cmd *cobra.Command, _ []string) error {
	sessions, err := openStore()
	if err != nil {
		return err
	}
	defer sessions.Close()

	records, err := sessions.ListSessions(cmd.Context(), sessionsLimit)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}

	for _, rec := range records {
		status := rec.Phase
		if rec.Outcome.IsSome() {
			status = string(rec.Outcome.UnwrapOr(""))
		}
		fmt.Printf("%s  %-24s  %s\n",
			rec.CreatedAt.Format("2006-01-02 15:04"),
			status, rec.ID)
	}
	return nil
}

func showSession(cmd *cobra.Command, args []string) error {
	sessions, err := openStore()
	if err != nil {
		return err
	}
	defer sessions.Close()

	ctx := cmd.Context()
	rec, err := sessions.GetSession(ctx, args[0])
	if err != nil {
		return err
	}
	rounds, err := sessions.ListRounds(ctx, args[0])
	if err != nil {
		return err
	}

	if sessionsHTML != "" {
		html, err := report.HTML(rec, rounds)
		if err != nil {
			return err
		}
		if err := os.WriteFile(
			sessionsHTML, []byte(html), 0644,
		); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Printf("Report written to %s\n", sessionsHTML)
		return nil
	}

	fmt.Print(report.Markdown(rec, rounds))
	return nil
}
