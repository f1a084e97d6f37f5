package commands

import (
	"fmt"
	"path/filepath"

	"github.com/reviewloop/reviewloop/internal/build"
	"github.com/reviewloop/reviewloop/internal/config"
	"github.com/spf13/cobra"
)

var (
	// settingsPath is the settings file location.
	settingsPath string

	// dbPathFlag overrides the SQLite database location.
	dbPathFlag string

	// logLevel controls logging verbosity.
	logLevel string

	// settings holds the loaded configuration, populated before any
	// subcommand runs.
	settings *config.Settings
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "reviewloop",
	Short: "Automated reviewer/reviewee code review sessions",
	Long: `Reviewloop drives two coding agents through a code review loop:
a reviewer critiques a diff, a reviewee applies the requested fixes, and
the loop repeats until the change is approved or a bound is hit.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := build.SetLogLevel(logLevel); err != nil {
			return err
		}

		path := settingsPath
		if path == "" {
			var err error
			path, err = config.DefaultPath()
			if err != nil {
				return err
			}
		}

		var err error
		settings, err = config.Load(path)
		if err != nil {
			return err
		}
		if dbPathFlag != "" {
			settings.DBPath = dbPathFlag
		}

		// Log beside the database unless it lives somewhere custom.
		dir, err := config.DefaultDir()
		if err != nil {
			return err
		}
		rotator := build.DefaultLogRotatorConfig()
		rotator.LogDir = filepath.Join(dir, "logs")
		if err := build.InitFileLogging(rotator); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		build.ShutdownLogging()
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// databasePath resolves the session database location from the flag,
// settings, and default, in that order.
func databasePath() (string, error) {
	if settings != nil && settings.DBPath != "" {
		return settings.DBPath, nil
	}

	dir, err := config.DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "reviewloop.db"), nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&settingsPath, "config", "",
		"Path to settings file (default: ~/.reviewloop/settings.json)",
	)
	rootCmd.PersistentFlags().StringVar(
		&dbPathFlag, "db", "",
		"Path to SQLite database (default: ~/.reviewloop/reviewloop.db)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info",
		"Log level: trace, debug, info, warn, error, critical",
	)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}
