package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ClaudeConfig configures the claude CLI backend.
type ClaudeConfig struct {
	// BinPath is the path to the claude binary.
	BinPath string

	// Model selects the model, empty for the CLI default.
	Model string

	// MaxTurns caps the agent's internal tool-use turns per
	// invocation. Zero means the CLI default.
	MaxTurns int

	// SkipPermissions passes the CLI flag that disables its own
	// permission prompts. The orchestrator mediates permissions
	// itself, so interactive CLI prompts would deadlock a headless
	// run.
	SkipPermissions bool
}

// DefaultClaudeConfig returns the default claude backend configuration.
func DefaultClaudeConfig() ClaudeConfig {
	return ClaudeConfig{
		BinPath:         "claude",
		SkipPermissions: true,
	}
}

// ClaudeAdapter runs agent turns on the claude CLI in print mode with a
// JSON result envelope.
type ClaudeAdapter struct {
	yamlDecoder

	cfg ClaudeConfig
}

// NewClaudeAdapter creates a claude backend from cfg.
func NewClaudeAdapter(cfg ClaudeConfig) *ClaudeAdapter {
	if cfg.BinPath == "" {
		cfg.BinPath = "claude"
	}
	return &ClaudeAdapter{cfg: cfg}
}

// Name returns the backend name.
func (a *ClaudeAdapter) Name() string {
	return "claude"
}

// claudeEnvelope is the JSON result envelope emitted by the CLI in print
// mode with --output-format json.
type claudeEnvelope struct {
	Type       string `json:"type"`
	Result     string `json:"result"`
	SessionID  string `json:"session_id"`
	IsError    bool   `json:"is_error"`
	DurationMS int64  `json:"duration_ms"`
}

// Run executes one turn on the claude CLI.
func (a *ClaudeAdapter) Run(ctx context.Context,
	inv Invocation) (*Reply, error) {

	argv := []string{
		a.cfg.BinPath,
		"-p",
		"--output-format", "json",
	}

	if a.cfg.Model != "" {
		argv = append(argv, "--model", a.cfg.Model)
	}
	if a.cfg.MaxTurns > 0 {
		argv = append(argv, "--max-turns",
			fmt.Sprintf("%d", a.cfg.MaxTurns))
	}
	if a.cfg.SkipPermissions {
		argv = append(argv, "--dangerously-skip-permissions")
	}

	if inv.Resume != "" {
		argv = append(argv, "--resume", inv.Resume)
	} else if inv.SystemPrompt != "" {
		argv = append(argv, "--append-system-prompt",
			inv.SystemPrompt)
	}

	stdout, err := runCommand(
		ctx, a.Name(), inv.WorkDir, argv, inv.Prompt,
	)
	if err != nil {
		return nil, err
	}

	var env claudeEnvelope
	if err := json.Unmarshal([]byte(stdout), &env); err != nil {
		return nil, fmt.Errorf("claude result envelope: %w", err)
	}

	if env.IsError {
		return nil, &ProcessError{
			Backend:  a.Name(),
			ExitCode: 0,
			Stderr:   trimStderr(env.Result),
		}
	}

	return &Reply{
		Text:           env.Result,
		ConversationID: env.SessionID,
		Duration: time.Duration(env.DurationMS) *
			time.Millisecond,
	}, nil
}
