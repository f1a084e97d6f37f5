package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"time"
)

// CodexConfig configures the codex CLI backend.
type CodexConfig struct {
	// BinPath is the path to the codex binary.
	BinPath string

	// Model selects the model, empty for the CLI default.
	Model string

	// FullAuto passes the sandboxed auto-approval flag so the CLI
	// never blocks on its own interactive prompts.
	FullAuto bool
}

// DefaultCodexConfig returns the default codex backend configuration.
func DefaultCodexConfig() CodexConfig {
	return CodexConfig{
		BinPath:  "codex",
		FullAuto: true,
	}
}

// CodexAdapter runs agent turns on the codex CLI in exec mode with JSONL
// event output.
type CodexAdapter struct {
	yamlDecoder

	cfg CodexConfig
}

// NewCodexAdapter creates a codex backend from cfg.
func NewCodexAdapter(cfg CodexConfig) *CodexAdapter {
	if cfg.BinPath == "" {
		cfg.BinPath = "codex"
	}
	return &CodexAdapter{cfg: cfg}
}

// Name returns the backend name.
func (a *CodexAdapter) Name() string {
	return "codex"
}

// codexEvent is one line of the CLI's JSONL event stream. Only thread
// identity and agent message items are of interest here.
type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Item     struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
}

// Run executes one turn on the codex CLI.
func (a *CodexAdapter) Run(ctx context.Context,
	inv Invocation) (*Reply, error) {

	argv := []string{a.cfg.BinPath, "exec", "--json"}

	if inv.Resume != "" {
		argv = append(argv, "resume", inv.Resume)
	}
	if a.cfg.Model != "" {
		argv = append(argv, "--model", a.cfg.Model)
	}
	if a.cfg.FullAuto {
		argv = append(argv, "--full-auto")
	}

	// codex has no separate system prompt channel in exec mode, so
	// the role instructions lead the first turn's prompt.
	prompt := inv.Prompt
	if inv.Resume == "" && inv.SystemPrompt != "" {
		prompt = inv.SystemPrompt + "\n\n" + inv.Prompt
	}

	// Prompt is read from stdin.
	argv = append(argv, "-")

	start := time.Now()
	stdout, err := runCommand(ctx, a.Name(), inv.WorkDir, argv, prompt)
	if err != nil {
		return nil, err
	}

	text, threadID := parseCodexStream(stdout)

	return &Reply{
		Text:           text,
		ConversationID: threadID,
		Duration:       time.Since(start),
	}, nil
}

// parseCodexStream walks the JSONL event stream and returns the last
// agent message plus the thread ID. Lines that fail to parse are skipped;
// the CLI mixes diagnostics into stdout on some paths.
func parseCodexStream(stream string) (string, string) {
	var text, threadID string

	scanner := bufio.NewScanner(strings.NewReader(stream))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}

		var ev codexEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}

		switch {
		case ev.Type == "thread.started":
			threadID = ev.ThreadID

		case ev.Type == "item.completed" &&
			ev.Item.Type == "agent_message":

			text = ev.Item.Text
		}
	}

	return text, threadID
}
