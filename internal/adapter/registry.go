package adapter

import "fmt"

// Config bundles the per-backend configurations so callers can build any
// supported adapter by name.
type Config struct {
	Claude ClaudeConfig
	Codex  CodexConfig
}

// DefaultConfig returns defaults for every backend.
func DefaultConfig() Config {
	return Config{
		Claude: DefaultClaudeConfig(),
		Codex:  DefaultCodexConfig(),
	}
}

// New builds the named backend.
func New(name string, cfg Config) (Adapter, error) {
	switch name {
	case "claude":
		return NewClaudeAdapter(cfg.Claude), nil
	case "codex":
		return NewCodexAdapter(cfg.Codex), nil
	default:
		return nil, fmt.Errorf("unknown agent backend: %q "+
			"(supported: %v)", name, Supported())
	}
}

// Supported lists the backend names New accepts.
func Supported() []string {
	return []string{"claude", "codex"}
}
