// Package config loads the settings file that carries defaults for the
// CLI flags: which backends drive each role, iteration and timeout
// bounds, and per-backend binary locations.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultTimeoutSecs bounds one agent invocation when the settings file
// does not say otherwise.
const DefaultTimeoutSecs = 600

// BackendSettings configures one agent backend binary.
type BackendSettings struct {
	// BinPath overrides the binary looked up on PATH.
	BinPath string `json:"bin_path,omitempty"`

	// Model selects the backend model, when the backend supports it.
	Model string `json:"model,omitempty"`
}

// Settings is the persisted configuration, stored as JSON at
// ~/.reviewloop/settings.json. The zero value is usable; every field has
// a working default.
type Settings struct {
	// Reviewer and Reviewee name the backend for each role, one of the
	// adapter registry's supported names.
	Reviewer string `json:"reviewer,omitempty"`
	Reviewee string `json:"reviewee,omitempty"`

	// MaxIterations caps the review rounds per session.
	MaxIterations uint32 `json:"max_iterations,omitempty"`

	// TimeoutSecs bounds a single agent invocation.
	TimeoutSecs int `json:"timeout_secs,omitempty"`

	// PromptDir holds template overrides for the built-in prompts.
	PromptDir string `json:"prompt_dir,omitempty"`

	// DBPath overrides the session database location.
	DBPath string `json:"db_path,omitempty"`

	// Guidelines is a path to a project guidelines file handed to the
	// reviewer.
	Guidelines string `json:"guidelines,omitempty"`

	// Claude and Codex tune the individual backends.
	Claude BackendSettings `json:"claude,omitempty"`
	Codex  BackendSettings `json:"codex,omitempty"`
}

// DefaultDir returns the configuration directory.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".reviewloop"), nil
}

// DefaultPath returns the default settings file path.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.json"), nil
}

// Load reads the settings file at path. A missing file returns default
// settings without error; a malformed one is reported.
func Load(path string) (*Settings, error) {
	settings := &Settings{
		Reviewer:      "claude",
		Reviewee:      "claude",
		TimeoutSecs:   DefaultTimeoutSecs,
		MaxIterations: 5,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w",
			path, err)
	}

	if settings.TimeoutSecs <= 0 {
		settings.TimeoutSecs = DefaultTimeoutSecs
	}
	if settings.MaxIterations == 0 {
		settings.MaxIterations = 5
	}

	return settings, nil
}

// Save writes the settings file, creating the directory when needed.
func Save(path string, settings *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w",
			err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// Timeout returns the invocation timeout as a duration.
func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}
