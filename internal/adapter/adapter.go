// Package adapter runs reviewer and reviewee turns on external agent
// CLIs. Each backend knows how to spawn its CLI, feed it a prompt, and
// pull the reply text back out of whatever envelope the CLI wraps it in.
// Decoding the reply into a structured result is shared across backends.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/reviewloop/reviewloop/internal/contract"
)

// Invocation describes one agent turn.
type Invocation struct {
	// Role is the agent role being invoked.
	Role contract.Role

	// SystemPrompt is the role instruction text. Ignored when resuming
	// a conversation, since the backend already has it.
	SystemPrompt string

	// Prompt is the user prompt for this turn.
	Prompt string

	// WorkDir is the repository the agent operates in.
	WorkDir string

	// Resume is the backend conversation ID to continue, or empty to
	// start a fresh conversation.
	Resume string
}

// Reply is the raw outcome of one agent turn.
type Reply struct {
	// Text is the agent's reply text, envelope stripped.
	Text string

	// ConversationID identifies the backend conversation, for resuming
	// the same agent on a later turn.
	ConversationID string

	// Duration is the wall-clock time the turn took.
	Duration time.Duration
}

// Adapter abstracts one agent CLI backend.
type Adapter interface {
	// Name returns the backend name as used in configuration.
	Name() string

	// Run executes one agent turn. The subprocess is killed when ctx
	// is cancelled or its deadline passes.
	Run(ctx context.Context, inv Invocation) (*Reply, error)

	// DecodeReviewer parses a reviewer reply into a structured result.
	DecodeReviewer(text string) (contract.ReviewerResult, error)

	// DecodeReviewee parses a reviewee reply into a structured result.
	DecodeReviewee(text string) (contract.RevieweeResult, error)
}

// ProcessError reports a subprocess that exited abnormally.
type ProcessError struct {
	// Backend is the adapter name.
	Backend string

	// ExitCode is the subprocess exit code, or -1 when it was killed.
	ExitCode int

	// Stderr is a trimmed capture of the subprocess stderr.
	Stderr string

	// Transient marks failures worth one retry, such as a killed
	// process or a known rate-limit exit.
	Transient bool
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d",
			e.Backend, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s",
		e.Backend, e.ExitCode, e.Stderr)
}

// yamlDecoder implements the shared YAML result decoding. Both backends
// embed it so the contract parsing stays in one place.
type yamlDecoder struct{}

func (yamlDecoder) DecodeReviewer(text string) (contract.ReviewerResult,
	error) {

	return contract.DecodeReviewer(text)
}

func (yamlDecoder) DecodeReviewee(text string) (contract.RevieweeResult,
	error) {

	return contract.DecodeReviewee(text)
}
