// Package store persists review sessions and their rounds. The SQL
// implementation sits on the SQLite database opened by the db package;
// the mock keeps everything in memory for tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/reviewloop/reviewloop/internal/session"
)

// ErrSessionNotFound is returned when a session ID has no record.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is the stored view of one review session.
type SessionRecord struct {
	// ID is the session identifier.
	ID string

	// Phase is the last persisted lifecycle phase.
	Phase string

	// MaxIterations is the round cap the session ran with.
	MaxIterations uint32

	// Outcome is the terminal outcome, absent while the session is
	// still live.
	Outcome fn.Option[session.Outcome]

	// Summary is the final summary text.
	Summary string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store handles session persistence. It extends the recorder the session
// driver writes through with the read side the CLI and MCP surfaces use.
type Store interface {
	session.Recorder

	// CreateSession registers a new session before it starts.
	CreateSession(ctx context.Context, id string,
		maxIterations uint32) error

	// GetSession retrieves one session by ID.
	GetSession(ctx context.Context, id string) (SessionRecord, error)

	// ListSessions retrieves the most recent sessions, newest first.
	ListSessions(ctx context.Context, limit int) ([]SessionRecord,
		error)

	// ListRounds retrieves every recorded round of a session in order.
	ListRounds(ctx context.Context,
		sessionID string) ([]session.RoundRecord, error)
}
