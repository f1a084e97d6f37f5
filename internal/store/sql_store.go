package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/reviewloop/reviewloop/internal/contract"
	"github.com/reviewloop/reviewloop/internal/session"
)

// SQLStore is the Store implementation backed by the SQLite database.
type SQLStore struct {
	db *sql.DB
}

// Compile-time check that SQLStore implements Store.
var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a SQLStore wrapping the given database connection.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// DB returns the underlying database connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// withTx executes fn within a transaction, rolling back on error.
func (s *SQLStore) withTx(ctx context.Context,
	fn func(tx *sql.Tx) error) error {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %w, rollback error: %v",
				err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CreateSession registers a new session before it starts.
func (s *SQLStore) CreateSession(ctx context.Context, id string,
	maxIterations uint32) error {

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, phase, max_iterations)
		VALUES (?, 'created', ?)`,
		id, maxIterations,
	)
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", id, err)
	}
	return nil
}

// SavePhase updates the session's lifecycle phase, creating the row when
// the session was never registered.
//
// NOTE: This implements the session.Recorder interface.
func (s *SQLStore) SavePhase(ctx context.Context, sessionID,
	phase string) error {

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, phase)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			updated_at = CURRENT_TIMESTAMP`,
		sessionID, phase,
	)
	if err != nil {
		return fmt.Errorf("failed to save phase for session %s: %w",
			sessionID, err)
	}
	return nil
}

// SaveRound records one reviewer verdict together with its comments and
// blocking issues, atomically.
//
// NOTE: This implements the session.Recorder interface.
func (s *SQLStore) SaveRound(ctx context.Context,
	rec session.RoundRecord) error {

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO rounds
				(session_id, iteration, re_review, action,
				 summary, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.SessionID, rec.Iteration, rec.ReReview,
			string(rec.Action), rec.Summary,
			rec.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert round: %w", err)
		}

		roundID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get round id: %w", err)
		}

		for _, c := range rec.Comments {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO round_comments
					(round_id, path, line, severity, body)
				VALUES (?, ?, ?, ?, ?)`,
				roundID, c.Path, c.Line, string(c.Severity),
				c.Body,
			)
			if err != nil {
				return fmt.Errorf("failed to insert "+
					"comment: %w", err)
			}
		}

		for _, issue := range rec.Blocking {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO blocking_issues (round_id, issue)
				VALUES (?, ?)`,
				roundID, issue,
			)
			if err != nil {
				return fmt.Errorf("failed to insert blocking "+
					"issue: %w", err)
			}
		}

		return nil
	})
}

// SaveOutcome records the terminal outcome of a session.
//
// NOTE: This implements the session.Recorder interface.
func (s *SQLStore) SaveOutcome(ctx context.Context, sessionID string,
	outcome session.Outcome, summary string) error {

	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			outcome = ?,
			summary = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		string(outcome), summary, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to save outcome for session "+
			"%s: %w", sessionID, err)
	}
	return nil
}

// GetSession retrieves one session by ID.
func (s *SQLStore) GetSession(ctx context.Context,
	id string) (SessionRecord, error) {

	row := s.db.QueryRowContext(ctx, `
		SELECT id, phase, max_iterations, outcome, summary,
		       created_at, updated_at
		FROM sessions WHERE id = ?`,
		id,
	)

	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("%w: %s",
			ErrSessionNotFound, id)
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("failed to get session "+
			"%s: %w", id, err)
	}
	return rec, nil
}

// ListSessions retrieves the most recent sessions, newest first.
func (s *SQLStore) ListSessions(ctx context.Context,
	limit int) ([]SessionRecord, error) {

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phase, max_iterations, outcome, summary,
		       created_at, updated_at
		FROM sessions
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w",
				err)
		}
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

// ListRounds retrieves every recorded round of a session in order,
// including the comments and blocking issues attached to each.
func (s *SQLStore) ListRounds(ctx context.Context,
	sessionID string) ([]session.RoundRecord, error) {

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, iteration, re_review, action, summary, created_at
		FROM rounds
		WHERE session_id = ?
		ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer rows.Close()

	var (
		rounds   []session.RoundRecord
		roundIDs []int64
	)
	for rows.Next() {
		var (
			roundID   int64
			rec       session.RoundRecord
			action    string
			createdAt time.Time
		)
		err := rows.Scan(&roundID, &rec.Iteration, &rec.ReReview,
			&action, &rec.Summary, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w",
				err)
		}

		rec.SessionID = sessionID
		rec.Action = contract.ReviewerAction(action)
		rec.CreatedAt = createdAt

		rounds = append(rounds, rec)
		roundIDs = append(roundIDs, roundID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, roundID := range roundIDs {
		comments, issues, err := s.roundDetails(ctx, roundID)
		if err != nil {
			return nil, err
		}
		rounds[i].Comments = comments
		rounds[i].Blocking = issues
	}

	return rounds, nil
}

// roundDetails loads the comments and blocking issues of one round.
func (s *SQLStore) roundDetails(ctx context.Context,
	roundID int64) ([]contract.ReviewComment, []string, error) {

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, line, severity, body
		FROM round_comments WHERE round_id = ? ORDER BY id`,
		roundID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load comments: %w",
			err)
	}
	defer rows.Close()

	var comments []contract.ReviewComment
	for rows.Next() {
		var (
			c        contract.ReviewComment
			severity string
		)
		if err := rows.Scan(&c.Path, &c.Line, &severity,
			&c.Body); err != nil {

			return nil, nil, fmt.Errorf("failed to scan "+
				"comment: %w", err)
		}
		c.Severity = contract.Severity(severity)
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	issueRows, err := s.db.QueryContext(ctx, `
		SELECT issue FROM blocking_issues
		WHERE round_id = ? ORDER BY id`,
		roundID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load blocking "+
			"issues: %w", err)
	}
	defer issueRows.Close()

	var issues []string
	for issueRows.Next() {
		var issue string
		if err := issueRows.Scan(&issue); err != nil {
			return nil, nil, fmt.Errorf("failed to scan "+
				"blocking issue: %w", err)
		}
		issues = append(issues, issue)
	}

	return comments, issues, issueRows.Err()
}

// rowScanner is the shared subset of sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession reads one sessions row.
func scanSession(row rowScanner) (SessionRecord, error) {
	var (
		rec     SessionRecord
		outcome sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Phase, &rec.MaxIterations, &outcome,
		&rec.Summary, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return SessionRecord{}, err
	}

	rec.Outcome = fn.None[session.Outcome]()
	if outcome.Valid && outcome.String != "" {
		rec.Outcome = fn.Some(session.Outcome(outcome.String))
	}
	return rec, nil
}
