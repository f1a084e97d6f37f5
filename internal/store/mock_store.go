package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/reviewloop/reviewloop/internal/session"
)

// MockStore provides an in-memory implementation of the Store interface
// for testing purposes. All data is stored in maps and protected by a
// mutex.
type MockStore struct {
	mu sync.RWMutex

	sessions map[string]SessionRecord
	rounds   map[string][]session.RoundRecord
}

// Compile-time check that MockStore implements Store.
var _ Store = (*MockStore)(nil)

// NewMockStore creates a new in-memory mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[string]SessionRecord),
		rounds:   make(map[string][]session.RoundRecord),
	}
}

// CreateSession registers a new session.
func (m *MockStore) CreateSession(_ context.Context, id string,
	maxIterations uint32) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; ok {
		return fmt.Errorf("session %s already exists", id)
	}

	now := time.Now().UTC()
	m.sessions[id] = SessionRecord{
		ID:            id,
		Phase:         "created",
		MaxIterations: maxIterations,
		Outcome:       fn.None[session.Outcome](),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return nil
}

// SavePhase updates the session's lifecycle phase.
func (m *MockStore) SavePhase(_ context.Context, sessionID,
	phase string) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok {
		now := time.Now().UTC()
		rec = SessionRecord{
			ID:        sessionID,
			Outcome:   fn.None[session.Outcome](),
			CreatedAt: now,
		}
	}
	rec.Phase = phase
	rec.UpdatedAt = time.Now().UTC()
	m.sessions[sessionID] = rec
	return nil
}

// SaveRound appends one round record.
func (m *MockStore) SaveRound(_ context.Context,
	rec session.RoundRecord) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rounds[rec.SessionID] = append(m.rounds[rec.SessionID], rec)
	return nil
}

// SaveOutcome records the terminal outcome of a session.
func (m *MockStore) SaveOutcome(_ context.Context, sessionID string,
	outcome session.Outcome, summary string) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	rec.Outcome = fn.Some(outcome)
	rec.Summary = summary
	rec.UpdatedAt = time.Now().UTC()
	m.sessions[sessionID] = rec
	return nil
}

// GetSession retrieves one session by ID.
func (m *MockStore) GetSession(_ context.Context,
	id string) (SessionRecord, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sessions[id]
	if !ok {
		return SessionRecord{}, fmt.Errorf("%w: %s",
			ErrSessionNotFound, id)
	}
	return rec, nil
}

// ListSessions retrieves the most recent sessions, newest first.
func (m *MockStore) ListSessions(_ context.Context,
	limit int) ([]SessionRecord, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]SessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		sessions = append(sessions, rec)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// ListRounds retrieves every recorded round of a session in order.
func (m *MockStore) ListRounds(_ context.Context,
	sessionID string) ([]session.RoundRecord, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	rounds := m.rounds[sessionID]
	out := make([]session.RoundRecord, len(rounds))
	copy(out, rounds)
	return out, nil
}
