package session

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/reviewloop/reviewloop/internal/contract"
)

// Outcome is the terminal result of a session.
type Outcome string

const (
	// OutcomeApproved means the reviewer approved the change.
	OutcomeApproved Outcome = "approved"

	// OutcomeBlocked means a re-review reported the same blocking
	// issues as the round before it, so further rounds would not
	// converge.
	OutcomeBlocked Outcome = "blocked"

	// OutcomeIterationLimit means the round cap was reached without
	// approval.
	OutcomeIterationLimit Outcome = "iteration_limit_reached"

	// OutcomeTimedOut means an agent invocation hit its deadline.
	OutcomeTimedOut Outcome = "timed_out"

	// OutcomeFailed means the session aborted on an unrecoverable
	// error.
	OutcomeFailed Outcome = "failed"
)

// NegotiationKind distinguishes the two negotiation sub-dialogs.
type NegotiationKind string

const (
	// NegotiationPermission is a permission request exchange.
	NegotiationPermission NegotiationKind = "permission"

	// NegotiationClarification is a clarification question exchange.
	NegotiationClarification NegotiationKind = "clarification"
)

// MaxNegotiations is how many times the same negotiation kind may recur
// within one iteration before the session aborts.
const MaxNegotiations = 3

// NegotiationLoopError reports a reviewee stuck re-requesting the same
// negotiation kind without making progress.
type NegotiationLoopError struct {
	Kind  NegotiationKind
	Count int
}

// Error implements the error interface.
func (e *NegotiationLoopError) Error() string {
	return fmt.Sprintf("reviewee requested %s %d times in one "+
		"iteration without progress", e.Kind, e.Count)
}

// Snapshot is the session view pushed to observers after every
// transition.
type Snapshot struct {
	// SessionID identifies the session.
	SessionID string

	// Phase is the current state name.
	Phase string

	// Iteration is the number of concluded rounds.
	Iteration uint32

	// Comments are all review comments accumulated so far.
	Comments []contract.ReviewComment

	// BlockingIssues are all blocking issues accumulated so far.
	BlockingIssues []string

	// Outcome is set once the session reaches a terminal state.
	Outcome fn.Option[Outcome]

	// Summary is the latest human-readable summary, the outcome
	// summary once terminal.
	Summary string
}

// RoundRecord is one reviewer verdict as handed to the recorder.
type RoundRecord struct {
	SessionID string
	Iteration uint32
	ReReview  bool
	Action    contract.ReviewerAction
	Summary   string
	Comments  []contract.ReviewComment
	Blocking  []string
	CreatedAt time.Time
}

// Prompter surfaces negotiation requests to the operator and blocks until
// a decision is available.
type Prompter interface {
	// AskPermission returns whether the requested action is granted.
	AskPermission(ctx context.Context,
		req contract.PermissionRequest) (bool, error)

	// AskClarification returns the operator's answer, or an empty
	// string when the question is skipped.
	AskClarification(ctx context.Context, question string) (string,
		error)
}

// Notifier receives a session snapshot after every transition.
type Notifier interface {
	Notify(ctx context.Context, snap Snapshot)
}

// Recorder persists session progress. All methods are best-effort from
// the driver's point of view but their errors abort the session, since a
// session whose history cannot be trusted is not worth continuing.
type Recorder interface {
	SavePhase(ctx context.Context, sessionID, phase string) error
	SaveRound(ctx context.Context, rec RoundRecord) error
	SaveOutcome(ctx context.Context, sessionID string, outcome Outcome,
		summary string) error
}
