package session

import (
	"context"
	"fmt"

	"github.com/reviewloop/reviewloop/internal/contract"
	"github.com/reviewloop/reviewloop/internal/prompt"
)

// State is the sealed interface for all session states. Each state
// handles incoming events and returns state transitions with outbox
// events for side effects. States never perform I/O themselves.
type State interface {
	// ProcessEvent handles an incoming event and returns the next
	// state along with any outbox events to emit.
	ProcessEvent(ctx context.Context, event Event,
		env *Environment) (*Transition, error)

	// IsTerminal returns true if this is a terminal state.
	IsTerminal() bool

	// String returns the phase name for the state.
	String() string

	// isSessionState seals the interface.
	isSessionState()
}

// Transition represents the result of processing an event.
type Transition struct {
	NextState    State
	OutboxEvents []OutboxEvent
}

// Environment is the session's mutable data, owned by the single driving
// goroutine and touched only inside state transitions.
type Environment struct {
	// SessionID identifies the session.
	SessionID string

	// MaxIterations is the round cap.
	MaxIterations uint32

	// Iteration counts concluded rounds, starting at zero.
	Iteration uint32

	// Comments accumulates every review comment across rounds.
	Comments []contract.ReviewComment

	// BlockingIssues accumulates every blocking issue across rounds.
	BlockingIssues []string

	// LastReview is the most recent reviewer verdict, feeding the fix
	// prompt and the convergence check.
	LastReview contract.ReviewerResult
}

// Compile-time verification that all concrete states implement State.
var (
	_ State = (*StateCreated)(nil)
	_ State = (*StateReviewerTurn)(nil)
	_ State = (*StateRevieweeTurn)(nil)
	_ State = (*StateNegotiationPending)(nil)
	_ State = (*StateReReviewTurn)(nil)
	_ State = (*StateApproved)(nil)
	_ State = (*StateBlocked)(nil)
	_ State = (*StateIterationLimit)(nil)
	_ State = (*StateTimedOut)(nil)
	_ State = (*StateFailed)(nil)
)

// toTimedOut builds the terminal TimedOut transition.
func toTimedOut(role contract.Role) *Transition {
	summary := fmt.Sprintf("%s invocation exceeded its deadline", role)
	return &Transition{
		NextState: &StateTimedOut{Role: role},
		OutboxEvents: []OutboxEvent{
			PersistPhase{Phase: "timed_out"},
			PersistOutcome{
				Outcome: OutcomeTimedOut,
				Summary: summary,
			},
		},
	}
}

// toFailed builds the terminal Failed transition.
func toFailed(reason string) *Transition {
	return &Transition{
		NextState: &StateFailed{Reason: reason},
		OutboxEvents: []OutboxEvent{
			PersistPhase{Phase: "failed"},
			PersistOutcome{
				Outcome: OutcomeFailed,
				Summary: reason,
			},
		},
	}
}

// handleAbort processes the events every non-terminal state accepts.
// Returns nil when the event is not one of them.
func handleAbort(event Event) *Transition {
	switch e := event.(type) {
	case InvocationTimedOutEvent:
		return toTimedOut(e.Role)

	case InvocationFailedEvent:
		return toFailed(fmt.Sprintf("%s invocation failed: %v",
			e.Role, e.Err))

	case CancelEvent:
		return toFailed("session cancelled: " + e.Reason)

	default:
		return nil
	}
}

// sameIssueSet reports whether two blocking issue lists name the same
// issues, ignoring order.
func sameIssueSet(a, b []string) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}

	seen := make(map[string]int, len(a))
	for _, issue := range a {
		seen[issue]++
	}
	for _, issue := range b {
		seen[issue]--
		if seen[issue] < 0 {
			return false
		}
	}
	return true
}

// evalVerdict applies a reviewer verdict. Both the initial review and the
// re-review evaluate the same way; only the re-review concludes the
// iteration, which is where the cap and convergence checks live.
func evalVerdict(env *Environment, result contract.ReviewerResult,
	reReview bool) *Transition {

	// Round number for recording, before any increment.
	round := env.Iteration + 1

	record := RecordRound{
		Iteration: round,
		ReReview:  reReview,
		Result:    result,
	}

	if result.IsApproval() {
		if reReview {
			env.Iteration++
		}
		return &Transition{
			NextState: &StateApproved{},
			OutboxEvents: []OutboxEvent{
				record,
				PersistPhase{Phase: "approved"},
				PersistOutcome{
					Outcome: OutcomeApproved,
					Summary: result.Summary,
				},
			},
		}
	}

	// Blocking issues dominate a declared approve, so everything past
	// this point is a change request.
	prevBlocking := env.LastReview.BlockingIssues

	env.Comments = append(env.Comments, result.Comments...)
	env.BlockingIssues = append(env.BlockingIssues,
		result.BlockingIssues...)
	env.LastReview = result

	if reReview {
		env.Iteration++

		if sameIssueSet(prevBlocking, result.BlockingIssues) {
			summary := fmt.Sprintf("no progress: round %d "+
				"reported the same %d blocking issues as the "+
				"round before it", round,
				len(result.BlockingIssues))
			return &Transition{
				NextState: &StateBlocked{},
				OutboxEvents: []OutboxEvent{
					record,
					PersistPhase{Phase: "blocked"},
					PersistOutcome{
						Outcome: OutcomeBlocked,
						Summary: summary,
					},
				},
			}
		}

		if env.Iteration >= env.MaxIterations {
			summary := fmt.Sprintf("no approval after %d "+
				"rounds", env.Iteration)
			return &Transition{
				NextState: &StateIterationLimit{},
				OutboxEvents: []OutboxEvent{
					record,
					PersistPhase{
						Phase: "iteration_limit_reached",
					},
					PersistOutcome{
						Outcome: OutcomeIterationLimit,
						Summary: summary,
					},
				},
			}
		}
	}

	return &Transition{
		NextState: &StateRevieweeTurn{},
		OutboxEvents: []OutboxEvent{
			record,
			PersistPhase{Phase: "reviewee_turn"},
			InvokeReviewee{},
		},
	}
}

// StateCreated is the initial state before the session starts.
type StateCreated struct{}

// ProcessEvent handles events in the Created state.
func (s *StateCreated) ProcessEvent(_ context.Context, event Event,
	_ *Environment) (*Transition, error) {

	switch event.(type) {
	case StartEvent:
		return &Transition{
			NextState: &StateReviewerTurn{},
			OutboxEvents: []OutboxEvent{
				PersistPhase{Phase: "reviewer_turn"},
				InvokeReviewer{},
			},
		}, nil

	default:
		if t := handleAbort(event); t != nil {
			return t, nil
		}
		return nil, fmt.Errorf("unexpected event %T in state "+
			"Created", event)
	}
}

func (s *StateCreated) IsTerminal() bool { return false }
func (s *StateCreated) String() string   { return "created" }
func (s *StateCreated) isSessionState()  {}

// StateReviewerTurn means the reviewer is examining the change for the
// first time in the current round.
type StateReviewerTurn struct{}

// ProcessEvent handles events in the ReviewerTurn state.
func (s *StateReviewerTurn) ProcessEvent(_ context.Context, event Event,
	env *Environment) (*Transition, error) {

	switch e := event.(type) {
	case ReviewerVerdictEvent:
		return evalVerdict(env, e.Result, false), nil

	default:
		if t := handleAbort(event); t != nil {
			return t, nil
		}
		return nil, fmt.Errorf("unexpected event %T in state "+
			"ReviewerTurn", event)
	}
}

func (s *StateReviewerTurn) IsTerminal() bool { return false }
func (s *StateReviewerTurn) String() string   { return "reviewer_turn" }
func (s *StateReviewerTurn) isSessionState()  {}

// StateRevieweeTurn means the reviewee is applying fixes. The counters
// track how often each negotiation kind recurred within this iteration.
type StateRevieweeTurn struct {
	PermissionAsks    int
	ClarificationAsks int
}

// ProcessEvent handles events in the RevieweeTurn state.
func (s *StateRevieweeTurn) ProcessEvent(_ context.Context, event Event,
	env *Environment) (*Transition, error) {

	switch e := event.(type) {
	case RevieweeOutcomeEvent:
		return s.processOutcome(e.Result, env)

	default:
		if t := handleAbort(event); t != nil {
			return t, nil
		}
		return nil, fmt.Errorf("unexpected event %T in state "+
			"RevieweeTurn", event)
	}
}

func (s *StateRevieweeTurn) processOutcome(
	result contract.RevieweeResult,
	env *Environment) (*Transition, error) {

	switch result.Status {
	case contract.StatusCompleted:
		return &Transition{
			NextState: &StateReReviewTurn{},
			OutboxEvents: []OutboxEvent{
				PersistPhase{Phase: "re_review_turn"},
				InvokeReviewer{ReReview: true},
			},
		}, nil

	case contract.StatusNeedsPermission:
		asks := s.PermissionAsks + 1
		if asks >= MaxNegotiations {
			loopErr := &NegotiationLoopError{
				Kind:  NegotiationPermission,
				Count: asks,
			}
			return toFailed(loopErr.Error()), nil
		}

		req := result.Permission.UnwrapOr(
			contract.PermissionRequest{},
		)
		return &Transition{
			NextState: &StateNegotiationPending{
				Kind:              NegotiationPermission,
				Request:           req,
				PermissionAsks:    asks,
				ClarificationAsks: s.ClarificationAsks,
			},
			OutboxEvents: []OutboxEvent{
				PersistPhase{Phase: "negotiation_pending"},
				AskPermission{Request: req},
			},
		}, nil

	case contract.StatusNeedsClarification:
		asks := s.ClarificationAsks + 1
		if asks >= MaxNegotiations {
			loopErr := &NegotiationLoopError{
				Kind:  NegotiationClarification,
				Count: asks,
			}
			return toFailed(loopErr.Error()), nil
		}

		question := result.Question.UnwrapOr("")
		return &Transition{
			NextState: &StateNegotiationPending{
				Kind:              NegotiationClarification,
				Question:          question,
				PermissionAsks:    s.PermissionAsks,
				ClarificationAsks: asks,
			},
			OutboxEvents: []OutboxEvent{
				PersistPhase{Phase: "negotiation_pending"},
				AskClarification{Question: question},
			},
		}, nil

	case contract.StatusFailed:
		details := result.ErrorDetails.UnwrapOr("no details")
		return toFailed("reviewee failed: " + details), nil

	default:
		return nil, fmt.Errorf("unhandled reviewee status %q",
			result.Status)
	}
}

func (s *StateRevieweeTurn) IsTerminal() bool { return false }
func (s *StateRevieweeTurn) String() string   { return "reviewee_turn" }
func (s *StateRevieweeTurn) isSessionState()  {}

// StateNegotiationPending means the session is suspended waiting for the
// operator to answer a permission or clarification request.
type StateNegotiationPending struct {
	Kind NegotiationKind

	// Request is set for permission negotiations.
	Request contract.PermissionRequest

	// Question is set for clarification negotiations.
	Question string

	PermissionAsks    int
	ClarificationAsks int
}

// ProcessEvent handles events in the NegotiationPending state.
func (s *StateNegotiationPending) ProcessEvent(_ context.Context,
	event Event, _ *Environment) (*Transition, error) {

	resumed := &StateRevieweeTurn{
		PermissionAsks:    s.PermissionAsks,
		ClarificationAsks: s.ClarificationAsks,
	}

	switch e := event.(type) {
	case PermissionDecisionEvent:
		if s.Kind != NegotiationPermission {
			return nil, fmt.Errorf("permission decision during "+
				"%s negotiation", s.Kind)
		}

		kind := prompt.KindPermissionDenied
		if e.Granted {
			kind = prompt.KindPermissionGranted
		}
		return &Transition{
			NextState: resumed,
			OutboxEvents: []OutboxEvent{
				PersistPhase{Phase: "reviewee_turn"},
				ResumeReviewee{
					Kind:             kind,
					PermissionAction: s.Request.Action,
				},
			},
		}, nil

	case ClarificationAnswerEvent:
		if s.Kind != NegotiationClarification {
			return nil, fmt.Errorf("clarification answer during "+
				"%s negotiation", s.Kind)
		}

		kind := prompt.KindClarificationSkipped
		if e.Answer != "" {
			kind = prompt.KindClarificationAnswered
		}
		return &Transition{
			NextState: resumed,
			OutboxEvents: []OutboxEvent{
				PersistPhase{Phase: "reviewee_turn"},
				ResumeReviewee{
					Kind:     kind,
					Question: s.Question,
					Answer:   e.Answer,
				},
			},
		}, nil

	default:
		if t := handleAbort(event); t != nil {
			return t, nil
		}
		return nil, fmt.Errorf("unexpected event %T in state "+
			"NegotiationPending", event)
	}
}

func (s *StateNegotiationPending) IsTerminal() bool { return false }
func (s *StateNegotiationPending) String() string {
	return "negotiation_pending"
}
func (s *StateNegotiationPending) isSessionState() {}

// StateReReviewTurn means the reviewer is verifying the reviewee's fixes.
// Its verdict concludes the iteration.
type StateReReviewTurn struct{}

// ProcessEvent handles events in the ReReviewTurn state.
func (s *StateReReviewTurn) ProcessEvent(_ context.Context, event Event,
	env *Environment) (*Transition, error) {

	switch e := event.(type) {
	case ReviewerVerdictEvent:
		return evalVerdict(env, e.Result, true), nil

	default:
		if t := handleAbort(event); t != nil {
			return t, nil
		}
		return nil, fmt.Errorf("unexpected event %T in state "+
			"ReReviewTurn", event)
	}
}

func (s *StateReReviewTurn) IsTerminal() bool { return false }
func (s *StateReReviewTurn) String() string   { return "re_review_turn" }
func (s *StateReReviewTurn) isSessionState()  {}

// terminalEventErr is the shared ProcessEvent body for terminal states.
func terminalEventErr(state State, event Event) (*Transition, error) {
	return nil, fmt.Errorf("session is in terminal state %s, cannot "+
		"process %T", state, event)
}

// StateApproved means the reviewer approved the change.
type StateApproved struct{}

// ProcessEvent returns an error since Approved is terminal.
func (s *StateApproved) ProcessEvent(_ context.Context, event Event,
	_ *Environment) (*Transition, error) {

	return terminalEventErr(s, event)
}

func (s *StateApproved) IsTerminal() bool { return true }
func (s *StateApproved) String() string   { return "approved" }
func (s *StateApproved) isSessionState()  {}

// StateBlocked means successive rounds stopped making progress.
type StateBlocked struct{}

// ProcessEvent returns an error since Blocked is terminal.
func (s *StateBlocked) ProcessEvent(_ context.Context, event Event,
	_ *Environment) (*Transition, error) {

	return terminalEventErr(s, event)
}

func (s *StateBlocked) IsTerminal() bool { return true }
func (s *StateBlocked) String() string   { return "blocked" }
func (s *StateBlocked) isSessionState()  {}

// StateIterationLimit means the round cap was reached without approval.
type StateIterationLimit struct{}

// ProcessEvent returns an error since IterationLimit is terminal.
func (s *StateIterationLimit) ProcessEvent(_ context.Context, event Event,
	_ *Environment) (*Transition, error) {

	return terminalEventErr(s, event)
}

func (s *StateIterationLimit) IsTerminal() bool { return true }
func (s *StateIterationLimit) String() string {
	return "iteration_limit_reached"
}
func (s *StateIterationLimit) isSessionState() {}

// StateTimedOut means an agent invocation hit its deadline.
type StateTimedOut struct {
	Role contract.Role
}

// ProcessEvent returns an error since TimedOut is terminal.
func (s *StateTimedOut) ProcessEvent(_ context.Context, event Event,
	_ *Environment) (*Transition, error) {

	return terminalEventErr(s, event)
}

func (s *StateTimedOut) IsTerminal() bool { return true }
func (s *StateTimedOut) String() string   { return "timed_out" }
func (s *StateTimedOut) isSessionState()  {}

// StateFailed means the session aborted on an unrecoverable error.
type StateFailed struct {
	Reason string
}

// ProcessEvent returns an error since Failed is terminal.
func (s *StateFailed) ProcessEvent(_ context.Context, event Event,
	_ *Environment) (*Transition, error) {

	return terminalEventErr(s, event)
}

func (s *StateFailed) IsTerminal() bool { return true }
func (s *StateFailed) String() string   { return "failed" }
func (s *StateFailed) isSessionState()  {}

// StateFromString reconstructs a State from its phase name. Used when
// loading persisted sessions. An unknown phase is an error so a
// corrupted row is never mistaken for a fresh session.
func StateFromString(s string) (State, error) {
	switch s {
	case "created":
		return &StateCreated{}, nil
	case "reviewer_turn":
		return &StateReviewerTurn{}, nil
	case "reviewee_turn":
		return &StateRevieweeTurn{}, nil
	case "negotiation_pending":
		return &StateNegotiationPending{}, nil
	case "re_review_turn":
		return &StateReReviewTurn{}, nil
	case "approved":
		return &StateApproved{}, nil
	case "blocked":
		return &StateBlocked{}, nil
	case "iteration_limit_reached":
		return &StateIterationLimit{}, nil
	case "timed_out":
		return &StateTimedOut{}, nil
	case "failed":
		return &StateFailed{}, nil
	default:
		return nil, fmt.Errorf("unknown session phase %q", s)
	}
}
