package session

import (
	"github.com/reviewloop/reviewloop/internal/contract"
	"github.com/reviewloop/reviewloop/internal/prompt"
)

// OutboxEvent is the sealed interface for side-effect directives emitted
// by the session FSM. The FSM itself does no I/O; the driver executes
// these in order after each transition.
type OutboxEvent interface {
	// isSessionOutboxEvent seals the interface to prevent external
	// implementations.
	isSessionOutboxEvent()
}

// Ensure all outbox event types implement OutboxEvent.
func (PersistPhase) isSessionOutboxEvent()     {}
func (RecordRound) isSessionOutboxEvent()      {}
func (PersistOutcome) isSessionOutboxEvent()   {}
func (InvokeReviewer) isSessionOutboxEvent()   {}
func (InvokeReviewee) isSessionOutboxEvent()   {}
func (ResumeReviewee) isSessionOutboxEvent()   {}
func (AskPermission) isSessionOutboxEvent()    {}
func (AskClarification) isSessionOutboxEvent() {}

// PersistPhase requests persistence of the session's current phase.
type PersistPhase struct {
	Phase string
}

// RecordRound requests persistence of one reviewer verdict, with the
// round number it concluded or continued.
type RecordRound struct {
	Iteration uint32
	ReReview  bool
	Result    contract.ReviewerResult
}

// PersistOutcome requests persistence of the session's terminal outcome.
type PersistOutcome struct {
	Outcome Outcome
	Summary string
}

// InvokeReviewer requests a reviewer turn against the current diff.
type InvokeReviewer struct {
	// ReReview selects the re-review prompt, carrying the previous
	// round's blocking issues, against a refreshed diff.
	ReReview bool
}

// InvokeReviewee requests a reviewee fix turn for the reviewer findings
// accumulated in the environment.
type InvokeReviewee struct{}

// ResumeReviewee requests a reviewee turn that resumes a paused
// negotiation with the operator's decision or answer.
type ResumeReviewee struct {
	Kind prompt.Kind

	// PermissionAction echoes the decided permission request, for the
	// permission kinds.
	PermissionAction string

	// Question and Answer carry the clarification exchange, for the
	// clarification kinds.
	Question string
	Answer   string
}

// AskPermission requests a blocking permission decision from the
// operator-facing collaborator.
type AskPermission struct {
	Request contract.PermissionRequest
}

// AskClarification requests a blocking clarification answer from the
// operator-facing collaborator.
type AskClarification struct {
	Question string
}
