package session

import (
	"github.com/reviewloop/reviewloop/internal/contract"
)

// Event triggers state transitions in the session FSM.
type Event interface {
	sessionEventMarker()
}

// Event types for the session FSM.
type (
	// StartEvent kicks off a newly created session.
	StartEvent struct{}

	// ReviewerVerdictEvent carries a decoded reviewer result.
	ReviewerVerdictEvent struct {
		Result contract.ReviewerResult
	}

	// RevieweeOutcomeEvent carries a decoded reviewee result.
	RevieweeOutcomeEvent struct {
		Result contract.RevieweeResult
	}

	// PermissionDecisionEvent carries the operator's answer to a
	// permission request.
	PermissionDecisionEvent struct {
		Granted bool
	}

	// ClarificationAnswerEvent carries the operator's answer to a
	// clarification question. An empty answer means the question was
	// skipped.
	ClarificationAnswerEvent struct {
		Answer string
	}

	// InvocationTimedOutEvent is sent when an agent invocation hit
	// its deadline. The subprocess is already dead.
	InvocationTimedOutEvent struct {
		Role contract.Role
	}

	// InvocationFailedEvent is sent when an agent invocation failed
	// unrecoverably, including a second consecutive decode failure.
	InvocationFailedEvent struct {
		Role contract.Role
		Err  error
	}

	// CancelEvent aborts the session.
	CancelEvent struct {
		Reason string
	}
)

// Event marker implementations.
func (StartEvent) sessionEventMarker()               {}
func (ReviewerVerdictEvent) sessionEventMarker()     {}
func (RevieweeOutcomeEvent) sessionEventMarker()     {}
func (PermissionDecisionEvent) sessionEventMarker()  {}
func (ClarificationAnswerEvent) sessionEventMarker() {}
func (InvocationTimedOutEvent) sessionEventMarker()  {}
func (InvocationFailedEvent) sessionEventMarker()    {}
func (CancelEvent) sessionEventMarker()              {}
