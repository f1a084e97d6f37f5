// Package contract defines the structured results every agent backend must
// produce, plus the validation applied when decoding a backend's raw reply.
// Decoding is total: a reply either yields a fully valid result or a
// DecodeError carrying the offending text, never a partially populated
// struct.
package contract

import (
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Role identifies which side of the review dialog an agent plays.
type Role string

const (
	// RoleReviewer critiques a diff and decides whether it is mergeable.
	RoleReviewer Role = "reviewer"

	// RoleReviewee applies the fixes the reviewer asked for.
	RoleReviewee Role = "reviewee"
)

// ReviewerAction is the decision declared by a reviewer turn.
type ReviewerAction string

const (
	ActionApprove        ReviewerAction = "approve"
	ActionRequestChanges ReviewerAction = "request_changes"
	ActionComment        ReviewerAction = "comment"
)

// Severity classifies a single review comment.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityBlocking Severity = "blocking"
)

// RevieweeStatus is the outcome declared by a reviewee turn.
type RevieweeStatus string

const (
	StatusCompleted          RevieweeStatus = "completed"
	StatusNeedsClarification RevieweeStatus = "needs_clarification"
	StatusNeedsPermission    RevieweeStatus = "needs_permission"
	StatusFailed             RevieweeStatus = "failed"
)

// ReviewComment is a single finding attached to a line of the diff. Line
// numbers are 1-based against the new side of the diff; interpreting them
// is the display layer's job, not ours.
type ReviewComment struct {
	Path     string
	Line     uint32
	Body     string
	Severity Severity
}

// ReviewerResult is the validated output of one reviewer turn.
type ReviewerResult struct {
	Action         ReviewerAction
	Summary        string
	Comments       []ReviewComment
	BlockingIssues []string
}

// EffectiveAction returns the action the engine honors. A declared approve
// with self-reported blocking issues is downgraded to request_changes:
// blocking issues always dominate the declared action.
func (r ReviewerResult) EffectiveAction() ReviewerAction {
	if r.Action == ActionApprove && len(r.BlockingIssues) > 0 {
		return ActionRequestChanges
	}

	return r.Action
}

// IsApproval reports whether this result terminates the session with an
// approval, i.e. a declared approve with no blocking issues outstanding.
func (r ReviewerResult) IsApproval() bool {
	return r.EffectiveAction() == ActionApprove
}

// PermissionRequest asks the human operator to allow a privileged action.
// It lives only for the duration of one negotiation sub-dialog.
type PermissionRequest struct {
	// Action is the operation the agent wants to perform, e.g.
	// "git push".
	Action string

	// Reason is the agent's justification for the request.
	Reason string
}

// RevieweeResult is the validated output of one reviewee turn. The
// companion fields are Options so a status can only be constructed with
// the data its invariant requires.
type RevieweeResult struct {
	Status        RevieweeStatus
	Summary       string
	FilesModified []string

	// Question is present iff Status is StatusNeedsClarification.
	Question fn.Option[string]

	// Permission is present iff Status is StatusNeedsPermission.
	Permission fn.Option[PermissionRequest]

	// ErrorDetails is present iff Status is StatusFailed.
	ErrorDetails fn.Option[string]
}

// validReviewerActions is the closed set of actions a reviewer may declare.
var validReviewerActions = map[ReviewerAction]bool{
	ActionApprove:        true,
	ActionRequestChanges: true,
	ActionComment:        true,
}

// validSeverities is the closed set of comment severities.
var validSeverities = map[Severity]bool{
	SeverityInfo:     true,
	SeverityWarning:  true,
	SeverityBlocking: true,
}

// validRevieweeStatuses is the closed set of reviewee statuses.
var validRevieweeStatuses = map[RevieweeStatus]bool{
	StatusCompleted:          true,
	StatusNeedsClarification: true,
	StatusNeedsPermission:    true,
	StatusFailed:             true,
}
