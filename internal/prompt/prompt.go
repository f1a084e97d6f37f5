// Package prompt renders the prompts sent to the reviewer and reviewee
// agents. Each prompt kind has a built-in template that can be replaced
// by dropping a <kind>.tmpl file into an override directory.
package prompt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/reviewloop/reviewloop/internal/contract"
)

// Kind identifies one of the prompt templates.
type Kind string

const (
	// KindInitialReview is the first reviewer prompt of a session,
	// carrying the full diff and project guidelines.
	KindInitialReview Kind = "initial_review"

	// KindReReview asks the reviewer to re-examine the diff after the
	// reviewee applied fixes, listing the issues it flagged in the
	// previous round.
	KindReReview Kind = "re_review"

	// KindFixRequest asks the reviewee to address the reviewer's
	// comments and blocking issues.
	KindFixRequest Kind = "fix_request"

	// KindPermissionGranted resumes a reviewee whose permission
	// request was granted.
	KindPermissionGranted Kind = "permission_granted"

	// KindPermissionDenied resumes a reviewee whose permission
	// request was denied.
	KindPermissionDenied Kind = "permission_denied"

	// KindClarificationAnswered resumes a reviewee with the answer to
	// its question.
	KindClarificationAnswered Kind = "clarification_answered"

	// KindClarificationSkipped resumes a reviewee whose question went
	// unanswered.
	KindClarificationSkipped Kind = "clarification_skipped"

	// KindFormatReminder re-prompts an agent whose reply had no
	// decodable result block with the expected schema.
	KindFormatReminder Kind = "format_reminder"
)

// ReviewerData holds the template variables for the reviewer prompts.
type ReviewerData struct {
	// SessionID identifies the review session.
	SessionID string

	// Iteration is the 1-based round number.
	Iteration uint32

	// MaxIterations is the configured round cap.
	MaxIterations uint32

	// DiffCmd is the command the reviewer should run to read the
	// change, when the diff is read from a repository.
	DiffCmd string

	// Diff is the unified diff text, when pre-captured. Mutually
	// exclusive with DiffCmd.
	Diff string

	// ChangedFiles lists the paths touched by the change.
	ChangedFiles []string

	// Guidelines is optional project guideline text appended to the
	// prompt.
	Guidelines string

	// PreviousBlocking lists the blocking issues flagged in the prior
	// round. Only set for re-review prompts.
	PreviousBlocking []string
}

// RevieweeData holds the template variables for the fix request prompt.
type RevieweeData struct {
	// SessionID identifies the review session.
	SessionID string

	// Iteration is the 1-based round number.
	Iteration uint32

	// ReviewSummary is the reviewer's summary for this round.
	ReviewSummary string

	// Comments are the reviewer's line comments to address.
	Comments []contract.ReviewComment

	// BlockingIssues are the issues that must be fixed before the
	// reviewer will approve.
	BlockingIssues []string
}

// ResumeData holds the template variables for the negotiation resume
// prompts.
type ResumeData struct {
	// SessionID identifies the review session.
	SessionID string

	// PermissionAction is the action the reviewee asked permission
	// for, echoed back so the agent knows which request was decided.
	// Required for the permission kinds.
	PermissionAction string

	// Question is the reviewee's question, echoed back on the
	// clarification kinds.
	Question string

	// Answer is the operator's answer. Required for
	// clarification_answered.
	Answer string
}

// ReminderData holds the template variables for the format reminder.
type ReminderData struct {
	// Role is the agent role whose reply failed to decode.
	Role contract.Role

	// Reason describes what was wrong with the previous reply.
	Reason string
}

// builtins maps each prompt kind to its built-in template text.
var builtins = map[Kind]string{
	KindInitialReview:         initialReviewTmplText,
	KindReReview:              reReviewTmplText,
	KindFixRequest:            fixRequestTmplText,
	KindPermissionGranted:     permissionGrantedTmplText,
	KindPermissionDenied:      permissionDeniedTmplText,
	KindClarificationAnswered: clarificationAnsweredTmplText,
	KindClarificationSkipped:  clarificationSkippedTmplText,
	KindFormatReminder:        formatReminderTmplText,
}

// Renderer renders prompt templates, preferring override files over the
// built-in texts when an override directory is configured.
type Renderer struct {
	tmpls map[Kind]*template.Template
}

// NewRenderer returns a Renderer. overrideDir may be empty, in which case
// only the built-in templates are used. Built-in templates are parsed
// eagerly so a bad built-in fails at construction rather than mid-session.
func NewRenderer(overrideDir string) (*Renderer, error) {
	r := &Renderer{tmpls: make(map[Kind]*template.Template)}

	for kind, text := range builtins {
		tmpl, err := parseTemplate(kind, text)
		if err != nil {
			return nil, fmt.Errorf("built-in template %s: %w",
				kind, err)
		}
		r.tmpls[kind] = tmpl
	}

	if overrideDir == "" {
		return r, nil
	}

	for kind := range builtins {
		path := filepath.Join(overrideDir, string(kind)+".tmpl")
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			continue
		case err != nil:
			return nil, fmt.Errorf("read override %s: %w",
				path, err)
		}

		tmpl, err := parseTemplate(kind, string(raw))
		if err != nil {
			return nil, fmt.Errorf("override template %s: %w",
				path, err)
		}
		r.tmpls[kind] = tmpl
	}

	return r, nil
}

func parseTemplate(kind Kind, text string) (*template.Template, error) {
	return template.New(string(kind)).Parse(text)
}

// Render executes the template for kind with the given data.
func (r *Renderer) Render(kind Kind, data any) (string, error) {
	tmpl, ok := r.tmpls[kind]
	if !ok {
		return "", fmt.Errorf("unknown prompt kind: %s", kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", kind, err)
	}
	return buf.String(), nil
}

// Reviewer renders the reviewer prompt. A missing diff source is a caller
// bug and is reported rather than rendered empty.
func (r *Renderer) Reviewer(d ReviewerData, reReview bool) (string, error) {
	if d.Diff == "" && d.DiffCmd == "" {
		return "", fmt.Errorf("reviewer prompt needs a diff or " +
			"diff command")
	}

	kind := KindInitialReview
	if reReview {
		kind = KindReReview
	}
	return r.Render(kind, d)
}

// Reviewee renders the fix request prompt for the reviewee.
func (r *Renderer) Reviewee(d RevieweeData) (string, error) {
	if d.ReviewSummary == "" && len(d.BlockingIssues) == 0 &&
		len(d.Comments) == 0 {

		return "", fmt.Errorf("fix request prompt needs review " +
			"findings")
	}
	return r.Render(KindFixRequest, d)
}

// Permission renders the resume prompt after a permission decision.
func (r *Renderer) Permission(d ResumeData, granted bool) (string, error) {
	if d.PermissionAction == "" {
		return "", fmt.Errorf("permission prompt needs the " +
			"requested action")
	}

	kind := KindPermissionDenied
	if granted {
		kind = KindPermissionGranted
	}
	return r.Render(kind, d)
}

// Clarification renders the resume prompt after a clarification request.
// An empty answer means the operator skipped the question.
func (r *Renderer) Clarification(d ResumeData) (string, error) {
	if d.Answer == "" {
		return r.Render(KindClarificationSkipped, d)
	}
	return r.Render(KindClarificationAnswered, d)
}

// FormatReminder renders the reminder sent after an undecodable reply.
func (r *Renderer) FormatReminder(d ReminderData) (string, error) {
	return r.Render(KindFormatReminder, d)
}
