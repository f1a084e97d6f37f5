package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/reviewloop/reviewloop/internal/adapter"
	"github.com/reviewloop/reviewloop/internal/contract"
	"github.com/reviewloop/reviewloop/internal/diff"
	"github.com/reviewloop/reviewloop/internal/harness"
	"github.com/reviewloop/reviewloop/internal/prompt"
)

// DefaultMaxIterations is the round cap when the config leaves it unset.
const DefaultMaxIterations = 5

// Config wires a session driver.
type Config struct {
	// SessionID identifies the session. Empty generates a fresh ID.
	SessionID string

	// Reviewer and Reviewee are the agent backends for the two roles.
	// They may be the same backend.
	Reviewer adapter.Adapter
	Reviewee adapter.Adapter

	// Harness bounds every agent invocation.
	Harness *harness.Harness

	// Renderer builds the prompts.
	Renderer *prompt.Renderer

	// Diff supplies the change under review. It is re-queried before
	// every re-review so the reviewer sees the applied fixes.
	Diff diff.Provider

	// Prompter answers negotiation requests. Required.
	Prompter Prompter

	// Notifier receives a snapshot after every transition. Optional.
	Notifier Notifier

	// Recorder persists session progress. Optional.
	Recorder Recorder

	// MaxIterations caps the number of review rounds. Zero uses
	// DefaultMaxIterations.
	MaxIterations uint32

	// WorkDir is the repository the agents operate in.
	WorkDir string

	// Guidelines is optional project guideline text for the reviewer.
	Guidelines string
}

// validate checks the required collaborators are present.
func (c *Config) validate() error {
	switch {
	case c.Reviewer == nil:
		return errors.New("session config needs a reviewer backend")
	case c.Reviewee == nil:
		return errors.New("session config needs a reviewee backend")
	case c.Harness == nil:
		return errors.New("session config needs a harness")
	case c.Renderer == nil:
		return errors.New("session config needs a prompt renderer")
	case c.Diff == nil:
		return errors.New("session config needs a diff provider")
	case c.Prompter == nil:
		return errors.New("session config needs a prompter")
	}
	return nil
}

// Driver runs one review session to completion. A Driver is single-use
// and single-goroutine: all session state is owned by the goroutine that
// calls Run.
type Driver struct {
	cfg Config

	fsm *FSM

	// snap is the diff captured at session start and refreshed before
	// each re-review.
	snap *diff.Snapshot

	// Backend conversation IDs, for resuming the same agent across
	// turns.
	reviewerConv string
	revieweeConv string

	// Terminal result, set while executing PersistOutcome.
	outcome Outcome
	summary string
}

// NewDriver creates a Driver for one session.
func NewDriver(cfg Config) (*Driver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}

	return &Driver{
		cfg: cfg,
		fsm: NewFSM(cfg.SessionID, cfg.MaxIterations),
	}, nil
}

// SessionID returns the session identifier.
func (d *Driver) SessionID() string {
	return d.cfg.SessionID
}

// Run drives the session until a terminal state and returns the final
// snapshot. The error return is reserved for bugs and persistence
// failures; agent failures, timeouts, and negotiation loops all resolve
// to a terminal outcome instead.
func (d *Driver) Run(ctx context.Context) (*Snapshot, error) {
	snap, err := d.cfg.Diff.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture diff: %w", err)
	}
	d.snap = snap

	log.InfoS(ctx, "Session starting",
		"session_id", d.cfg.SessionID,
		"reviewer", d.cfg.Reviewer.Name(),
		"reviewee", d.cfg.Reviewee.Name(),
		"max_iterations", d.cfg.MaxIterations,
		"changed_files", len(snap.Files))

	var event Event = StartEvent{}
	for {
		next, err := d.step(ctx, event)
		if err != nil {
			return nil, err
		}

		if d.fsm.IsTerminal() {
			final := d.snapshot()
			log.InfoS(ctx, "Session finished",
				"session_id", d.cfg.SessionID,
				"outcome", d.outcome,
				"iterations", d.fsm.Environment().Iteration)
			return &final, nil
		}

		if next == nil {
			return nil, fmt.Errorf("state %s emitted no "+
				"follow-up event", d.fsm.CurrentState())
		}
		event = next
	}
}

// step feeds one event through the FSM and executes the resulting outbox.
// It returns the follow-up event produced by the outbox, if any.
func (d *Driver) step(ctx context.Context, event Event) (Event, error) {
	oldPhase := d.fsm.CurrentState()

	outboxEvents, err := d.fsm.ProcessEvent(ctx, event)
	if err != nil {
		return nil, err
	}

	log.DebugS(ctx, "Session transition",
		"session_id", d.cfg.SessionID,
		"event", fmt.Sprintf("%T", event),
		"from", oldPhase,
		"to", d.fsm.CurrentState())

	var next Event
	for _, outbox := range outboxEvents {
		ev, err := d.execute(ctx, outbox)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			next = ev
		}
	}

	if d.cfg.Notifier != nil {
		d.cfg.Notifier.Notify(ctx, d.snapshot())
	}

	return next, nil
}

// execute performs one outbox directive. Invocation directives return the
// follow-up event for the FSM.
func (d *Driver) execute(ctx context.Context,
	outbox OutboxEvent) (Event, error) {

	switch ob := outbox.(type) {
	case PersistPhase:
		if d.cfg.Recorder == nil {
			return nil, nil
		}
		return nil, d.cfg.Recorder.SavePhase(
			ctx, d.cfg.SessionID, ob.Phase,
		)

	case RecordRound:
		if d.cfg.Recorder == nil {
			return nil, nil
		}
		return nil, d.cfg.Recorder.SaveRound(ctx, RoundRecord{
			SessionID: d.cfg.SessionID,
			Iteration: ob.Iteration,
			ReReview:  ob.ReReview,
			Action:    ob.Result.EffectiveAction(),
			Summary:   ob.Result.Summary,
			Comments:  ob.Result.Comments,
			Blocking:  ob.Result.BlockingIssues,
			CreatedAt: time.Now().UTC(),
		})

	case PersistOutcome:
		d.outcome = ob.Outcome
		d.summary = ob.Summary
		if d.cfg.Recorder == nil {
			return nil, nil
		}
		return nil, d.cfg.Recorder.SaveOutcome(
			ctx, d.cfg.SessionID, ob.Outcome, ob.Summary,
		)

	case InvokeReviewer:
		return d.invokeReviewer(ctx, ob.ReReview)

	case InvokeReviewee:
		return d.invokeReviewee(ctx)

	case ResumeReviewee:
		return d.resumeReviewee(ctx, ob)

	case AskPermission:
		granted, err := d.cfg.Prompter.AskPermission(
			ctx, ob.Request,
		)
		if err != nil {
			return CancelEvent{Reason: err.Error()}, nil
		}
		return PermissionDecisionEvent{Granted: granted}, nil

	case AskClarification:
		answer, err := d.cfg.Prompter.AskClarification(
			ctx, ob.Question,
		)
		if err != nil {
			return CancelEvent{Reason: err.Error()}, nil
		}
		return ClarificationAnswerEvent{Answer: answer}, nil

	default:
		return nil, fmt.Errorf("unknown outbox event %T", outbox)
	}
}

// invokeReviewer runs a reviewer turn. Before a re-review the diff is
// refreshed so the reviewer sees the reviewee's fixes.
func (d *Driver) invokeReviewer(ctx context.Context,
	reReview bool) (Event, error) {

	if reReview {
		snap, err := d.cfg.Diff.Snapshot(ctx)
		if err != nil {
			return InvocationFailedEvent{
				Role: contract.RoleReviewer,
				Err:  fmt.Errorf("refresh diff: %w", err),
			}, nil
		}
		d.snap = snap
	}

	data := prompt.ReviewerData{
		SessionID:        d.cfg.SessionID,
		Iteration:        d.fsm.Environment().Iteration + 1,
		MaxIterations:    d.cfg.MaxIterations,
		DiffCmd:          d.snap.Command,
		Diff:             d.snap.Patch,
		ChangedFiles:     d.snap.Files,
		Guidelines:       d.cfg.Guidelines,
		PreviousBlocking: d.fsm.Environment().LastReview.BlockingIssues,
	}
	// Prefer letting the agent run the diff command itself when both
	// forms are available.
	if data.DiffCmd != "" {
		data.Diff = ""
	}

	rendered, err := d.cfg.Renderer.Reviewer(data, reReview)
	if err != nil {
		return InvocationFailedEvent{
			Role: contract.RoleReviewer,
			Err:  fmt.Errorf("render prompt: %w", err),
		}, nil
	}

	return d.invoke(ctx, contract.RoleReviewer, rendered)
}

// invokeReviewee runs a fix turn against the latest reviewer findings.
func (d *Driver) invokeReviewee(ctx context.Context) (Event, error) {
	rendered, err := d.cfg.Renderer.Reviewee(prompt.RevieweeData{
		SessionID:      d.cfg.SessionID,
		Iteration:      d.fsm.Environment().Iteration + 1,
		ReviewSummary:  d.fsm.Environment().LastReview.Summary,
		Comments:       d.fsm.Environment().LastReview.Comments,
		BlockingIssues: d.fsm.Environment().LastReview.BlockingIssues,
	})
	if err != nil {
		// A reviewer verdict with no findings at all leaves nothing
		// to hand to the reviewee. Fail the session rather than
		// leaving it stuck mid-turn.
		return InvocationFailedEvent{
			Role: contract.RoleReviewee,
			Err:  fmt.Errorf("render prompt: %w", err),
		}, nil
	}

	return d.invoke(ctx, contract.RoleReviewee, rendered)
}

// resumeReviewee runs a reviewee turn that continues a paused
// negotiation.
func (d *Driver) resumeReviewee(ctx context.Context,
	ob ResumeReviewee) (Event, error) {

	data := prompt.ResumeData{
		SessionID:        d.cfg.SessionID,
		PermissionAction: ob.PermissionAction,
		Question:         ob.Question,
		Answer:           ob.Answer,
	}

	var (
		rendered string
		err      error
	)
	switch ob.Kind {
	case prompt.KindPermissionGranted, prompt.KindPermissionDenied:
		granted := ob.Kind == prompt.KindPermissionGranted
		rendered, err = d.cfg.Renderer.Permission(data, granted)
	default:
		rendered, err = d.cfg.Renderer.Clarification(data)
	}
	if err != nil {
		return InvocationFailedEvent{
			Role: contract.RoleReviewee,
			Err:  fmt.Errorf("render prompt: %w", err),
		}, nil
	}

	return d.invoke(ctx, contract.RoleReviewee, rendered)
}

// invoke runs one agent turn under the harness and decodes the reply. A
// first decode failure re-prompts once with a format reminder; a second
// consecutive one fails the session.
func (d *Driver) invoke(ctx context.Context, role contract.Role,
	rendered string) (Event, error) {

	backend, resume := d.backendFor(role)

	inv := adapter.Invocation{
		Role:         role,
		SystemPrompt: systemPrompt(role),
		Prompt:       rendered,
		WorkDir:      d.cfg.WorkDir,
		Resume:       resume,
	}

	reply, err := d.cfg.Harness.Invoke(ctx, backend, inv)
	if err != nil {
		return d.invocationError(role, err), nil
	}
	d.rememberConversation(role, reply.ConversationID)

	event, decodeErr := d.decode(role, backend, reply.Text)
	if decodeErr == nil {
		return event, nil
	}

	log.WarnS(ctx, "Undecodable agent reply, re-prompting", nil,
		"session_id", d.cfg.SessionID,
		"role", role,
		"reason", decodeErr.Reason)

	reminder, err := d.cfg.Renderer.FormatReminder(prompt.ReminderData{
		Role:   role,
		Reason: decodeErr.Reason,
	})
	if err != nil {
		return InvocationFailedEvent{
			Role: role,
			Err:  fmt.Errorf("render prompt: %w", err),
		}, nil
	}

	// Retry in the same conversation when one exists, so the agent
	// sees its own malformed reply. Without one, re-send the original
	// prompt with the reminder appended.
	retry := inv
	retry.Resume = d.resumeFor(role)
	if retry.Resume != "" {
		retry.Prompt = reminder
	} else {
		retry.Prompt = rendered + "\n\n" + reminder
	}

	reply, err = d.cfg.Harness.Invoke(ctx, backend, retry)
	if err != nil {
		return d.invocationError(role, err), nil
	}
	d.rememberConversation(role, reply.ConversationID)

	event, decodeErr = d.decode(role, backend, reply.Text)
	if decodeErr != nil {
		return InvocationFailedEvent{Role: role, Err: decodeErr}, nil
	}
	return event, nil
}

// decode parses a reply into the FSM event for the given role.
func (d *Driver) decode(role contract.Role, backend adapter.Adapter,
	text string) (Event, *contract.DecodeError) {

	switch role {
	case contract.RoleReviewer:
		result, err := backend.DecodeReviewer(text)
		if err != nil {
			return nil, asDecodeError(role, err)
		}
		return ReviewerVerdictEvent{Result: result}, nil

	default:
		result, err := backend.DecodeReviewee(text)
		if err != nil {
			return nil, asDecodeError(role, err)
		}
		return RevieweeOutcomeEvent{Result: result}, nil
	}
}

// asDecodeError normalizes a decoder error into a *contract.DecodeError.
func asDecodeError(role contract.Role, err error) *contract.DecodeError {
	var decodeErr *contract.DecodeError
	if errors.As(err, &decodeErr) {
		return decodeErr
	}
	return &contract.DecodeError{Role: role, Reason: err.Error()}
}

// invocationError maps a harness error to the matching FSM event.
func (d *Driver) invocationError(role contract.Role, err error) Event {
	if errors.Is(err, harness.ErrTimeout) {
		return InvocationTimedOutEvent{Role: role}
	}
	return InvocationFailedEvent{Role: role, Err: err}
}

func (d *Driver) backendFor(role contract.Role) (adapter.Adapter, string) {
	if role == contract.RoleReviewer {
		return d.cfg.Reviewer, d.reviewerConv
	}
	return d.cfg.Reviewee, d.revieweeConv
}

func (d *Driver) resumeFor(role contract.Role) string {
	if role == contract.RoleReviewer {
		return d.reviewerConv
	}
	return d.revieweeConv
}

func (d *Driver) rememberConversation(role contract.Role, conv string) {
	if conv == "" {
		return
	}
	if role == contract.RoleReviewer {
		d.reviewerConv = conv
	} else {
		d.revieweeConv = conv
	}
}

// snapshot builds the observer view of the session.
func (d *Driver) snapshot() Snapshot {
	env := d.fsm.Environment()
	comments := append([]contract.ReviewComment(nil), env.Comments...)
	blocking := append([]string(nil), env.BlockingIssues...)

	snap := Snapshot{
		SessionID:      d.cfg.SessionID,
		Phase:          d.fsm.CurrentState(),
		Iteration:      env.Iteration,
		Comments:       comments,
		BlockingIssues: blocking,
		Outcome:        fn.None[Outcome](),
		Summary:        env.LastReview.Summary,
	}

	if d.fsm.IsTerminal() {
		snap.Outcome = fn.Some(d.outcome)
		snap.Summary = d.summary
	}

	return snap
}

// systemPrompt returns the standing role instructions for a fresh
// conversation.
func systemPrompt(role contract.Role) string {
	if role == contract.RoleReviewer {
		return reviewerSystemPrompt
	}
	return revieweeSystemPrompt
}

// reviewerSystemPrompt is the standing instruction set for the reviewer
// role, sent once per conversation.
const reviewerSystemPrompt = `You are a code reviewer in an automated
review loop. You will receive a diff to review, and later re-review
requests after the author applies fixes. Review only what the prompts ask
for, flag only issues you are certain about, and always end your reply
with the YAML result block the prompt specifies.`

// revieweeSystemPrompt is the standing instruction set for the reviewee
// role.
const revieweeSystemPrompt = `You are the author's agent in an automated
review loop. You will receive review findings to fix in the working tree.
Apply minimal, correct fixes. If a finding is ambiguous, ask one question
via needs_clarification; if a fix needs an operation outside your sandbox,
ask via needs_permission. Always end your reply with the YAML result
block the prompt specifies.`
