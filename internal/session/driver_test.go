package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/reviewloop/reviewloop/internal/adapter"
	"github.com/reviewloop/reviewloop/internal/contract"
	"github.com/reviewloop/reviewloop/internal/diff"
	"github.com/reviewloop/reviewloop/internal/harness"
	"github.com/reviewloop/reviewloop/internal/prompt"
)

// Canned agent replies ending in the result block the decoders expect.

const approveReply = "The change is solid.\n\n```yaml\n" +
	"action: approve\n" +
	"summary: looks good\n" +
	"```\n"

const requestChangesReply = "Found a problem.\n\n```yaml\n" +
	"action: request_changes\n" +
	"summary: one blocker\n" +
	"comments:\n" +
	"  - path: db/query.go\n" +
	"    line: 42\n" +
	"    severity: blocking\n" +
	"    body: SQL injection in query()\n" +
	"blocking_issues:\n" +
	"  - SQL injection in query()\n" +
	"```\n"

const completedReply = "Applied the fix.\n\n```yaml\n" +
	"status: completed\n" +
	"summary: parameterized the query\n" +
	"```\n"

const needsPermissionReply = "Blocked on sandbox limits.\n\n```yaml\n" +
	"status: needs_permission\n" +
	"permission_request:\n" +
	"  action: go get example.com/safe-sql@v1\n" +
	"  reason: the fix needs the library\n" +
	"```\n"

// changesReply builds a request_changes reply whose blocking issue text
// varies per round.
func changesReply(issue string) string {
	return "Still broken.\n\n```yaml\n" +
		"action: request_changes\n" +
		"summary: not fixed yet\n" +
		"blocking_issues:\n" +
		"  - " + issue + "\n" +
		"```\n"
}

// scriptedReply is one queued backend response.
type scriptedReply struct {
	text string
	err  error
}

// scriptedBackend is a fake adapter.Adapter that replays a fixed reply
// sequence and records every invocation it sees.
type scriptedBackend struct {
	name    string
	replies []scriptedReply

	calls   int
	prompts []string
	resumes []string
}

func (b *scriptedBackend) Name() string { return b.name }

func (b *scriptedBackend) Run(_ context.Context,
	inv adapter.Invocation) (*adapter.Reply, error) {

	idx := b.calls
	b.calls++
	b.prompts = append(b.prompts, inv.Prompt)
	b.resumes = append(b.resumes, inv.Resume)

	if idx >= len(b.replies) {
		return nil, errors.New("backend script exhausted")
	}
	scripted := b.replies[idx]
	if scripted.err != nil {
		return nil, scripted.err
	}
	return &adapter.Reply{
		Text:           scripted.text,
		ConversationID: "conv-" + b.name,
	}, nil
}

func (b *scriptedBackend) DecodeReviewer(
	text string) (contract.ReviewerResult, error) {

	return contract.DecodeReviewer(text)
}

func (b *scriptedBackend) DecodeReviewee(
	text string) (contract.RevieweeResult, error) {

	return contract.DecodeReviewee(text)
}

// scriptedPrompter answers negotiation requests from fixed values.
type scriptedPrompter struct {
	grant  bool
	answer string

	permissionAsks    int
	clarificationAsks int
}

func (p *scriptedPrompter) AskPermission(_ context.Context,
	_ contract.PermissionRequest) (bool, error) {

	p.permissionAsks++
	return p.grant, nil
}

func (p *scriptedPrompter) AskClarification(_ context.Context,
	_ string) (string, error) {

	p.clarificationAsks++
	return p.answer, nil
}

// recordingNotifier keeps every snapshot it is handed.
type recordingNotifier struct {
	snaps []Snapshot
}

func (n *recordingNotifier) Notify(_ context.Context, snap Snapshot) {
	n.snaps = append(n.snaps, snap)
}

// recordingStore is an in-memory session.Recorder.
type recordingStore struct {
	phases  []string
	rounds  []RoundRecord
	outcome Outcome
	summary string
}

func (r *recordingStore) SavePhase(_ context.Context, _, phase string) error {
	r.phases = append(r.phases, phase)
	return nil
}

func (r *recordingStore) SaveRound(_ context.Context,
	rec RoundRecord) error {

	r.rounds = append(r.rounds, rec)
	return nil
}

func (r *recordingStore) SaveOutcome(_ context.Context, _ string,
	outcome Outcome, summary string) error {

	r.outcome = outcome
	r.summary = summary
	return nil
}

// testDriver wires a Driver around scripted backends with short harness
// bounds.
func testDriver(t *testing.T, cfg Config) *Driver {
	t.Helper()

	renderer, err := prompt.NewRenderer("")
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}

	if cfg.Harness == nil {
		cfg.Harness = harness.New(harness.Config{
			Timeout:      5 * time.Second,
			RetryBackoff: time.Millisecond,
		})
	}
	cfg.Renderer = renderer
	if cfg.Diff == nil {
		cfg.Diff = &diff.StaticProvider{
			Patch: "--- a/db/query.go\n+++ b/db/query.go\n" +
				"@@ -1 +1 @@\n-old\n+new\n",
		}
	}
	if cfg.Prompter == nil {
		cfg.Prompter = &scriptedPrompter{}
	}
	cfg.SessionID = "drv-test"

	drv, err := NewDriver(cfg)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	return drv
}

// TestDriver_ApprovedFirstPass: the reviewer approves immediately, the
// reviewee backend is never called.
func TestDriver_ApprovedFirstPass(t *testing.T) {
	reviewer := &scriptedBackend{
		name:    "claude",
		replies: []scriptedReply{{text: approveReply}},
	}
	reviewee := &scriptedBackend{name: "codex"}
	store := &recordingStore{}

	drv := testDriver(t, Config{
		Reviewer: reviewer,
		Reviewee: reviewee,
		Recorder: store,
	})

	snap, err := drv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := snap.Outcome.UnwrapOr(""); got != OutcomeApproved {
		t.Fatalf("expected approved, got %q", got)
	}
	if snap.Iteration != 0 {
		t.Fatalf("expected 0 iterations, got %d", snap.Iteration)
	}
	if reviewer.calls != 1 {
		t.Fatalf("expected 1 reviewer call, got %d", reviewer.calls)
	}
	if reviewee.calls != 0 {
		t.Fatalf("reviewee must not be called, got %d calls",
			reviewee.calls)
	}
	if store.outcome != OutcomeApproved {
		t.Fatalf("outcome not persisted: %q", store.outcome)
	}
}

// TestDriver_OneFixRound: request changes, fix, approve on re-review.
func TestDriver_OneFixRound(t *testing.T) {
	reviewer := &scriptedBackend{
		name: "claude",
		replies: []scriptedReply{
			{text: requestChangesReply},
			{text: approveReply},
		},
	}
	reviewee := &scriptedBackend{
		name:    "claude",
		replies: []scriptedReply{{text: completedReply}},
	}
	store := &recordingStore{}
	notifier := &recordingNotifier{}

	drv := testDriver(t, Config{
		Reviewer: reviewer,
		Reviewee: reviewee,
		Recorder: store,
		Notifier: notifier,
	})

	snap, err := drv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := snap.Outcome.UnwrapOr(""); got != OutcomeApproved {
		t.Fatalf("expected approved, got %q", got)
	}
	if snap.Iteration != 1 {
		t.Fatalf("expected 1 iteration, got %d", snap.Iteration)
	}
	if reviewer.calls != 2 {
		t.Fatalf("expected 2 reviewer calls, got %d", reviewer.calls)
	}
	if reviewee.calls != 1 {
		t.Fatalf("expected 1 reviewee call, got %d", reviewee.calls)
	}

	// The fix prompt must carry the finding.
	if !strings.Contains(reviewee.prompts[0], "SQL injection") {
		t.Fatal("fix prompt missing the blocking issue")
	}

	// Both rounds recorded, second one flagged as re-review.
	if len(store.rounds) != 2 {
		t.Fatalf("expected 2 round records, got %d",
			len(store.rounds))
	}
	if store.rounds[0].ReReview || !store.rounds[1].ReReview {
		t.Fatalf("round re-review flags wrong: %+v", store.rounds)
	}

	// Every transition produced a snapshot, ending terminal.
	if len(notifier.snaps) == 0 {
		t.Fatal("notifier saw no snapshots")
	}
	last := notifier.snaps[len(notifier.snaps)-1]
	if last.Outcome.IsNone() {
		t.Fatal("final snapshot should carry the outcome")
	}
}

// TestDriver_IterationLimit: every re-review requests changes with fresh
// issues until the cap ends the session.
func TestDriver_IterationLimit(t *testing.T) {
	reviewer := &scriptedBackend{
		name: "claude",
		replies: []scriptedReply{
			{text: changesReply("broken build (round 1)")},
			{text: changesReply("flaky test (round 2)")},
			{text: changesReply("races in pool (round 3)")},
		},
	}
	reviewee := &scriptedBackend{
		name: "claude",
		replies: []scriptedReply{
			{text: completedReply},
			{text: completedReply},
		},
	}

	drv := testDriver(t, Config{
		Reviewer:      reviewer,
		Reviewee:      reviewee,
		MaxIterations: 2,
	})

	snap, err := drv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := snap.Outcome.UnwrapOr(""); got != OutcomeIterationLimit {
		t.Fatalf("expected iteration_limit_reached, got %q", got)
	}
	if snap.Iteration != 2 {
		t.Fatalf("expected exactly 2 iterations, got %d",
			snap.Iteration)
	}
	if reviewer.calls != 3 {
		t.Fatalf("expected 3 reviewer calls, got %d", reviewer.calls)
	}
	if reviewee.calls != 2 {
		t.Fatalf("expected 2 reviewee calls, got %d", reviewee.calls)
	}
}

// TestDriver_Blocked: a re-review repeating the previous round's blocking
// issues verbatim ends the session Blocked before the cap.
func TestDriver_Blocked(t *testing.T) {
	reviewer := &scriptedBackend{
		name: "claude",
		replies: []scriptedReply{
			{text: requestChangesReply},
			{text: requestChangesReply},
		},
	}
	reviewee := &scriptedBackend{
		name:    "claude",
		replies: []scriptedReply{{text: completedReply}},
	}

	drv := testDriver(t, Config{
		Reviewer:      reviewer,
		Reviewee:      reviewee,
		MaxIterations: 5,
	})

	snap, err := drv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := snap.Outcome.UnwrapOr(""); got != OutcomeBlocked {
		t.Fatalf("expected blocked, got %q", got)
	}
	if snap.Iteration != 1 {
		t.Fatalf("expected 1 iteration, got %d", snap.Iteration)
	}
}

// TestDriver_PermissionDenied: a denied permission resumes the reviewee
// with a denial prompt in the same iteration.
func TestDriver_PermissionDenied(t *testing.T) {
	reviewer := &scriptedBackend{
		name: "claude",
		replies: []scriptedReply{
			{text: requestChangesReply},
			{text: approveReply},
		},
	}
	reviewee := &scriptedBackend{
		name: "claude",
		replies: []scriptedReply{
			{text: needsPermissionReply},
			{text: completedReply},
		},
	}
	prompter := &scriptedPrompter{grant: false}

	drv := testDriver(t, Config{
		Reviewer: reviewer,
		Reviewee: reviewee,
		Prompter: prompter,
	})

	snap, err := drv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := snap.Outcome.UnwrapOr(""); got != OutcomeApproved {
		t.Fatalf("expected approved, got %q", got)
	}
	if snap.Iteration != 1 {
		t.Fatalf("negotiation must not consume an iteration, got %d",
			snap.Iteration)
	}
	if prompter.permissionAsks != 1 {
		t.Fatalf("expected 1 permission ask, got %d",
			prompter.permissionAsks)
	}

	// The resume prompt tells the reviewee the action was denied and
	// resumes the same backend conversation.
	resume := reviewee.prompts[1]
	if !strings.Contains(resume, "DENIED") {
		t.Fatalf("resume prompt does not mention the denial: %q",
			resume)
	}
	if !strings.Contains(resume, "go get example.com/safe-sql@v1") {
		t.Fatal("resume prompt does not name the denied action")
	}
	if reviewee.resumes[1] == "" {
		t.Fatal("resume turn should continue the conversation")
	}
}

// TestDriver_NegotiationLoop: a reviewee that keeps asking for the same
// permission fails the session after the bounded number of asks.
func TestDriver_NegotiationLoop(t *testing.T) {
	reviewer := &scriptedBackend{
		name:    "claude",
		replies: []scriptedReply{{text: requestChangesReply}},
	}
	reviewee := &scriptedBackend{
		name: "claude",
		replies: []scriptedReply{
			{text: needsPermissionReply},
			{text: needsPermissionReply},
			{text: needsPermissionReply},
		},
	}
	prompter := &scriptedPrompter{grant: true}

	drv := testDriver(t, Config{
		Reviewer: reviewer,
		Reviewee: reviewee,
		Prompter: prompter,
	})

	snap, err := drv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := snap.Outcome.UnwrapOr(""); got != OutcomeFailed {
		t.Fatalf("expected failed, got %q", got)
	}
	if !strings.Contains(snap.Summary, "permission") {
		t.Fatalf("summary does not name the loop: %q", snap.Summary)
	}

	// Two asks reached the operator; the third aborted instead.
	if prompter.permissionAsks != MaxNegotiations-1 {
		t.Fatalf("expected %d permission asks, got %d",
			MaxNegotiations-1, prompter.permissionAsks)
	}
}

// TestDriver_Timeout: a deadline hit on the reviewer ends the session
// TimedOut without any retry.
func TestDriver_Timeout(t *testing.T) {
	reviewer := &scriptedBackend{
		name: "claude",
		replies: []scriptedReply{
			{err: context.DeadlineExceeded},
		},
	}
	reviewee := &scriptedBackend{name: "claude"}

	drv := testDriver(t, Config{
		Reviewer: reviewer,
		Reviewee: reviewee,
		Harness: harness.New(harness.Config{
			Timeout:      50 * time.Millisecond,
			RetryBackoff: time.Millisecond,
		}),
	})

	snap, err := drv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := snap.Outcome.UnwrapOr(""); got != OutcomeTimedOut {
		t.Fatalf("expected timed_out, got %q", got)
	}
	if reviewer.calls != 1 {
		t.Fatalf("timeouts must not retry, got %d calls",
			reviewer.calls)
	}
}

// TestDriver_DecodeRetry: a malformed first reply triggers one format
// reminder re-prompt, after which a valid reply continues the session.
func TestDriver_DecodeRetry(t *testing.T) {
	reviewer := &scriptedBackend{
		name: "claude",
		replies: []scriptedReply{
			{text: "Sure, here are my thoughts with no block."},
			{text: approveReply},
		},
	}
	reviewee := &scriptedBackend{name: "claude"}

	drv := testDriver(t, Config{
		Reviewer: reviewer,
		Reviewee: reviewee,
	})

	snap, err := drv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := snap.Outcome.UnwrapOr(""); got != OutcomeApproved {
		t.Fatalf("expected approved, got %q", got)
	}
	if reviewer.calls != 2 {
		t.Fatalf("expected a single re-prompt, got %d calls",
			reviewer.calls)
	}

	// The retry resumes the conversation and carries the reminder, not
	// the full original prompt again.
	if reviewer.resumes[1] == "" {
		t.Fatal("retry should resume the conversation")
	}
	if !strings.Contains(reviewer.prompts[1], "yaml") {
		t.Fatalf("retry prompt is not a format reminder: %q",
			reviewer.prompts[1])
	}
}

// TestDriver_DecodeFailsTwice: two undecodable replies in a row fail the
// session.
func TestDriver_DecodeFailsTwice(t *testing.T) {
	reviewer := &scriptedBackend{
		name: "claude",
		replies: []scriptedReply{
			{text: "still no result block"},
			{text: "and again, nothing parseable"},
		},
	}
	reviewee := &scriptedBackend{name: "claude"}

	drv := testDriver(t, Config{
		Reviewer: reviewer,
		Reviewee: reviewee,
	})

	snap, err := drv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := snap.Outcome.UnwrapOr(""); got != OutcomeFailed {
		t.Fatalf("expected failed, got %q", got)
	}
	if reviewer.calls != 2 {
		t.Fatalf("expected 2 reviewer calls, got %d", reviewer.calls)
	}
}

// TestDriver_NonTransientProcessError: a hard backend failure fails the
// session without retrying.
func TestDriver_NonTransientProcessError(t *testing.T) {
	reviewer := &scriptedBackend{
		name: "claude",
		replies: []scriptedReply{
			{err: &adapter.ProcessError{
				Backend:  "claude",
				ExitCode: 2,
				Stderr:   "bad flag",
			}},
		},
	}
	reviewee := &scriptedBackend{name: "claude"}

	drv := testDriver(t, Config{
		Reviewer: reviewer,
		Reviewee: reviewee,
	})

	snap, err := drv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := snap.Outcome.UnwrapOr(""); got != OutcomeFailed {
		t.Fatalf("expected failed, got %q", got)
	}
	if reviewer.calls != 1 {
		t.Fatalf("hard failures must not retry, got %d calls",
			reviewer.calls)
	}
}

// TestDriver_FindingsFreeVerdictFails: a decodable comment verdict with
// no summary, comments, or blocking issues gives the reviewee nothing to
// act on. The session must still end in a persisted terminal outcome
// rather than erroring out mid-turn.
func TestDriver_FindingsFreeVerdictFails(t *testing.T) {
	const emptyCommentReply = "```yaml\n" +
		"action: comment\n" +
		"```\n"

	reviewer := &scriptedBackend{
		name:    "claude",
		replies: []scriptedReply{{text: emptyCommentReply}},
	}
	reviewee := &scriptedBackend{name: "codex"}
	store := &recordingStore{}

	drv := testDriver(t, Config{
		Reviewer: reviewer,
		Reviewee: reviewee,
		Recorder: store,
	})

	snap, err := drv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := snap.Outcome.UnwrapOr(""); got != OutcomeFailed {
		t.Fatalf("expected failed, got %q", got)
	}
	if store.outcome != OutcomeFailed {
		t.Fatalf("outcome not persisted, store has %q", store.outcome)
	}
	if reviewee.calls != 0 {
		t.Fatalf("reviewee must not run without findings, got %d "+
			"calls", reviewee.calls)
	}
}

// TestDriver_MissingCollaborators exercises config validation.
func TestDriver_MissingCollaborators(t *testing.T) {
	_, err := NewDriver(Config{})
	if err == nil {
		t.Fatal("expected an error for an empty config")
	}
}
