package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/reviewloop/reviewloop/internal/contract"
	"github.com/reviewloop/reviewloop/internal/prompt"
)

// newTestFSM creates an FSM for testing with standard test values.
func newTestFSM() *FSM {
	return NewFSM("test-session-123", 5)
}

// assertHasOutboxEvent checks that at least one outbox event matches the
// given type and returns it.
func assertHasOutboxEvent[T OutboxEvent](
	t *testing.T, events []OutboxEvent,
) T {
	t.Helper()
	for _, evt := range events {
		if match, ok := evt.(T); ok {
			return match
		}
	}
	t.Fatalf("expected outbox event of type %T not found", *new(T))
	return *new(T)
}

// assertNoOutboxEvent checks that no outbox event matches the given type.
func assertNoOutboxEvent[T OutboxEvent](
	t *testing.T, events []OutboxEvent,
) {
	t.Helper()
	for _, evt := range events {
		if _, ok := evt.(T); ok {
			t.Fatalf("unexpected outbox event of type %T", evt)
		}
	}
}

func requestChanges(issues ...string) contract.ReviewerResult {
	return contract.ReviewerResult{
		Action:         contract.ActionRequestChanges,
		Summary:        "found problems",
		BlockingIssues: issues,
	}
}

func approval() contract.ReviewerResult {
	return contract.ReviewerResult{
		Action:  contract.ActionApprove,
		Summary: "looks good",
	}
}

func completed() contract.RevieweeResult {
	return contract.RevieweeResult{
		Status:  contract.StatusCompleted,
		Summary: "fixed",
	}
}

// TestFSM_ImmediateApproval covers the shortest session: the first
// reviewer verdict approves and no reviewee turn ever happens.
func TestFSM_ImmediateApproval(t *testing.T) {
	ctx := context.Background()
	fsm := newTestFSM()

	if fsm.CurrentState() != "created" {
		t.Fatalf("expected 'created', got %q", fsm.CurrentState())
	}

	outbox, err := fsm.ProcessEvent(ctx, StartEvent{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if fsm.CurrentState() != "reviewer_turn" {
		t.Fatalf("expected 'reviewer_turn', got %q",
			fsm.CurrentState())
	}
	assertHasOutboxEvent[InvokeReviewer](t, outbox)

	outbox, err = fsm.ProcessEvent(ctx, ReviewerVerdictEvent{
		Result: approval(),
	})
	if err != nil {
		t.Fatalf("verdict failed: %v", err)
	}
	if fsm.CurrentState() != "approved" {
		t.Fatalf("expected 'approved', got %q", fsm.CurrentState())
	}
	if !fsm.IsTerminal() {
		t.Fatal("approved state should be terminal")
	}

	persist := assertHasOutboxEvent[PersistOutcome](t, outbox)
	if persist.Outcome != OutcomeApproved {
		t.Fatalf("expected approved outcome, got %q", persist.Outcome)
	}
	assertNoOutboxEvent[InvokeReviewee](t, outbox)

	// No iteration concluded, no reviewee involved.
	if fsm.Environment().Iteration != 0 {
		t.Fatalf("expected iteration 0, got %d",
			fsm.Environment().Iteration)
	}
}

// TestFSM_FixRound covers one full round: request changes → fix →
// re-review approval. The iteration counter must increment exactly once,
// at the re-review verdict.
func TestFSM_FixRound(t *testing.T) {
	ctx := context.Background()
	fsm := newTestFSM()

	_, _ = fsm.ProcessEvent(ctx, StartEvent{})

	outbox, err := fsm.ProcessEvent(ctx, ReviewerVerdictEvent{
		Result: requestChanges("SQL injection in query()"),
	})
	if err != nil {
		t.Fatalf("verdict failed: %v", err)
	}
	if fsm.CurrentState() != "reviewee_turn" {
		t.Fatalf("expected 'reviewee_turn', got %q",
			fsm.CurrentState())
	}
	assertHasOutboxEvent[InvokeReviewee](t, outbox)

	record := assertHasOutboxEvent[RecordRound](t, outbox)
	if record.Iteration != 1 || record.ReReview {
		t.Fatalf("unexpected round record: %+v", record)
	}

	// Findings accumulate before the fix turn.
	env := fsm.Environment()
	if len(env.BlockingIssues) != 1 {
		t.Fatalf("expected 1 blocking issue, got %d",
			len(env.BlockingIssues))
	}
	if env.Iteration != 0 {
		t.Fatal("iteration must not increment before re-review")
	}

	outbox, err = fsm.ProcessEvent(ctx, RevieweeOutcomeEvent{
		Result: completed(),
	})
	if err != nil {
		t.Fatalf("reviewee outcome failed: %v", err)
	}
	if fsm.CurrentState() != "re_review_turn" {
		t.Fatalf("expected 're_review_turn', got %q",
			fsm.CurrentState())
	}
	invoke := assertHasOutboxEvent[InvokeReviewer](t, outbox)
	if !invoke.ReReview {
		t.Fatal("expected a re-review invocation")
	}

	outbox, err = fsm.ProcessEvent(ctx, ReviewerVerdictEvent{
		Result: approval(),
	})
	if err != nil {
		t.Fatalf("re-review verdict failed: %v", err)
	}
	if fsm.CurrentState() != "approved" {
		t.Fatalf("expected 'approved', got %q", fsm.CurrentState())
	}
	if fsm.Environment().Iteration != 1 {
		t.Fatalf("expected iteration 1, got %d",
			fsm.Environment().Iteration)
	}
	assertHasOutboxEvent[PersistOutcome](t, outbox)
}

// TestFSM_ApproveWithBlockersIsRequestChanges covers the tie-break: a
// verdict declaring approve while reporting blocking issues is treated as
// a change request.
func TestFSM_ApproveWithBlockersIsRequestChanges(t *testing.T) {
	ctx := context.Background()
	fsm := newTestFSM()

	_, _ = fsm.ProcessEvent(ctx, StartEvent{})

	contradictory := contract.ReviewerResult{
		Action:         contract.ActionApprove,
		Summary:        "fine except the race",
		BlockingIssues: []string{"unfixed race in pool"},
	}
	outbox, err := fsm.ProcessEvent(ctx, ReviewerVerdictEvent{
		Result: contradictory,
	})
	if err != nil {
		t.Fatalf("verdict failed: %v", err)
	}

	if fsm.CurrentState() != "reviewee_turn" {
		t.Fatalf("expected 'reviewee_turn', got %q",
			fsm.CurrentState())
	}

	record := assertHasOutboxEvent[RecordRound](t, outbox)
	if record.Result.EffectiveAction() != contract.ActionRequestChanges {
		t.Fatalf("expected request_changes, got %q",
			record.Result.EffectiveAction())
	}
}

// TestFSM_IterationLimit drives rounds past the cap and expects the
// session to end IterationLimitReached.
func TestFSM_IterationLimit(t *testing.T) {
	ctx := context.Background()
	fsm := NewFSM("test-session-123", 2)

	_, _ = fsm.ProcessEvent(ctx, StartEvent{})
	_, _ = fsm.ProcessEvent(ctx, ReviewerVerdictEvent{
		Result: requestChanges("broken build (round 1)"),
	})

	for round := 1; ; round++ {
		_, err := fsm.ProcessEvent(ctx, RevieweeOutcomeEvent{
			Result: completed(),
		})
		if err != nil {
			t.Fatalf("reviewee outcome failed: %v", err)
		}

		// Distinct issues per round so only the cap ends the
		// session.
		issue := fmt.Sprintf("still broken (round %d)", round+1)
		_, err = fsm.ProcessEvent(ctx, ReviewerVerdictEvent{
			Result: requestChanges(issue),
		})
		if err != nil {
			t.Fatalf("re-review verdict failed: %v", err)
		}

		if fsm.IsTerminal() {
			break
		}
		if round > 5 {
			t.Fatal("session did not terminate")
		}
	}

	if fsm.CurrentState() != "iteration_limit_reached" {
		t.Fatalf("expected 'iteration_limit_reached', got %q",
			fsm.CurrentState())
	}
	if fsm.Environment().Iteration != 2 {
		t.Fatalf("expected exactly 2 iterations, got %d",
			fsm.Environment().Iteration)
	}
}

// TestFSM_BlockedOnNoProgress expects a re-review that reports the exact
// same blocking issues as the previous round to end the session Blocked.
func TestFSM_BlockedOnNoProgress(t *testing.T) {
	ctx := context.Background()
	fsm := newTestFSM()

	_, _ = fsm.ProcessEvent(ctx, StartEvent{})
	_, _ = fsm.ProcessEvent(ctx, ReviewerVerdictEvent{
		Result: requestChanges("SQL injection", "missing auth"),
	})
	_, _ = fsm.ProcessEvent(ctx, RevieweeOutcomeEvent{
		Result: completed(),
	})

	// Same issues, different order: still no progress.
	outbox, err := fsm.ProcessEvent(ctx, ReviewerVerdictEvent{
		Result: requestChanges("missing auth", "SQL injection"),
	})
	if err != nil {
		t.Fatalf("re-review verdict failed: %v", err)
	}

	if fsm.CurrentState() != "blocked" {
		t.Fatalf("expected 'blocked', got %q", fsm.CurrentState())
	}
	persist := assertHasOutboxEvent[PersistOutcome](t, outbox)
	if persist.Outcome != OutcomeBlocked {
		t.Fatalf("expected blocked outcome, got %q", persist.Outcome)
	}
}

// TestFSM_PermissionNegotiation walks the permission sub-dialog: pause,
// denial, resume within the same iteration.
func TestFSM_PermissionNegotiation(t *testing.T) {
	ctx := context.Background()
	fsm := newTestFSM()

	_, _ = fsm.ProcessEvent(ctx, StartEvent{})
	_, _ = fsm.ProcessEvent(ctx, ReviewerVerdictEvent{
		Result: requestChanges("needs dependency bump"),
	})

	needsPermission := contract.RevieweeResult{
		Status: contract.StatusNeedsPermission,
		Permission: fn.Some(contract.PermissionRequest{
			Action: "go get example.com/dep@v2",
			Reason: "fix requires the new API",
		}),
	}

	outbox, err := fsm.ProcessEvent(ctx, RevieweeOutcomeEvent{
		Result: needsPermission,
	})
	if err != nil {
		t.Fatalf("reviewee outcome failed: %v", err)
	}
	if fsm.CurrentState() != "negotiation_pending" {
		t.Fatalf("expected 'negotiation_pending', got %q",
			fsm.CurrentState())
	}

	ask := assertHasOutboxEvent[AskPermission](t, outbox)
	if ask.Request.Action != "go get example.com/dep@v2" {
		t.Fatalf("unexpected request: %+v", ask.Request)
	}

	outbox, err = fsm.ProcessEvent(ctx, PermissionDecisionEvent{
		Granted: false,
	})
	if err != nil {
		t.Fatalf("decision failed: %v", err)
	}
	if fsm.CurrentState() != "reviewee_turn" {
		t.Fatalf("expected 'reviewee_turn', got %q",
			fsm.CurrentState())
	}

	resume := assertHasOutboxEvent[ResumeReviewee](t, outbox)
	if resume.Kind != prompt.KindPermissionDenied {
		t.Fatalf("expected permission_denied prompt, got %q",
			resume.Kind)
	}
	if fsm.Environment().Iteration != 0 {
		t.Fatal("negotiation must not consume an iteration")
	}
}

// TestFSM_NegotiationLoopAborts expects the third permission request in
// one iteration to fail the session with a negotiation loop error.
func TestFSM_NegotiationLoopAborts(t *testing.T) {
	ctx := context.Background()
	fsm := newTestFSM()

	_, _ = fsm.ProcessEvent(ctx, StartEvent{})
	_, _ = fsm.ProcessEvent(ctx, ReviewerVerdictEvent{
		Result: requestChanges("needs dependency bump"),
	})

	needsPermission := contract.RevieweeResult{
		Status: contract.StatusNeedsPermission,
		Permission: fn.Some(contract.PermissionRequest{
			Action: "git push",
			Reason: "publish the fix",
		}),
	}

	for ask := 1; ask <= MaxNegotiations; ask++ {
		outbox, err := fsm.ProcessEvent(ctx, RevieweeOutcomeEvent{
			Result: needsPermission,
		})
		if err != nil {
			t.Fatalf("ask %d failed: %v", ask, err)
		}

		if ask < MaxNegotiations {
			if fsm.CurrentState() != "negotiation_pending" {
				t.Fatalf("ask %d: expected pending, got %q",
					ask, fsm.CurrentState())
			}
			_, err = fsm.ProcessEvent(ctx,
				PermissionDecisionEvent{Granted: true})
			if err != nil {
				t.Fatalf("decision %d failed: %v", ask, err)
			}
			continue
		}

		// Third ask in a row: abort instead of asking again.
		if fsm.CurrentState() != "failed" {
			t.Fatalf("expected 'failed', got %q",
				fsm.CurrentState())
		}
		assertNoOutboxEvent[AskPermission](t, outbox)
		persist := assertHasOutboxEvent[PersistOutcome](t, outbox)
		if persist.Outcome != OutcomeFailed {
			t.Fatalf("expected failed outcome, got %q",
				persist.Outcome)
		}
	}
}

// TestFSM_ClarificationSkip covers the clarification dialog resolved by
// skipping the question.
func TestFSM_ClarificationSkip(t *testing.T) {
	ctx := context.Background()
	fsm := newTestFSM()

	_, _ = fsm.ProcessEvent(ctx, StartEvent{})
	_, _ = fsm.ProcessEvent(ctx, ReviewerVerdictEvent{
		Result: requestChanges("confusing index change"),
	})

	_, err := fsm.ProcessEvent(ctx, RevieweeOutcomeEvent{
		Result: contract.RevieweeResult{
			Status:   contract.StatusNeedsClarification,
			Question: fn.Some("drop the old index?"),
		},
	})
	if err != nil {
		t.Fatalf("reviewee outcome failed: %v", err)
	}

	outbox, err := fsm.ProcessEvent(ctx, ClarificationAnswerEvent{})
	if err != nil {
		t.Fatalf("answer failed: %v", err)
	}

	resume := assertHasOutboxEvent[ResumeReviewee](t, outbox)
	if resume.Kind != prompt.KindClarificationSkipped {
		t.Fatalf("expected clarification_skipped prompt, got %q",
			resume.Kind)
	}
	if resume.Question != "drop the old index?" {
		t.Fatalf("question not echoed: %q", resume.Question)
	}
}

// TestFSM_RevieweeFailure expects a failed reviewee to end the session
// Failed with the error details.
func TestFSM_RevieweeFailure(t *testing.T) {
	ctx := context.Background()
	fsm := newTestFSM()

	_, _ = fsm.ProcessEvent(ctx, StartEvent{})
	_, _ = fsm.ProcessEvent(ctx, ReviewerVerdictEvent{
		Result: requestChanges("broken build"),
	})

	outbox, err := fsm.ProcessEvent(ctx, RevieweeOutcomeEvent{
		Result: contract.RevieweeResult{
			Status:       contract.StatusFailed,
			ErrorDetails: fn.Some("tests do not compile"),
		},
	})
	if err != nil {
		t.Fatalf("reviewee outcome failed: %v", err)
	}

	if fsm.CurrentState() != "failed" {
		t.Fatalf("expected 'failed', got %q", fsm.CurrentState())
	}
	persist := assertHasOutboxEvent[PersistOutcome](t, outbox)
	if persist.Summary == "" {
		t.Fatal("failure summary should carry the error details")
	}
}

// TestFSM_TimeoutFromAnyPhase expects a timeout event to be terminal no
// matter which non-terminal phase it lands in.
func TestFSM_TimeoutFromAnyPhase(t *testing.T) {
	setups := map[string]func(*FSM){
		"created": func(*FSM) {},
		"reviewer_turn": func(f *FSM) {
			_, _ = f.ProcessEvent(context.Background(),
				StartEvent{})
		},
		"reviewee_turn": func(f *FSM) {
			ctx := context.Background()
			_, _ = f.ProcessEvent(ctx, StartEvent{})
			_, _ = f.ProcessEvent(ctx, ReviewerVerdictEvent{
				Result: requestChanges("issue"),
			})
		},
		"re_review_turn": func(f *FSM) {
			ctx := context.Background()
			_, _ = f.ProcessEvent(ctx, StartEvent{})
			_, _ = f.ProcessEvent(ctx, ReviewerVerdictEvent{
				Result: requestChanges("issue"),
			})
			_, _ = f.ProcessEvent(ctx, RevieweeOutcomeEvent{
				Result: completed(),
			})
		},
	}

	for phase, setup := range setups {
		t.Run(phase, func(t *testing.T) {
			fsm := newTestFSM()
			setup(fsm)
			if fsm.CurrentState() != phase {
				t.Fatalf("setup landed in %q, want %q",
					fsm.CurrentState(), phase)
			}

			outbox, err := fsm.ProcessEvent(
				context.Background(),
				InvocationTimedOutEvent{
					Role: contract.RoleReviewer,
				},
			)
			if err != nil {
				t.Fatalf("timeout event failed: %v", err)
			}

			if fsm.CurrentState() != "timed_out" {
				t.Fatalf("expected 'timed_out', got %q",
					fsm.CurrentState())
			}
			persist := assertHasOutboxEvent[PersistOutcome](
				t, outbox,
			)
			if persist.Outcome != OutcomeTimedOut {
				t.Fatalf("expected timed_out outcome, got %q",
					persist.Outcome)
			}
		})
	}
}

// TestFSM_TerminalStatesRejectEvents verifies no transition leaves a
// terminal state.
func TestFSM_TerminalStatesRejectEvents(t *testing.T) {
	terminals := []State{
		&StateApproved{},
		&StateBlocked{},
		&StateIterationLimit{},
		&StateTimedOut{},
		&StateFailed{},
	}

	for _, state := range terminals {
		if !state.IsTerminal() {
			t.Fatalf("%s should be terminal", state)
		}

		_, err := state.ProcessEvent(
			context.Background(), StartEvent{}, &Environment{},
		)
		if err == nil {
			t.Fatalf("%s accepted an event", state)
		}
	}
}

// TestFSM_UnexpectedEventRejected covers an event arriving in a phase
// that has no use for it.
func TestFSM_UnexpectedEventRejected(t *testing.T) {
	fsm := newTestFSM()

	// A reviewee outcome before any reviewer turn is a driver bug.
	_, err := fsm.ProcessEvent(context.Background(),
		RevieweeOutcomeEvent{Result: completed()})
	if err == nil {
		t.Fatal("expected an error for an out-of-phase event")
	}
}

func TestStateFromString(t *testing.T) {
	phases := []string{
		"created", "reviewer_turn", "reviewee_turn",
		"negotiation_pending", "re_review_turn", "approved",
		"blocked", "iteration_limit_reached", "timed_out", "failed",
	}
	for _, phase := range phases {
		state, err := StateFromString(phase)
		if err != nil {
			t.Fatalf("StateFromString(%q): %v", phase, err)
		}
		if got := state.String(); got != phase {
			t.Fatalf("round trip of %q gave %q", phase, got)
		}
	}

	if _, err := StateFromString("bogus"); err == nil {
		t.Fatal("expected an error for an unknown phase")
	}
	if _, err := NewFSMFromPhase("s1", 5, "bogus"); err == nil {
		t.Fatal("expected an error for an unknown phase")
	}
}

func TestSameIssueSet(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want bool
	}{
		{"identical", []string{"x"}, []string{"x"}, true},
		{
			"reordered",
			[]string{"x", "y"}, []string{"y", "x"},
			true,
		},
		{"different", []string{"x"}, []string{"y"}, false},
		{"subset", []string{"x", "y"}, []string{"x"}, false},
		{"both empty", nil, nil, false},
		{
			"duplicates matter",
			[]string{"x", "x"}, []string{"x", "y"},
			false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sameIssueSet(tc.a, tc.b); got != tc.want {
				t.Fatalf("sameIssueSet(%v, %v) = %v, want %v",
					tc.a, tc.b, got, tc.want)
			}
		})
	}
}
