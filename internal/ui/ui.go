// Package ui holds the operator-facing surfaces of a session: the
// terminal prompter that relays negotiation requests, the policy
// prompter for unattended runs, and the progress notifier.
package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/reviewloop/reviewloop/internal/build"
	"github.com/reviewloop/reviewloop/internal/contract"
	"github.com/reviewloop/reviewloop/internal/session"
)

// log is the package-wide logger for the ui package.
var log = build.NewSubLogger("UI")

// TerminalPrompter relays negotiation requests to the terminal and blocks
// on a line of input. Reads honor context cancellation; input arriving
// after a cancel is discarded.
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer

	startOnce sync.Once
	reads     chan struct{}
	lines     chan lineResult

	// pending is true while a requested read has not delivered its
	// line yet, which happens when a wait was cancelled.
	pending bool

	// readErr is the sticky error that ended the reader goroutine.
	readErr error
}

type lineResult struct {
	text string
	err  error
}

// Compile-time check that TerminalPrompter implements session.Prompter.
var _ session.Prompter = (*TerminalPrompter)(nil)

// NewTerminalPrompter creates a prompter reading from in and writing to
// out.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// startReader launches the single goroutine that owns the buffered
// reader. Exactly one goroutine ever touches it, so a cancelled wait
// can never race a later one on the same reader. The goroutine reads
// one line per request and exits on the first read error.
func (p *TerminalPrompter) startReader() {
	p.startOnce.Do(func() {
		p.reads = make(chan struct{}, 1)
		p.lines = make(chan lineResult, 1)

		go func() {
			for range p.reads {
				line, err := p.in.ReadString('\n')
				p.lines <- lineResult{
					text: strings.TrimSpace(line),
					err:  err,
				}
				if err != nil {
					return
				}
			}
		}()
	})
}

// readLine requests one line from the reader goroutine so the wait can
// be cancelled. A line that arrives between a cancelled wait and the
// next call answered the old question and is discarded.
func (p *TerminalPrompter) readLine(ctx context.Context) (string, error) {
	p.startReader()

	if p.readErr != nil {
		return "", p.readErr
	}

	if p.pending {
		select {
		case <-p.lines:
			p.pending = false
		default:
		}
	}
	if !p.pending {
		p.reads <- struct{}{}
		p.pending = true
	}

	select {
	case res := <-p.lines:
		p.pending = false
		if res.err != nil {
			p.readErr = res.err
			if res.text == "" {
				return "", res.err
			}
		}
		return res.text, nil

	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// AskPermission prints the request and reads a y/n decision. Anything
// other than an explicit yes is a denial.
//
// NOTE: This implements the session.Prompter interface.
func (p *TerminalPrompter) AskPermission(ctx context.Context,
	req contract.PermissionRequest) (bool, error) {

	fmt.Fprintf(p.out, "\nThe reviewee requests permission to:\n"+
		"  %s\n", req.Action)
	if req.Reason != "" {
		fmt.Fprintf(p.out, "Reason: %s\n", req.Reason)
	}
	fmt.Fprint(p.out, "Allow? [y/N]: ")

	line, err := p.readLine(ctx)
	if err != nil {
		return false, err
	}

	switch strings.ToLower(line) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// AskClarification prints the question and reads the answer. An empty
// line skips the question.
//
// NOTE: This implements the session.Prompter interface.
func (p *TerminalPrompter) AskClarification(ctx context.Context,
	question string) (string, error) {

	fmt.Fprintf(p.out, "\nThe reviewee asks:\n  %s\n", question)
	fmt.Fprint(p.out, "Answer (empty to skip): ")

	return p.readLine(ctx)
}

// PolicyPrompter answers negotiation requests from a fixed policy, for
// unattended runs.
type PolicyPrompter struct {
	// GrantPermissions grants every permission request when true;
	// otherwise every request is denied.
	GrantPermissions bool

	// ClarificationAnswer is returned for every question. Empty skips.
	ClarificationAnswer string
}

// Compile-time check that PolicyPrompter implements session.Prompter.
var _ session.Prompter = (*PolicyPrompter)(nil)

// AskPermission applies the fixed permission policy.
//
// NOTE: This implements the session.Prompter interface.
func (p *PolicyPrompter) AskPermission(ctx context.Context,
	req contract.PermissionRequest) (bool, error) {

	log.InfoS(ctx, "Auto-answering permission request",
		"action", req.Action,
		"granted", p.GrantPermissions)
	return p.GrantPermissions, nil
}

// AskClarification applies the fixed clarification policy.
//
// NOTE: This implements the session.Prompter interface.
func (p *PolicyPrompter) AskClarification(ctx context.Context,
	question string) (string, error) {

	log.InfoS(ctx, "Auto-answering clarification request",
		"question", question,
		"skipped", p.ClarificationAnswer == "")
	return p.ClarificationAnswer, nil
}

// ProgressNotifier prints a one-line progress update per session
// transition.
type ProgressNotifier struct {
	out io.Writer

	lastPhase string
}

// Compile-time check that ProgressNotifier implements session.Notifier.
var _ session.Notifier = (*ProgressNotifier)(nil)

// NewProgressNotifier creates a notifier writing to out.
func NewProgressNotifier(out io.Writer) *ProgressNotifier {
	return &ProgressNotifier{out: out}
}

// Notify prints the phase change, suppressing repeats.
//
// NOTE: This implements the session.Notifier interface.
func (n *ProgressNotifier) Notify(_ context.Context,
	snap session.Snapshot) {

	if snap.Phase == n.lastPhase {
		return
	}
	n.lastPhase = snap.Phase

	if snap.Outcome.IsSome() {
		fmt.Fprintf(n.out, "[%s] iteration %d: %s (%s)\n",
			snap.SessionID, snap.Iteration, snap.Phase,
			snap.Outcome.UnwrapOr(""))
		return
	}

	fmt.Fprintf(n.out, "[%s] iteration %d: %s\n",
		snap.SessionID, snap.Iteration, snap.Phase)
}
