// Package harness wraps agent invocations with a deadline and bounded
// retries. Timeouts are terminal for the session, so they are never
// retried here; transient process failures get one more attempt.
package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reviewloop/reviewloop/internal/adapter"
	"github.com/reviewloop/reviewloop/internal/build"
)

// ErrTimeout reports that an agent invocation hit its deadline. The
// subprocess has been killed by the time this is returned.
var ErrTimeout = errors.New("agent invocation timed out")

// log is the package-wide logger for the harness package.
var log = build.NewSubLogger("HRNS")

const (
	// DefaultTimeout bounds one agent invocation.
	DefaultTimeout = 10 * time.Minute

	// DefaultMaxAttempts is the total attempt budget per invocation,
	// so one retry after a transient failure.
	DefaultMaxAttempts = 2

	// DefaultRetryBackoff is the pause before a retry attempt.
	DefaultRetryBackoff = 2 * time.Second
)

// Config tunes the harness.
type Config struct {
	// Timeout bounds a single attempt. Zero uses DefaultTimeout.
	Timeout time.Duration

	// MaxAttempts is the total attempt budget including the first.
	// Zero uses DefaultMaxAttempts.
	MaxAttempts int

	// RetryBackoff is the pause between attempts. Zero uses
	// DefaultRetryBackoff.
	RetryBackoff time.Duration
}

// Harness executes agent invocations under the configured bounds.
type Harness struct {
	cfg Config
}

// New creates a Harness, filling unset config fields with defaults.
func New(cfg Config) *Harness {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	return &Harness{cfg: cfg}
}

// Invoke runs one agent turn. Transient process failures are retried up
// to the attempt budget. A deadline hit returns ErrTimeout without
// retrying, and a cancelled parent context returns its error as-is.
func (h *Harness) Invoke(ctx context.Context, a adapter.Adapter,
	inv adapter.Invocation) (*adapter.Reply, error) {

	var lastErr error
	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			log.InfoS(ctx, "Retrying agent invocation",
				"backend", a.Name(),
				"role", inv.Role,
				"attempt", attempt)

			select {
			case <-time.After(h.cfg.RetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(
			ctx, h.cfg.Timeout,
		)
		reply, err := a.Run(attemptCtx, inv)
		cancel()

		if err == nil {
			return reply, nil
		}

		// The attempt deadline maps to ErrTimeout; a cancelled
		// parent context propagates unchanged.
		if errors.Is(err, context.DeadlineExceeded) &&
			ctx.Err() == nil {

			log.WarnS(ctx, "Agent invocation timed out", nil,
				"backend", a.Name(),
				"role", inv.Role,
				"timeout", h.cfg.Timeout)
			return nil, fmt.Errorf("%w after %v", ErrTimeout,
				h.cfg.Timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err

		var procErr *adapter.ProcessError
		if errors.As(err, &procErr) && procErr.Transient {
			continue
		}

		return nil, err
	}

	return nil, fmt.Errorf("agent invocation failed after %d "+
		"attempts: %w", h.cfg.MaxAttempts, lastErr)
}
