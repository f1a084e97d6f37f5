package adapter

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
)

// killGracePeriod is how long a subprocess gets between SIGTERM on
// context cancellation and the hard SIGKILL from WaitDelay.
const killGracePeriod = 5 * time.Second

// maxStderrCapture bounds how much stderr is kept for error reporting.
const maxStderrCapture = 4096

// runCommand executes an agent CLI with the prompt on stdin and returns
// its stdout. The process runs in its own process group so that a
// cancellation kills the CLI and every child it spawned.
func runCommand(ctx context.Context, backend, workDir string,
	argv []string, stdin string) (string, error) {

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// On cancellation, signal the whole process group. WaitDelay
	// escalates to SIGKILL if the group ignores the TERM.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = killGracePeriod

	log.DebugS(ctx, "Spawning agent CLI",
		"backend", backend,
		"cmd", shellquote.Join(argv...),
		"workdir", workDir)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		// Context errors win over the exit error they caused, so
		// the caller can distinguish a timeout from a crash.
		if ctx.Err() != nil {
			log.WarnS(ctx, "Agent CLI killed", nil,
				"backend", backend,
				"elapsed", elapsed)
			return "", ctx.Err()
		}

		procErr := &ProcessError{
			Backend:  backend,
			ExitCode: -1,
			Stderr:   trimStderr(stderr.String()),
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			procErr.ExitCode = exitErr.ExitCode()
			procErr.Transient = transientExit(procErr.ExitCode)
		} else {
			// Spawn failures (binary missing, permission) are
			// not worth retrying.
			return "", err
		}

		log.ErrorS(ctx, "Agent CLI failed", procErr,
			"backend", backend,
			"exit_code", procErr.ExitCode,
			"elapsed", elapsed)
		return "", procErr
	}

	log.DebugS(ctx, "Agent CLI finished",
		"backend", backend,
		"elapsed", elapsed,
		"stdout_bytes", stdout.Len())

	return stdout.String(), nil
}

// transientExit reports whether an exit code is worth a single retry.
// SIGTERM/SIGKILL deaths (128+signal) usually mean the machine was under
// pressure rather than the request being bad.
func transientExit(code int) bool {
	return code == 128+int(syscall.SIGTERM) ||
		code == 128+int(syscall.SIGKILL)
}

func trimStderr(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrCapture {
		s = s[:maxStderrCapture] + "... (truncated)"
	}
	return s
}
