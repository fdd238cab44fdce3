package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/scorebridge/internal/proctree"
)

const (
	// maxOutputBytes caps the amount of stdout and stderr kept per stream.
	maxOutputBytes = 64 * 1024

	// DefaultGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	DefaultGracePeriod = 5 * time.Second

	// pipeDrainDelay bounds how long Wait keeps reading output pipes after the
	// leader exits; a forked helper can hold them open indefinitely.
	pipeDrainDelay = time.Second

	// versionTimeout bounds `<converter> --version`.
	versionTimeout = 10 * time.Second
)

// Command describes one converter invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	PID      int
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// GroupTerminator terminates a whole process group.
type GroupTerminator interface {
	TerminateGroup(ctx context.Context, pgid int, grace time.Duration) error
}

// Supervisor launches and bounds converter processes.
type Supervisor struct {
	grace  time.Duration
	term   GroupTerminator
	logger *slog.Logger
}

// New creates a Supervisor. A non-positive grace uses DefaultGracePeriod.
func New(term GroupTerminator, grace time.Duration, logger *slog.Logger) *Supervisor {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Supervisor{
		grace:  grace,
		term:   term,
		logger: logger.With("component", "supervisor"),
	}
}

// Run executes c and waits for it to exit, for timeout to expire, or for ctx
// to be cancelled. No member of the launched process group is left running
// when Run returns.
func (s *Supervisor) Run(ctx context.Context, c Command, timeout time.Duration) (*Result, error) {
	// Don't use CommandContext, termination is managed here.
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = pipeDrainDelay

	stdout := &cappedBuffer{limit: maxOutputBytes}
	stderr := &cappedBuffer{limit: maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger := s.logger.With("command", c.Path)
	logger.Debug("starting converter", "args", c.Args, "dir", c.Dir, "timeout", timeout)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &ExecutionFailed{ExitCode: -1, Err: fmt.Errorf("start process: %w", err)}
	}

	// The child called setpgid(0, 0), so its pid is its group id.
	pgid := cmd.Process.Pid
	logger = logger.With("pid", pgid)

	defer func() {
		if err := proctree.SignalGroup(pgid, proctree.Forceful); err != nil {
			logger.Debug("final group kill failed", "error", err)
		}
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-waitErr:
		res := &Result{
			PID:      pgid,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: exitCode(cmd, err),
			Duration: time.Since(start),
		}
		if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return res, &ExecutionFailed{ExitCode: res.ExitCode, Stderr: res.Stderr, Err: fmt.Errorf("wait for process: %w", err)}
			}
		}
		if res.ExitCode != 0 {
			logger.Warn("converter exited with non-zero status", "exit_code", res.ExitCode)
			return res, &ExecutionFailed{ExitCode: res.ExitCode, Stderr: res.Stderr}
		}
		logger.Debug("converter finished", "duration", res.Duration)
		return res, nil

	case <-timer.C:
		logger.Warn("converter timed out, terminating process group", "timeout", timeout)
		s.terminate(pgid, waitErr, logger)
		return nil, &TimeoutExceeded{Timeout: timeout, Stderr: stderr.String()}

	case <-ctx.Done():
		logger.Warn("context cancelled, terminating process group", "error", ctx.Err())
		s.terminate(pgid, waitErr, logger)
		return nil, ctx.Err()
	}
}

// terminate runs the two-phase group termination, then waits for the leader
// to be reaped.
func (s *Supervisor) terminate(pgid int, waitErr <-chan error, logger *slog.Logger) {
	// Background context: the grace period must be honoured even when the
	// caller's context is what triggered termination.
	if err := s.term.TerminateGroup(context.Background(), pgid, s.grace); err != nil {
		logger.Error("failed to terminate process group", "error", err)
	}
	if err := proctree.SignalGroup(pgid, proctree.Forceful); err != nil {
		logger.Error("failed to send SIGKILL", "error", err)
	}

	select {
	case <-waitErr:
	case <-time.After(s.grace + pipeDrainDelay):
		logger.Error("converter leader not reaped after SIGKILL")
	}
}

// TerminationBound is the longest Run spends terminating a process group
// after its timeout fires or its context is cancelled.
func TerminationBound(grace time.Duration) time.Duration {
	return 2*grace + pipeDrainDelay
}

// Version runs `<path> --version` and returns its trimmed stdout along with
// any stderr text. A nonzero exit is reported through the returned output;
// only a failure to run the converter at all is an error.
func (s *Supervisor) Version(ctx context.Context, path string) (string, string, error) {
	res, err := s.Run(ctx, Command{Path: path, Args: []string{"--version"}}, versionTimeout)
	var execErr *ExecutionFailed
	if errors.As(err, &execErr) && res != nil {
		return strings.TrimSpace(res.Stdout), res.Stderr, nil
	}
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(res.Stdout), res.Stderr, nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// cappedBuffer keeps the first limit bytes written and discards the rest
// while still reporting full writes, so the child never sees EPIPE.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
