package supervisor

import (
	"fmt"
	"strings"
	"time"
)

// ExecutionFailed reports that the converter could not be started or exited
// with a nonzero status.
type ExecutionFailed struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionFailed) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return fmt.Sprintf("converter exited with status %d", e.ExitCode)
	}
	return fmt.Sprintf("converter exited with status %d: %s", e.ExitCode, msg)
}

func (e *ExecutionFailed) Unwrap() error { return e.Err }

// TimeoutExceeded reports that the converter did not finish in time. It is
// returned only after the process group has been terminated.
type TimeoutExceeded struct {
	Timeout time.Duration
	Stderr  string
}

func (e *TimeoutExceeded) Error() string {
	return fmt.Sprintf("converter timed out after %v", e.Timeout)
}
