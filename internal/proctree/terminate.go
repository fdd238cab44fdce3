package proctree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

// pollInterval is how often liveness is rechecked during a grace period.
const pollInterval = 50 * time.Millisecond

// Severity selects the signal used to terminate a process.
type Severity int

const (
	// Graceful asks the process to exit (SIGTERM).
	Graceful Severity = iota
	// Forceful kills the process outright (SIGKILL).
	Forceful
)

func (s Severity) String() string {
	if s == Forceful {
		return "forceful"
	}
	return "graceful"
}

func (s Severity) signal() unix.Signal {
	if s == Forceful {
		return unix.SIGKILL
	}
	return unix.SIGTERM
}

// SignalGroup signals every process in group pgid. A group with no members
// left is not an error.
func SignalGroup(pgid int, sev Severity) error {
	if pgid <= 1 {
		return fmt.Errorf("refusing to signal process group %d", pgid)
	}
	if err := unix.Kill(-pgid, sev.signal()); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal group %d (%s): %w", pgid, sev, err)
	}
	return nil
}

// SignalProcess signals a single pid. A process that has already exited is
// not an error.
func SignalProcess(pid int, sev Severity) error {
	if pid <= 1 {
		return fmt.Errorf("refusing to signal pid %d", pid)
	}
	if err := unix.Kill(pid, sev.signal()); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal pid %d (%s): %w", pid, sev, err)
	}
	return nil
}

// GroupOf resolves the process group of pid. ok is false when the process is
// already gone.
func GroupOf(pid int) (pgid int, ok bool) {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return 0, false
	}
	return pgid, true
}

// Terminator runs the graceful-then-forceful termination sequence.
type Terminator struct {
	table  *ProcfsTable
	logger *slog.Logger
	self   int
	selfPG int
}

// NewTerminator creates a Terminator. table is optional; when set, group
// liveness ignores zombies awaiting a reaper.
func NewTerminator(table *ProcfsTable, logger *slog.Logger) *Terminator {
	self := unix.Getpid()
	selfPG, _ := unix.Getpgid(self)
	return &Terminator{
		table:  table,
		logger: logger.With("component", "proctree"),
		self:   self,
		selfPG: selfPG,
	}
}

// TerminateGroup sends a graceful signal to group pgid, waits up to grace for
// every member to exit, then sends a forceful signal to the survivors.
func (t *Terminator) TerminateGroup(ctx context.Context, pgid int, grace time.Duration) error {
	if pgid == t.selfPG {
		return fmt.Errorf("refusing to terminate own process group %d", pgid)
	}

	if err := SignalGroup(pgid, Graceful); err != nil {
		return err
	}
	if t.waitGone(ctx, grace, func() bool { return t.GroupAlive(pgid) }) {
		return nil
	}

	t.logger.Warn("process group ignored graceful termination, escalating", "pgid", pgid, "grace", grace)
	return SignalGroup(pgid, Forceful)
}

// TerminatePIDs runs the two-phase sequence over an explicit set of pids.
// Every pid is attempted; the joined per-pid errors are returned.
func (t *Terminator) TerminatePIDs(ctx context.Context, pids []int, grace time.Duration) error {
	var errs []error
	for _, pid := range pids {
		if pid == t.self {
			continue
		}
		if err := SignalProcess(pid, Graceful); err != nil {
			errs = append(errs, err)
		}
	}

	alive := func() bool {
		for _, pid := range pids {
			if pid != t.self && t.processAlive(pid) {
				return true
			}
		}
		return false
	}
	if t.waitGone(ctx, grace, alive) {
		return errors.Join(errs...)
	}

	for _, pid := range pids {
		if pid == t.self || !t.processAlive(pid) {
			continue
		}
		if err := SignalProcess(pid, Forceful); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// waitGone polls alive until it reports false or grace elapses. It returns
// true when the processes are gone.
func (t *Terminator) waitGone(ctx context.Context, grace time.Duration, alive func() bool) bool {
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		if !alive() {
			return true
		}
		select {
		case <-deadline.C:
			return !alive()
		case <-ctx.Done():
			return !alive()
		case <-tick.C:
		}
	}
}

// GroupAlive reports whether any non-zombie member of pgid remains.
func (t *Terminator) GroupAlive(pgid int) bool {
	if err := unix.Kill(-pgid, 0); errors.Is(err, unix.ESRCH) {
		return false
	}
	if t.table == nil {
		return true
	}
	members, err := t.table.GroupMembers(pgid)
	if err != nil {
		return true
	}
	return len(members) > 0
}

func (t *Terminator) processAlive(pid int) bool {
	if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
		return false
	}
	if t.table == nil {
		return true
	}
	st, ok := t.table.stat(pid)
	if !ok {
		return false
	}
	return !st.Zombie()
}
