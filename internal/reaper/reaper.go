// Package reaper reclaims converter processes that outlived supervision.
//
// The reaper keeps no record of which request started which process. Each
// sweep looks at OS process state only: any process whose name matches a
// converter executable and whose age exceeds the threshold is terminated
// along with its descendants.
package reaper

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattjoyce/scorebridge/internal/proctree"
)

// commLen is the kernel's TASK_COMM_LEN minus the trailing NUL; process names
// in /proc are truncated to it.
const commLen = 15

//go:generate mockgen -destination=mocks/mock_reaper.go -package=mocks github.com/mattjoyce/scorebridge/internal/reaper ProcessTable,Terminator

// ProcessTable provides process snapshots.
type ProcessTable interface {
	Snapshot() ([]proctree.Process, error)
}

// Terminator kills process groups and explicit process sets.
type Terminator interface {
	TerminateGroup(ctx context.Context, pgid int, grace time.Duration) error
	TerminatePIDs(ctx context.Context, pids []int, grace time.Duration) error
}

// Options configures a Reaper.
type Options struct {
	// ProcessNames are converter executable names (or paths) to match.
	ProcessNames []string
	// MaxAge is how long a converter may run before it is reclaimed.
	MaxAge time.Duration
	// GracePeriod separates the graceful and forceful signals.
	GracePeriod time.Duration
}

// Report summarizes one sweep.
type Report struct {
	Candidates  int       `json:"candidates"`
	Reaped      int       `json:"reaped"`
	Descendants int       `json:"descendants"`
	Failed      int       `json:"failed"`
	At          time.Time `json:"at"`
}

// Reaper finds and kills over-age converter processes.
type Reaper struct {
	table  ProcessTable
	term   Terminator
	names  map[string]bool
	opts   Options
	logger *slog.Logger
	now    func() time.Time
	self   int

	mu   sync.Mutex
	last Report
}

// New creates a Reaper.
func New(table ProcessTable, term Terminator, opts Options, logger *slog.Logger) *Reaper {
	names := make(map[string]bool, len(opts.ProcessNames))
	for _, n := range opts.ProcessNames {
		if comm := commName(n); comm != "" {
			names[comm] = true
		}
	}
	return &Reaper{
		table:  table,
		term:   term,
		names:  names,
		opts:   opts,
		logger: logger.With("component", "reaper"),
		now:    time.Now,
		self:   os.Getpid(),
	}
}

// Sweep performs one reclamation pass. It never aborts early on a per-process
// failure; failures are logged and counted.
func (r *Reaper) Sweep(ctx context.Context) Report {
	report := Report{At: r.now()}
	defer r.record(&report)

	snapshot, err := r.table.Snapshot()
	if err != nil {
		r.logger.Error("failed to snapshot process table", "error", err)
		report.Failed++
		return report
	}

	pgids := make(map[int]int, len(snapshot))
	for _, p := range snapshot {
		pgids[p.PID] = p.PGID
	}

	handled := make(map[int]bool)
	for _, p := range snapshot {
		if ctx.Err() != nil {
			break
		}
		if !r.names[p.Name] || p.PID == r.self || p.Zombie() {
			continue
		}
		report.Candidates++

		age := p.Age(report.At)
		if age <= r.opts.MaxAge {
			continue
		}
		if handled[p.PID] {
			// Already killed as a descendant of an earlier candidate.
			continue
		}

		descendants := proctree.Descendants(snapshot, p.PID)
		handled[p.PID] = true
		for _, d := range descendants {
			handled[d] = true
		}

		logger := r.logger.With("pid", p.PID, "name", p.Name, "age", age.Round(time.Second))
		if err := r.reclaim(ctx, p, descendants, pgids); err != nil {
			logger.Warn("failed to reclaim converter process", "error", err)
			report.Failed++
			continue
		}
		logger.Info("reclaimed over-age converter process", "descendants", len(descendants))
		report.Reaped++
		report.Descendants += len(descendants)
	}

	r.logger.Info("reaper sweep complete",
		"candidates", report.Candidates,
		"reaped", report.Reaped,
		"failed", report.Failed,
	)
	return report
}

// LastReport returns the report of the most recent sweep.
func (r *Reaper) LastReport() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// reclaim terminates p and its descendants. A group leader is killed through
// its group so helpers that were reparented away from p are included.
func (r *Reaper) reclaim(ctx context.Context, p proctree.Process, descendants []int, pgids map[int]int) error {
	if p.PGID == p.PID {
		if err := r.term.TerminateGroup(ctx, p.PGID, r.opts.GracePeriod); err != nil {
			return err
		}
		// Children that moved to their own group are not covered above.
		var strays []int
		for _, d := range descendants {
			if pgids[d] != p.PGID {
				strays = append(strays, d)
			}
		}
		if len(strays) == 0 {
			return nil
		}
		return r.term.TerminatePIDs(ctx, strays, r.opts.GracePeriod)
	}

	pids := append(descendants, p.PID)
	return r.term.TerminatePIDs(ctx, pids, r.opts.GracePeriod)
}

func (r *Reaper) record(report *Report) {
	r.mu.Lock()
	r.last = *report
	r.mu.Unlock()
}

func commName(name string) string {
	base := filepath.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	if len(base) > commLen {
		base = base[:commLen]
	}
	return base
}
