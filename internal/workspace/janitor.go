package workspace

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Janitor deletes workspace directories older than a retention threshold. It
// is the backstop for per-request cleanup that never ran.
type Janitor struct {
	mgr    *FSManager
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last CleanupReport
}

// NewJanitor creates a janitor sweeping mgr's root.
func NewJanitor(mgr *FSManager, maxAge time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		mgr:    mgr,
		maxAge: maxAge,
		logger: logger.With("component", "janitor"),
		now:    time.Now,
	}
}

// Sweep removes every top-level directory whose modification time is older
// than the retention threshold. Per-entry failures are counted and skipped.
func (j *Janitor) Sweep(ctx context.Context) CleanupReport {
	report := CleanupReport{At: j.now()}
	defer j.record(&report)

	entries, err := os.ReadDir(j.mgr.baseDir)
	if os.IsNotExist(err) {
		return report
	}
	if err != nil {
		j.logger.Error("read workspace root", "dir", j.mgr.baseDir, "error", err)
		report.Failed++
		return report
	}

	cutoff := j.now().Add(-j.maxAge)

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() {
			continue
		}
		report.Scanned++

		info, err := entry.Info()
		if os.IsNotExist(err) {
			// Removed by deferred cleanup between ReadDir and Info.
			continue
		}
		if err != nil {
			j.logger.Warn("stat workspace", "workspace_id", entry.Name(), "error", err)
			report.Failed++
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(j.mgr.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("remove stale workspace", "workspace_id", entry.Name(), "error", err)
			report.Failed++
			continue
		}
		j.logger.Info("removed stale workspace", "workspace_id", entry.Name(), "age", j.now().Sub(info.ModTime()).Round(time.Second))
		report.DeletedDirs++
	}

	j.logger.Info("janitor sweep complete",
		"scanned", report.Scanned,
		"deleted", report.DeletedDirs,
		"failed", report.Failed,
	)
	return report
}

// LastReport returns the report of the most recent sweep.
func (j *Janitor) LastReport() CleanupReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

func (j *Janitor) record(report *CleanupReport) {
	j.mu.Lock()
	j.last = *report
	j.mu.Unlock()
}
