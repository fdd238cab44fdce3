// Package sweep runs background reclamation tasks on a fixed interval.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task is one sweep. It must not return until the sweep is finished.
type Task func(ctx context.Context)

// Runner invokes a Task once at start and then on every tick until stopped.
type Runner struct {
	name     string
	interval time.Duration
	task     Task
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// runMu serializes sweeps so RunOnce never overlaps a tick.
	runMu sync.Mutex
}

// NewRunner creates a Runner named name.
func NewRunner(name string, interval time.Duration, task Task, logger *slog.Logger) (*Runner, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep %q: interval must be positive", name)
	}
	if task == nil {
		return nil, fmt.Errorf("sweep %q: task is nil", name)
	}
	return &Runner{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger.With("component", "sweep", "sweep", name),
		stopCh:   make(chan struct{}),
	}, nil
}

// Name returns the sweep name.
func (r *Runner) Name() string { return r.name }

// Start begins the tick loop in a new goroutine. The loop ends when ctx is
// cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	r.logger.Info("starting sweep", "interval", r.interval)
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop ends the tick loop and waits for an in-progress sweep to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("sweep stopped")
}

// RunOnce performs a single sweep synchronously.
func (r *Runner) RunOnce(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("sweep panicked", "panic", rec)
		}
	}()
	r.task(ctx)
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	// Initial sweep immediately
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			r.logger.Debug("sweep context cancelled, stopping tick loop")
			return
		}
	}
}
