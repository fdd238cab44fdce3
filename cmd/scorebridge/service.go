package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/scorebridge/internal/api"
	"github.com/mattjoyce/scorebridge/internal/config"
	"github.com/mattjoyce/scorebridge/internal/convert"
	"github.com/mattjoyce/scorebridge/internal/doctor"
	"github.com/mattjoyce/scorebridge/internal/lock"
	"github.com/mattjoyce/scorebridge/internal/log"
	"github.com/mattjoyce/scorebridge/internal/metrics"
	"github.com/mattjoyce/scorebridge/internal/proctree"
	"github.com/mattjoyce/scorebridge/internal/reaper"
	"github.com/mattjoyce/scorebridge/internal/supervisor"
	"github.com/mattjoyce/scorebridge/internal/sweep"
	"github.com/mattjoyce/scorebridge/internal/workspace"
)

// service holds the wired components of a running instance.
type service struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector

	workspaces *workspace.FSManager
	janitor    *workspace.Janitor
	reaper     *reaper.Reaper
	supervisor *supervisor.Supervisor
	pipeline   *convert.Pipeline

	janitorRunner *sweep.Runner
	reaperRunner  *sweep.Runner
}

func newService(cfg *config.Config, logger *slog.Logger) (*service, error) {
	wsManager, err := workspace.NewFSManager(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("workspace manager: %w", err)
	}

	table, err := proctree.NewProcfsTable("")
	if err != nil {
		return nil, fmt.Errorf("process table: %w", err)
	}
	term := proctree.NewTerminator(table, logger)

	s := &service{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics.New("scorebridge"),
		workspaces: wsManager,
		janitor:    workspace.NewJanitor(wsManager, cfg.Janitor.MaxAge, logger),
		reaper: reaper.New(table, term, reaper.Options{
			ProcessNames: cfg.ConverterNames(),
			MaxAge:       cfg.Reaper.MaxAge,
			GracePeriod:  cfg.Converter.GracePeriod,
		}, logger),
		supervisor: supervisor.New(term, cfg.Converter.GracePeriod, logger),
	}

	s.pipeline = convert.NewPipeline(wsManager, s.supervisor, convert.Options{
		ConverterPath:  cfg.Converter.Path,
		Timeout:        cfg.Converter.Timeout,
		CleanupDelay:   cfg.API.CleanupDelay,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
	}, logger)

	s.janitorRunner, err = sweep.NewRunner(metrics.SweepJanitor, cfg.Janitor.Interval, func(ctx context.Context) {
		s.sweepJanitor(ctx)
	}, logger)
	if err != nil {
		return nil, err
	}
	s.reaperRunner, err = sweep.NewRunner(metrics.SweepReaper, cfg.Reaper.Interval, func(ctx context.Context) {
		s.sweepReaper(ctx)
	}, logger)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *service) sweepJanitor(ctx context.Context) workspace.CleanupReport {
	start := time.Now()
	report := s.janitor.Sweep(ctx)
	s.metrics.JanitorSwept(report.DeletedDirs, report.Failed, time.Since(start))
	return report
}

func (s *service) sweepReaper(ctx context.Context) reaper.Report {
	start := time.Now()
	report := s.reaper.Sweep(ctx)
	s.metrics.ReaperSwept(report.Reaped, report.Failed, time.Since(start))
	return report
}

func (s *service) apiServer() *api.Server {
	return api.New(api.Config{
		Listen:         s.cfg.API.Listen,
		APIKey:         s.cfg.API.Auth.APIKey,
		MaxUploadBytes: s.cfg.API.MaxUploadBytes,
		ConverterPath:  s.cfg.Converter.Path,
		TempDir:        s.cfg.TempDir,
		GracePeriod:    s.cfg.Converter.GracePeriod,
	}, api.Deps{
		Converter: s.pipeline,
		Version:   s.supervisor,
		Metrics:   s.metrics,
		Reaper:    s.reaper,
		Janitor:   s.janitor,
	}, s.logger)
}

// close stops the sweeps and flushes deferred workspace cleanup.
func (s *service) close() {
	s.janitorRunner.Stop()
	s.reaperRunner.Stop()
	s.pipeline.Close()
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, resolved, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	log.Info("scorebridge starting", "version", version, "config", resolved, "temp_dir", cfg.TempDir)
	log.Debug("effective configuration",
		"converter", cfg.Converter.Path,
		"timeout", cfg.Converter.Timeout,
		"grace_period", cfg.Converter.GracePeriod,
		"janitor_interval", cfg.Janitor.Interval,
		"reaper_interval", cfg.Reaper.Interval,
	)

	check := doctor.New(cfg).Validate()
	for _, w := range check.Warnings {
		log.Warn("config check", "category", w.Category, "field", w.Field, "message", w.Message)
	}
	if !check.Valid {
		for _, e := range check.Errors {
			log.Error("config check failed", "category", e.Category, "field", e.Field, "message", e.Message)
		}
		return 1
	}

	pidLock, err := lock.AcquireRootLock(cfg.TempDir)
	if err != nil {
		log.Error("failed to acquire instance lock (another instance may share this temp_dir)", "temp_dir", cfg.TempDir, "error", err)
		return 1
	}
	defer func() { _ = pidLock.Release() }()
	log.Info("acquired instance lock", "path", pidLock.Path())

	logger := log.WithComponent("main")

	svc, err := newService(cfg, log.Get())
	if err != nil {
		logger.Error("failed to initialize service", "error", err)
		return 1
	}
	defer svc.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	svc.janitorRunner.Start(ctx)
	svc.reaperRunner.Start(ctx)

	apiDone := make(chan error, 1)
	go func() {
		apiDone <- svc.apiServer().Start(ctx)
	}()

	logger.Info("scorebridge running (press Ctrl+C to stop)", "listen", cfg.API.Listen)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		// In-flight conversions are cancelled with ctx; wait for their groups
		// to be terminated and their responses written.
		if err := <-apiDone; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("api shutdown failed", "error", err)
		}
	case err := <-apiDone:
		logger.Error("api server failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("scorebridge stopped")
	return 0
}
