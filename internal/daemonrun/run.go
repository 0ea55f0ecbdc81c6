package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"rvcworker/internal/config"
	"rvcworker/internal/consumer"
	"rvcworker/internal/daemon"
	"rvcworker/internal/history"
	"rvcworker/internal/logging"
	"rvcworker/internal/notifications"
	"rvcworker/internal/pipeline"
	"rvcworker/internal/preflight"
	"rvcworker/internal/registry"
	"rvcworker/internal/runner"
	"rvcworker/internal/storage"
	"rvcworker/internal/workflow"
)

// Options configures worker process runtime behavior.
type Options struct {
	LogLevel      string
	Development   bool
	SkipPreflight bool
}

// Run starts the worker and blocks until it is interrupted.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.RequireWorker(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("rvcworker-%s.log", runID))
	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logStartupSnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update rvcworker.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "rvcworker-*.log", Exclude: []string{logPath}},
	)
	pidPath := filepath.Join(cfg.Paths.LogDir, "rvcworker.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := history.Open(cfg.Paths.HistoryPath)
	if err != nil {
		logger.Error("open job history", logging.Error(err))
		return err
	}
	defer store.Close()
	recoverHistory(signalCtx, logger, store, cfg.Logging.RetentionDays)

	reg, err := registry.New(cfg.Paths.RegistryPath)
	if err != nil {
		return fmt.Errorf("open model registry: %w", err)
	}

	objects, err := storage.NewS3Store(signalCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}

	if !opts.SkipPreflight {
		if err := runPreflight(signalCtx, logger, cfg, objects); err != nil {
			return err
		}
	}

	stageRunner := runner.New(logger, cfg.StageTimeout())
	stageRunner.Dir = cfg.Pipeline.WorkingDir

	manager, err := workflow.NewManager(cfg, workflow.Dependencies{
		Stages:   pipeline.NewFromConfig(cfg, stageRunner),
		Registry: reg,
		Storage:  objects,
		Notifier: notifications.NewService(cfg, logger),
		History:  store,
	}, logger)
	if err != nil {
		return fmt.Errorf("create workflow manager: %w", err)
	}

	d, err := daemon.New(cfg, daemon.Dependencies{
		Source:   consumer.New(cfg, manager, logger),
		Workflow: manager,
		History:  store,
		Registry: reg,
	}, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	select {
	case <-signalCtx.Done():
	case <-d.Done():
	}
	logger.Info("rvcworker shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	d.Stop()
	return nil
}

// recoverHistory closes out jobs left running by a previous process and prunes
// finished jobs past the retention window.
func recoverHistory(ctx context.Context, logger *slog.Logger, store *history.Store, retentionDays int) {
	interrupted, err := store.MarkInterrupted(ctx)
	if err != nil {
		logger.Warn("failed to mark interrupted jobs", logging.Error(err))
	} else if interrupted > 0 {
		logging.WarnWithContext(logger, "jobs interrupted by previous shutdown", "jobs_interrupted",
			logging.Int64("count", interrupted),
			logging.String(logging.FieldImpact, "interrupted jobs are redelivered by the broker"),
		)
	}
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	pruned, err := store.Prune(ctx, cutoff)
	if err != nil {
		logger.Warn("failed to prune job history", logging.Error(err))
		return
	}
	if pruned > 0 {
		logger.Info("pruned job history", logging.Int64("count", pruned), logging.Int("retention_days", retentionDays))
	}
}

func runPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config, objects preflight.StorageChecker) error {
	results := preflight.RunAll(ctx, cfg, objects)
	for _, result := range results {
		attrs := []logging.Attr{
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.Bool("required", result.Required),
		}
		if result.Passed {
			logger.Debug("preflight check passed", logging.Args(attrs...)...)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed", attrs...)
	}
	if failed := preflight.Failed(results); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, result := range failed {
			names[i] = result.Name
		}
		return fmt.Errorf("preflight failed: %s (run `rvcworker check` for details)", strings.Join(names, ", "))
	}
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "rvcworker.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logStartupSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("worker snapshot",
		logging.String(logging.FieldEventType, "worker_snapshot"),
		logging.String("queue", cfg.Queue.Name),
		logging.Int("prefetch", cfg.Queue.Prefetch),
		logging.String("bucket", cfg.Storage.Bucket),
		logging.Bool("custom_endpoint", strings.TrimSpace(cfg.Storage.Endpoint) != ""),
		logging.Bool("callback_configured", strings.TrimSpace(cfg.Callback.URL) != ""),
		logging.String("python_binary", cfg.Pipeline.PythonBinary),
		logging.String("script", cfg.ScriptPath()),
		logging.Int("batch_size", cfg.Pipeline.BatchSize),
		logging.Duration("stage_timeout", cfg.StageTimeout()),
		logging.String("api_bind", cfg.Paths.APIBind),
	)
}
