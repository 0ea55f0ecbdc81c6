package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"rvcworker/internal/config"
	"rvcworker/internal/consumer"
	"rvcworker/internal/history"
	"rvcworker/internal/logging"
	"rvcworker/internal/registry"
	"rvcworker/internal/workflow"
)

// JobSource delivers jobs until its context is cancelled.
type JobSource interface {
	Run(ctx context.Context) error
	Stats() consumer.Stats
}

// StatusReporter exposes the workflow's in-memory state.
type StatusReporter interface {
	Status() workflow.StatusSummary
}

// JobLedger is the read side of the job history.
type JobLedger interface {
	Path() string
	Get(ctx context.Context, id string) (*history.Job, error)
	List(ctx context.Context, limit int, statuses ...history.Status) ([]*history.Job, error)
	StageRuns(ctx context.Context, jobID string) ([]history.StageRun, error)
	Stats(ctx context.Context) (map[history.Status]int, error)
}

// ModelCatalog is the read side of the model registry.
type ModelCatalog interface {
	Path() string
	List(ctx context.Context) (map[string]registry.Record, error)
}

// Dependencies groups the services the daemon coordinates.
type Dependencies struct {
	Source   JobSource
	Workflow StatusReporter
	History  JobLedger
	Registry ModelCatalog
}

// Daemon runs the queue consumer and status API, and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   Dependencies
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	Consumer     consumer.Stats
	JobStats     map[history.Status]int
	LockFilePath string
	HistoryPath  string
	RegistryPath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || deps.Source == nil || deps.Workflow == nil || deps.History == nil || deps.Registry == nil {
		return nil, errors.New("daemon requires config, job source, workflow, history, and registry")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "rvcworker.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		deps:     deps,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, then launches the consumer and status API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("ensure lock directory: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another rvcworker instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}

	d.cancel = cancel
	d.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := d.deps.Source.Run(runCtx); err != nil {
			logging.ErrorWithContext(d.logger, "consumer exited", "consumer_exited",
				logging.Error(err),
				logging.String(logging.FieldImpact, "no further jobs are consumed"),
			)
		}
	}(d.done)

	d.running.Store(true)
	d.logger.Info("rvcworker daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Done is closed once the consumer has returned. It is nil before Start.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Stop cancels the consumer, waits for the in-flight job to settle, and
// releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.done != nil {
		<-d.done
	}
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("rvcworker daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// LockPath returns the path of the single-instance lock file.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// Status returns the current daemon status. Job counts are omitted when the
// history cannot be read.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.deps.Workflow.Status(),
		Consumer:     d.deps.Source.Stats(),
		LockFilePath: d.lockPath,
		HistoryPath:  d.deps.History.Path(),
		RegistryPath: d.deps.Registry.Path(),
	}
	stats, err := d.deps.History.Stats(ctx)
	if err != nil {
		d.logger.Warn("job stats unavailable", logging.Error(err))
	}
	status.JobStats = stats
	return status
}
