package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rvcworker/internal/config"
	"rvcworker/internal/history"
	"rvcworker/internal/job"
	"rvcworker/internal/logging"
	"rvcworker/internal/notifications"
	"rvcworker/internal/pipeline"
	"rvcworker/internal/runner"
	"rvcworker/internal/services"
	"rvcworker/internal/storage"
)

// stderrTailLines bounds how much stage stderr is carried into failure messages.
const stderrTailLines = 20

// Dependencies bundles the collaborators a Manager drives. History may be nil.
type Dependencies struct {
	Stages   Stages
	Registry ArtifactRegistry
	Storage  storage.Store
	Notifier notifications.Service
	History  Ledger
}

// Manager carries jobs through their pipeline one at a time.
type Manager struct {
	cfg      *config.Config
	logger   *slog.Logger
	params   pipeline.Hyperparameters
	stages   Stages
	registry ArtifactRegistry
	storage  storage.Store
	notifier notifications.Service
	history  Ledger

	mu        sync.RWMutex
	current   *Activity
	last      *Outcome
	lastErr   error
	processed int
	failed    int
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("workflow: config is required")
	}
	switch {
	case deps.Stages == nil:
		return nil, errors.New("workflow: stages are required")
	case deps.Registry == nil:
		return nil, errors.New("workflow: registry is required")
	case deps.Storage == nil:
		return nil, errors.New("workflow: storage is required")
	case deps.Notifier == nil:
		return nil, errors.New("workflow: notifier is required")
	}
	if deps.History == nil {
		deps.History = nopLedger{}
	}
	return &Manager{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		params:   pipeline.HyperparametersFromConfig(cfg.Pipeline),
		stages:   deps.Stages,
		registry: deps.Registry,
		storage:  deps.Storage,
		notifier: deps.Notifier,
		history:  deps.History,
	}, nil
}

// Dispatch runs j to completion. A job that fails in one of its stages is
// reported through the returned Outcome with a nil error; an error means the
// job could not be carried through and should be retried by redelivery.
func (m *Manager) Dispatch(ctx context.Context, j job.Job) (Outcome, error) {
	switch {
	case j.Kind == job.KindTraining && j.Training != nil:
		return m.runTraining(ctx, j)
	case j.Kind == job.KindInference && j.Inference != nil:
		return m.runInference(ctx, j)
	default:
		return Outcome{}, fmt.Errorf("dispatch %q: %w", j.Kind, job.ErrUnknownCommand)
	}
}

type jobRun struct {
	ctx     context.Context
	logger  *slog.Logger
	outcome Outcome
}

func (m *Manager) begin(ctx context.Context, j job.Job) *jobRun {
	id := uuid.NewString()
	ctx = services.WithJobID(ctx, id)
	ctx = services.WithModelName(ctx, j.ModelName())
	ctx = services.WithRequestID(ctx, j.CorrelationID)

	run := &jobRun{
		ctx:    ctx,
		logger: logging.WithContext(ctx, m.logger),
		outcome: Outcome{
			JobID:     id,
			Kind:      string(j.Kind),
			ModelName: j.ModelName(),
			Status:    history.StatusRunning,
			StartedAt: time.Now(),
		},
	}

	entry := history.Job{
		ID:            id,
		Kind:          string(j.Kind),
		ModelName:     j.ModelName(),
		CorrelationID: j.CorrelationID,
	}
	if j.Inference != nil {
		entry.FileID = j.Inference.FileID
	}
	if _, err := m.history.Start(ctx, entry); err != nil {
		m.historyWarning(run, err)
	}

	m.setActivity(&Activity{
		JobID:         id,
		Kind:          string(j.Kind),
		ModelName:     j.ModelName(),
		CorrelationID: j.CorrelationID,
		StartedAt:     run.outcome.StartedAt,
	})
	run.logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("kind", string(j.Kind)),
	)
	return run
}

// enter moves the job into stage and returns a context carrying it.
func (m *Manager) enter(run *jobRun, stage string) context.Context {
	run.outcome.Stage = stage
	m.setActivityStage(stage)
	if err := m.history.SetStage(run.ctx, run.outcome.JobID, stage); err != nil {
		m.historyWarning(run, err)
	}
	return services.WithStage(run.ctx, stage)
}

// runCommand executes one external stage. A non-zero exit becomes an
// ErrExternalTool failure carrying the tail of stderr.
func (m *Manager) runCommand(run *jobRun, stage string, fn func(context.Context) (runner.Result, error)) error {
	ctx := m.enter(run, stage)
	logger := logging.WithContext(ctx, m.logger)
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	started := time.Now()
	result, err := fn(ctx)
	exitCode := result.ExitCode
	if err != nil {
		exitCode = -1
	}
	elapsed := result.Duration
	if elapsed <= 0 {
		elapsed = time.Since(started)
	}
	if recErr := m.history.RecordStage(context.WithoutCancel(run.ctx), history.StageRun{
		JobID:     run.outcome.JobID,
		Stage:     stage,
		ExitCode:  exitCode,
		Duration:  elapsed,
		StartedAt: started,
	}); recErr != nil {
		m.historyWarning(run, recErr)
	}

	if err != nil {
		return err
	}
	if !result.Success() {
		var cause error
		if tail := result.StderrTail(stderrTailLines); tail != "" {
			cause = errors.New(tail)
		}
		return services.Wrap(services.ErrExternalTool, stage, "run", fmt.Sprintf("exited with status %d", result.ExitCode), cause)
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("duration", elapsed),
	)
	return nil
}

// fail ends the job as failed. Failures caused by cancellation are returned
// to the caller so the message is redelivered.
func (m *Manager) fail(run *jobRun, err error) (Outcome, error) {
	run.outcome.Status = history.StatusFailed
	run.outcome.Err = err

	if cause := context.Cause(run.ctx); cause != nil {
		logging.WarnWithContext(run.logger, "job interrupted", "job_interrupted",
			logging.String(logging.FieldStage, run.outcome.Stage),
			logging.Error(err),
			logging.String(logging.FieldImpact, "job will be redelivered"),
			logging.String(logging.FieldErrorHint, "no action needed unless shutdowns are unexpected"),
		)
		m.finish(run, history.Outcome{ErrorKind: "interrupted", ErrorMessage: history.InterruptedReason})
		return run.outcome, fmt.Errorf("job %s interrupted during %s: %w", run.outcome.JobID, run.outcome.Stage, cause)
	}

	kind := services.Kind(err)
	logging.ErrorWithContext(run.logger, "job failed", "job_failure",
		logging.String(logging.FieldStage, run.outcome.Stage),
		logging.Alert("stage_failure"),
		logging.String(logging.FieldErrorKind, kind),
		logging.String(logging.FieldErrorHint, failureHint(kind)),
		logging.Error(err),
	)
	m.finish(run, history.Outcome{ErrorKind: kind, ErrorMessage: strings.TrimSpace(err.Error())})
	if run.outcome.Kind == string(job.KindTraining) {
		m.notifier.NotifyModelStatus(run.ctx, run.outcome.ModelName, notifications.StatusFailed, nil)
	}
	return run.outcome, nil
}

func (m *Manager) finish(run *jobRun, outcome history.Outcome) {
	run.outcome.FinishedAt = time.Now()
	if outcome.ResultURL == "" {
		outcome.ResultURL = run.outcome.ResultURL
	}
	if err := m.history.Finish(context.WithoutCancel(run.ctx), run.outcome.JobID, run.outcome.Status, outcome); err != nil {
		m.historyWarning(run, err)
	}
	m.recordOutcome(run.outcome)
}

func (m *Manager) historyWarning(run *jobRun, err error) {
	logging.WarnWithContext(run.logger, "job history write failed", "history_write_failed",
		logging.Error(err),
		logging.String(logging.FieldImpact, "jobs list may be missing or stale for this job"),
		logging.String(logging.FieldErrorHint, "check paths.history_path permissions and disk space"),
	)
}

func failureHint(kind string) string {
	switch kind {
	case "external_tool":
		return "inspect the stage stderr above and the pipeline entrypoint logs"
	case "download":
		return "verify the object URL and storage credentials"
	case "upload":
		return "verify bucket write permissions"
	case "validation":
		return "check the job message fields"
	case "timeout":
		return "raise pipeline.stage_timeout_minutes or look for a hung stage"
	case "registry":
		return "check paths.registry_path permissions"
	default:
		return "check logs for details"
	}
}
