package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rvcworker/internal/history"
	"rvcworker/internal/job"
	"rvcworker/internal/logging"
	"rvcworker/internal/notifications"
	"rvcworker/internal/pipeline"
	"rvcworker/internal/registry"
	"rvcworker/internal/runner"
	"rvcworker/internal/services"
)

type commandStep struct {
	name string
	run  func(context.Context) (runner.Result, error)
}

func (m *Manager) runTraining(ctx context.Context, j job.Job) (Outcome, error) {
	req := j.Training
	model := req.ModelName
	run := m.begin(ctx, j)
	m.notifier.NotifyModelStatus(run.ctx, model, notifications.StatusInProgress, nil)

	datasetDir := filepath.Join(m.cfg.Paths.SourcesDir, model)
	if _, err := m.download(run, req.SourceURL, datasetDir); err != nil {
		return m.fail(run, err)
	}

	steps := []commandStep{
		{pipeline.StagePrepare, func(ctx context.Context) (runner.Result, error) {
			return m.stages.Prepare(ctx, m.params.Prepare(model, datasetDir))
		}},
		{pipeline.StageExtract, func(ctx context.Context) (runner.Result, error) {
			return m.stages.ExtractFeatures(ctx, m.params.Extract(model))
		}},
		{pipeline.StageTrain, func(ctx context.Context) (runner.Result, error) {
			return m.stages.Train(ctx, m.params.Train(model, req.TotalEpochs))
		}},
		{pipeline.StageIndex, func(ctx context.Context) (runner.Result, error) {
			return m.stages.BuildIndex(ctx, m.params.Index(model))
		}},
	}
	for _, step := range steps {
		if err := m.runCommand(run, step.name, step.run); err != nil {
			return m.fail(run, err)
		}
	}

	m.registerTrained(run, model)

	epochs := req.TotalEpochs
	m.notifier.NotifyModelStatus(run.ctx, model, notifications.StatusCompleted, &epochs)
	run.outcome.Status = history.StatusCompleted
	m.finish(run, history.Outcome{})
	run.logger.Info("training completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.Int("total_epochs", epochs),
		logging.Duration("duration", time.Since(run.outcome.StartedAt)),
	)
	return run.outcome, nil
}

// download fetches rawURL into dir, creating it when absent.
func (m *Manager) download(run *jobRun, rawURL, dir string) (string, error) {
	ctx := m.enter(run, StageDownload)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrDownload, StageDownload, "create directory", dir, err)
	}
	path, err := m.storage.Fetch(ctx, rawURL, dir)
	if err != nil {
		return "", err
	}
	logging.WithContext(ctx, m.logger).Info("download completed",
		logging.String(logging.FieldEventType, "download_complete"),
		logging.String("path", path),
	)
	return path, nil
}

// registerTrained records the newest weights and index the training entrypoint
// wrote for model. The registry is a cache for inference, so problems here are
// logged without failing a job whose stages all succeeded.
func (m *Manager) registerTrained(run *jobRun, model string) {
	ctx := m.enter(run, StageRegister)
	logger := logging.WithContext(ctx, m.logger)
	dir := filepath.Join(m.cfg.Pipeline.ArtifactsDir, model)

	update := registry.Update{
		WeightsPath: newestWithExt(dir, ".pth"),
		IndexPath:   newestWithExt(dir, ".index"),
	}
	if update.WeightsPath == "" && update.IndexPath == "" {
		logging.WarnWithContext(logger, "no trained artifacts found", "artifacts_missing",
			logging.String("artifacts_dir", dir),
			logging.String(logging.FieldImpact, "inference will download the model from job URLs"),
			logging.String(logging.FieldErrorHint, "check pipeline.artifacts_dir matches the entrypoint output"),
		)
		return
	}
	if err := m.registry.Merge(ctx, model, update); err != nil {
		logging.WarnWithContext(logger, "registry update failed", "registry_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "inference will download the model from job URLs"),
			logging.String(logging.FieldErrorHint, "check paths.registry_path permissions"),
		)
		return
	}
	logger.Info("trained model registered",
		logging.String(logging.FieldEventType, "model_registered"),
		logging.String("weights_path", update.WeightsPath),
		logging.String("index_path", update.IndexPath),
	)
}

// newestWithExt returns the most recently modified regular file in dir (one
// level deep) whose name ends in ext.
func newestWithExt(dir, ext string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var (
		best    string
		bestMod time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = filepath.Join(dir, entry.Name())
			bestMod = info.ModTime()
		}
	}
	return best
}
