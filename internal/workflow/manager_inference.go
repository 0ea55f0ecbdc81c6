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
	"rvcworker/internal/pipeline"
	"rvcworker/internal/registry"
	"rvcworker/internal/runner"
	"rvcworker/internal/services"
	"rvcworker/internal/storage"
)

func (m *Manager) runInference(ctx context.Context, j job.Job) (Outcome, error) {
	req := j.Inference
	run := m.begin(ctx, j)

	inputPath, err := m.download(run, req.InputURL, m.cfg.Paths.FilesDir)
	if err != nil {
		return m.fail(run, err)
	}

	model, err := m.resolveModel(run, req)
	if err != nil {
		return m.fail(run, err)
	}

	format := req.ExportFormat
	if format == "" {
		format = m.params.ExportFormat
	}
	outputName := req.FileID + "." + strings.ToLower(format)
	outputPath := filepath.Join(m.cfg.Paths.OutputDir, outputName)
	if err := os.MkdirAll(m.cfg.Paths.OutputDir, 0o755); err != nil {
		return m.fail(run, services.Wrap(services.ErrConfiguration, pipeline.StageInfer, "create output directory", m.cfg.Paths.OutputDir, err))
	}

	infer := func(ctx context.Context) (runner.Result, error) {
		return m.stages.Infer(ctx, pipeline.InferParams{
			InputPath:    inputPath,
			OutputPath:   outputPath,
			WeightsPath:  model.WeightsPath,
			IndexPath:    model.IndexPath,
			ExportFormat: format,
		})
	}
	if err := m.runCommand(run, pipeline.StageInfer, infer); err != nil {
		return m.fail(run, err)
	}

	return m.deliver(run, req.FileID, outputPath, outputName)
}

// resolveModel returns local artifacts for the job's model, downloading the
// missing ones from the job's URLs and merging them into the registry.
func (m *Manager) resolveModel(run *jobRun, req *job.Inference) (registry.Record, error) {
	ctx := m.enter(run, StageResolve)
	logger := logging.WithContext(ctx, m.logger)

	record, found, err := m.registry.Get(ctx, req.ModelName)
	if err != nil {
		logging.WarnWithContext(logger, "registry read failed", "registry_read_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "model artifacts will be downloaded again"),
			logging.String(logging.FieldErrorHint, "check paths.registry_path permissions"),
		)
		record, found = registry.Record{}, false
	}
	haveWeights := found && fileExists(record.WeightsPath)
	haveIndex := found && fileExists(record.IndexPath)
	if haveWeights && (haveIndex || req.IndexURL == "") {
		logger.Debug("model resolved from registry",
			logging.String("weights_path", record.WeightsPath),
			logging.String("index_path", record.IndexPath),
		)
		return record, nil
	}

	modelDir := filepath.Join(m.cfg.Paths.ModelsDir, req.ModelName)
	var update registry.Update
	if !haveWeights {
		if req.WeightsURL == "" {
			return registry.Record{}, services.Wrap(services.ErrValidation, StageResolve, "resolve model",
				"model is not registered and the job has no pth_aws_url", nil)
		}
		path, err := m.download(run, req.WeightsURL, modelDir)
		if err != nil {
			return registry.Record{}, err
		}
		update.WeightsPath = path
		record.WeightsPath = path
	}
	if !haveIndex && req.IndexURL != "" {
		path, err := m.download(run, req.IndexURL, modelDir)
		if err != nil {
			return registry.Record{}, err
		}
		update.IndexPath = path
		record.IndexPath = path
	}

	ctx = m.enter(run, StageResolve)
	if err := m.registry.Merge(ctx, req.ModelName, update); err != nil {
		logging.WarnWithContext(logger, "registry update failed", "registry_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next job for this model will download it again"),
			logging.String(logging.FieldErrorHint, "check paths.registry_path permissions"),
		)
	} else {
		logger.Info("model artifacts registered",
			logging.String(logging.FieldEventType, "model_registered"),
			logging.String("weights_path", record.WeightsPath),
			logging.String("index_path", record.IndexPath),
		)
	}
	return record, nil
}

// deliver uploads the inference output and reports where it was stored.
// Delivery problems leave the job partial rather than failed.
func (m *Manager) deliver(run *jobRun, fileID, outputPath, outputName string) (Outcome, error) {
	ctx := m.enter(run, StageUpload)
	logger := logging.WithContext(ctx, m.logger)

	key := storage.ResultKey(m.cfg.Storage.ResultPrefix, outputName)
	resultURL, err := m.storage.Store(ctx, outputPath, key)
	if err != nil {
		if cause := context.Cause(run.ctx); cause != nil {
			return m.fail(run, err)
		}
		run.outcome.Status = history.StatusPartial
		run.outcome.Err = err
		logging.WarnWithContext(logger, "result upload failed", "upload_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.String("output_path", outputPath),
			logging.String(logging.FieldImpact, "inference output stays on local disk and is not reported"),
			logging.String(logging.FieldErrorHint, failureHint(services.Kind(err))),
		)
		m.finish(run, history.Outcome{ErrorKind: services.Kind(err), ErrorMessage: err.Error()})
		return run.outcome, nil
	}

	run.outcome.ResultURL = resultURL
	m.notifier.NotifyResultSaved(ctx, fileID, resultURL)
	run.outcome.Status = history.StatusCompleted
	m.finish(run, history.Outcome{ResultURL: resultURL})
	run.logger.Info("inference completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("result_url", resultURL),
		logging.Duration("duration", time.Since(run.outcome.StartedAt)),
	)
	return run.outcome, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
