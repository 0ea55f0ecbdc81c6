package workflow

import (
	"context"
	"time"

	"rvcworker/internal/history"
	"rvcworker/internal/pipeline"
	"rvcworker/internal/registry"
	"rvcworker/internal/runner"
)

// Stages is the external command surface the manager drives.
type Stages interface {
	Prepare(ctx context.Context, params pipeline.PrepareParams) (runner.Result, error)
	ExtractFeatures(ctx context.Context, params pipeline.ExtractParams) (runner.Result, error)
	Train(ctx context.Context, params pipeline.TrainParams) (runner.Result, error)
	BuildIndex(ctx context.Context, params pipeline.IndexParams) (runner.Result, error)
	Infer(ctx context.Context, params pipeline.InferParams) (runner.Result, error)
}

// ArtifactRegistry resolves and records local model artifacts.
type ArtifactRegistry interface {
	Get(ctx context.Context, modelName string) (registry.Record, bool, error)
	Merge(ctx context.Context, modelName string, update registry.Update) error
}

// Ledger records job progress. *history.Store satisfies it.
type Ledger interface {
	Start(ctx context.Context, job history.Job) (*history.Job, error)
	SetStage(ctx context.Context, id, stage string) error
	RecordStage(ctx context.Context, run history.StageRun) error
	Finish(ctx context.Context, id string, status history.Status, outcome history.Outcome) error
}

// Stage names for the steps that do not shell out.
const (
	StageDownload = "download"
	StageResolve  = "resolve"
	StageRegister = "register"
	StageUpload   = "upload"
)

// Outcome summarizes a dispatched job.
type Outcome struct {
	JobID     string
	Kind      string
	ModelName string
	Status    history.Status
	// Stage is the last stage the job entered.
	Stage     string
	ResultURL string
	// Err is the cause of a failed or partial job.
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Activity describes the job currently being processed.
type Activity struct {
	JobID         string
	Kind          string
	ModelName     string
	CorrelationID string
	Stage         string
	StartedAt     time.Time
}

type nopLedger struct{}

func (nopLedger) Start(_ context.Context, job history.Job) (*history.Job, error) { return &job, nil }
func (nopLedger) SetStage(context.Context, string, string) error                 { return nil }
func (nopLedger) RecordStage(context.Context, history.StageRun) error            { return nil }
func (nopLedger) Finish(context.Context, string, history.Status, history.Outcome) error {
	return nil
}
