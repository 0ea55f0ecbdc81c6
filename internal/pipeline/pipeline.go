package pipeline

import (
	"context"
	"strconv"

	"rvcworker/internal/config"
	"rvcworker/internal/runner"
	"rvcworker/internal/services"
)

// Stage names used in logs, history rows, and error context.
const (
	StagePrepare = "prepare"
	StageExtract = "extract"
	StageTrain   = "train"
	StageIndex   = "index"
	StageInfer   = "infer"
)

// Pipeline maps stage parameters onto the external entrypoint's command line
// and hands them to an Executor. Results are returned unchanged.
type Pipeline struct {
	python string
	script string
	exec   runner.Executor
}

// New builds a Pipeline invoking "<python> <script> <subcommand> ...".
func New(python, script string, exec runner.Executor) *Pipeline {
	if python == "" {
		python = "python"
	}
	if script == "" {
		script = "main.py"
	}
	return &Pipeline{python: python, script: script, exec: exec}
}

// NewFromConfig builds a Pipeline from the pipeline configuration section.
func NewFromConfig(cfg *config.Config, exec runner.Executor) *Pipeline {
	return New(cfg.Pipeline.PythonBinary, cfg.Pipeline.Script, exec)
}

// Prepare slices and resamples the dataset.
func (p *Pipeline) Prepare(ctx context.Context, params PrepareParams) (runner.Result, error) {
	return p.run(ctx, StagePrepare, p.PrepareArgs(params))
}

// ExtractFeatures computes pitch and embedding features.
func (p *Pipeline) ExtractFeatures(ctx context.Context, params ExtractParams) (runner.Result, error) {
	return p.run(ctx, StageExtract, p.ExtractArgs(params))
}

// Train runs model training.
func (p *Pipeline) Train(ctx context.Context, params TrainParams) (runner.Result, error) {
	return p.run(ctx, StageTrain, p.TrainArgs(params))
}

// BuildIndex generates the retrieval index for a trained model.
func (p *Pipeline) BuildIndex(ctx context.Context, params IndexParams) (runner.Result, error) {
	return p.run(ctx, StageIndex, p.IndexArgs(params))
}

// Infer converts one input file with a trained model.
func (p *Pipeline) Infer(ctx context.Context, params InferParams) (runner.Result, error) {
	return p.run(ctx, StageInfer, p.InferArgs(params))
}

// PrepareArgs returns the argv for the prepare stage.
func (p *Pipeline) PrepareArgs(params PrepareParams) []string {
	return p.argv("preprocess",
		"--model_name", params.ModelName,
		"--dataset_path", params.DatasetPath,
		"--sampling_rate", strconv.Itoa(params.SamplingRate),
	)
}

// ExtractArgs returns the argv for the feature extraction stage.
func (p *Pipeline) ExtractArgs(params ExtractParams) []string {
	return p.argv("extract",
		"--model_name", params.ModelName,
		"--rvc_version", params.RVCVersion,
		"--f0method", params.F0Method,
		"--hop_length", strconv.Itoa(params.HopLength),
		"--sampling_rate", strconv.Itoa(params.SamplingRate),
	)
}

// TrainArgs returns the argv for the training stage.
func (p *Pipeline) TrainArgs(params TrainParams) []string {
	return p.argv("train",
		"--model_name", params.ModelName,
		"--rvc_version", params.RVCVersion,
		"--save_every_epoch", strconv.Itoa(params.SaveEveryEpoch),
		"--save_only_latest", pyBool(params.SaveOnlyLatest),
		"--save_every_weights", pyBool(params.SaveEveryWeights),
		"--total_epoch", strconv.Itoa(params.TotalEpochs),
		"--sampling_rate", strconv.Itoa(params.SamplingRate),
		"--batch_size", strconv.Itoa(params.BatchSize),
		"--gpu", strconv.Itoa(params.GPU),
		"--pitch_guidance", pyBool(params.PitchGuidance),
		"--overtraining_detector", pyBool(params.OvertrainingDetector),
		"--overtraining_threshold", strconv.Itoa(params.OvertrainingThreshold),
		"--pretrained", pyBool(params.Pretrained),
		"--custom_pretrained", pyBool(params.CustomPretrained),
		"--g_pretrained", params.GPretrained,
		"--d_pretrained", params.DPretrained,
	)
}

// IndexArgs returns the argv for the index stage.
func (p *Pipeline) IndexArgs(params IndexParams) []string {
	return p.argv("index",
		"--model_name", params.ModelName,
		"--rvc_version", params.RVCVersion,
	)
}

// InferArgs returns the argv for the inference stage.
func (p *Pipeline) InferArgs(params InferParams) []string {
	return p.argv("infer",
		"--input_path", params.InputPath,
		"--output_path", params.OutputPath,
		"--pth_path", params.WeightsPath,
		"--index_path", params.IndexPath,
		"--export_format", params.ExportFormat,
	)
}

func (p *Pipeline) argv(subcommand string, flags ...string) []string {
	out := make([]string, 0, len(flags)+3)
	out = append(out, p.python, p.script, subcommand)
	return append(out, flags...)
}

func (p *Pipeline) run(ctx context.Context, stage string, argv []string) (runner.Result, error) {
	return p.exec.Run(services.WithStage(ctx, stage), argv)
}

// pyBool renders booleans the way the python entrypoint's argparse expects.
func pyBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
