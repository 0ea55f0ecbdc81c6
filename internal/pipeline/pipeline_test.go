package pipeline_test

import (
	"context"
	"reflect"
	"testing"

	"rvcworker/internal/config"
	"rvcworker/internal/pipeline"
	"rvcworker/internal/runner"
	"rvcworker/internal/services"
)

type recordingExecutor struct {
	calls  [][]string
	stages []string
	result runner.Result
}

func (r *recordingExecutor) Run(ctx context.Context, argv []string) (runner.Result, error) {
	r.calls = append(r.calls, argv)
	stage, _ := services.StageFromContext(ctx)
	r.stages = append(r.stages, stage)
	return r.result, nil
}

func TestStageArgvUsesDocumentedDefaults(t *testing.T) {
	exec := &recordingExecutor{}
	p := pipeline.New("python", "main.py", exec)
	h := pipeline.DefaultHyperparameters()
	ctx := context.Background()

	if _, err := p.Prepare(ctx, h.Prepare("m1", "/data/sources/m1")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.ExtractFeatures(ctx, h.Extract("m1")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Train(ctx, h.Train("m1", 100)); err != nil {
		t.Fatal(err)
	}
	if _, err := p.BuildIndex(ctx, h.Index("m1")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Infer(ctx, pipeline.InferParams{
		InputPath:    "/data/files/in.wav",
		OutputPath:   "/data/output/f1.wav",
		WeightsPath:  "/data/models/m1/m1.pth",
		IndexPath:    "/data/models/m1/m1.index",
		ExportFormat: "WAV",
	}); err != nil {
		t.Fatal(err)
	}

	want := [][]string{
		{"python", "main.py", "preprocess", "--model_name", "m1", "--dataset_path", "/data/sources/m1", "--sampling_rate", "40000"},
		{"python", "main.py", "extract", "--model_name", "m1", "--rvc_version", "v2", "--f0method", "rmvpe", "--hop_length", "128", "--sampling_rate", "40000"},
		{"python", "main.py", "train", "--model_name", "m1", "--rvc_version", "v2",
			"--save_every_epoch", "50", "--save_only_latest", "False", "--save_every_weights", "True",
			"--total_epoch", "100", "--sampling_rate", "40000", "--batch_size", "6", "--gpu", "0",
			"--pitch_guidance", "True", "--overtraining_detector", "False", "--overtraining_threshold", "50",
			"--pretrained", "True", "--custom_pretrained", "False", "--g_pretrained", "", "--d_pretrained", ""},
		{"python", "main.py", "index", "--model_name", "m1", "--rvc_version", "v2"},
		{"python", "main.py", "infer", "--input_path", "/data/files/in.wav", "--output_path", "/data/output/f1.wav",
			"--pth_path", "/data/models/m1/m1.pth", "--index_path", "/data/models/m1/m1.index", "--export_format", "WAV"},
	}
	if !reflect.DeepEqual(exec.calls, want) {
		t.Fatalf("unexpected argv:\n got %q\nwant %q", exec.calls, want)
	}
	wantStages := []string{pipeline.StagePrepare, pipeline.StageExtract, pipeline.StageTrain, pipeline.StageIndex, pipeline.StageInfer}
	if !reflect.DeepEqual(exec.stages, wantStages) {
		t.Fatalf("unexpected stage context: %v", exec.stages)
	}
}

func TestStageReturnsResultUnchanged(t *testing.T) {
	exec := &recordingExecutor{result: runner.Result{ExitCode: 7, Stderr: "boom"}}
	p := pipeline.New("", "", exec)
	result, err := p.Prepare(context.Background(), pipeline.DefaultHyperparameters().Prepare("m", "/d"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 7 || result.Stderr != "boom" {
		t.Fatalf("expected result passthrough, got %+v", result)
	}
	if exec.calls[0][0] != "python" || exec.calls[0][1] != "main.py" {
		t.Fatalf("expected default interpreter and script, got %q", exec.calls[0][:2])
	}
}

func TestHyperparametersFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.BatchSize = 12
	cfg.Pipeline.GPU = 1
	cfg.Pipeline.F0Method = "crepe"
	cfg.Pipeline.CustomPretrained = true
	cfg.Pipeline.GPretrained = "/pre/G.pth"
	cfg.Pipeline.DPretrained = "/pre/D.pth"
	cfg.Pipeline.SamplingRate = 0

	h := pipeline.HyperparametersFromConfig(cfg.Pipeline)
	p := pipeline.NewFromConfig(&cfg, &recordingExecutor{})
	args := p.TrainArgs(h.Train("voice", 20))

	flags := map[string]string{}
	for i := 3; i+1 < len(args); i += 2 {
		flags[args[i]] = args[i+1]
	}
	checks := map[string]string{
		"--batch_size":        "12",
		"--gpu":               "1",
		"--sampling_rate":     "40000",
		"--total_epoch":       "20",
		"--custom_pretrained": "True",
		"--g_pretrained":      "/pre/G.pth",
		"--d_pretrained":      "/pre/D.pth",
	}
	for flag, want := range checks {
		if flags[flag] != want {
			t.Errorf("%s = %q, want %q", flag, flags[flag], want)
		}
	}
	if got := h.Extract("voice").F0Method; got != "crepe" {
		t.Fatalf("expected f0 method from config, got %q", got)
	}
}
