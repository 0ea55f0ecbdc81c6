package workflow_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"rvcworker/internal/config"
	"rvcworker/internal/history"
	"rvcworker/internal/job"
	"rvcworker/internal/logging"
	"rvcworker/internal/notifications"
	"rvcworker/internal/pipeline"
	"rvcworker/internal/registry"
	"rvcworker/internal/runner"
	"rvcworker/internal/services"
	"rvcworker/internal/storage"
	"rvcworker/internal/testsupport"
	"rvcworker/internal/workflow"
)

type trace struct {
	mu     sync.Mutex
	events []string
}

func (t *trace) add(event string) {
	t.mu.Lock()
	t.events = append(t.events, event)
	t.mu.Unlock()
}

func (t *trace) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

type scriptedExecutor struct {
	trace     *trace
	exitCodes map[string]int
	hook      func(subcommand string) error

	mu   sync.Mutex
	argv [][]string
}

func (e *scriptedExecutor) Run(ctx context.Context, argv []string) (runner.Result, error) {
	e.mu.Lock()
	e.argv = append(e.argv, append([]string(nil), argv...))
	e.mu.Unlock()

	sub := argv[2]
	e.trace.add("run:" + sub)
	if e.hook != nil {
		if err := e.hook(sub); err != nil {
			return runner.Result{}, err
		}
	}
	if code := e.exitCodes[sub]; code != 0 {
		return runner.Result{ExitCode: code, Stderr: "loading\n" + sub + " exploded\n"}, nil
	}
	if sub == "infer" {
		for i, arg := range argv {
			if arg == "--output_path" && i+1 < len(argv) {
				if err := os.WriteFile(argv[i+1], []byte("audio"), 0o644); err != nil {
					return runner.Result{}, err
				}
			}
		}
	}
	return runner.Result{}, nil
}

func (e *scriptedExecutor) calls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]string(nil), e.argv...)
}

type fakeStorage struct {
	trace    *trace
	fetchErr map[string]error
	storeErr error
}

func (s *fakeStorage) Fetch(_ context.Context, rawURL, dest string) (string, error) {
	name := storage.FileName(rawURL)
	s.trace.add("fetch:" + name)
	if err := s.fetchErr[name]; err != nil {
		return "", err
	}
	path := filepath.Join(dest, name)
	if err := os.WriteFile(path, []byte(rawURL), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (s *fakeStorage) Store(_ context.Context, localPath, key string) (string, error) {
	s.trace.add("store:" + key)
	if s.storeErr != nil {
		return "", s.storeErr
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	return "https://test-bucket.s3.amazonaws.com/" + key, nil
}

type recordingNotifier struct {
	trace  *trace
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) NotifyModelStatus(_ context.Context, model, status string, epoch *int) {
	n.trace.add("notify:" + status)
	n.mu.Lock()
	n.events = append(n.events, notifications.Event{EventType: notifications.EventModelStatus, ModelName: model, Status: status, Epoch: epoch})
	n.mu.Unlock()
}

func (n *recordingNotifier) NotifyResultSaved(_ context.Context, fileID, resultURL string) {
	n.trace.add("notify:" + notifications.EventResultSaved)
	n.mu.Lock()
	n.events = append(n.events, notifications.Event{EventType: notifications.EventResultSaved, FileID: fileID, ResultURL: resultURL})
	n.mu.Unlock()
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

type harness struct {
	cfg      *config.Config
	trace    *trace
	exec     *scriptedExecutor
	storage  *fakeStorage
	notifier *recordingNotifier
	registry *registry.Registry
	history  *history.Store
	manager  *workflow.Manager
}

func newHarness(t *testing.T, notifier notifications.Service) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	tr := &trace{}
	h := &harness{
		cfg:      cfg,
		trace:    tr,
		exec:     &scriptedExecutor{trace: tr, exitCodes: map[string]int{}},
		storage:  &fakeStorage{trace: tr, fetchErr: map[string]error{}},
		notifier: &recordingNotifier{trace: tr},
		registry: testsupport.MustNewRegistry(t, cfg),
		history:  testsupport.MustOpenHistory(t, cfg),
	}
	if notifier == nil {
		notifier = h.notifier
	}
	mgr, err := workflow.NewManager(cfg, workflow.Dependencies{
		Stages:   pipeline.NewFromConfig(cfg, h.exec),
		Registry: h.registry,
		Storage:  h.storage,
		Notifier: notifier,
		History:  h.history,
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h.manager = mgr
	return h
}

func (h *harness) pipeline() *pipeline.Pipeline {
	return pipeline.NewFromConfig(h.cfg, nil)
}

func trainingJob() job.Job {
	return job.Job{
		Kind:          job.KindTraining,
		CorrelationID: "corr-train",
		Training: &job.Training{
			ModelName:   "m1",
			SourceURL:   "https://test-bucket.s3.amazonaws.com/datasets/src.zip",
			TotalEpochs: 100,
		},
	}
}

func inferenceJob() job.Job {
	return job.Job{
		Kind:          job.KindInference,
		CorrelationID: "corr-infer",
		Inference: &job.Inference{
			ModelName:  "m2",
			InputURL:   "https://test-bucket.s3.amazonaws.com/uploads/in.wav",
			FileID:     "f-1",
			WeightsURL: "https://test-bucket.s3.amazonaws.com/models/m2.pth",
			IndexURL:   "https://test-bucket.s3.amazonaws.com/models/m2.index",
		},
	}
}

func TestTrainingHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	artifacts := filepath.Join(h.cfg.Pipeline.ArtifactsDir, "m1")
	testsupport.WriteFile(t, filepath.Join(artifacts, "m1.pth"), 64)
	testsupport.WriteFile(t, filepath.Join(artifacts, "added_m1.index"), 64)

	outcome, err := h.manager.Dispatch(context.Background(), trainingJob())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Status != history.StatusCompleted || outcome.Err != nil {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	wantTrace := []string{
		"notify:IN_PROGRESS",
		"fetch:src.zip",
		"run:preprocess",
		"run:extract",
		"run:train",
		"run:index",
		"notify:COMPLETED",
	}
	if got := h.trace.list(); !reflect.DeepEqual(got, wantTrace) {
		t.Fatalf("trace mismatch\n got: %v\nwant: %v", got, wantTrace)
	}

	datasetDir := filepath.Join(h.cfg.Paths.SourcesDir, "m1")
	if _, err := os.Stat(filepath.Join(datasetDir, "src.zip")); err != nil {
		t.Fatalf("expected dataset in per-model directory: %v", err)
	}

	p := h.pipeline()
	params := pipeline.HyperparametersFromConfig(h.cfg.Pipeline)
	wantArgv := [][]string{
		p.PrepareArgs(params.Prepare("m1", datasetDir)),
		p.ExtractArgs(params.Extract("m1")),
		p.TrainArgs(params.Train("m1", 100)),
		p.IndexArgs(params.Index("m1")),
	}
	if got := h.exec.calls(); !reflect.DeepEqual(got, wantArgv) {
		t.Fatalf("argv mismatch\n got: %v\nwant: %v", got, wantArgv)
	}
	if !strings.Contains(strings.Join(wantArgv[2], " "), "--batch_size 6 ") {
		t.Fatalf("expected configured batch size in train argv: %v", wantArgv[2])
	}

	h.notifier.mu.Lock()
	last := h.notifier.events[len(h.notifier.events)-1]
	h.notifier.mu.Unlock()
	if last.Epoch == nil || *last.Epoch != 100 {
		t.Fatalf("expected completion event with epoch 100, got %+v", last)
	}

	record, ok, err := h.registry.Get(context.Background(), "m1")
	if err != nil || !ok {
		t.Fatalf("expected trained model registered: ok=%v err=%v", ok, err)
	}
	if record.WeightsPath != filepath.Join(artifacts, "m1.pth") || record.IndexPath != filepath.Join(artifacts, "added_m1.index") {
		t.Fatalf("unexpected registry record: %+v", record)
	}

	stored, err := h.history.Get(context.Background(), outcome.JobID)
	if err != nil {
		t.Fatalf("history Get: %v", err)
	}
	if stored.Status != history.StatusCompleted || stored.CorrelationID != "corr-train" {
		t.Fatalf("unexpected history row: %+v", stored)
	}
	runs, err := h.history.StageRuns(context.Background(), outcome.JobID)
	if err != nil {
		t.Fatalf("StageRuns: %v", err)
	}
	if len(runs) != 4 {
		t.Fatalf("expected 4 stage runs, got %d", len(runs))
	}
}

func TestTrainingPrepareFailureShortCircuits(t *testing.T) {
	h := newHarness(t, nil)
	h.exec.exitCodes["preprocess"] = 1

	outcome, err := h.manager.Dispatch(context.Background(), trainingJob())
	if err != nil {
		t.Fatalf("stage failure must not be returned as an error: %v", err)
	}
	if outcome.Status != history.StatusFailed || outcome.Stage != pipeline.StagePrepare {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if !errors.Is(outcome.Err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", outcome.Err)
	}
	if !strings.Contains(outcome.Err.Error(), "preprocess exploded") {
		t.Fatalf("expected stderr tail in error, got %v", outcome.Err)
	}

	wantTrace := []string{"notify:IN_PROGRESS", "fetch:src.zip", "run:preprocess", "notify:FAILED"}
	if got := h.trace.list(); !reflect.DeepEqual(got, wantTrace) {
		t.Fatalf("trace mismatch\n got: %v\nwant: %v", got, wantTrace)
	}

	stored, err := h.history.Get(context.Background(), outcome.JobID)
	if err != nil {
		t.Fatalf("history Get: %v", err)
	}
	if stored.Status != history.StatusFailed || stored.ErrorKind != "external_tool" || stored.Stage != pipeline.StagePrepare {
		t.Fatalf("unexpected history row: %+v", stored)
	}
}

func TestTrainingDownloadFailureRunsNoStages(t *testing.T) {
	h := newHarness(t, nil)
	h.storage.fetchErr["src.zip"] = services.Wrap(services.ErrDownload, "download", "get object", "datasets/src.zip", errors.New("no such key"))

	outcome, err := h.manager.Dispatch(context.Background(), trainingJob())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Status != history.StatusFailed || !errors.Is(outcome.Err, services.ErrDownload) {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if calls := h.exec.calls(); len(calls) != 0 {
		t.Fatalf("expected no stage invocations, got %v", calls)
	}
}

func TestTrainingWithoutArtifactsStillCompletes(t *testing.T) {
	h := newHarness(t, nil)

	outcome, err := h.manager.Dispatch(context.Background(), trainingJob())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Status != history.StatusCompleted {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if _, ok, _ := h.registry.Get(context.Background(), "m1"); ok {
		t.Fatal("expected no registry entry without trained artifacts")
	}
}

func TestInferenceDownloadsMissingModel(t *testing.T) {
	h := newHarness(t, nil)

	outcome, err := h.manager.Dispatch(context.Background(), inferenceJob())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Status != history.StatusCompleted {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	wantURL := "https://test-bucket.s3.amazonaws.com/results/f-1.wav"
	if outcome.ResultURL != wantURL {
		t.Fatalf("expected result url %q, got %q", wantURL, outcome.ResultURL)
	}

	wantTrace := []string{
		"fetch:in.wav",
		"fetch:m2.pth",
		"fetch:m2.index",
		"run:infer",
		"store:results/f-1.wav",
		"notify:save_result",
	}
	if got := h.trace.list(); !reflect.DeepEqual(got, wantTrace) {
		t.Fatalf("trace mismatch\n got: %v\nwant: %v", got, wantTrace)
	}

	modelDir := filepath.Join(h.cfg.Paths.ModelsDir, "m2")
	record, ok, err := h.registry.Get(context.Background(), "m2")
	if err != nil || !ok {
		t.Fatalf("expected registry entry after download: ok=%v err=%v", ok, err)
	}
	want := registry.Record{WeightsPath: filepath.Join(modelDir, "m2.pth"), IndexPath: filepath.Join(modelDir, "m2.index")}
	if record != want {
		t.Fatalf("unexpected registry record: %+v", record)
	}

	wantArgv := h.pipeline().InferArgs(pipeline.InferParams{
		InputPath:    filepath.Join(h.cfg.Paths.FilesDir, "in.wav"),
		OutputPath:   filepath.Join(h.cfg.Paths.OutputDir, "f-1.wav"),
		WeightsPath:  want.WeightsPath,
		IndexPath:    want.IndexPath,
		ExportFormat: "WAV",
	})
	calls := h.exec.calls()
	if len(calls) != 1 || !reflect.DeepEqual(calls[0], wantArgv) {
		t.Fatalf("infer argv mismatch\n got: %v\nwant: %v", calls, wantArgv)
	}

	h.notifier.mu.Lock()
	event := h.notifier.events[0]
	h.notifier.mu.Unlock()
	if event.FileID != "f-1" || event.ResultURL != wantURL {
		t.Fatalf("unexpected result event: %+v", event)
	}
}

func TestInferenceUsesRegisteredModel(t *testing.T) {
	h := newHarness(t, nil)
	weights := filepath.Join(h.cfg.Paths.ModelsDir, "m2", "cached.pth")
	index := filepath.Join(h.cfg.Paths.ModelsDir, "m2", "cached.index")
	testsupport.WriteFile(t, weights, 64)
	testsupport.WriteFile(t, index, 64)
	if err := h.registry.Merge(context.Background(), "m2", registry.Update{WeightsPath: weights, IndexPath: index}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	j := inferenceJob()
	j.Inference.ExportFormat = "MP3"
	outcome, err := h.manager.Dispatch(context.Background(), j)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Status != history.StatusCompleted {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	wantTrace := []string{"fetch:in.wav", "run:infer", "store:results/f-1.mp3", "notify:save_result"}
	if got := h.trace.list(); !reflect.DeepEqual(got, wantTrace) {
		t.Fatalf("trace mismatch\n got: %v\nwant: %v", got, wantTrace)
	}
	argv := strings.Join(h.exec.calls()[0], " ")
	if !strings.Contains(argv, "--pth_path "+weights) || !strings.Contains(argv, "--export_format MP3") {
		t.Fatalf("expected registered weights and requested format, got %s", argv)
	}
}

func TestInferenceWithoutModelSourceFails(t *testing.T) {
	h := newHarness(t, nil)
	j := inferenceJob()
	j.Inference.WeightsURL = ""

	outcome, err := h.manager.Dispatch(context.Background(), j)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Status != history.StatusFailed || !errors.Is(outcome.Err, services.ErrValidation) {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if calls := h.exec.calls(); len(calls) != 0 {
		t.Fatalf("infer must not run without a model, got %v", calls)
	}
}

func TestInferenceModelDownloadFailureAbandonsJob(t *testing.T) {
	h := newHarness(t, nil)
	h.storage.fetchErr["m2.pth"] = services.Wrap(services.ErrDownload, "download", "get object", "models/m2.pth", errors.New("denied"))

	outcome, err := h.manager.Dispatch(context.Background(), inferenceJob())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Status != history.StatusFailed || !errors.Is(outcome.Err, services.ErrDownload) {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if calls := h.exec.calls(); len(calls) != 0 {
		t.Fatalf("infer must not run, got %v", calls)
	}
	if _, ok, _ := h.registry.Get(context.Background(), "m2"); ok {
		t.Fatal("failed download must not be registered")
	}
}

func TestInferenceUploadFailureIsPartial(t *testing.T) {
	h := newHarness(t, nil)
	h.storage.storeErr = services.Wrap(services.ErrUpload, "upload", "put object", "results/f-1.wav", errors.New("access denied"))

	outcome, err := h.manager.Dispatch(context.Background(), inferenceJob())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Status != history.StatusPartial || !errors.Is(outcome.Err, services.ErrUpload) {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	for _, event := range h.trace.list() {
		if strings.HasPrefix(event, "notify:") {
			t.Fatalf("no callback expected after failed upload, got %s", event)
		}
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Paths.OutputDir, "f-1.wav")); err != nil {
		t.Fatalf("expected output kept on disk: %v", err)
	}
}

func TestCallbackExhaustionDoesNotAffectJob(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithCallbackURL(server.URL, "s3cret"))
	notifier := notifications.NewService(cfg, logging.NewNop())
	h := newHarness(t, notifier)

	outcome, err := h.manager.Dispatch(context.Background(), inferenceJob())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Status != history.StatusCompleted {
		t.Fatalf("callback failures must not change the job outcome: %+v", outcome)
	}
	if got := hits.Load(); got != 5 {
		t.Fatalf("expected exactly 5 callback attempts, got %d", got)
	}
}

func TestDispatchInterruptedReturnsError(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.exec.hook = func(sub string) error {
		if sub == "extract" {
			cancel()
			return services.Wrap(services.ErrExternalTool, sub, "run", "cancelled", context.Canceled)
		}
		return nil
	}

	outcome, err := h.manager.Dispatch(ctx, trainingJob())
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	for _, event := range h.trace.list() {
		if event == "notify:FAILED" {
			t.Fatal("interrupted jobs are redelivered, not reported as failed")
		}
	}
	stored, getErr := h.history.Get(context.Background(), outcome.JobID)
	if getErr != nil {
		t.Fatalf("history Get: %v", getErr)
	}
	if stored.Status != history.StatusFailed || stored.ErrorMessage != history.InterruptedReason {
		t.Fatalf("unexpected history row: %+v", stored)
	}
}

func TestDispatchRejectsUnknownKind(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.manager.Dispatch(context.Background(), job.Job{Kind: "resample"})
	if !errors.Is(err, job.ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestStatusTracksOutcomes(t *testing.T) {
	h := newHarness(t, nil)
	h.exec.exitCodes["index"] = 2

	if _, err := h.manager.Dispatch(context.Background(), trainingJob()); err != nil {
		t.Fatalf("Dispatch training: %v", err)
	}
	if _, err := h.manager.Dispatch(context.Background(), inferenceJob()); err != nil {
		t.Fatalf("Dispatch inference: %v", err)
	}

	status := h.manager.Status()
	if status.Current != nil {
		t.Fatalf("expected no running job, got %+v", status.Current)
	}
	if status.Processed != 2 || status.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", status)
	}
	if !strings.Contains(status.LastError, "status 2") {
		t.Fatalf("expected last error from index stage, got %q", status.LastError)
	}
	if status.LastJob == nil || status.LastJob.Kind != string(job.KindInference) {
		t.Fatalf("unexpected last job: %+v", status.LastJob)
	}
}

func TestNewManagerRequiresDependencies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := workflow.NewManager(cfg, workflow.Dependencies{}, logging.NewNop()); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}
