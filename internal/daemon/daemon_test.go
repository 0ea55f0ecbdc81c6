package daemon_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"rvcworker/internal/consumer"
	"rvcworker/internal/daemon"
	"rvcworker/internal/logging"
	"rvcworker/internal/testsupport"
	"rvcworker/internal/workflow"
)

type blockingSource struct {
	started atomic.Bool
	stopped atomic.Bool
}

func (s *blockingSource) Run(ctx context.Context) error {
	s.started.Store(true)
	<-ctx.Done()
	s.stopped.Store(true)
	return nil
}

func (s *blockingSource) Stats() consumer.Stats { return consumer.Stats{Queue: "rvc-test"} }

type idleWorkflow struct{}

func (idleWorkflow) Status() workflow.StatusSummary { return workflow.StatusSummary{} }

func newDaemon(t *testing.T, source daemon.JobSource) *daemon.Daemon {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:0"
	d, err := daemon.New(cfg, daemon.Dependencies{
		Source:   source,
		Workflow: idleWorkflow{},
		History:  testsupport.MustOpenHistory(t, cfg),
		Registry: testsupport.MustNewRegistry(t, cfg),
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d
}

func TestDaemonStartStop(t *testing.T) {
	source := &blockingSource{}
	d := newDaemon(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if !source.stopped.Load() {
		t.Fatal("expected Stop to wait for the consumer to return")
	}
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockExcludesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	build := func() *daemon.Daemon {
		d, err := daemon.New(cfg, daemon.Dependencies{
			Source:   &blockingSource{},
			Workflow: idleWorkflow{},
			History:  testsupport.MustOpenHistory(t, cfg),
			Registry: testsupport.MustNewRegistry(t, cfg),
		}, logging.NewNop())
		if err != nil {
			t.Fatalf("daemon.New: %v", err)
		}
		return d
	}
	first, second := build(), build()

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop()
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected the lock to refuse a second instance")
	}
}

func TestDaemonDoneClosesWhenParentCancelled(t *testing.T) {
	source := &blockingSource{}
	d := newDaemon(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop after parent cancellation")
	}
	d.Stop()
}

func TestNewRequiresDependencies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemon.New(cfg, daemon.Dependencies{}, logging.NewNop()); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}
