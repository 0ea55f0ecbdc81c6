package runner_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"rvcworker/internal/logging"
	"rvcworker/internal/runner"
	"rvcworker/internal/services"
)

func TestRunDrainsLargeInterleavedOutput(t *testing.T) {
	script := `i=0
while [ $i -lt 2000 ]; do
  echo "stdout line $i ................................................................"
  echo "stderr line $i ................................................................" >&2
  i=$((i+1))
done
exit 3`

	var lines []string
	r := runner.New(logging.NewNop(), 0)
	r.OnStdout = func(line string) { lines = append(lines, line) }

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, err := r.Run(ctx, []string{"/bin/sh", "-c", script})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
	if result.Success() {
		t.Fatal("expected non-zero exit to be unsuccessful")
	}
	if len(result.Stderr) < 64*1024 {
		t.Fatalf("expected more than 64KB of stderr, got %d bytes", len(result.Stderr))
	}
	if !strings.Contains(result.Stderr, "stderr line 0 ") || !strings.Contains(result.Stderr, "stderr line 1999 ") {
		t.Fatal("stderr is missing first or last line")
	}
	if len(lines) != 2000 {
		t.Fatalf("expected 2000 forwarded stdout lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[1999], "stdout line 1999") {
		t.Fatalf("unexpected last stdout line %q", lines[1999])
	}
}

func TestRunReportsZeroExit(t *testing.T) {
	r := runner.New(nil, 0)
	result, err := r.Run(context.Background(), []string{"/bin/sh", "-c", "echo hello; echo warn >&2"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Stderr != "warn\n" {
		t.Fatalf("unexpected stderr %q", result.Stderr)
	}
}

func TestRunStartFailureIsExternalToolError(t *testing.T) {
	r := runner.New(nil, 0)
	_, err := r.Run(context.Background(), []string{"/nonexistent/rvc-binary"})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
}

func TestRunRejectsEmptyArgv(t *testing.T) {
	r := runner.New(nil, 0)
	if _, err := r.Run(context.Background(), nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRunTimeoutKillsProcessGroup(t *testing.T) {
	r := runner.New(nil, 200*time.Millisecond)
	started := time.Now()
	// The backgrounded sleep inherits the pipes; only a group kill closes them.
	_, err := r.Run(context.Background(), []string{"/bin/sh", "-c", "sleep 30 & sleep 30"})
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Fatalf("timeout did not stop the command promptly: %s", elapsed)
	}
}

func TestRunCancelledContext(t *testing.T) {
	r := runner.New(nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := r.Run(ctx, []string{"/bin/sh", "-c", "sleep 30"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, services.ErrTimeout) {
		t.Fatalf("cancellation must not be reported as timeout: %v", err)
	}
}

func TestStderrTail(t *testing.T) {
	result := runner.Result{Stderr: "a\nb\nc\nd\n"}
	if got := result.StderrTail(2); got != "c\nd" {
		t.Fatalf("unexpected tail %q", got)
	}
	if got := result.StderrTail(10); got != "a\nb\nc\nd" {
		t.Fatalf("unexpected full tail %q", got)
	}
	if got := (runner.Result{}).StderrTail(3); got != "" {
		t.Fatalf("expected empty tail, got %q", got)
	}
}
