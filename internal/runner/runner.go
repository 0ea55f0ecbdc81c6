package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"rvcworker/internal/logging"
	"rvcworker/internal/services"
)

// Result describes a finished external command. A non-zero ExitCode is a
// normal outcome for the caller to inspect.
type Result struct {
	ExitCode int
	Stderr   string
	Duration time.Duration
}

// Success reports whether the command exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// StderrTail returns the last n lines of captured stderr for log lines and
// error messages.
func (r Result) StderrTail(n int) string {
	trimmed := strings.TrimRight(r.Stderr, "\n")
	if trimmed == "" || n <= 0 {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Executor runs one command to completion.
type Executor interface {
	Run(ctx context.Context, argv []string) (Result, error)
}

// Runner launches external commands with no stdin, forwarding stdout lines as
// they arrive and accumulating stderr in full.
type Runner struct {
	// Dir is the working directory for commands; empty inherits the worker's.
	Dir string
	// Env is appended to the worker environment.
	Env []string
	// Timeout bounds a single command; zero disables it.
	Timeout time.Duration
	// OnStdout receives each stdout line. Nil logs at debug level.
	OnStdout func(line string)

	logger *slog.Logger
}

// New returns a Runner that logs through logger.
func New(logger *slog.Logger, timeout time.Duration) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{Timeout: timeout, logger: logger}
}

// Run executes argv and blocks until it exits. An error is returned only when
// the command cannot be started or is cancelled; exit status is reported in Result.
func (r *Runner) Run(ctx context.Context, argv []string) (Result, error) {
	stage, _ := services.StageFromContext(ctx)
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return Result{}, services.Wrap(services.ErrValidation, stage, "run command", "empty command line", nil)
	}
	logger := r.logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.WithContext(ctx, logger)

	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...) //nolint:gosec
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	cmd.Stdin = nil
	configureProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stderr pipe: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, stage, "start command", argv[0], err)
	}
	logger.Debug("command started",
		logging.String("binary", argv[0]),
		logging.Int("pid", cmd.Process.Pid),
		logging.String("args", strings.Join(argv[1:], " ")),
	)

	forward := r.OnStdout
	if forward == nil {
		forward = func(line string) {
			logger.Debug("command output", logging.String("line", line))
		}
	}

	var (
		wg        sync.WaitGroup
		errBuf    bytes.Buffer
		stdoutErr error
		stderrErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		stdoutErr = forwardLines(stdout, forward)
	}()
	go func() {
		defer wg.Done()
		_, stderrErr = io.Copy(&errBuf, stderr)
	}()

	// Both pipes must reach EOF before Wait closes them.
	wg.Wait()
	waitErr := cmd.Wait()
	result := Result{
		ExitCode: exitCode(cmd, waitErr),
		Stderr:   errBuf.String(),
		Duration: time.Since(started),
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) && ctx.Err() == nil {
			return result, services.Wrap(services.ErrTimeout, stage, "run command",
				fmt.Sprintf("%s exceeded %s", argv[0], r.Timeout), ctxErr)
		}
		return result, fmt.Errorf("run %s: %w", argv[0], ctxErr)
	}
	if stdoutErr != nil || stderrErr != nil {
		logger.Warn("command output truncated",
			logging.String(logging.FieldEventType, "command_output_read_failed"),
			logging.Error(errors.Join(stdoutErr, stderrErr)),
		)
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return result, fmt.Errorf("wait command: %w", waitErr)
	}

	logger.Debug("command finished",
		logging.String("binary", argv[0]),
		logging.Int("exit_code", result.ExitCode),
		logging.Duration("duration", result.Duration),
	)
	return result, nil
}

func forwardLines(r io.Reader, forward func(string)) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			forward(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// Keep draining so the child never blocks on a full pipe.
			_, _ = io.Copy(io.Discard, reader)
			return err
		}
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		if code := cmd.ProcessState.ExitCode(); code >= 0 {
			return code
		}
		return -1
	}
	if waitErr != nil {
		return -1
	}
	return 0
}
