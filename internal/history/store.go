package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a job id is unknown.
var ErrNotFound = errors.New("job not found")

// Store records job outcomes in SQLite so operators can see what the worker
// did without trawling logs.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the history database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// One connection keeps per-connection pragmas in force for every statement.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Start inserts a running job. A new id is generated when job.ID is empty.
func (s *Store) Start(ctx context.Context, job Job) (*Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	timestamp := now.Format(timeLayout)
	if _, err := s.exec(ctx,
		`INSERT INTO jobs (id, kind, model_name, file_id, correlation_id, status, stage, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Kind,
		job.ModelName,
		nullableString(job.FileID),
		nullableString(job.CorrelationID),
		StatusRunning,
		nullableString(job.Stage),
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.Get(ctx, job.ID)
}

// SetStage records the stage a running job has entered.
func (s *Store) SetStage(ctx context.Context, id, stage string) error {
	res, err := s.exec(ctx,
		`UPDATE jobs SET stage = ?, updated_at = ? WHERE id = ?`,
		stage, time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	return expectRow(res, id)
}

// RecordStage appends one external command invocation to the job.
func (s *Store) RecordStage(ctx context.Context, run StageRun) error {
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now().UTC().Add(-run.Duration)
	}
	if _, err := s.exec(ctx,
		`INSERT INTO stage_runs (job_id, stage, exit_code, duration_ms, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.JobID, run.Stage, run.ExitCode, run.Duration.Milliseconds(), started.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("insert stage run: %w", err)
	}
	return nil
}

// Finish moves a job to a terminal status.
func (s *Store) Finish(ctx context.Context, id string, status Status, outcome Outcome) error {
	if status == StatusRunning {
		return fmt.Errorf("finish job %s: status %q is not terminal", id, status)
	}
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.exec(ctx,
		`UPDATE jobs
            SET status = ?, error_kind = ?, error_message = ?, result_url = COALESCE(?, result_url),
                updated_at = ?, finished_at = ?
          WHERE id = ?`,
		status,
		nullableString(outcome.ErrorKind),
		nullableString(outcome.ErrorMessage),
		nullableString(outcome.ResultURL),
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return expectRow(res, id)
}

// Outcome carries the terminal details recorded by Finish.
type Outcome struct {
	ErrorKind    string
	ErrorMessage string
	ResultURL    string
}

// Get returns one job by id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns the most recent jobs first, optionally filtered by status.
// limit <= 0 returns every match.
func (s *Store) List(ctx context.Context, limit int, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// StageRuns returns the recorded stage invocations for a job in order.
func (s *Store) StageRuns(ctx context.Context, jobID string) ([]StageRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, stage, exit_code, duration_ms, started_at FROM stage_runs WHERE job_id = ? ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stage runs: %w", err)
	}
	defer rows.Close()

	var runs []StageRun
	for rows.Next() {
		var (
			run        StageRun
			durationMs int64
			startedRaw string
		)
		if err := rows.Scan(&run.JobID, &run.Stage, &run.ExitCode, &durationMs, &startedRaw); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		run.Duration = time.Duration(durationMs) * time.Millisecond
		run.StartedAt = parseTime(startedRaw)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// MarkInterrupted fails every job still marked running. It is called at
// startup, before the consumer takes new deliveries.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.exec(ctx,
		`UPDATE jobs SET status = ?, error_kind = ?, error_message = ?, updated_at = ?, finished_at = ? WHERE status = ?`,
		StatusFailed, "interrupted", InterruptedReason, now, now, StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// Prune deletes finished jobs older than cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx,
		`DELETE FROM jobs WHERE status != ? AND created_at < ?`,
		StatusRunning, cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}
