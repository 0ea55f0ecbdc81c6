package api

import (
	"slices"
	"time"

	"rvcworker/internal/consumer"
	"rvcworker/internal/history"
	"rvcworker/internal/registry"
	"rvcworker/internal/workflow"
)

// FromJob converts a ledger row to its API representation.
func FromJob(job *history.Job, now time.Time) Job {
	if job == nil {
		return Job{}
	}
	return Job{
		ID:              job.ID,
		Kind:            job.Kind,
		ModelName:       job.ModelName,
		FileID:          job.FileID,
		CorrelationID:   job.CorrelationID,
		Status:          string(job.Status),
		Stage:           job.Stage,
		ErrorKind:       job.ErrorKind,
		ErrorMessage:    job.ErrorMessage,
		ResultURL:       job.ResultURL,
		CreatedAt:       FormatTime(job.CreatedAt),
		UpdatedAt:       FormatTime(job.UpdatedAt),
		FinishedAt:      FormatTime(job.FinishedAt),
		DurationSeconds: job.Duration(now).Seconds(),
	}
}

// FromJobs converts ledger rows into API DTOs.
func FromJobs(jobs []*history.Job, now time.Time) []Job {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job, now))
	}
	return out
}

// FromStageRuns converts recorded stage invocations.
func FromStageRuns(runs []history.StageRun) []StageRun {
	if len(runs) == 0 {
		return nil
	}
	out := make([]StageRun, 0, len(runs))
	for _, run := range runs {
		out = append(out, StageRun{
			Stage:           run.Stage,
			ExitCode:        run.ExitCode,
			DurationSeconds: run.Duration.Seconds(),
			StartedAt:       FormatTime(run.StartedAt),
		})
	}
	return out
}

// FromRecords converts the registry document into models sorted by name.
func FromRecords(records map[string]registry.Record) []Model {
	if len(records) == 0 {
		return nil
	}
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]Model, 0, len(names))
	for _, name := range names {
		rec := records[name]
		out = append(out, Model{
			Name:        name,
			WeightsPath: rec.WeightsPath,
			IndexPath:   rec.IndexPath,
			Complete:    rec.Complete(),
		})
	}
	return out
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		LastError: summary.LastError,
		Processed: summary.Processed,
		Failed:    summary.Failed,
	}
	if cur := summary.Current; cur != nil {
		wf.Current = &Activity{
			JobID:         cur.JobID,
			Kind:          cur.Kind,
			ModelName:     cur.ModelName,
			CorrelationID: cur.CorrelationID,
			Stage:         cur.Stage,
			StartedAt:     FormatTime(cur.StartedAt),
		}
	}
	if last := summary.LastJob; last != nil {
		out := &Outcome{
			JobID:      last.JobID,
			Kind:       last.Kind,
			ModelName:  last.ModelName,
			Status:     string(last.Status),
			Stage:      last.Stage,
			ResultURL:  last.ResultURL,
			StartedAt:  FormatTime(last.StartedAt),
			FinishedAt: FormatTime(last.FinishedAt),
		}
		if last.Err != nil {
			out.Error = last.Err.Error()
		}
		wf.LastJob = out
	}
	return wf
}

// FromConsumerStats converts queue consumer counters.
func FromConsumerStats(stats consumer.Stats) ConsumerStatus {
	return ConsumerStatus{
		Queue:       stats.Queue,
		Connected:   stats.Connected,
		ConnectedAt: FormatTime(stats.ConnectedAt),
		Acked:       stats.Acked,
		Dropped:     stats.Dropped,
		Requeued:    stats.Requeued,
	}
}

// MergeJobStats produces a string-keyed representation of job counts with
// every known status present.
func MergeJobStats(stats map[history.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for _, status := range history.AllStatuses() {
		out[string(status)] = 0
	}
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
