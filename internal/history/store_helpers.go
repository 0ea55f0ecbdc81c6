package history

import (
	"database/sql"
	"fmt"
	"time"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const jobColumns = "id, kind, model_name, file_id, correlation_id, status, stage, error_kind, error_message, result_url, created_at, updated_at, finished_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job           Job
		statusStr     string
		fileID        sql.NullString
		correlationID sql.NullString
		stage         sql.NullString
		errorKind     sql.NullString
		errorMessage  sql.NullString
		resultURL     sql.NullString
		createdRaw    string
		updatedRaw    string
		finishedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.Kind,
		&job.ModelName,
		&fileID,
		&correlationID,
		&statusStr,
		&stage,
		&errorKind,
		&errorMessage,
		&resultURL,
		&createdRaw,
		&updatedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	job.Status = Status(statusStr)
	job.FileID = fileID.String
	job.CorrelationID = correlationID.String
	job.Stage = stage.String
	job.ErrorKind = errorKind.String
	job.ErrorMessage = errorMessage.String
	job.ResultURL = resultURL.String
	job.CreatedAt = parseTime(createdRaw)
	job.UpdatedAt = parseTime(updatedRaw)
	if finishedRaw.Valid {
		job.FinishedAt = parseTime(finishedRaw.String)
	}
	return &job, nil
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func expectRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
