// Package history keeps a SQLite ledger of the jobs this worker has handled.
//
// Each delivery that decodes into a job gets a row when it starts; the workflow
// updates its stage as it goes, appends one stage_runs row per external command,
// and finishes it as completed, failed, or partial. The CLI and status API read
// the ledger. It is an operator aid: the queue and callbacks remain the system
// of record, and losing the database loses nothing a job depends on.
//
// Schema changes bump schemaVersion in schema.go; users delete the database to
// adopt the new schema.
package history
