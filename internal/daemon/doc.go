// Package daemon coordinates the long-running worker process.
//
// It ties the queue consumer and the HTTP status API into a single lifecycle
// with flock-based locking to prevent multiple instances sharing the same
// working directories. Stop cancels the consumer and waits for the in-flight
// job to settle before releasing the lock, so an interrupted job is always
// handed back to the broker.
//
// The status API is read-only: /api/status, /api/jobs, /api/jobs/{id}, and
// /api/models, optionally behind a bearer token. /healthz is always open.
package daemon
