// Package notifications reports job progress back to the calling service.
//
// Events are posted as JSON with the shared callback secret embedded in the
// body. Each delivery is retried with exponential backoff up to
// callback.max_attempts and then abandoned with a warning; job outcomes never
// depend on whether a callback got through. A noop service is returned when no
// callback URL is configured.
package notifications
