// Package services defines shared utilities consumed by the job pipeline and
// its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, model names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures from stages,
//     object storage, and the registry classify consistently in logs and the
//     job history.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// stays uniform across training and inference jobs.
package services
