// Package workflow runs decoded jobs through the training and inference
// pipelines.
//
// The Manager owns the per-job state machine. Training jobs download their
// dataset, then run prepare, extract, train, and index in order, registering
// the trained weights once every stage succeeds. Inference jobs download the
// input file, resolve model artifacts through the registry (downloading and
// merging them when absent), run infer, upload the result, and report it
// through the notifier.
//
// A non-zero exit from any stage ends the job as failed; that outcome is
// logged, recorded in the job history, and reported to the callback endpoint,
// but it is not an error for the caller. Dispatch only returns an error when
// the job could not be carried through at all, such as on shutdown, so the
// queue consumer can leave the message for redelivery.
package workflow
