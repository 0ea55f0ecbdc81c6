// Package job defines the job descriptions consumed from the queue.
//
// A message is decoded exactly once at the queue boundary into a Job whose
// Kind selects either the Training or Inference payload. Malformed bodies
// produce a *DecodeError; a missing or unrecognized command wraps
// ErrUnknownCommand so the consumer can drop the message instead of retrying.
package job
