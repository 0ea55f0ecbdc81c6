// Package registry persists the model name to artifact path mapping shared by
// training and inference jobs.
//
// The registry is one JSON document. Readers take a shared advisory lock and
// Merge holds an exclusive lock across its whole read-modify-write, so several
// worker processes on one host can use the same file. Locks live on a sidecar
// "<path>.lock" file because the document itself is replaced by rename on
// every write.
package registry
