// Package logs reads the worker's log files for the CLI.
//
// Last returns the tail of a file with bounded memory, and Follow polls for
// appended lines until its context is cancelled. Only newline-terminated
// lines are emitted so a record being written is never split.
package logs
