// Command rvcworker runs the voice-conversion queue worker and its operator
// tooling.
//
// `rvcworker run` consumes training and inference jobs until interrupted.
// The remaining commands work on local state and never need a running worker:
//
//	check          preflight checks for directories, the pipeline, and remotes
//	models list    the artifact registry
//	jobs list|show the job history
//	submit         publish a job to the queue
//	logs           the current run log, optionally followed
//	test-callback  probe the callback endpoint
//	config init    write a sample configuration
package main
