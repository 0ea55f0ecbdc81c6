// Package pipeline wraps the external voice-model entrypoint as five named
// stages: prepare, extract, train, index, and infer.
//
// Each stage turns its parameters into a fixed argument vector and delegates to
// a runner.Executor. Stages never interpret exit codes; the workflow decides
// whether a job continues.
package pipeline
