// Package runner executes the external pipeline commands.
//
// Each Run drains stdout and stderr on separate goroutines so a chatty child
// can never stall on a full pipe. Stdout is forwarded line by line to a sink
// (the job logger by default) while stderr is kept in full for the caller.
// Commands run in their own process group; a context cancel or the optional
// timeout kills the whole group.
package runner
