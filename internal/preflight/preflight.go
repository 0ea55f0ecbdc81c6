package preflight

import (
	"context"
	"path/filepath"

	"rvcworker/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Required checks block worker startup when they fail.
	Required bool
}

// StorageChecker probes object storage; *storage.S3Store satisfies it.
type StorageChecker interface {
	Check(ctx context.Context) error
}

// RunAll executes all applicable preflight checks for the given config.
// storage may be nil, in which case the bucket is not probed.
func RunAll(ctx context.Context, cfg *config.Config, storage StorageChecker) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		required(CheckDirectoryAccess("Sources directory", cfg.Paths.SourcesDir)),
		required(CheckDirectoryAccess("Files directory", cfg.Paths.FilesDir)),
		required(CheckDirectoryAccess("Models directory", cfg.Paths.ModelsDir)),
		required(CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir)),
		required(CheckDirectoryAccess("Registry directory", filepath.Dir(cfg.Paths.RegistryPath))),
		required(CheckBinary("Python", cfg.Pipeline.PythonBinary)),
		required(CheckReadableFile("Pipeline script", cfg.ScriptPath())),
	}
	if cfg.Pipeline.WorkingDir != "" {
		results = append(results, required(CheckDirectoryAccess("Pipeline working directory", cfg.Pipeline.WorkingDir)))
	}

	if cfg.Queue.URL != "" {
		results = append(results, CheckBroker(cfg.Queue.URL))
	}
	if storage != nil && cfg.Storage.Bucket != "" {
		results = append(results, CheckStorage(ctx, cfg.Storage.Bucket, storage))
	}
	if cfg.Callback.URL != "" {
		results = append(results, CheckCallback(ctx, cfg.Callback.URL))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Required && !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func required(r Result) Result {
	r.Required = true
	return r
}
