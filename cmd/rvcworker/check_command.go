package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rvcworker/internal/preflight"
	"rvcworker/internal/storage"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify directories, the pipeline, and remote services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			var checker preflight.StorageChecker
			if strings.TrimSpace(cfg.Storage.Bucket) != "" {
				objects, err := storage.NewS3Store(cmd.Context(), cfg, logger)
				if err != nil {
					return fmt.Errorf("init object storage: %w", err)
				}
				checker = objects
			}

			results := preflight.RunAll(cmd.Context(), cfg, checker)
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, result := range results {
				kind := statusOK
				if !result.Passed {
					kind = statusWarn
					if result.Required {
						kind = statusError
					}
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d required check(s) failed", len(failed))
			}
			return nil
		},
	}
}
