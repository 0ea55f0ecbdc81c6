package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rvcworker/internal/notifications"
)

func newTestCallbackCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-callback",
		Short: "Send a single probe event to the callback endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if strings.TrimSpace(cfg.Callback.URL) == "" {
				fmt.Fprintln(out, "Callback URL not configured; nothing sent")
				return nil
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			if err := notifications.NewService(cfg, logger).TestNotification(cmd.Context()); err != nil {
				return fmt.Errorf("callback probe failed: %w", err)
			}
			fmt.Fprintln(out, "Test callback delivered")
			return nil
		},
	}
}
