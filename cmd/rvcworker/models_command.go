package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rvcworker/internal/api"
	"rvcworker/internal/registry"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect the model artifact registry",
	}
	modelsCmd.AddCommand(newModelsListCommand(ctx))
	return modelsCmd
}

func newModelsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered models and their artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			reg, err := registry.New(cfg.Paths.RegistryPath)
			if err != nil {
				return err
			}
			records, err := reg.List(cmd.Context())
			if err != nil {
				return err
			}
			models := api.FromRecords(records)
			if asJSON {
				return writeJSON(cmd, api.ModelListResponse{Models: models})
			}

			out := cmd.OutOrStdout()
			if len(models) == 0 {
				fmt.Fprintf(out, "No models registered in %s\n", reg.Path())
				return nil
			}
			rows := make([][]string, 0, len(models))
			for _, m := range models {
				rows = append(rows, []string{m.Name, valueOrDash(m.WeightsPath), valueOrDash(m.IndexPath), yesNo(m.Complete)})
			}
			fmt.Fprintln(out, renderTable([]string{"Model", "Weights", "Index", "Complete"}, rows, nil))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
