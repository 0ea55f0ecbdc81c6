package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"rvcworker/internal/consumer"
	"rvcworker/internal/job"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Publish a job to the queue",
	}
	submitCmd.AddCommand(newSubmitTrainingCommand(ctx))
	submitCmd.AddCommand(newSubmitProcessCommand(ctx))
	submitCmd.AddCommand(newSubmitFileCommand(ctx))
	return submitCmd
}

func newSubmitTrainingCommand(ctx *commandContext) *cobra.Command {
	var (
		t           job.Training
		correlation string
	)
	cmd := &cobra.Command{
		Use:   "training",
		Short: "Submit a training job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return publish(cmd, ctx, job.Job{Kind: job.KindTraining, CorrelationID: correlation, Training: &t})
		},
	}
	cmd.Flags().StringVarP(&t.ModelName, "model", "m", "", "Model name")
	cmd.Flags().StringVar(&t.SourceURL, "source", "", "Dataset archive URL")
	cmd.Flags().IntVar(&t.TotalEpochs, "epochs", 0, "Total training epochs")
	cmd.Flags().StringVar(&correlation, "correlation-id", "", "Correlation id (generated when empty)")
	return cmd
}

func newSubmitProcessCommand(ctx *commandContext) *cobra.Command {
	var (
		inf         job.Inference
		correlation string
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Submit an inference job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return publish(cmd, ctx, job.Job{Kind: job.KindInference, CorrelationID: correlation, Inference: &inf})
		},
	}
	cmd.Flags().StringVarP(&inf.ModelName, "model", "m", "", "Model name")
	cmd.Flags().StringVar(&inf.InputURL, "input", "", "Input audio URL")
	cmd.Flags().StringVar(&inf.FileID, "file-id", "", "File id used to name the result")
	cmd.Flags().StringVar(&inf.WeightsURL, "weights", "", "Model weights URL when the model is not registered")
	cmd.Flags().StringVar(&inf.IndexURL, "index", "", "Feature index URL when the model is not registered")
	cmd.Flags().StringVar(&inf.ExportFormat, "format", "", "Export format (defaults to pipeline.export_format)")
	cmd.Flags().StringVar(&correlation, "correlation-id", "", "Correlation id (generated when empty)")
	return cmd
}

func newSubmitFileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "file <path|->",
		Short: "Submit a job message read from a JSON file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				body []byte
				err  error
			)
			if args[0] == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
			} else {
				body, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read job: %w", err)
			}
			j, err := job.Decode(body)
			if err != nil {
				return err
			}
			return publish(cmd, ctx, j)
		},
	}
}

// publish validates j through the same decoder the worker uses, then sends it.
func publish(cmd *cobra.Command, ctx *commandContext, j job.Job) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	body, err := job.Encode(j)
	if err != nil {
		return err
	}
	validated, err := job.Decode(body)
	if err != nil {
		return err
	}
	if cfg.Queue.URL == "" || cfg.Queue.Name == "" {
		return fmt.Errorf("queue.url and queue.name are required to submit jobs")
	}

	correlationID, err := consumer.Publish(cmd.Context(), cfg, validated)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s job for %s to %s (correlation id %s)\n",
		validated.Kind, validated.ModelName(), cfg.Queue.Name, correlationID)
	return nil
}
