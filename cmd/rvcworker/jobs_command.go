package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rvcworker/internal/api"
	"rvcworker/internal/history"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the job history",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var (
		statusFlags []string
		limit       int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatusFilters(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withHistory(func(store *history.Store) error {
				jobs, err := store.List(cmd.Context(), limit, statuses...)
				if err != nil {
					return err
				}
				now := time.Now()
				if asJSON {
					return writeJSON(cmd, api.JobListResponse{Jobs: api.FromJobs(jobs, now)})
				}

				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs recorded")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						shortID(job.ID),
						job.Kind,
						job.ModelName,
						jobStatusLabel(job.Status),
						valueOrDash(job.Stage),
						job.Duration(now).Round(time.Second).String(),
						job.CreatedAt.Local().Format("2006-01-02 15:04"),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Kind", "Model", "Status", "Stage", "Duration", "Started"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (running, completed, failed, partial)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job and its stage runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(store *history.Store) error {
				job, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				runs, err := store.StageRuns(cmd.Context(), job.ID)
				if err != nil {
					return err
				}
				dto := api.FromJob(job, time.Now())
				dto.StageRuns = api.FromStageRuns(runs)
				if asJSON {
					return writeJSON(cmd, api.JobResponse{Job: dto})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job:         %s\n", job.ID)
				fmt.Fprintf(out, "Kind:        %s\n", job.Kind)
				fmt.Fprintf(out, "Model:       %s\n", job.ModelName)
				if job.FileID != "" {
					fmt.Fprintf(out, "File:        %s\n", job.FileID)
				}
				fmt.Fprintf(out, "Status:      %s\n", jobStatusLabel(job.Status))
				fmt.Fprintf(out, "Stage:       %s\n", valueOrDash(job.Stage))
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:       %s (%s)\n", job.ErrorMessage, valueOrDash(job.ErrorKind))
				}
				if job.ResultURL != "" {
					fmt.Fprintf(out, "Result:      %s\n", job.ResultURL)
				}
				if len(runs) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{run.Stage, strconv.Itoa(run.ExitCode), run.Duration.Round(time.Second).String()})
				}
				fmt.Fprintln(out, renderTable([]string{"Stage", "Exit", "Duration"}, rows,
					[]columnAlignment{alignLeft, alignRight, alignRight}))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func parseStatusFilters(values []string) ([]history.Status, error) {
	var out []history.Status
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status, ok := history.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		out = append(out, status)
	}
	return out, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
