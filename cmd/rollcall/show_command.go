package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show the full record for one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			job, err := store.GetByJobID(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			rows := [][]string{
				{"Job ID", job.JobID},
				{"Ward", fmt.Sprintf("%d", job.WardID)},
				{"State", string(job.State)},
				{"Source", job.SourcePath},
				{"Progress", formatProgress(job)},
				{"Verified", fmt.Sprintf("%d", job.VerifiedCount)},
				{"Failed", fmt.Sprintf("%d", job.FailedCount)},
				{"Not found", fmt.Sprintf("%d", job.NotFoundCount)},
				{"Retries", fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries)},
				{"Created", formatTime(&job.CreatedAt)},
				{"Started", formatTime(job.StartedAt)},
				{"Completed", formatTime(job.CompletedAt)},
			}
			if job.ProgressMessage != "" {
				rows = append(rows, []string{"Message", truncate(job.ProgressMessage, 80)})
			}
			if job.ErrorSummary != "" {
				rows = append(rows, []string{"Error", truncate(job.ErrorSummary, 80)})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Field", "Value"},
				rows,
				[]columnAlignment{alignLeft, alignLeft},
			))
			return nil
		},
	}
}
