package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"rollcall/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue health and the active job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			health, err := store.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("queue health: %w", err)
			}

			rows := [][]string{
				{"Queued", strconv.Itoa(health.Queued)},
				{"Processing", strconv.Itoa(health.Processing)},
				{"Completed", strconv.Itoa(health.Completed)},
				{"Failed", strconv.Itoa(health.Failed)},
				{"Cancelled", strconv.Itoa(health.Cancelled)},
				{"Total", strconv.Itoa(health.Total)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"State", "Jobs"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))

			active, err := store.List(cmd.Context(), 1, queue.StateProcessing)
			if err != nil {
				return fmt.Errorf("active job: %w", err)
			}
			if len(active) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No job is currently processing.")
				return nil
			}

			job := active[0]
			fmt.Fprintf(cmd.OutOrStdout(), "Active: ward %d, job %s, %s\n",
				job.WardID, shortJobID(job.JobID), formatProgress(job))
			if job.ProgressMessage != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", job.ProgressMessage)
			}
			return nil
		},
	}
}
