package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"rollcall/internal/queue"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var stateFlag string
	var limitFlag int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent upload jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var states []queue.State
			if stateFlag != "" {
				state, ok := queue.ParseState(stateFlag)
				if !ok {
					return fmt.Errorf("unknown state %q (valid: %v)", stateFlag, queue.AllStates())
				}
				states = append(states, state)
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			jobs, err := store.List(cmd.Context(), limitFlag, states...)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					shortJobID(job.JobID),
					strconv.Itoa(job.WardID),
					string(job.State),
					formatProgress(job),
					strconv.Itoa(job.VerifiedCount),
					strconv.Itoa(job.FailedCount),
					formatTime(&job.CreatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Job", "Ward", "State", "Progress", "Verified", "Failed", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&stateFlag, "state", "", "Filter by job state")
	cmd.Flags().IntVar(&limitFlag, "limit", 20, "Maximum number of jobs to list")
	return cmd
}
