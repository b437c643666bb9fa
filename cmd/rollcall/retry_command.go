package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-queue a failed job for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			accepted, err := store.RetryJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !accepted {
				return fmt.Errorf("job %s is not in the failed state", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s re-queued.\n", args[0])
			return nil
		},
	}
}
