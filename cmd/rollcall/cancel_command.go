package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			accepted, err := store.RequestCancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !accepted {
				return fmt.Errorf("job %s is already finished", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %s.\n", args[0])
			fmt.Fprintln(cmd.OutOrStdout(), "A processing job stops at its next checkpoint.")
			return nil
		},
	}
}
