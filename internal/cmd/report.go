package cmd

import (
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print learning state, cycle history, and memory counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "cmd.report")
		defer span.End()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.persisterClose()

		return printJSON(map[string]interface{}{
			"learning_state": a.controller.State(),
			"cycle_history":  a.store.CycleHistory(ctx),
			"memory_counts":  a.store.Counts(),
		})
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
