package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesheets/promethios-sub018/internal/learning"
)

var cycleExploration bool

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one learning cycle and print the result",
	Long: `Runs a single learning cycle against the persisted memory:
collect recent feedback, mine patterns, generate verifier-gated
adaptations, apply a batch, and update the meta-learning state.

The result is printed as JSON. Exit status is non-zero when the cycle
ends in error; a skipped cycle (insufficient feedback) exits zero.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "cmd.cycle")
		defer span.End()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		if cycleExploration {
			// One-shot exploration: widen recognizer and generator
			// thresholds for this cycle only by flipping the state.
			a.controller.SetExploration(true)
		}

		result := a.controller.RunCycle(ctx)
		if err := printJSON(result); err != nil {
			return err
		}
		if result.Status == learning.StatusError {
			return fmt.Errorf("cycle %d failed: %s", result.CycleNumber, result.Error)
		}
		return nil
	},
}

func init() {
	cycleCmd.Flags().BoolVar(&cycleExploration, "explore", false, "force exploration mode for this cycle")
	rootCmd.AddCommand(cycleCmd)
}
