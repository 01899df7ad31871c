package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify Merkle integrity of the persisted learning memory",
	Long: `Restores the learning memory from its sealed snapshots, recomputes
every collection's Merkle root from the stored leaves, and compares the
roots against the persisted values. Prints the integrity report as JSON
and exits non-zero on any divergence.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "cmd.verify")
		defer span.End()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.persisterClose()

		report := a.store.VerifyIntegrity(ctx)
		if err := printJSON(report); err != nil {
			return err
		}
		if !report.Verified {
			return fmt.Errorf("learning memory integrity check failed")
		}
		return nil
	},
}

// persisterClose releases databases without re-persisting; verify must
// never rewrite the snapshots it just checked.
func (a *app) persisterClose() {
	_ = a.analytics.Close()
	_ = a.persister.Close()
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
