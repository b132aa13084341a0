package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-harvester/internal/app"
)

// newStatusCmd creates the 'status' subcommand.
func newStatusCmd() *cobra.Command {
	var showFailures bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the stored checkpoint, totals and failure counts as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			st, err := app.OpenState(e.cfg)
			if err != nil {
				return err
			}
			source := st.StatusSource(nil)
			var payload any
			if showFailures {
				payload, err = source.Failures(cmd.Context())
			} else {
				payload, err = source.Status(cmd.Context())
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(payload); err != nil {
				return fmt.Errorf("write status: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showFailures, "failures", false, "print the failure ledger instead")
	return cmd
}
