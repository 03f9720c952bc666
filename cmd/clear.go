package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCmd() *cobra.Command {
	var sessionOnly bool

	cmd := &cobra.Command{
		Use:   "clear <asset>",
		Short: "Remove the stored credentials of an asset",
		Long: `Remove the stored token and pending authorization of an asset.

Other data in the asset's document is kept. With --session, only a pending
authorization is cancelled; a waiting 'authorize --wait' then fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer reg.Close()

			c, err := reg.client(args[0])
			if err != nil {
				return err
			}
			if sessionOnly {
				if err := c.ClearSession(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled pending authorization of %s\n", args[0])
				return nil
			}
			if err := c.ClearState(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared credentials of %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&sessionOnly, "session", false, "only cancel the pending authorization")
	return cmd
}
