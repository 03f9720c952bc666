package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	pkgoauth "assetauth/pkg/oauth"
)

func newTokenCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "token <asset>",
		Short: "Print a valid access token for an asset",
		Long: `Print a valid access token for an asset, fetching or refreshing it as needed.

Machine assets (client_credentials, certificate) fetch a new token when the
stored one expired. Authorization code assets refresh with the stored refresh
token; when the user has to authorize again, the authorization URL is printed
and the command exits with code 2.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer reg.Close()

			tok, err := reg.token(cmd.Context(), args[0])
			if err != nil {
				var required *pkgoauth.AuthorizationRequiredError
				if errors.As(err, &required) && required.AuthURL != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Authorization required. Open this URL to authorize %s:\n\n  %s\n\n", args[0], required.AuthURL)
				}
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(tok)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full token as JSON")
	return cmd
}
