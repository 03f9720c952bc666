package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newRequestCmd() *cobra.Command {
	var (
		method string
		data   string
	)

	cmd := &cobra.Command{
		Use:   "request <asset> <url>",
		Short: "Send an HTTP request authenticated as an asset",
		Long: `Send an HTTP request with the asset's access token and print the response body.

A 401 response is retried once with a refreshed or newly fetched token.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			defer reg.Close()

			rt, err := reg.transport(args[0], nil)
			if err != nil {
				return err
			}

			var body io.Reader
			if data != "" {
				body = strings.NewReader(data)
			}
			req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), args[1], body)
			if err != nil {
				return err
			}

			resp, err := (&http.Client{Transport: rt, Timeout: 60 * time.Second}).Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", resp.Status)
			if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
				return err
			}
			if resp.StatusCode >= 400 {
				return fmt.Errorf("request failed: %s", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body")
	return cmd
}
