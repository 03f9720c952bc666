package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"assetauth/internal/flow"
	"assetauth/internal/store"
	"assetauth/pkg/logging"
)

func newAuthorizeCmd() *cobra.Command {
	var (
		wait     bool
		timeout  time.Duration
		interval time.Duration
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "authorize <asset>",
		Short: "Start an interactive authorization for an asset",
		Long: `Start an authorization code flow for an asset and print the URL to open.

Any earlier pending authorization of the asset is replaced. The browser is
redirected to the callback endpoint served by 'assetauth serve', which
records the result. With --wait, this command blocks until that happens and
then exchanges the code for a token.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			assetID := args[0]

			reg, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			defer reg.Close()

			f, err := reg.authorizationCodeFlow(assetID)
			if err != nil {
				return err
			}
			authURL, err := f.GetAuthorizationURL(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Open this URL to authorize %s:\n\n  %s\n\n", assetID, authURL)
			if !wait {
				return nil
			}

			opts := flow.WaitOptions{Timeout: timeout, PollInterval: interval}
			if watcher, ok := reg.backend.(store.Watcher); ok {
				watchCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				if wake, err := watcher.Watch(watchCtx, assetID); err != nil {
					logging.Debug("CLI", "Change notifications unavailable, polling only: %v", err)
				} else {
					opts.Wake = wake
				}
			}

			if !quiet {
				s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				s.Suffix = " Waiting for authorization..."
				s.Start()
				defer s.Stop()
				opts.OnProgress = func(p flow.Progress) {
					s.Suffix = fmt.Sprintf(" Waiting for authorization (%s left)...", p.Remaining().Round(time.Second))
				}
			}

			tok, err := f.WaitForAuthorization(ctx, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s is authorized (token expires %s)\n",
				text.FgGreen.Sprint("✓"), assetID, formatExpiry(tok.ExpiresAt, time.Now()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the callback and exchange the code")
	cmd.Flags().DurationVar(&timeout, "timeout", flow.DefaultWaitTimeout, "how long to wait for the callback")
	cmd.Flags().DurationVar(&interval, "poll-interval", flow.DefaultPollInterval, "how often to check for the callback")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not show a progress spinner")
	return cmd
}
