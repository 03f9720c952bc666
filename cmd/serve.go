package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"assetauth/internal/webhook"
	"assetauth/pkg/logging"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the OAuth callback endpoint",
		Long: `Serve the endpoint the authorization server redirects the browser to.

Callbacks are accepted on /oauth/callback and /assets/{asset_id}/oauth/callback.
Each callback is matched against the pending authorization of its asset and
recorded in the asset's document, where the waiting process picks it up.`,
		Args: cobra.NoArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.InitForServer(logging.ParseLevel(logLevel), os.Stderr)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			defer reg.Close()

			addr := reg.cfg.Server.ListenAddress
			if listen != "" {
				addr = listen
			}
			srv := webhook.NewServer(addr, webhook.NewHandler(reg.resolver()))
			if _, err := srv.Start(); err != nil {
				return err
			}

			<-ctx.Done()
			logging.Info("Webhook", "Shutting down callback server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listenAddress)")
	return cmd
}
