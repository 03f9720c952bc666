package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"assetauth/internal/config"
	"assetauth/pkg/logging"
	pkgoauth "assetauth/pkg/oauth"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates the asset needs (re-)authorization.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the authorization flow failed.
	ExitCodeAuthFailed = 3
)

var (
	configPath string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "assetauth",
	Short: "Obtain and manage OAuth credentials for connector assets",
	Long: `assetauth acquires, stores and refreshes OAuth 2.0 tokens for configured
assets. It runs the client credentials, certificate and authorization code
grants, and serves the callback endpoint that completes interactive
authorizations started from another process.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.InitForCLI(logging.ParseLevel(logLevel), os.Stderr)
	},
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a code describing the outcome.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "assetauth version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps errors to the documented exit codes.
func getExitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case pkgoauth.IsReauthorizationNeeded(err):
		return ExitCodeAuthRequired
	case errors.Is(err, pkgoauth.ErrAuthorizationDenied),
		errors.Is(err, pkgoauth.ErrAuthorizationTimeout),
		errors.Is(err, pkgoauth.ErrSessionSuperseded),
		errors.Is(err, pkgoauth.ErrStateMismatch),
		errors.Is(err, pkgoauth.ErrExchangeFailed),
		errors.Is(err, pkgoauth.ErrTokenRefresh):
		return ExitCodeAuthFailed
	default:
		return ExitCodeError
	}
}

// loadConfig reads the file named by --config, or the default path.
func loadConfig() (config.AssetAuthConfig, error) {
	path := configPath
	if path == "" {
		p, err := config.GetDefaultConfigPath()
		if err != nil {
			return config.AssetAuthConfig{}, err
		}
		path = p
	}
	return config.LoadConfig(path)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $HOME/.config/assetauth/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newAuthorizeCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newClearCmd())
	rootCmd.AddCommand(newRequestCmd())
}
