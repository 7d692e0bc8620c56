package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"taskgate/internal/config"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (startup or runtime failure).
	ExitCodeError = 1
	// ExitCodeConfigError indicates the configuration could not be loaded or is invalid.
	ExitCodeConfigError = 2
)

// rootCmd represents the base command for the taskgate application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "taskgate",
	Short: "MCP gateway with an OAuth proxy for the task API",
	Long: `taskgate exposes MCP tools over streamable HTTP to remote clients
and proxies their OAuth 2.0 sign-in and token refresh to the upstream
identity provider.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "taskgate version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	if config.IsConfigurationError(err) {
		return ExitCodeConfigError
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
}
