package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"taskgate/internal/app"
	"taskgate/internal/config"
)

// serveOptions holds the flags of the serve command.
type serveOptions struct {
	// debug enables verbose logging regardless of the configured level.
	debug bool

	// configPath is the directory holding config.yaml and an optional .env.
	configPath string
}

// newServeCmd creates the serve command, which starts the gateway.
func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the taskgate HTTP gateway",
		Long: `Starts the gateway and serves until interrupted (Ctrl+C or SIGTERM).

Endpoints:
  /mcp                                      MCP streamable HTTP (bearer token required)
  /authorize, /token, /register             OAuth proxy endpoints
  /oauth/callback                           Upstream redirect target (configurable)
  /.well-known/oauth-authorization-server   Authorization server metadata
  /.well-known/oauth-protected-resource     Protected resource metadata
  /health, /metrics                         Liveness and Prometheus metrics

Configuration:
  taskgate reads config.yaml from --config-path (default ~/.config/taskgate).
  Every setting can be overridden with TASKGATE_* environment variables,
  e.g. TASKGATE_OAUTH_CLIENT_SECRET. A .env file next to config.yaml is
  loaded first without overriding variables that are already set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.configPath, "config-path", "", "Configuration directory (default ~/.config/taskgate)")

	return cmd
}

// runServe is the main entry point for the serve command
func runServe(ctx context.Context, opts *serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	configPath := opts.configPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	cfg := app.NewConfig(opts.debug, configPath, GetVersion())
	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run(ctx)
}
