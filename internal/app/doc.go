// Package app provides application bootstrap and lifecycle management for
// taskgate.
//
// # Components
//
//   - Bootstrap (bootstrap.go): loads configuration, sets up logging and
//     wires services. --debug overrides the configured log level.
//   - Configuration (config.go): runtime settings passed from the CLI.
//   - Services (services.go): builds the upstream OAuth client, the state
//     stores (memory or Redis), the OAuth proxy and handler, the MCP server
//     with its tools, the session manager and the HTTP server.
//   - Modes (modes.go): runs the server until SIGINT or SIGTERM.
//
// # Lifecycle
//
//	cfg := app.NewConfig(debug, configPath, version)
//	application, err := app.NewApplication(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// On shutdown the session manager stops accepting new sessions and closes
// the live ones within its grace period, the HTTP server drains, and the
// OAuth stores and Redis client are closed.
package app
