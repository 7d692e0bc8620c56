// Package logging provides the structured logging used throughout taskgate.
//
// It is a thin layer over Go's log/slog: every entry carries a subsystem
// identifier, messages use printf-style formatting, and errors are attached
// as a dedicated attribute.
//
// # Usage
//
//	logging.Init(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Session", "Created session %s", logging.TruncateSessionID(id))
//	logging.Debug("Config", "Loaded configuration from %s", path)
//	logging.Warn("OAuth", "Callback with unknown state")
//	logging.Error("Upstream", err, "Token exchange failed")
//
// # Subsystems
//
//   - CLI: command line entry points
//   - Bootstrap: application wiring and startup
//   - Services: service construction and teardown
//   - Config, ConfigLoader: configuration loading and validation
//   - Session: session lifecycle, idle sweep and shutdown
//   - OAuth: authorization proxy, callbacks and token exchange
//   - Upstream: outbound requests and retries
//   - Cache: bounded TTL caches
//   - Tools: MCP tool handlers
//   - Server: HTTP listener and middleware
//
// # Security
//
// Session IDs are truncated with TruncateSessionID before logging. Access and
// refresh tokens are never logged.
//
// # Audit Logging
//
// Security relevant actions are recorded with Audit:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:   "oauth_callback",
//	    Outcome:  "success",
//	    ClientID: clientID,
//	})
//
// Audit events are logged at INFO level with an [AUDIT] prefix for easy
// filtering by log aggregation systems.
package logging
