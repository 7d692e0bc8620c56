// Package config loads the gateway configuration.
//
// Configuration lives in a directory (default ~/.config/taskgate, set with
// --config-path) holding config.yaml. Values are resolved in this order,
// later sources winning:
//
//  1. built-in defaults (GetDefaultConfig)
//  2. config.yaml
//  3. TASKGATE_* environment variables, optionally seeded from a .env file
//
// # Example config.yaml
//
//	server:
//	  port: 8090
//	  baseURL: https://tasks-gateway.example.com
//	sessions:
//	  maxSessions: 500
//	  idleTimeout: 15m
//	oauth:
//	  issuer: https://idp.example.com
//	  clientID: taskgate
//	  clientSecret: ${set via TASKGATE_OAUTH_CLIENT_SECRET}
//	  scopes: [openid, offline_access, tasks]
//	  storage:
//	    type: redis
//	    redis:
//	      addr: redis:6379
//	upstream:
//	  maxRetries: 3
//	rateLimit:
//	  maxAttempts: 20
//	  window: 1m
//	logging:
//	  level: info
//
// Environment variables mirror the YAML structure, e.g.
// TASKGATE_SERVER_PORT, TASKGATE_OAUTH_CLIENT_ID or
// TASKGATE_OAUTH_STORAGE_REDIS_ADDR. Slices are comma separated.
//
// Loading and validation failures are reported as *ConfigurationError.
package config
