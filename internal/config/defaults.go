package config

import (
	"time"

	"taskgate/internal/oauth"
	"taskgate/internal/session"
	"taskgate/internal/upstream"
)

const (
	// DefaultOAuthCallbackPath is the default path for OAuth callbacks
	DefaultOAuthCallbackPath = "/oauth/callback"

	// DefaultRedisKeyPrefix namespaces the gateway's keys in a shared Redis.
	DefaultRedisKeyPrefix = "taskgate:"
)

// GetDefaultConfig returns the default configuration. The OAuth upstream
// has no defaults and must be configured.
func GetDefaultConfig() TaskgateConfig {
	return TaskgateConfig{
		Server: ServerConfig{
			Host:              "localhost",
			Port:              8090,
			BaseURL:           "http://localhost:8090",
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Sessions: SessionsConfig{
			MaxSessions:     session.DefaultMaxSessions,
			IdleTimeout:     session.DefaultIdleTimeout,
			SweepInterval:   session.DefaultSweepInterval,
			ShutdownTimeout: session.DefaultShutdownTimeout,
		},
		OAuth: OAuthConfig{
			Scopes:       []string{"openid", "offline_access"},
			CallbackPath: DefaultOAuthCallbackPath,
			StateTTL:     oauth.DefaultStateTTL,
			GrantTTL:     oauth.DefaultGrantTTL,
			MaxClients:   oauth.DefaultMaxClients,
			Storage: StorageConfig{
				Type: StorageTypeMemory,
				Redis: RedisConfig{
					KeyPrefix: DefaultRedisKeyPrefix,
				},
			},
		},
		Upstream: UpstreamConfig{
			Timeout:      upstream.DefaultTimeout,
			MaxRetries:   upstream.DefaultMaxRetries,
			InitialDelay: upstream.DefaultInitialDelay,
		},
		RateLimit: RateLimitConfig{
			MaxAttempts: 20,
			Window:      time.Minute,
			GlobalRate:  50,
			GlobalBurst: 100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
