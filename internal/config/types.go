package config

import "time"

// TaskgateConfig is the top-level configuration structure for taskgate.
//
// Every field can be set in config.yaml and overridden with a TASKGATE_*
// environment variable, e.g. TASKGATE_SERVER_PORT or
// TASKGATE_OAUTH_STORAGE_REDIS_ADDR.
type TaskgateConfig struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Sessions  SessionsConfig  `yaml:"sessions" envPrefix:"SESSIONS_"`
	OAuth     OAuthConfig     `yaml:"oauth" envPrefix:"OAUTH_"`
	Upstream  UpstreamConfig  `yaml:"upstream" envPrefix:"UPSTREAM_"`
	RateLimit RateLimitConfig `yaml:"rateLimit" envPrefix:"RATE_LIMIT_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host,omitempty" env:"HOST"` // Host to bind to (default: localhost)
	Port int    `yaml:"port,omitempty" env:"PORT"` // Port to listen on (default: 8090)

	// BaseURL is the externally visible root of the gateway, used for the
	// upstream redirect URL and in discovery documents. Must be HTTPS unless
	// it points at a loopback address.
	BaseURL string `yaml:"baseURL,omitempty" env:"BASE_URL"`

	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout,omitempty" env:"READ_HEADER_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idleTimeout,omitempty" env:"IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout,omitempty" env:"SHUTDOWN_TIMEOUT"`

	// TrustProxyHeaders keys rate limits on X-Forwarded-For. Only enable
	// behind a proxy that sets the header.
	TrustProxyHeaders bool `yaml:"trustProxyHeaders,omitempty" env:"TRUST_PROXY_HEADERS"`
}

// SessionsConfig bounds the live MCP sessions.
type SessionsConfig struct {
	MaxSessions     int           `yaml:"maxSessions,omitempty" env:"MAX_SESSIONS"`
	IdleTimeout     time.Duration `yaml:"idleTimeout,omitempty" env:"IDLE_TIMEOUT"`
	SweepInterval   time.Duration `yaml:"sweepInterval,omitempty" env:"SWEEP_INTERVAL"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty" env:"SHUTDOWN_TIMEOUT"`
}

// OAuthConfig configures the upstream identity provider and the proxy state.
type OAuthConfig struct {
	// Issuer enables OIDC discovery of the endpoints below when they are
	// not set explicitly.
	Issuer       string   `yaml:"issuer,omitempty" env:"ISSUER"`
	AuthorizeURL string   `yaml:"authorizeURL,omitempty" env:"AUTHORIZE_URL"`
	TokenURL     string   `yaml:"tokenURL,omitempty" env:"TOKEN_URL"`
	ClientID     string   `yaml:"clientID,omitempty" env:"CLIENT_ID"`
	ClientSecret string   `yaml:"clientSecret,omitempty" env:"CLIENT_SECRET"`
	Scopes       []string `yaml:"scopes,omitempty" env:"SCOPES" envSeparator:","`

	CallbackPath string        `yaml:"callbackPath,omitempty" env:"CALLBACK_PATH"`
	StateTTL     time.Duration `yaml:"stateTTL,omitempty" env:"STATE_TTL"`
	GrantTTL     time.Duration `yaml:"grantTTL,omitempty" env:"GRANT_TTL"`

	// MaxClients bounds the in-memory registry of dynamically registered
	// clients.
	MaxClients int `yaml:"maxClients,omitempty" env:"MAX_CLIENTS"`

	Storage StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
}

// Storage backend types.
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
)

// StorageConfig selects where pending authorizations, issued grants and
// registered clients are kept. Use redis when running more than one replica.
type StorageConfig struct {
	Type  string      `yaml:"type,omitempty" env:"TYPE"`
	Redis RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr,omitempty" env:"ADDR"`
	Username  string `yaml:"username,omitempty" env:"USERNAME"`
	Password  string `yaml:"password,omitempty" env:"PASSWORD"`
	DB        int    `yaml:"db,omitempty" env:"DB"`
	KeyPrefix string `yaml:"keyPrefix,omitempty" env:"KEY_PREFIX"`
}

// UpstreamConfig configures retries for calls to the identity provider.
type UpstreamConfig struct {
	Timeout      time.Duration `yaml:"timeout,omitempty" env:"TIMEOUT"`
	MaxRetries   int           `yaml:"maxRetries,omitempty" env:"MAX_RETRIES"`
	InitialDelay time.Duration `yaml:"initialDelay,omitempty" env:"INITIAL_DELAY"`
}

// RateLimitConfig configures the per-IP limit on the OAuth endpoints.
type RateLimitConfig struct {
	MaxAttempts int           `yaml:"maxAttempts,omitempty" env:"MAX_ATTEMPTS"`
	Window      time.Duration `yaml:"window,omitempty" env:"WINDOW"`
	GlobalRate  float64       `yaml:"globalRate,omitempty" env:"GLOBAL_RATE"`
	GlobalBurst int           `yaml:"globalBurst,omitempty" env:"GLOBAL_BURST"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty" env:"LEVEL"` // debug, info, warn or error
}
