package app

import (
	"taskgate/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of logging.level
	Debug bool

	// ConfigPath is the directory holding config.yaml
	ConfigPath string

	// Version is reported by the gateway_status tool and the MCP handshake
	Version string

	// TaskgateConfig is loaded from ConfigPath when nil
	TaskgateConfig *config.TaskgateConfig
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath, version string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
		Version:    version,
	}
}
