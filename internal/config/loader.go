package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"taskgate/pkg/logging"
)

const (
	userConfigDir  = ".config/taskgate"
	configFileName = "config.yaml"
	dotEnvFileName = ".env"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "TASKGATE_"
)

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from the given directory. Defaults are
// applied first, then config.yaml (if present), then TASKGATE_*
// environment variables. A .env file in the directory or in the working
// directory is loaded into the environment without overriding variables
// that are already set. The result is validated.
func LoadConfig(configPath string) (TaskgateConfig, error) {
	for _, p := range []string{filepath.Join(configPath, dotEnvFileName), dotEnvFileName} {
		if err := loadDotEnv(p); err != nil {
			return TaskgateConfig{}, err
		}
	}
	return loadConfig(configPath, nil)
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return newConfigurationError(ErrorTypeParse, path, "failed to load .env file", err)
	}
	logging.Debug("ConfigLoader", "Loaded environment from %s", path)
	return nil
}

// loadConfig reads environ instead of the process environment when it is
// not nil.
func loadConfig(configPath string, environ map[string]string) (TaskgateConfig, error) {
	config := GetDefaultConfig()

	configFilePath := filepath.Join(configPath, configFileName)
	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return TaskgateConfig{}, newConfigurationError(ErrorTypeIO, configFilePath, "failed to read config file", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return TaskgateConfig{}, newConfigurationError(ErrorTypeParse, configFilePath, "malformed config file", err,
				"Check the YAML syntax and that durations use Go notation such as 30s or 10m")
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return TaskgateConfig{}, newConfigurationError(ErrorTypeEnv, "", "invalid environment override", err)
	}

	if err := Validate(config); err != nil {
		return TaskgateConfig{}, newConfigurationError(ErrorTypeValidation, configFilePath, "invalid configuration", err,
			"Set the missing values in config.yaml or through "+EnvPrefix+"* environment variables")
	}
	return config, nil
}
