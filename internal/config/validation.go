package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"taskgate/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks cfg for values the gateway cannot start with.
func Validate(cfg TaskgateConfig) error {
	var errs ValidationErrors

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs.Add("server.port", "must be between 1 and 65535", cfg.Server.Port)
	}
	validateAbsoluteURL(&errs, "server.baseURL", cfg.Server.BaseURL, true)

	if cfg.Sessions.MaxSessions <= 0 {
		errs.Add("sessions.maxSessions", "must be positive", cfg.Sessions.MaxSessions)
	}
	validatePositiveDuration(&errs, "sessions.idleTimeout", cfg.Sessions.IdleTimeout)
	validatePositiveDuration(&errs, "sessions.sweepInterval", cfg.Sessions.SweepInterval)
	validatePositiveDuration(&errs, "sessions.shutdownTimeout", cfg.Sessions.ShutdownTimeout)

	validateOAuth(&errs, cfg.OAuth)

	validatePositiveDuration(&errs, "upstream.timeout", cfg.Upstream.Timeout)
	validatePositiveDuration(&errs, "upstream.initialDelay", cfg.Upstream.InitialDelay)
	if cfg.Upstream.MaxRetries < 0 {
		errs.Add("upstream.maxRetries", "must not be negative", cfg.Upstream.MaxRetries)
	}

	if cfg.RateLimit.MaxAttempts <= 0 {
		errs.Add("rateLimit.maxAttempts", "must be positive", cfg.RateLimit.MaxAttempts)
	}
	validatePositiveDuration(&errs, "rateLimit.window", cfg.RateLimit.Window)
	if cfg.RateLimit.GlobalRate < 0 {
		errs.Add("rateLimit.globalRate", "must not be negative (0 disables the global limit)", cfg.RateLimit.GlobalRate)
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs.Add("logging.level", err.Error(), cfg.Logging.Level)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateOAuth(errs *ValidationErrors, cfg OAuthConfig) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		errs.Add("oauth.clientID", "is required")
	}
	if cfg.Issuer == "" && (cfg.AuthorizeURL == "" || cfg.TokenURL == "") {
		errs.Add("oauth.issuer", "is required unless both authorizeURL and tokenURL are set")
	}
	validateAbsoluteURL(errs, "oauth.issuer", cfg.Issuer, false)
	validateAbsoluteURL(errs, "oauth.authorizeURL", cfg.AuthorizeURL, false)
	validateAbsoluteURL(errs, "oauth.tokenURL", cfg.TokenURL, false)

	if !strings.HasPrefix(cfg.CallbackPath, "/") {
		errs.Add("oauth.callbackPath", "must start with '/'", cfg.CallbackPath)
	}
	validatePositiveDuration(errs, "oauth.stateTTL", cfg.StateTTL)
	validatePositiveDuration(errs, "oauth.grantTTL", cfg.GrantTTL)
	if cfg.MaxClients < 0 {
		errs.Add("oauth.maxClients", "must not be negative", cfg.MaxClients)
	}

	switch cfg.Storage.Type {
	case StorageTypeMemory:
	case StorageTypeRedis:
		if cfg.Storage.Redis.Addr == "" {
			errs.Add("oauth.storage.redis.addr", "is required when storage type is redis")
		}
		if cfg.Storage.Redis.DB < 0 {
			errs.Add("oauth.storage.redis.db", "must not be negative", cfg.Storage.Redis.DB)
		}
	default:
		errs.Add("oauth.storage.type", fmt.Sprintf("must be one of: %s, %s", StorageTypeMemory, StorageTypeRedis), cfg.Storage.Type)
	}
}

func validatePositiveDuration(errs *ValidationErrors, field string, d time.Duration) {
	if d <= 0 {
		errs.Add(field, "must be a positive duration", d)
	}
}

func validateAbsoluteURL(errs *ValidationErrors, field, value string, required bool) {
	if value == "" {
		if required {
			errs.Add(field, "is required")
		}
		return
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs.Add(field, "must be an absolute http(s) URL", value)
	}
}
