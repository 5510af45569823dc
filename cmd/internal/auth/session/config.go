package session

import (
	"os"
	"time"
)

// Config defines runtime configuration for the session controller.
//
// RenewalLeadWindow must be longer than RenewalInterval, otherwise an access
// token could expire between two ticks without ever entering the window.
type Config struct {
	// RenewalInterval is how often the renewal timer decodes the access token.
	RenewalInterval time.Duration

	// RenewalLeadWindow is the remaining lifetime below which the timer renews.
	RenewalLeadWindow time.Duration

	// LogoutTimeout bounds the best-effort remote logout call.
	LogoutTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RenewalInterval:   60 * time.Second,
		RenewalLeadWindow: 5 * time.Minute,
		LogoutTimeout:     5 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - LABDASH_SESSION_RENEWAL_INTERVAL
//   - LABDASH_SESSION_RENEWAL_LEAD
//   - LABDASH_SESSION_LOGOUT_TIMEOUT
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("LABDASH_SESSION_RENEWAL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RenewalInterval = d
	}

	if v := os.Getenv("LABDASH_SESSION_RENEWAL_LEAD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RenewalLeadWindow = d
	}

	if v := os.Getenv("LABDASH_SESSION_LOGOUT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.LogoutTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants between fields.
func (c Config) Validate() error {
	if c.RenewalInterval <= 0 || c.RenewalLeadWindow <= 0 || c.LogoutTimeout <= 0 {
		return ErrConfig
	}
	if c.RenewalLeadWindow <= c.RenewalInterval {
		return ErrConfig
	}
	return nil
}
