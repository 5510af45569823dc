package authapi

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"labdash/cmd/internal/auth/session"
)

// Config controls the auth client.
type Config struct {
	// BaseURL is the backend origin, e.g. https://lab.example.com/api.
	BaseURL string

	// Timeout bounds each request when the client owns its http.Client.
	Timeout time.Duration

	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes int64

	// Platform is reported on login and refresh.
	Platform session.Platform

	// UserAgent is sent on every request when non-empty.
	UserAgent string

	LoginMaxFailures   int
	LoginFailureWindow time.Duration
}

// DefaultConfig returns defaults with an empty BaseURL.
func DefaultConfig() Config {
	return Config{
		Timeout:            10 * time.Second,
		MaxResponseBytes:   1 << 20, // 1 MiB
		Platform:           session.PlatformDesktop,
		UserAgent:          "labdash",
		LoginMaxFailures:   5,
		LoginFailureWindow: 5 * time.Minute,
	}
}

// LoadConfigFromEnv loads client config from environment variables.
//
// Required:
//   - LABDASH_API_URL
//
// Optional:
//   - LABDASH_API_TIMEOUT
//   - LABDASH_API_MAX_RESPONSE_BYTES
//   - LABDASH_API_USER_AGENT
//   - LABDASH_AUTH_PLATFORM (web|ios|android|desktop)
//   - LABDASH_AUTH_LOGIN_MAX_FAILURES
//   - LABDASH_AUTH_LOGIN_FAILURE_WINDOW
//
// Malformed optional values fall back to defaults. Returns ErrConfig if the
// base URL is missing or invalid, or the platform is unknown.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = strings.TrimSpace(os.Getenv("LABDASH_API_URL"))
	cfg.Timeout = envDuration("LABDASH_API_TIMEOUT", cfg.Timeout)
	cfg.MaxResponseBytes = envInt64("LABDASH_API_MAX_RESPONSE_BYTES", cfg.MaxResponseBytes)
	if v := strings.TrimSpace(os.Getenv("LABDASH_API_USER_AGENT")); v != "" {
		cfg.UserAgent = v
	}
	if v := strings.TrimSpace(os.Getenv("LABDASH_AUTH_PLATFORM")); v != "" {
		cfg.Platform = session.Platform(strings.ToLower(v))
	}
	cfg.LoginMaxFailures = envInt("LABDASH_AUTH_LOGIN_MAX_FAILURES", cfg.LoginMaxFailures)
	cfg.LoginFailureWindow = envDuration("LABDASH_AUTH_LOGIN_FAILURE_WINDOW", cfg.LoginFailureWindow)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the base URL and limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrConfig
	}
	if c.Timeout <= 0 || c.MaxResponseBytes <= 0 {
		return ErrConfig
	}
	switch c.Platform {
	case session.PlatformWeb, session.PlatformIOS, session.PlatformAndroid, session.PlatformDesktop:
	default:
		return ErrConfig
	}
	return nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
