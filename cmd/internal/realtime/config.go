package realtime

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls the connection manager.
type Config struct {
	// URL is the realtime endpoint (ws:// or wss://).
	URL string

	// Origin is sent on the handshake when non-empty.
	Origin string

	DialTimeout     time.Duration
	HelloTimeout    time.Duration
	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration

	Backoff BackoffConfig
}

// DefaultConfig returns defaults with an empty URL.
func DefaultConfig() Config {
	return Config{
		DialTimeout:      defaultDialTimeout,
		HelloTimeout:     defaultHelloTimeout,
		WriteTimeout:     defaultWriteTimeout,
		ReadIdleTimeout:  defaultReadIdle,
		SendQueueSize:    defaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
		Backoff:          DefaultBackoff(),
	}
}

// LoadConfigFromEnv loads realtime configuration from environment variables.
//
// Required:
//   - LABDASH_WS_URL
//
// Optional:
//   - LABDASH_WS_ORIGIN
//   - LABDASH_WS_DIAL_TIMEOUT, LABDASH_WS_HELLO_TIMEOUT, LABDASH_WS_WRITE_TIMEOUT
//   - LABDASH_WS_READ_IDLE_TIMEOUT, LABDASH_WS_SEND_QUEUE
//   - LABDASH_WS_HEARTBEAT_INTERVAL, LABDASH_WS_HEARTBEAT_TIMEOUT
//   - LABDASH_WS_RATE_EVENTS, LABDASH_WS_RATE_WINDOW
//   - LABDASH_WS_BACKOFF_INITIAL, LABDASH_WS_BACKOFF_MAX
//   - LABDASH_WS_BACKOFF_MULTIPLIER, LABDASH_WS_BACKOFF_JITTER
//   - LABDASH_WS_BACKOFF_MAX_ATTEMPTS
//
// Malformed optional values fall back to defaults; the result must still pass
// Validate.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.URL = strings.TrimSpace(os.Getenv("LABDASH_WS_URL"))
	cfg.Origin = strings.TrimSpace(os.Getenv("LABDASH_WS_ORIGIN"))

	cfg.DialTimeout = envDurationWS("LABDASH_WS_DIAL_TIMEOUT", cfg.DialTimeout)
	cfg.HelloTimeout = envDurationWS("LABDASH_WS_HELLO_TIMEOUT", cfg.HelloTimeout)
	cfg.WriteTimeout = envDurationWS("LABDASH_WS_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ReadIdleTimeout = envDurationWS("LABDASH_WS_READ_IDLE_TIMEOUT", cfg.ReadIdleTimeout)

	cfg.SendQueueSize = envIntWS("LABDASH_WS_SEND_QUEUE", cfg.SendQueueSize)
	if cfg.SendQueueSize < minSendQueueSize {
		cfg.SendQueueSize = minSendQueueSize
	}

	cfg.HeartbeatEvery = envDurationWS("LABDASH_WS_HEARTBEAT_INTERVAL", cfg.HeartbeatEvery)
	cfg.HeartbeatTimeout = envDurationWS("LABDASH_WS_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)

	cfg.RateEvents = envIntWS("LABDASH_WS_RATE_EVENTS", cfg.RateEvents)
	cfg.RateWindow = envDurationWS("LABDASH_WS_RATE_WINDOW", cfg.RateWindow)

	cfg.Backoff.Initial = envDurationWS("LABDASH_WS_BACKOFF_INITIAL", cfg.Backoff.Initial)
	cfg.Backoff.Max = envDurationWS("LABDASH_WS_BACKOFF_MAX", cfg.Backoff.Max)
	cfg.Backoff.Multiplier = envFloatWS("LABDASH_WS_BACKOFF_MULTIPLIER", cfg.Backoff.Multiplier)
	cfg.Backoff.Jitter = envFloatWS("LABDASH_WS_BACKOFF_JITTER", cfg.Backoff.Jitter)
	cfg.Backoff.MaxAttempts = envIntWS("LABDASH_WS_BACKOFF_MAX_ATTEMPTS", cfg.Backoff.MaxAttempts)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the endpoint, timeouts and backoff policy.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" || (u.Scheme != "ws" && u.Scheme != "wss") {
		return ErrConfig
	}
	if c.DialTimeout <= 0 || c.HelloTimeout <= 0 || c.WriteTimeout <= 0 || c.ReadIdleTimeout <= 0 {
		return ErrConfig
	}
	if c.HeartbeatEvery <= 0 || c.HeartbeatTimeout <= 0 {
		return ErrConfig
	}
	if c.SendQueueSize <= 0 || c.RateEvents <= 0 || c.RateWindow <= 0 {
		return ErrConfig
	}
	return c.Backoff.Validate()
}

func envIntWS(key string, def int) int {
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

func envFloatWS(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func envDurationWS(key string, def time.Duration) time.Duration {
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
