package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfig is returned for invalid runtime configuration.
var ErrConfig = errors.New("invalid app config")

// Credential backends for the PERSISTENT area.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config contains the runtime configuration of the dashboard client.
//
// Precedence: defaults, then the YAML file named by LABDASH_CONFIG_FILE, then
// environment variables (including those loaded from .env).
type Config struct {
	LogLevel  string
	LogFormat string

	// StatusAddr is the local status server address. Empty (or "off") disables it.
	StatusAddr        string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// If true, /readyz returns 503 unless the realtime connection is up.
	ReadinessRequireRealtime bool

	Profile           string
	CredentialBackend string
	CredentialDir     string
	SealPassphrase    string
	RedisURL          string
	RedisTTL          time.Duration
	DatabaseURL       string
	DBSchema          string
	DBMaxConns        int32
	DBMinConns        int32

	// DashboardURL scopes the access_token companion cookie. Empty disables it.
	DashboardURL string
	CookieTTL    time.Duration

	// Rooms are joined at startup and held for the process lifetime.
	Rooms []string

	// Headless sign-in used when no stored credential restores a session.
	LoginEmail    string
	LoginPassword string
	RememberMe    bool

	// Security policy.
	RequireFingerprintKey   bool
	RequireSealedCredential bool
}

// DefaultConfig returns defaults for a local, in-memory client.
func DefaultConfig() Config {
	return Config{
		LogLevel:          "info",
		LogFormat:         "json",
		StatusAddr:        "127.0.0.1:9090",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Profile:           "default",
		CredentialBackend: BackendMemory,
		DBSchema:          "labdash",
		DBMaxConns:        4,
		CookieTTL:         7 * 24 * time.Hour,
	}
}

// fileConfig is the YAML overlay layout.
type fileConfig struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Status struct {
		Addr              string        `yaml:"addr"`
		RequireRealtime   *bool         `yaml:"require_realtime"`
		ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	} `yaml:"status"`

	Credentials struct {
		Profile     string        `yaml:"profile"`
		Backend     string        `yaml:"backend"`
		Dir         string        `yaml:"dir"`
		RedisURL    string        `yaml:"redis_url"`
		RedisTTL    time.Duration `yaml:"redis_ttl"`
		DatabaseURL string        `yaml:"database_url"`
		DBSchema    string        `yaml:"db_schema"`
	} `yaml:"credentials"`

	Dashboard struct {
		URL       string        `yaml:"url"`
		CookieTTL time.Duration `yaml:"cookie_ttl"`
	} `yaml:"dashboard"`

	Rooms []string `yaml:"rooms"`
}

// LoadConfig loads .env (if present), the optional YAML overlay and the
// environment.
func LoadConfig() (Config, error) {
	if err := loadDotEnv(EnvString("LABDASH_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	if path := EnvString("LABDASH_CONFIG_FILE", ""); path != "" {
		if err := applyConfigFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv loads path without overriding variables already set. A missing
// file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyConfigFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path.
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
	}

	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)

	setString(&cfg.StatusAddr, fc.Status.Addr)
	if fc.Status.RequireRealtime != nil {
		cfg.ReadinessRequireRealtime = *fc.Status.RequireRealtime
	}
	if fc.Status.ReadHeaderTimeout > 0 {
		cfg.ReadHeaderTimeout = fc.Status.ReadHeaderTimeout
	}

	setString(&cfg.Profile, fc.Credentials.Profile)
	setString(&cfg.CredentialBackend, fc.Credentials.Backend)
	setString(&cfg.CredentialDir, fc.Credentials.Dir)
	setString(&cfg.RedisURL, fc.Credentials.RedisURL)
	setString(&cfg.DatabaseURL, fc.Credentials.DatabaseURL)
	setString(&cfg.DBSchema, fc.Credentials.DBSchema)
	if fc.Credentials.RedisTTL > 0 {
		cfg.RedisTTL = fc.Credentials.RedisTTL
	}

	setString(&cfg.DashboardURL, fc.Dashboard.URL)
	if fc.Dashboard.CookieTTL > 0 {
		cfg.CookieTTL = fc.Dashboard.CookieTTL
	}

	if len(fc.Rooms) > 0 {
		cfg.Rooms = append([]string(nil), fc.Rooms...)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = EnvString("LABDASH_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("LABDASH_LOG_FORMAT", cfg.LogFormat)

	cfg.StatusAddr = EnvString("LABDASH_STATUS_ADDR", cfg.StatusAddr)
	if strings.EqualFold(cfg.StatusAddr, "off") {
		cfg.StatusAddr = ""
	}
	cfg.ReadHeaderTimeout = EnvDuration("LABDASH_STATUS_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("LABDASH_STATUS_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = EnvDuration("LABDASH_STATUS_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = EnvDuration("LABDASH_STATUS_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.MaxHeaderBytes = EnvInt("LABDASH_STATUS_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)
	cfg.ReadinessRequireRealtime = EnvBool("LABDASH_READINESS_REQUIRE_REALTIME", cfg.ReadinessRequireRealtime)

	cfg.Profile = EnvString("LABDASH_PROFILE", cfg.Profile)
	cfg.CredentialBackend = strings.ToLower(EnvString("LABDASH_CREDENTIAL_BACKEND", cfg.CredentialBackend))
	cfg.CredentialDir = EnvString("LABDASH_CREDENTIAL_DIR", cfg.CredentialDir)
	cfg.SealPassphrase = EnvString("LABDASH_SEAL_PASSPHRASE", cfg.SealPassphrase)
	cfg.RedisURL = EnvString("LABDASH_REDIS_URL", cfg.RedisURL)
	cfg.RedisTTL = EnvDuration("LABDASH_REDIS_TTL", cfg.RedisTTL)
	cfg.DatabaseURL = EnvString("LABDASH_DATABASE_URL", cfg.DatabaseURL)
	cfg.DBSchema = EnvString("LABDASH_DB_SCHEMA", cfg.DBSchema)
	cfg.DBMaxConns = EnvInt32("LABDASH_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("LABDASH_DB_MIN_CONNS", cfg.DBMinConns)

	cfg.DashboardURL = EnvString("LABDASH_DASHBOARD_URL", cfg.DashboardURL)
	cfg.CookieTTL = EnvDuration("LABDASH_COOKIE_TTL", cfg.CookieTTL)

	cfg.Rooms = EnvList("LABDASH_ROOMS", cfg.Rooms)

	cfg.LoginEmail = EnvString("LABDASH_LOGIN_EMAIL", cfg.LoginEmail)
	cfg.LoginPassword = os.Getenv("LABDASH_LOGIN_PASSWORD")
	cfg.RememberMe = EnvBool("LABDASH_LOGIN_REMEMBER", cfg.RememberMe)

	cfg.RequireFingerprintKey = EnvBool("LABDASH_REQUIRE_FINGERPRINT_KEY", cfg.RequireFingerprintKey)
	cfg.RequireSealedCredential = EnvBool("LABDASH_REQUIRE_SEALED_CREDENTIALS", cfg.RequireSealedCredential)
}

// Validate checks the backend selection and its required settings.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "pretty":
	default:
		return fmt.Errorf("%w: log format %q", ErrConfig, c.LogFormat)
	}
	if strings.TrimSpace(c.Profile) == "" {
		return fmt.Errorf("%w: empty profile", ErrConfig)
	}

	switch c.CredentialBackend {
	case BackendMemory:
	case BackendFile:
		if c.CredentialDir == "" {
			return fmt.Errorf("%w: file backend requires LABDASH_CREDENTIAL_DIR", ErrConfig)
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: redis backend requires LABDASH_REDIS_URL", ErrConfig)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: postgres backend requires LABDASH_DATABASE_URL", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown credential backend %q", ErrConfig, c.CredentialBackend)
	}

	if (c.LoginEmail == "") != (c.LoginPassword == "") {
		return fmt.Errorf("%w: LABDASH_LOGIN_EMAIL and LABDASH_LOGIN_PASSWORD go together", ErrConfig)
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
