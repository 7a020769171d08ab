// Package config provides configuration management for the application
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// PublicURL is used as the origin of generated appointment links.
	// When empty the origin is derived from the incoming request.
	PublicURL       string        `yaml:"public_url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig holds Redis/Valkey configuration
type RedisConfig struct {
	Enabled bool `yaml:"enabled"`
	// URI is prioritized if provided, otherwise individual connection parameters are used
	URI       string `yaml:"uri"`
	Host      string `yaml:"host"`
	Port      string `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	// TTL for session snapshots (0 means no expiration)
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// SessionConfig holds the conference session tuning knobs
type SessionConfig struct {
	// PlaybackDelay is how long a subscribed remote stream waits before it is played
	PlaybackDelay time.Duration `yaml:"playback_delay"`
	// RenewalToken is handed to the RTC client when its channel key expires
	RenewalToken string `yaml:"renewal_token"`
	// CallTimeout bounds leave and key renewal calls against the RTC client
	CallTimeout time.Duration `yaml:"call_timeout"`
	Mode        string        `yaml:"mode"`
	Codec       string        `yaml:"codec"`
	// KeyTTL expires channel keys of the built-in loopback backend (0 means never)
	KeyTTL time.Duration `yaml:"key_ttl"`
	// IdleTimeout closes sessions left Idle or Left for this long (0 means never)
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// RateLimitConfig holds request rate limiting for creation endpoints
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// AdminConfig holds access control for the admin dashboard
type AdminConfig struct {
	// IntrospectionEndpoint validates bearer tokens. Admin access is disabled when empty.
	IntrospectionEndpoint string `yaml:"introspection_endpoint"`
	IdentityProvider      string `yaml:"identity_provider"`
	// Admins lists the NAV idents allowed on the dashboard
	Admins []string `yaml:"admins"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Session   SessionConfig   `yaml:"session"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Host:       "localhost",
			Port:       "6379",
			KeyPrefix:  "zconf:",
			SessionTTL: 24 * time.Hour,
		},
		Session: SessionConfig{
			PlaybackDelay: 1100 * time.Millisecond,
			CallTimeout:   5 * time.Second,
			Mode:          "rtc",
			Codec:         "h264",
			IdleTimeout:   30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Admin: AdminConfig{
			IdentityProvider: "azuread",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in that order of precedence.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv loads the configuration, reading the YAML file named by ZCONF_CONFIG_FILE if set
func FromEnv() (Config, error) {
	return Load(os.Getenv("ZCONF_CONFIG_FILE"))
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.PublicURL = getEnv("PUBLIC_URL", cfg.Server.PublicURL)
	cfg.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	// Parse TTL from environment variable (in hours)
	if ttlHours, err := strconv.Atoi(os.Getenv("REDIS_SESSION_TTL_HOURS")); err == nil {
		cfg.Redis.SessionTTL = time.Duration(ttlHours) * time.Hour
	}
	if db, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		cfg.Redis.DB = db
	}
	cfg.Redis.Enabled = getEnvBool("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.URI = getEnv("REDIS_URI_ZCONF", cfg.Redis.URI)
	cfg.Redis.Host = getEnv("REDIS_HOST_ZCONF", getEnv("REDIS_ADDRESS", cfg.Redis.Host))
	cfg.Redis.Port = getEnv("REDIS_PORT_ZCONF", cfg.Redis.Port)
	cfg.Redis.Username = getEnv("REDIS_USERNAME_ZCONF", cfg.Redis.Username)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD_ZCONF", getEnv("REDIS_PASSWORD", cfg.Redis.Password))
	cfg.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)

	cfg.Session.PlaybackDelay = getEnvDuration("SESSION_PLAYBACK_DELAY", cfg.Session.PlaybackDelay)
	cfg.Session.RenewalToken = getEnv("SESSION_RENEWAL_TOKEN", cfg.Session.RenewalToken)
	cfg.Session.CallTimeout = getEnvDuration("SESSION_CALL_TIMEOUT", cfg.Session.CallTimeout)
	cfg.Session.Codec = getEnv("SESSION_CODEC", cfg.Session.Codec)
	cfg.Session.KeyTTL = getEnvDuration("SESSION_KEY_TTL", cfg.Session.KeyTTL)
	cfg.Session.IdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT", cfg.Session.IdleTimeout)

	cfg.RateLimit.Enabled = getEnvBool("RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	if rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64); err == nil {
		cfg.RateLimit.RequestsPerSecond = rps
	}
	if burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST")); err == nil {
		cfg.RateLimit.Burst = burst
	}

	cfg.Admin.IntrospectionEndpoint = getEnv("NAIS_TOKEN_INTROSPECTION_ENDPOINT", cfg.Admin.IntrospectionEndpoint)
	if admins := os.Getenv("NAV_IDENT_ADMINS"); admins != "" {
		cfg.Admin.Admins = splitList(admins)
	}

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
}

// Validate checks that configuration values are within acceptable ranges.
func (c Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port must not be empty")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	if c.Session.PlaybackDelay < 0 {
		return fmt.Errorf("session.playback_delay must be >= 0")
	}
	if c.Session.KeyTTL < 0 {
		return fmt.Errorf("session.key_ttl must be >= 0")
	}
	if c.Session.IdleTimeout < 0 {
		return fmt.Errorf("session.idle_timeout must be >= 0")
	}
	if c.Session.CallTimeout <= 0 {
		return fmt.Errorf("session.call_timeout must be > 0")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit requires requests_per_second > 0 and burst > 0")
	}
	if c.Redis.Enabled && c.Redis.URI == "" && c.Redis.Host == "" {
		return fmt.Errorf("redis.host or redis.uri must be set when redis is enabled")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool retrieves a boolean environment variable
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// splitList splits a comma separated list, dropping empty entries
func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// getEnvDuration retrieves a duration environment variable such as "1100ms"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
