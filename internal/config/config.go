// Package config provides configuration helpers that define runtime defaults,
// environment overrides, and rate-limiting parameters for the chat relay.
package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/chatrelay/internal/chat"
)

// RateLimitConfig defines the parameters for per-connection control-frame
// rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst,omitempty"`
	RefillInterval time.Duration `yaml:"refillInterval,omitempty"`
}

// TLSConfig points at the certificate pair used to serve wss://.
type TLSConfig struct {
	CertFile string `yaml:"certFile,omitempty"`
	KeyFile  string `yaml:"keyFile,omitempty"`
}

// Enabled reports whether both halves of the key pair are configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// LoggingConfig controls the root logger.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
}

// Config holds the relay configuration.
type Config struct {
	Port            string          `yaml:"port,omitempty"`
	Secret          string          `yaml:"secret,omitempty"`
	ContentRoot     string          `yaml:"contentRoot,omitempty"`
	AllowedOrigins  []string        `yaml:"allowedOrigins,omitempty"`
	MaxMessageSize  int64           `yaml:"maxMessageSize,omitempty"`
	RateLimit       RateLimitConfig `yaml:"rateLimit,omitempty"`
	TLS             TLSConfig       `yaml:"tls,omitempty"`
	Names           []string        `yaml:"names,omitempty"`
	ShutdownTimeout time.Duration   `yaml:"shutdownTimeout,omitempty"`
	Logging         LoggingConfig   `yaml:"logging,omitempty"`
}

// DefaultNames is the display-name pool handed out to new users.
var DefaultNames = chat.DefaultNames

const (
	defaultPort            = ":41200"
	defaultMaxMessageSize  = 100 << 20
	defaultBurst           = 20
	defaultRefillInterval  = time.Second
	defaultShutdownTimeout = 10 * time.Second
)

func defaultConfig() Config {
	return Config{
		Port:            defaultPort,
		ContentRoot:     ".",
		AllowedOrigins:  []string{"*"},
		MaxMessageSize:  defaultMaxMessageSize,
		RateLimit:       RateLimitConfig{Burst: defaultBurst, RefillInterval: defaultRefillInterval},
		Names:           append([]string(nil), DefaultNames...),
		ShutdownTimeout: defaultShutdownTimeout,
		Logging:         LoggingConfig{Level: "info"},
	}
}

// Sanitize fills zero-valued fields with defaults and normalizes list values.
func Sanitize(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.ContentRoot == "" {
		cfg.ContentRoot = "."
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if len(cfg.Names) == 0 {
		cfg.Names = append([]string(nil), DefaultNames...)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)
	cfg.Names = trimAll(cfg.Names)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if secret := os.Getenv("PASSWORD_SECRET"); secret != "" {
		cfg.Secret = secret
	}
	if root := os.Getenv("CONTENT_ROOT"); root != "" {
		cfg.ContentRoot = root
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}
	if cert := os.Getenv("TLS_CERT_FILE"); cert != "" {
		cfg.TLS.CertFile = cert
	}
	if key := os.Getenv("TLS_KEY_FILE"); key != "" {
		cfg.TLS.KeyFile = key
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}
}

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval accepts either a bare number of seconds or a Go duration.
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
