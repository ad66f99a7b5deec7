// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// EnvConfigFile names the environment variable holding the config file path.
const EnvConfigFile = "ROLLER_CONFIGURATION_FILE"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',required,help='Path to TOML config file.',env='ROLLER_CONFIGURATION_FILE'"`
	Bind     string `kong:"help='Listen address host:port (overrides config).',env='ROLLER_BIND'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='ROLLER_LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Bind     string         `toml:"bind"`
	BaseURI  string         `toml:"base_uri"`
	Inject   InjectConfig   `toml:"inject"`
	Upstream UpstreamConfig `toml:"upstream"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
	Admin    AdminConfig    `toml:"admin"`

	filePath string // resolved config file path (unexported)
}

// InjectConfig describes what to inject and where.
type InjectConfig struct {
	Source string   `toml:"source"` // relative to the config file's directory
	Marker string   `toml:"marker"`
	Paths  []string `toml:"paths"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int                  `toml:"timeout_seconds"`
	IdleConnections int                  `toml:"idle_connections"`
	MaxBodyBytes    int64                `toml:"max_body_bytes"` // cap on bodies buffered for injection
	CircuitBreaker  CircuitBreakerConfig `toml:"circuit_breaker"`
}

// CircuitBreakerConfig controls the upstream circuit breaker.
type CircuitBreakerConfig struct {
	Enabled     bool `toml:"enabled"`
	MaxFailures int  `toml:"max_failures"`
	OpenSeconds int  `toml:"open_seconds"`
}

// ServerConfig holds inbound HTTP server settings.
type ServerConfig struct {
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AdminConfig controls the health, status and metrics endpoints.
type AdminConfig struct {
	Enabled bool   `toml:"enabled"`
	Prefix  string `toml:"prefix"`
}

// Load reads the TOML config file named by the CLI and applies CLI overrides.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		return nil, fmt.Errorf("config: no config file given (set %s or --config)", EnvConfigFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Bind != "" {
		c.Bind = cli.Bind
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.Bind == "" {
		return fmt.Errorf("bind is required")
	}
	if err := validateBind(c.Bind); err != nil {
		return err
	}

	// Upstream base URI: required, absolute, http or https.
	if c.BaseURI == "" {
		return fmt.Errorf("base_uri is required")
	}
	u, err := url.Parse(c.BaseURI)
	if err != nil {
		return fmt.Errorf("base_uri is not a valid URI: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_uri must use http or https; got %q", c.BaseURI)
	}
	if u.Host == "" {
		return fmt.Errorf("base_uri must be absolute; got %q", c.BaseURI)
	}

	// Injection descriptor.
	if c.Inject.Source == "" {
		return fmt.Errorf("inject.source is required")
	}
	if c.Inject.Marker == "" {
		return fmt.Errorf("inject.marker must not be empty")
	}
	for _, p := range c.Inject.Paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("inject.paths entries must start with '/'; got %q", p)
		}
	}

	// Numeric bounds.
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.MaxBodyBytes < 0 {
		return fmt.Errorf("upstream.max_body_bytes must be non-negative; got %d", c.Upstream.MaxBodyBytes)
	}
	if cb := c.Upstream.CircuitBreaker; cb.Enabled && (cb.MaxFailures < 0 || cb.OpenSeconds < 0) {
		return fmt.Errorf("upstream.circuit_breaker values must be non-negative")
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Admin prefix validation (only when admin endpoints are enabled).
	if c.Admin.Enabled && c.Admin.Prefix != "" {
		p := c.Admin.Prefix
		if p[0] != '/' {
			return fmt.Errorf("admin.prefix must start with '/'; got %q", p)
		}
		if p == "/" || strings.HasSuffix(p, "/") {
			return fmt.Errorf("admin.prefix must not end with '/'; got %q", p)
		}
	}

	return nil
}

// validateBind checks that addr is host:port with a numeric port.
func validateBind(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("bind is not a valid host:port: %w", err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("bind port must be 0–65535; got %q", port)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.MaxBodyBytes == 0 {
		c.Upstream.MaxBodyBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.CircuitBreaker.MaxFailures == 0 {
		c.Upstream.CircuitBreaker.MaxFailures = 5
	}
	if c.Upstream.CircuitBreaker.OpenSeconds == 0 {
		c.Upstream.CircuitBreaker.OpenSeconds = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Admin.Prefix == "" {
		c.Admin.Prefix = "/_roller"
	}
}

// SourcePath returns the injection source path. Relative paths are resolved
// against the directory holding the config file.
func (c *Config) SourcePath() string {
	if filepath.IsAbs(c.Inject.Source) || c.filePath == "" {
		return c.Inject.Source
	}
	return filepath.Join(filepath.Dir(c.filePath), c.Inject.Source)
}

// WarnPermissions logs a warning if the config file or the injection source
// is writable by group or others. Anyone who can write either can place
// arbitrary content into proxied pages.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	for _, p := range []string{c.filePath, c.SourcePath()} {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if perm := info.Mode().Perm(); perm&0o022 != 0 {
			logger.Warn("file is writable by group/others; consider chmod 644 or stricter",
				"path", p,
				"mode", fmt.Sprintf("%04o", perm),
			)
		}
	}
}
