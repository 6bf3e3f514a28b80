// Package config loads the server and CLI settings from environment variables.
// Defaults come from struct tags and everything is validated on startup.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading the request (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing the response (default: 5m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"5m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including the import drain (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds the optional database sink. When URL is empty the
// server never writes to a database and the CLI rejects --format db.
type DatabaseConfig struct {
	// Driver is one of postgres, sqlite, mysql, sqlserver (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres"`

	// URL is the connection string.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// Table receives exported records; may be schema qualified (default: imported_records)
	Table string `env:"DB_TABLE" default:"imported_records"`

	// ImportIDColumn receives the import id; empty disables it (default: import_id)
	ImportIDColumn string `env:"DB_IMPORT_ID_COLUMN" default:"import_id"`

	// BatchSize is the number of rows written per batch (default: 1000)
	BatchSize int `env:"DB_BATCH_SIZE" default:"1000"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a database sink is configured.
func (c *DatabaseConfig) Enabled() bool { return c.URL != "" }

// ImportConfig holds import processing settings.
type ImportConfig struct {
	// SpecDir is scanned for spec documents at startup (default: specs)
	SpecDir string `env:"SPEC_DIR" default:"specs"`

	// MaxFileSize is the maximum accepted input size in bytes (default: 100MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the maximum number of parallel imports (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration for a single import (default: 5m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"5m"`

	// Workers is the number of files the CLI processes at once (default: 4)
	Workers int `env:"IMPORT_WORKERS" default:"4"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey rejects /api requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
