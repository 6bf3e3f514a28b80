package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables, applies the
// `default` tags for unset values and validates the result.
func Load() (*Config, error) {
	return loadFrom(os.LookupEnv)
}

func loadFrom(lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}

	d := decoder{lookup: lookup}
	if err := d.decode(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

var (
	durationType = reflect.TypeFor[time.Duration]()
	timeType     = reflect.TypeFor[time.Time]()
)

// decoder fills struct fields tagged with `env` (and optionally `envAlt`,
// `default`, `required`). Every missing required variable and every bad
// value is reported, not just the first.
type decoder struct {
	lookup func(string) (string, bool)
}

func (d decoder) decode(v reflect.Value) error {
	var errs []error
	for i := range v.NumField() {
		field, sf := v.Field(i), v.Type().Field(i)
		if !field.CanSet() {
			continue
		}
		if sf.Type.Kind() == reflect.Struct && sf.Type != timeType {
			if err := d.decode(field); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := d.get(name, sf.Tag.Get("envAlt"))
		switch {
		case ok:
		case sf.Tag.Get("required") == "true":
			errs = append(errs, fmt.Errorf("required environment variable %s is not set", name))
			continue
		default:
			raw = sf.Tag.Get("default")
		}
		if raw == "" {
			continue
		}
		if err := assign(field, raw); err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", name, raw, err))
		}
	}
	return errors.Join(errs...)
}

// get returns the first non-empty value of name or alt.
func (d decoder) get(name, alt string) (string, bool) {
	for _, key := range []string{name, alt} {
		if key == "" {
			continue
		}
		if v, ok := d.lookup(key); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// assign parses raw into field according to the field's type.
func assign(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(dur))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", field.Type().Elem())
		}
		var items []string
		for item := range strings.SplitSeq(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

var (
	drivers    = []string{"postgres", "postgresql", "pgx", "sqlite", "sqlite3", "mysql", "mariadb", "sqlserver", "mssql"}
	levels     = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// problems collects Validate failures.
type problems []string

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var p problems

	db := c.Database
	p.check(slices.Contains(drivers, strings.ToLower(db.Driver)),
		"DB_DRIVER (%q) must be one of: postgres, sqlite, mysql, sqlserver", db.Driver)
	p.check(!db.Enabled() || db.Table != "", "DB_TABLE is required when DATABASE_URL is set")
	p.check(db.BatchSize > 0, "DB_BATCH_SIZE must be positive")
	p.check(db.MaxConns > 0, "DB_MAX_CONNS must be positive")
	p.check(db.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
	p.check(db.MaxConns >= db.MinConns, "DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", db.MaxConns, db.MinConns)

	srv := c.Server
	p.check(srv.Port > 0 && srv.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", srv.Port)
	p.check(srv.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	p.check(srv.WriteTimeout >= 0, "SERVER_WRITE_TIMEOUT must be non-negative")
	p.check(srv.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")

	imp := c.Import
	p.check(imp.MaxFileSize > 0, "IMPORT_MAX_FILE_SIZE must be positive")
	p.check(imp.MaxConcurrent > 0, "IMPORT_MAX_CONCURRENT must be positive")
	p.check(imp.MaxWaitTime > 0, "IMPORT_MAX_WAIT_TIME must be positive")
	p.check(imp.Timeout > 0, "IMPORT_TIMEOUT must be positive")
	p.check(imp.Workers > 0, "IMPORT_WORKERS must be positive")

	p.check(!c.Rate.Enabled || c.Rate.RequestsPerMinute > 0,
		"RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	p.check(!c.Security.RequireAPIKey || len(c.Security.APIKeys) > 0,
		"REQUIRE_API_KEY is true but API_KEYS is empty")

	p.check(slices.Contains(levels, strings.ToLower(c.Logging.Level)),
		"LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	p.check(slices.Contains(logFormats, strings.ToLower(c.Logging.Format)),
		"LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)

	if len(p) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(p, "\n  - "))
	}
	return nil
}

// String returns a safe string representation of the config for logging.
// The database URL and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {Driver: %q, URL: %s, Table: %q, BatchSize: %d}, ",
		c.Database.Driver, mask(c.Database.URL), c.Database.Table, c.Database.BatchSize)
	fmt.Fprintf(&b, "Import: {SpecDir: %q, MaxFileSize: %d, MaxConcurrent: %d, Workers: %d}, ",
		c.Import.SpecDir, c.Import.MaxFileSize, c.Import.MaxConcurrent, c.Import.Workers)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return "[NOT SET]"
	}
	return "[MASKED]"
}
