// Package config provides centralized configuration management for flowlake.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides (FLOWLAKE_REPLICATOR_LAG, ...).
const EnvPrefix = "FLOWLAKE"

// redacted replaces secrets when the configuration is rendered.
const redacted = "********"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config is the master configuration struct for the replicator daemon and flowctl.
type Config struct {
	Replicator ReplicatorConfig `mapstructure:"replicator" yaml:"replicator"`
	Source     SourceConfig     `mapstructure:"source" yaml:"source"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse" yaml:"clickhouse"`
	NATS       NATSConfig       `mapstructure:"nats" yaml:"nats"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// ReplicatorConfig holds sync cycle tuning.
type ReplicatorConfig struct {
	SyncInterval         time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`
	Lag                  time.Duration `mapstructure:"lag" yaml:"lag"`
	BatchLimit           int           `mapstructure:"batch_limit" yaml:"batch_limit"`
	RetentionDays        int           `mapstructure:"retention_days" yaml:"retention_days"`
	Table                string        `mapstructure:"table" yaml:"table"`
	DefaultEpoch         string        `mapstructure:"default_epoch" yaml:"default_epoch"`
	FlushRetries         int           `mapstructure:"flush_retries" yaml:"flush_retries"`
	SchemaRetryDelay     time.Duration `mapstructure:"schema_retry_delay" yaml:"schema_retry_delay"`
	SupervisorRetryDelay time.Duration `mapstructure:"supervisor_retry_delay" yaml:"supervisor_retry_delay"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	StrictWatermark      bool          `mapstructure:"strict_watermark" yaml:"strict_watermark"`
}

// DefaultEpochTime parses DefaultEpoch as RFC3339.
func (r ReplicatorConfig) DefaultEpochTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, r.DefaultEpoch)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid replicator.default_epoch %q: %w", r.DefaultEpoch, err)
	}
	return t.UTC(), nil
}

// SourceConfig holds the operational store settings.
type SourceConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	Table    string         `mapstructure:"table" yaml:"table"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// ConnString builds a postgres:// URL for pgx and golang-migrate.
func (p PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     "/" + p.Database,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	return u.String()
}

// ClickHouseConfig holds analytical store connection settings.
type ClickHouseConfig struct {
	Addr         []string      `mapstructure:"addr" yaml:"addr"`
	Database     string        `mapstructure:"database" yaml:"database"`
	Username     string        `mapstructure:"username" yaml:"username"`
	Password     string        `mapstructure:"password" yaml:"password"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	MaxOpenConns int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	Debug        bool          `mapstructure:"debug" yaml:"debug"`
}

// NATSConfig holds NATS message broker configuration
type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
}

// RedisConfig holds Redis configuration for the cross-replica lease.
type RedisConfig struct {
	URL      string        `mapstructure:"url" yaml:"url"`
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	LeaseTTL time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl"`
}

// ServerConfig holds admin HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load reads configuration from configPath (or $FLOWLAKE_CONFIG_DIR/config.yaml when
// configPath is empty) and environment variables.
// A missing default config file is not an error; a missing explicit one is.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	explicit := configPath != ""
	if !explicit {
		configDir := os.Getenv("FLOWLAKE_CONFIG_DIR")
		if configDir == "" {
			configDir = "/etc/flowlake"
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the built-in configuration without reading files or the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("invalid built-in defaults: %v", err))
	}
	return &cfg
}

// setDefaults sets all default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("replicator.sync_interval", "10s")
	v.SetDefault("replicator.lag", "30s")
	v.SetDefault("replicator.batch_limit", 1000)
	v.SetDefault("replicator.retention_days", 14)
	v.SetDefault("replicator.table", "deltafile_analytics")
	v.SetDefault("replicator.default_epoch", "1970-01-01T00:00:00Z")
	v.SetDefault("replicator.flush_retries", 2)
	v.SetDefault("replicator.schema_retry_delay", "10s")
	v.SetDefault("replicator.supervisor_retry_delay", "10s")
	v.SetDefault("replicator.read_timeout", "5s")
	v.SetDefault("replicator.write_timeout", "30s")
	v.SetDefault("replicator.strict_watermark", false)

	v.SetDefault("source.table", "delta_files")
	v.SetDefault("source.postgres.host", "localhost")
	v.SetDefault("source.postgres.port", 5432)
	v.SetDefault("source.postgres.user", "flowlake")
	v.SetDefault("source.postgres.password", "")
	v.SetDefault("source.postgres.database", "flowlake")
	v.SetDefault("source.postgres.sslmode", "disable")

	v.SetDefault("clickhouse.addr", []string{"localhost:9000"})
	v.SetDefault("clickhouse.database", "default")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("clickhouse.dial_timeout", "5s")
	v.SetDefault("clickhouse.max_open_conns", 5)
	v.SetDefault("clickhouse.debug", false)

	v.SetDefault("nats.url", "nats://nats:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.lease_ttl", "2m")

	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the invariants the replicator relies on.
func (c *Config) Validate() error {
	var errs []error

	r := c.Replicator
	if r.SyncInterval <= 0 {
		errs = append(errs, fmt.Errorf("replicator.sync_interval must be positive, got %s", r.SyncInterval))
	}
	if r.Lag <= 0 {
		errs = append(errs, fmt.Errorf("replicator.lag must be positive, got %s", r.Lag))
	}
	if r.BatchLimit <= 0 {
		errs = append(errs, fmt.Errorf("replicator.batch_limit must be positive, got %d", r.BatchLimit))
	}
	if r.RetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("replicator.retention_days must be positive, got %d", r.RetentionDays))
	}
	if r.FlushRetries < 0 {
		errs = append(errs, fmt.Errorf("replicator.flush_retries must not be negative, got %d", r.FlushRetries))
	}
	if !identifierPattern.MatchString(r.Table) {
		errs = append(errs, fmt.Errorf("replicator.table %q is not a valid identifier", r.Table))
	}
	if _, err := r.DefaultEpochTime(); err != nil {
		errs = append(errs, err)
	}
	if !identifierPattern.MatchString(c.Source.Table) {
		errs = append(errs, fmt.Errorf("source.table %q is not a valid identifier", c.Source.Table))
	}
	if len(c.ClickHouse.Addr) == 0 {
		errs = append(errs, errors.New("clickhouse.addr must list at least one host"))
	}
	if c.Redis.Enabled && c.Redis.LeaseTTL <= 0 {
		errs = append(errs, fmt.Errorf("redis.lease_ttl must be positive, got %s", c.Redis.LeaseTTL))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// YAML renders the configuration with secrets redacted.
func (c *Config) YAML() ([]byte, error) {
	clone := *c
	clone.ClickHouse.Addr = append([]string(nil), c.ClickHouse.Addr...)
	if clone.Source.Postgres.Password != "" {
		clone.Source.Postgres.Password = redacted
	}
	if clone.ClickHouse.Password != "" {
		clone.ClickHouse.Password = redacted
	}
	if u, err := url.Parse(clone.Redis.URL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
			clone.Redis.URL = u.String()
		}
	}

	data, err := yaml.Marshal(&clone)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return data, nil
}
