package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Store drivers for the session registry.
const (
	StoreMemory = "memory"
	StoreSQL    = "sql"
	StoreMongo  = "mongo"
)

// Config represents the runtime configuration for the LensFusion backend.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Sessions    SessionsConfig    `mapstructure:"sessions"`
	Store       StoreConfig       `mapstructure:"store"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Mongo       MongoConfig       `mapstructure:"mongo"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SessionsConfig tunes the session registry.
type SessionsConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	ListCacheTTL    time.Duration `mapstructure:"list_cache_ttl"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	SweepBatchSize  int           `mapstructure:"sweep_batch_size"`
}

// StoreConfig selects the document store backing the registry.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	// PollInterval is how often the SQL store re-runs subscribed queries to
	// pick up writes from other instances.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MongoConfig holds MongoDB connection options.
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures the identity provider token settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures validation of access tokens.
type JWTSettings struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	TTL      time.Duration `mapstructure:"access_token_ttl"`
}

// RateLimitConfig bounds requests per user and route.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// MaintenanceConfig schedules background purges.
type MaintenanceConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	SessionSchedule string        `mapstructure:"session_schedule"`
	CacheSchedule   string        `mapstructure:"cache_schedule"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxStaleness    time.Duration `mapstructure:"max_staleness"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus   PrometheusConfig `mapstructure:"prometheus"`
	Health       HealthConfig     `mapstructure:"health_check"`
	ProbeTimeout time.Duration    `mapstructure:"probe_timeout"`
}

// PrometheusConfig toggles the metrics endpoint.
type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// HealthConfig toggles dependency probes.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("LENSFUSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case StoreMemory, StoreSQL:
	case StoreMongo:
		if strings.TrimSpace(c.Mongo.URI) == "" {
			return errors.New("config: mongo.uri is required for the mongo store")
		}
	default:
		return fmt.Errorf("config: unsupported store.driver %q", c.Store.Driver)
	}
	if c.Sessions.TTL < 0 || c.Sessions.RefreshInterval < 0 || c.Sessions.ListCacheTTL < 0 || c.Sessions.MonitorInterval < 0 {
		return errors.New("config: session durations must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("sessions.ttl", "336h") // 14 days
	v.SetDefault("sessions.refresh_interval", "30m")
	v.SetDefault("sessions.list_cache_ttl", "5m")
	v.SetDefault("sessions.monitor_interval", "30s")
	v.SetDefault("sessions.sweep_batch_size", 20)

	v.SetDefault("store.driver", StoreSQL)
	v.SetDefault("store.poll_interval", "2s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/lensfusion.sqlite")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.mysql.port", 3306)

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "lensfusion")
	v.SetDefault("mongo.connect_timeout", "10s")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "")
	v.SetDefault("auth.jwt.audience", "")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("rate_limit.requests", 120)
	v.SetDefault("rate_limit.window", "1m")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.session_schedule", "@hourly")
	v.SetDefault("maintenance.cache_schedule", "@daily")
	v.SetDefault("maintenance.batch_size", 200)
	v.SetDefault("maintenance.max_staleness", "3h")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.health_check.enabled", true)
	v.SetDefault("monitoring.probe_timeout", "2s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
