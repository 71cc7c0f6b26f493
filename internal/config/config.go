// Package config loads procflow settings with viper.
//
// Priority: env vars (PROCFLOW_*) > procflow.yaml > defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PROCFLOW_STORE_DSN.
const EnvPrefix = "PROCFLOW"

// Store drivers.
const (
	DriverLibSQL   = "libsql"
	DriverPostgres = "postgres"
)

// Delay queue backends.
const (
	BackendStore = "store"
	BackendRedis = "redis"
)

// Config holds all procflow configuration.
type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		ServiceName     string        `mapstructure:"service_name"`
	} `mapstructure:"server"`
	Store struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"store"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		Key      string `mapstructure:"key"`
	} `mapstructure:"redis"`
	Scheduler struct {
		Enabled bool   `mapstructure:"enabled"`
		Spec    string `mapstructure:"spec"`
		Backend string `mapstructure:"backend"`
		Workers int    `mapstructure:"workers"`
		Batch   int    `mapstructure:"batch"`
	} `mapstructure:"scheduler"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Dedup struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"dedup"`
	HTTP struct {
		Timeout         time.Duration `mapstructure:"timeout"`
		MaxResponseBody int64         `mapstructure:"max_response_body"`
	} `mapstructure:"http"`
	MCP struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"mcp"`
}

// SetDefaults registers a default for every key so env overrides apply
// even when no file sets the key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.service_name", "procflow")

	v.SetDefault("store.driver", DriverLibSQL)
	v.SetDefault("store.dsn", "file:procflow.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.key", "procflow:delays")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.spec", "@every 30s")
	v.SetDefault("scheduler.backend", BackendStore)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.batch", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("dedup.ttl", 24*time.Hour)

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_response_body", 10*1024*1024)

	v.SetDefault("mcp.enabled", true)
}

// Load reads configuration into a Config. file, when set, is read instead of
// searching procflow.yaml in ., $HOME/.procflow and /etc/procflow. A missing
// search-path file is not an error; a missing explicit file is.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("procflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.procflow")
		v.AddConfigPath("/etc/procflow")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverLibSQL, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be %s or %s, got %q", DriverLibSQL, DriverPostgres, c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	switch c.Scheduler.Backend {
	case BackendStore:
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required when scheduler.backend is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("scheduler.backend must be %s or %s, got %q", BackendStore, BackendRedis, c.Scheduler.Backend))
	}
	if c.Scheduler.Workers <= 0 {
		errs = append(errs, errors.New("scheduler.workers must be positive"))
	}
	if c.Dedup.TTL <= 0 {
		errs = append(errs, errors.New("dedup.ttl must be positive"))
	}
	return errors.Join(errs...)
}
