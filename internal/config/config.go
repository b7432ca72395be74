// Package config provides configuration management for the dataset query
// service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Admission AdmissionConfig `yaml:"admission"`
	Caching   CachingConfig   `yaml:"caching"`
	Assets    AssetsConfig    `yaml:"assets"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
	DocsEnabled  bool   `yaml:"docs_enabled"`
	// LoaderIOToken, when set, serves the token itself as a text/plain 200
	// body at /<token>.txt so that
	// loader.io-style uptime verification can be completed without
	// exposing an unauthenticated admin surface.
	LoaderIOToken string `yaml:"loader_io_token"`
}

// StorageConfig represents catalog backend configuration.
type StorageConfig struct {
	Type  string      `yaml:"type"` // memory, mysql
	MySQL MySQLConfig `yaml:"mysql"`
}

// MySQLConfig represents MySQL connection configuration.
type MySQLConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SocketPath      string `yaml:"socket_path"`
	TLS             string `yaml:"tls"`
	ConnectTimeout  int    `yaml:"connect_timeout"` // seconds
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
	// MaxColumns caps the number of columns a single wide-table shard may
	// have before the loader splits the dataset's datapoint table further.
	MaxColumns int `yaml:"max_columns"`
}

// AdmissionConfig tunes the query admission controller.
type AdmissionConfig struct {
	// CPUThrottleMs is the sampled CPU-lag threshold, in milliseconds of
	// scheduling delay over a 250ms sampling window, above which new
	// queries are rejected as busy. Zero disables CPU-based admission.
	CPUThrottleMs int `yaml:"cpu_throttle_ms"`
	// DBThrottle caps the number of queries allowed to queue waiting on a
	// database connection before new queries are rejected as busy.
	DBThrottle int `yaml:"db_throttle"`
	// Disabled turns admission control off unconditionally; used by tests.
	Disabled bool `yaml:"-"`
}

// CachingConfig controls the in-memory compiled-query and dataset-schema
// caches.
type CachingConfig struct {
	// Allow is the cache capacity (entry count); zero disables both caches
	// and the immutable Cache-Control headers.
	Allow int           `yaml:"allow"`
	TTL   time.Duration `yaml:"ttl"`
}

// AssetsConfig selects and configures the asset-store adapter used to
// serve per-dataset static files (documentation, source data downloads).
type AssetsConfig struct {
	Store  string `yaml:"store"` // local, s3
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
	Dir    string `yaml:"dir"` // used when Store == "local"
}

// NotifyConfig configures the ingestion-completion webhook notifier.
type NotifyConfig struct {
	SlackChannelURL string `yaml:"slack_channel_url"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json, text
	ExternalLog string `yaml:"external_log"` // file path; rotated via lumberjack when set
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			DocsEnabled:  true,
		},
		Storage: StorageConfig{
			Type: "memory",
			MySQL: MySQLConfig{
				Port:            3306,
				ConnectTimeout:  10,
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 300,
				MaxColumns:      1000,
			},
		},
		Admission: AdmissionConfig{
			CPUThrottleMs: 200,
			DBThrottle:    5,
		},
		Caching: CachingConfig{
			Allow: 256,
			TTL:   5 * time.Minute,
		},
		Assets: AssetsConfig{
			Store: "local",
			Dir:   "./assets",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file and environment variables.
// Environment variables override file configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 -- path is an operator-supplied command-line argument
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides mirrors the env-var table documented for the service:
// HTTP_PORT, DB_HOST, DB_NAME, DB_USER, DB_PWD, DB_SOCKET_PATH,
// DB_CONNECTION_TIMEOUT, DB_MAX_COLUMNS, CPU_THROTTLE, DB_THROTTLE,
// CACHE_ALLOW, ASSET_STORE, ASSET_STORE_BUCKET, SLACK_CHANNEL_URL,
// LOG_LEVEL, EXTERNAL_LOG, LOADER_IO_TOKEN.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Storage.MySQL.Host = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Storage.MySQL.Database = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Storage.MySQL.User = v
	}
	if v := os.Getenv("DB_PWD"); v != "" {
		c.Storage.MySQL.Password = v
	}
	if v := os.Getenv("DB_SOCKET_PATH"); v != "" {
		c.Storage.MySQL.SocketPath = v
	}
	if v := os.Getenv("DB_CONNECTION_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Storage.MySQL.ConnectTimeout = secs
		}
	}
	if v := os.Getenv("DB_MAX_COLUMNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Storage.MySQL.MaxColumns = n
		}
	}
	if v := os.Getenv("CPU_THROTTLE"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Admission.CPUThrottleMs = ms
		}
	}
	if v := os.Getenv("DB_THROTTLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Admission.DBThrottle = n
		}
	}
	if v := os.Getenv("CACHE_ALLOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Caching.Allow = n
		}
	}
	if v := os.Getenv("ASSET_STORE"); v != "" {
		c.Assets.Store = v
	}
	if v := os.Getenv("ASSET_STORE_BUCKET"); v != "" {
		c.Assets.Bucket = v
	}
	if v := os.Getenv("SLACK_CHANNEL_URL"); v != "" {
		c.Notify.SlackChannelURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("EXTERNAL_LOG"); v != "" {
		c.Logging.ExternalLog = v
	}
	if v := os.Getenv("LOADER_IO_TOKEN"); v != "" {
		c.Server.LoaderIOToken = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validStorageTypes := map[string]bool{"memory": true, "mysql": true}
	if !validStorageTypes[c.Storage.Type] {
		return fmt.Errorf("invalid storage type: %s", c.Storage.Type)
	}

	if c.Storage.Type == "mysql" && c.Storage.MySQL.Database == "" {
		return fmt.Errorf("storage.mysql.database is required when storage.type is mysql")
	}

	validAssetStores := map[string]bool{"local": true, "s3": true}
	if !validAssetStores[c.Assets.Store] {
		return fmt.Errorf("invalid asset store: %s", c.Assets.Store)
	}
	if c.Assets.Store == "s3" && c.Assets.Bucket == "" {
		return fmt.Errorf("assets.bucket is required when assets.store is s3")
	}

	if c.Admission.DBThrottle < 0 {
		return fmt.Errorf("admission.db_throttle cannot be negative")
	}

	return nil
}

// Address returns the server address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ConnMaxLifetimeDuration returns ConnMaxLifetime (seconds) as a
// time.Duration.
func (c MySQLConfig) ConnMaxLifetimeDuration() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}
