// Package config loads service configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
//
// Environment variables use the COHORTVIEW_ prefix with "__" as the section
// separator, e.g. COHORTVIEW_ELASTICSEARCH__API_KEY overrides
// elasticsearch.api_key.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, first match wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/cohortview/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "COHORTVIEW_CONFIG"

const envPrefix = "COHORTVIEW_"

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Elasticsearch ElasticsearchConfig `koanf:"elasticsearch"`
	Events        EventsConfig        `koanf:"events"`
	Cache         CacheConfig         `koanf:"cache"`
	Log           LogConfig           `koanf:"log"`

	// Timezone is the reporting timezone for all day boundaries.
	Timezone string `koanf:"timezone"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// WebDir is the directory of static dashboard assets.
	WebDir string `koanf:"web_dir"`

	// RefreshInterval is how often the funnel is recomputed and pushed to
	// connected WebSocket dashboards.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// ElasticsearchConfig holds event index connection and schema settings.
type ElasticsearchConfig struct {
	Addresses      []string `koanf:"addresses"`
	APIKey         string   `koanf:"api_key"`
	Index          string   `koanf:"index"`
	TimestampField string   `koanf:"timestamp_field"`
	UserIDField    string   `koanf:"user_id_field"`
	VisitorIDField string   `koanf:"visitor_id_field"`
	EventNameField string   `koanf:"event_name_field"`
}

// EventsConfig names the events that define acquisition and activity.
type EventsConfig struct {
	Signup string `koanf:"signup"`
	Active string `koanf:"active"`
}

// CacheConfig selects and tunes the query result cache.
type CacheConfig struct {
	// Backend is "memory" or "badger".
	Backend string `koanf:"backend"`

	// TTL bounds how stale a cached aggregation may be.
	TTL time.Duration `koanf:"ttl"`

	// Dir is the badger data directory (badger backend only).
	Dir string `koanf:"dir"`
}

// LogConfig holds zerolog settings.
type LogConfig struct {
	// Level: trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format: json or console.
	Format string `koanf:"format"`
}

// Default returns the configuration with all default values applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        "8080",
			ReadTimeout: 10 * time.Second,
			// Must exceed the 60s computation budget of the funnel and
			// retention handlers or slow upstream queries truncate responses.
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			WebDir:          "./web",
			RefreshInterval: time.Hour,
		},
		Elasticsearch: ElasticsearchConfig{
			Index:          "monitor-prod-20*",
			TimestampField: "@timestamp",
			UserIDField:    "message.userId",
			VisitorIDField: "message.visitorId.keyword",
			EventNameField: "message.name.keyword",
		},
		Events: EventsConfig{
			Signup: "backend-sign_up",
			Active: "root",
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     time.Hour,
			Dir:     "./data/cache",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Timezone: "Asia/Shanghai",
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// COHORTVIEW_* environment variables. An empty path triggers the default
// search locations.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path == "" {
		for _, candidate := range DefaultConfigPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyToPath), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKeyToPath maps COHORTVIEW_SECTION__SOME_KEY to section.some_key.
func envKeyToPath(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Validate checks settings that would otherwise only fail at query time.
func (c Config) Validate() error {
	if len(c.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("config: elasticsearch.addresses is required")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	switch c.Cache.Backend {
	case "memory", "badger":
	default:
		return fmt.Errorf("config: unknown cache.backend %q (want memory or badger)", c.Cache.Backend)
	}
	if c.Server.RefreshInterval <= 0 {
		return fmt.Errorf("config: server.refresh_interval must be positive, got %s", c.Server.RefreshInterval)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves the reporting timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
