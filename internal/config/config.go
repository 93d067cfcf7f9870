// Package config loads server configuration from yaml files and the
// environment. Precedence, lowest to highest: built-in defaults,
// config/config.yml, config/config.local.yml, environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by StorageConfig and BusConfig.
const (
	BackendMongo  = "mongo"
	BackendNats   = "nats"
	BackendMemory = "memory"
)

// Config is the full server configuration.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Bus         BusConfig         `yaml:"bus"`
	API         APIConfig         `yaml:"api"`
	Replication ReplicationConfig `yaml:"replication"`
	Auth        AuthConfig        `yaml:"auth"`
	LogLevel    string            `yaml:"log_level"`
}

// StorageConfig selects and configures the document store backend.
type StorageConfig struct {
	// Backend is "mongo" or "memory".
	Backend      string `yaml:"backend"`
	MongoURI     string `yaml:"mongo_uri"`
	DatabaseName string `yaml:"database_name"`
}

// BusConfig selects and configures the change event bus.
type BusConfig struct {
	// Backend is "nats" or "memory".
	Backend string `yaml:"backend"`
	NatsURL string `yaml:"nats_url"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Port int `yaml:"port"`
}

// ReplicationConfig tunes the replication engine.
type ReplicationConfig struct {
	// RetryIntervalMS is the live stream's resubscribe backoff.
	RetryIntervalMS int `yaml:"retry_interval_ms"`
	// MaxPullLimit caps the page size a client may request.
	MaxPullLimit int `yaml:"max_pull_limit"`
}

// AuthConfig configures the optional bearer-token middleware.
type AuthConfig struct {
	Enabled        bool   `yaml:"enabled"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// RetryInterval returns the configured stream backoff as a duration.
func (c ReplicationConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMS) * time.Millisecond
}

func defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:      BackendMongo,
			MongoURI:     "mongodb://localhost:27017",
			DatabaseName: "replikit",
		},
		Bus: BusConfig{
			Backend: BackendNats,
			NatsURL: "nats://localhost:4222",
		},
		API: APIConfig{
			Port: 8080,
		},
		Replication: ReplicationConfig{
			RetryIntervalMS: 5000,
			MaxPullLimit:    1000,
		},
		Auth: AuthConfig{
			Enabled:        false,
			PrivateKeyPath: "config/replikit.pem",
		},
		LogLevel: "info",
	}
}

// LoadConfig builds the configuration from defaults, yaml files, and the
// environment.
func LoadConfig() *Config {
	cfg := defaults()

	applyFile(cfg, filepath.Join("config", "config.yml"))
	applyFile(cfg, filepath.Join("config", "config.local.yml"))
	applyEnv(cfg)

	return cfg
}

func applyFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // missing files are fine
	}
	// Unknown keys are ignored; a malformed file falls through to the
	// values already loaded.
	_ = yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	setString(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setString(&cfg.Storage.MongoURI, "MONGO_URI")
	setString(&cfg.Storage.DatabaseName, "DB_NAME")
	setString(&cfg.Bus.Backend, "BUS_BACKEND")
	setString(&cfg.Bus.NatsURL, "NATS_URL")
	setInt(&cfg.API.Port, "API_PORT")
	setInt(&cfg.Replication.RetryIntervalMS, "STREAM_RETRY_MS")
	setInt(&cfg.Replication.MaxPullLimit, "MAX_PULL_LIMIT")
	setBool(&cfg.Auth.Enabled, "AUTH_ENABLED")
	setString(&cfg.Auth.PrivateKeyPath, "AUTH_KEY_PATH")
	setString(&cfg.LogLevel, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
