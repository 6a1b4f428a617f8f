// Package config loads the service configuration from the environment, an
// optional .env file and an optional config.yml.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageInMemory = "inmemory"
	StorageMongo    = "mongo"
	StorageRedis    = "redis"
)

type Config struct {
	Env                string        `mapstructure:"APP_ENV"`
	HTTPAddr           string        `mapstructure:"HTTP_ADDR"`
	StorageMode        string        `mapstructure:"STORAGE_MODE"`
	MongoURL           string        `mapstructure:"MONGO_URL"`
	MongoDBName        string        `mapstructure:"MONGO_DB_NAME"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	JWTSecret          string        `mapstructure:"JWT_SECRET"`
	AtomicCounters     bool          `mapstructure:"ATOMIC_COUNTERS"`
	ReadTimeout        time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout       time.Duration `mapstructure:"WRITE_TIMEOUT"`
	// SessionIdleTimeout closes feed sessions unused for that long; zero
	// keeps them until sign out.
	SessionIdleTimeout time.Duration `mapstructure:"SESSION_IDLE_TIMEOUT"`
}

var keys = []string{
	"APP_ENV", "HTTP_ADDR", "STORAGE_MODE", "MONGO_URL", "MONGO_DB_NAME",
	"REDIS_URL", "JWT_SECRET", "ATOMIC_COUNTERS", "READ_TIMEOUT", "WRITE_TIMEOUT",
	"SESSION_IDLE_TIMEOUT",
}

// Load reads the configuration. Environment variables win over config.yml,
// which wins over the defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AutomaticEnv()
	// Unmarshal only sees environment variables viper knows about.
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("STORAGE_MODE", StorageInMemory)
	v.SetDefault("MONGO_DB_NAME", "xclone")
	v.SetDefault("ATOMIC_COUNTERS", false)
	v.SetDefault("READ_TIMEOUT", 15*time.Second)
	v.SetDefault("WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("SESSION_IDLE_TIMEOUT", 30*time.Minute)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("HTTP_ADDR is required")
	}
	switch c.StorageMode {
	case StorageInMemory:
	case StorageMongo:
		if c.MongoURL == "" {
			return errors.New("MONGO_URL is required for mongo storage")
		}
		if c.MongoDBName == "" {
			return errors.New("MONGO_DB_NAME is required for mongo storage")
		}
	case StorageRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for redis storage")
		}
	default:
		return fmt.Errorf("unknown STORAGE_MODE %q", c.StorageMode)
	}
	if c.SessionIdleTimeout < 0 {
		return errors.New("SESSION_IDLE_TIMEOUT must not be negative")
	}
	if c.IsProduction() {
		if c.StorageMode == StorageInMemory {
			return errors.New("inmemory storage is not allowed in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}
