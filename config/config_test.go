package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		expectError bool
	}{
		{"Inmemory development", Config{HTTPAddr: ":8080", StorageMode: StorageInMemory}, false},
		{"Missing address", Config{StorageMode: StorageInMemory}, true},
		{"Unknown storage", Config{HTTPAddr: ":8080", StorageMode: "firebase"}, true},
		{"Mongo without URL", Config{HTTPAddr: ":8080", StorageMode: StorageMongo, MongoDBName: "x"}, true},
		{"Mongo without database", Config{HTTPAddr: ":8080", StorageMode: StorageMongo, MongoURL: "mongodb://localhost"}, true},
		{"Mongo complete", Config{HTTPAddr: ":8080", StorageMode: StorageMongo, MongoURL: "mongodb://localhost", MongoDBName: "x"}, false},
		{"Redis without URL", Config{HTTPAddr: ":8080", StorageMode: StorageRedis}, true},
		{"Redis complete", Config{HTTPAddr: ":8080", StorageMode: StorageRedis, RedisURL: "localhost:6379"}, false},
		{"Negative idle timeout", Config{HTTPAddr: ":8080", StorageMode: StorageInMemory, SessionIdleTimeout: -time.Second}, true},
		{"Production inmemory", Config{Env: "production", HTTPAddr: ":8080", StorageMode: StorageInMemory, JWTSecret: "secure-secret-at-least-32-chars-long"}, true},
		{"Production short secret", Config{Env: "prod", HTTPAddr: ":8080", StorageMode: StorageRedis, RedisURL: "r:6379", JWTSecret: "short"}, true},
		{"Production complete", Config{Env: "production", HTTPAddr: ":8080", StorageMode: StorageRedis, RedisURL: "r:6379", JWTSecret: "secure-secret-at-least-32-chars-long"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_DefaultsAndEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STORAGE_MODE", StorageRedis)
	t.Setenv("REDIS_URL", "cache:6379")
	t.Setenv("ATOMIC_COUNTERS", "true")
	t.Setenv("READ_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr)
	assert.Equal(t, StorageRedis, cfg.StorageMode)
	assert.Equal(t, "cache:6379", cfg.RedisURL)
	assert.True(t, cfg.AtomicCounters)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
}

func TestLoad_RejectsUnknownStorage(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STORAGE_MODE", "sqlite")

	_, err := Load()
	assert.ErrorContains(t, err, "STORAGE_MODE")
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
