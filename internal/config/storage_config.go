package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	StorageBackendFile   = "file"
	StorageBackendRedis  = "redis"
	StorageBackendMemory = "memory"
)

type StorageConfig interface {
	GetStorageBackend() string
	GetStorageDir() string
	GetStorageKey() string
	GetStoragePassphrase() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisTTL() time.Duration
	GetRedisPrefix() string
}

type storage struct {
	Backend    string `mapstructure:"backend"`
	Dir        string `mapstructure:"dir"`
	Key        string `mapstructure:"key"`
	Passphrase string `mapstructure:"passphrase"`
}

type redis struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	Prefix   string        `mapstructure:"prefix"`
}

func (c mainConfig) GetStorageBackend() string {
	switch c.Storage.Backend {
	case StorageBackendRedis, StorageBackendMemory:
		return c.Storage.Backend
	default:
		return StorageBackendFile
	}
}

// GetStorageDir defaults to <user config dir>/authsession, or ./data when
// the user config dir cannot be determined.
func (c mainConfig) GetStorageDir() string {
	if c.Storage.Dir != "" {
		return c.Storage.Dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "authsession")
	}
	return "./data"
}

func (c mainConfig) GetStorageKey() string {
	if c.Storage.Key == "" {
		return "authsession:tokens"
	}
	return c.Storage.Key
}

func (c mainConfig) GetStoragePassphrase() string {
	return c.Storage.Passphrase
}

func (c mainConfig) GetRedisAddr() string {
	return c.Redis.Addr
}

func (c mainConfig) GetRedisPassword() string {
	return c.Redis.Password
}

func (c mainConfig) GetRedisDB() int {
	return c.Redis.DB
}

func (c mainConfig) GetRedisTTL() time.Duration {
	return c.Redis.TTL
}

func (c mainConfig) GetRedisPrefix() string {
	return c.Redis.Prefix
}
