package config

import (
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "AUTHSESSION"
	configName     = "authsession"
	DefaultBaseURL = "http://localhost:4000"
)

type Config interface {
	EnvConfig
	StorageConfig
	SessionConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetAPIBaseURL() string
}

type settings struct {
	AppName         string        `mapstructure:"app_name"`
	Env             string        `mapstructure:"env"`
	LogLevel        string        `mapstructure:"log_level"`
	APIBaseURL      string        `mapstructure:"api_base_url"`
	CurrentUserPath string        `mapstructure:"current_user_path"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout"`
	RefreshTimeout  time.Duration `mapstructure:"refresh_timeout"`
	RestoreTimeout  time.Duration `mapstructure:"restore_timeout"`
	JWKSURL         string        `mapstructure:"jwks_url"`
	Storage         storage       `mapstructure:"storage"`
	Redis           redis         `mapstructure:"redis"`
}

type mainConfig struct {
	settings
}

var _ Config = mainConfig{}

// New loads configuration from the environment only.
func New() (Config, error) {
	return Load("")
}

// Load reads configuration from defaults, an optional YAML file and the
// environment (AUTHSESSION_ prefix), in increasing priority. An empty path
// searches for authsession.yaml in the working directory and ~/.config/authsession.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// API_BASE_URL is honored for compatibility with existing deployments.
	if err := v.BindEnv("api_base_url", envPrefix+"_API_BASE_URL", "API_BASE_URL"); err != nil {
		return nil, errors.Wrapf(err, "bind env")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/authsession")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, errors.Wrapf(err, "load config file")
		}
	}

	var s settings
	if err := v.Unmarshal(&s, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, errors.Wrapf(err, "unmarshal config")
	}

	s.APIBaseURL = NormalizeBaseURL(s.APIBaseURL)
	return mainConfig{settings: s}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "Auth Session")
	v.SetDefault("env", "DEV")
	v.SetDefault("log_level", "info")
	v.SetDefault("api_base_url", DefaultBaseURL)
	v.SetDefault("current_user_path", "/api/users/me")
	v.SetDefault("http_timeout", "15s")
	v.SetDefault("refresh_timeout", "30s")
	v.SetDefault("restore_timeout", "30s")
	v.SetDefault("jwks_url", "")

	v.SetDefault("storage.backend", StorageBackendFile)
	v.SetDefault("storage.dir", "")
	v.SetDefault("storage.key", "authsession:tokens")
	v.SetDefault("storage.passphrase", "")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "0s")
	v.SetDefault("redis.prefix", "authsession")
}

// NormalizeBaseURL trims whitespace and any trailing slash, falling back to
// DefaultBaseURL when empty.
func NormalizeBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return DefaultBaseURL
	}
	return base
}

func (c mainConfig) GetAppName() string {
	return c.AppName
}

func (c mainConfig) GetEnv() string {
	if c.Env == "" {
		return "DEV"
	}
	return c.Env
}

func (c mainConfig) GetLogLevel() string {
	return c.LogLevel
}

// GetAPIBaseURL returns the auth API origin without a trailing slash
// (e.g. "https://api.example.com"); endpoint paths are appended under /api.
func (c mainConfig) GetAPIBaseURL() string {
	return NormalizeBaseURL(c.APIBaseURL)
}
