// Package config loads application settings from defaults, an optional
// config.yaml and DEVTOOL_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. DEVTOOL_JSON_TIMEOUT
const EnvPrefix = "DEVTOOL"

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	JSON     JSONConfig     `mapstructure:"json"`
	Datetime DatetimeConfig `mapstructure:"datetime"`
	Database DatabaseConfig `mapstructure:"database"`
	JobLog   JobLogConfig   `mapstructure:"joblog"`
	Clock    ClockConfig    `mapstructure:"clock"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	Output string `mapstructure:"output" validate:"oneof=stdout stderr file"`
	File   string `mapstructure:"file" validate:"required_if=Output file"`
}

type JSONConfig struct {
	SyncMaxBytes  int           `mapstructure:"sync_max_bytes" validate:"gte=1"`
	LargeMinBytes int           `mapstructure:"large_min_bytes" validate:"gtefield=SyncMaxBytes"`
	MaxBytes      int           `mapstructure:"max_bytes" validate:"gtefield=LargeMinBytes"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MediumPause   time.Duration `mapstructure:"medium_pause" validate:"gte=0"`
	StepPause     time.Duration `mapstructure:"step_pause" validate:"gte=0"`
}

type DatetimeConfig struct {
	DefaultFormat string `mapstructure:"default_format" validate:"required"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

type JobLogConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Retention time.Duration `mapstructure:"retention" validate:"gt=0"`
	PruneCron string        `mapstructure:"prune_cron" validate:"required"`
}

type ClockConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Spec    string `mapstructure:"spec" validate:"required"`
}

type FetchConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RetryCount int           `mapstructure:"retry_count" validate:"gte=0,lte=10"`
	MaxBytes   int64         `mapstructure:"max_bytes" validate:"gte=1"`
	UserAgent  string        `mapstructure:"user_agent"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.file", "")

	v.SetDefault("json.sync_max_bytes", 5000)
	v.SetDefault("json.large_min_bytes", 500000)
	v.SetDefault("json.max_bytes", 20*1024*1024)
	v.SetDefault("json.timeout", 120*time.Second)
	v.SetDefault("json.medium_pause", 50*time.Millisecond)
	v.SetDefault("json.step_pause", 10*time.Millisecond)

	v.SetDefault("datetime.default_format", "%Y-%m-%d %H:%M:%S")

	v.SetDefault("database.url", "sqlite://"+defaultDatabasePath())
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("joblog.enabled", true)
	v.SetDefault("joblog.retention", 7*24*time.Hour)
	v.SetDefault("joblog.prune_cron", "0 3 * * *")

	v.SetDefault("clock.enabled", true)
	v.SetDefault("clock.spec", "@every 1s")

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.retry_count", 3)
	v.SetDefault("fetch.max_bytes", int64(20*1024*1024))
	v.SetDefault("fetch.user_agent", "devtool-desktop")

	v.SetDefault("metrics.addr", "")
}

// Load reads configuration. An explicit path must exist; otherwise
// config.yaml is looked up in the working directory and the user config
// directory and is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "devtool"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct constraints
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func defaultDatabasePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "./devtool.db"
	}
	return filepath.Join(dir, "devtool", "devtool.db")
}
