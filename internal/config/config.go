// Package config loads application configuration from file and
// environment and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/propflow/skiptrace-cli/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	SkipData SkipDataConfig `yaml:"skipdata" mapstructure:"skipdata"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Schema   SchemaConfig   `yaml:"schema" mapstructure:"schema"`
	Pricing  cost.Rates     `yaml:"pricing" mapstructure:"pricing"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SkipDataConfig holds skip-trace provider credentials and tuning.
type SkipDataConfig struct {
	ClientID       string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret   string  `yaml:"client_secret" mapstructure:"client_secret"`
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit      float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RetryAttempts  int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// PipelineConfig configures batch processing.
type PipelineConfig struct {
	Workers         int `yaml:"workers" mapstructure:"workers"`
	CacheMaxAgeDays int `yaml:"cache_max_age_days" mapstructure:"cache_max_age_days"`
	BreakerFailures int `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSec int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// CacheMaxAge returns the cache staleness bound as a duration. Zero
// means cached entries never expire.
func (p PipelineConfig) CacheMaxAge() time.Duration {
	return time.Duration(p.CacheMaxAgeDays) * 24 * time.Hour
}

// SchemaConfig configures the column mapper.
type SchemaConfig struct {
	// AliasFile points to an optional YAML file of extra header aliases,
	// merged over the built-in table.
	AliasFile string `yaml:"alias_file" mapstructure:"alias_file"`
}

// ServerConfig configures the HTTP status server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SKIPTRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("skipdata.base_url", "https://api.skipdata.io/v2")
	v.SetDefault("skipdata.rate_limit", 10.0)
	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.cache_max_age_days", 0)
	v.SetDefault("pipeline.breaker_failures", 5)
	v.SetDefault("pipeline.breaker_reset_secs", 30)
	v.SetDefault("pricing.per_lookup", cost.DefaultRates().PerLookup)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields required for the given mode are set.
// Modes: "process" (provider credentials needed), "serve" (provider
// credentials plus a listen port), "offline" (store only, for upload/
// status/export/litigators).
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "process", "serve", "offline":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for the postgres driver (SKIPTRACE_STORE_DATABASE_URL)")
	}
	if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 64 {
		problems = append(problems, "pipeline.workers must be between 1 and 64")
	}

	if mode == "process" || mode == "serve" {
		if c.SkipData.ClientID == "" {
			problems = append(problems, "skipdata.client_id is required (SKIPTRACE_SKIPDATA_CLIENT_ID)")
		}
		if c.SkipData.ClientSecret == "" {
			problems = append(problems, "skipdata.client_secret is required (SKIPTRACE_SKIPDATA_CLIENT_SECRET)")
		}
	}
	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
