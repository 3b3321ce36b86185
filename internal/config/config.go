package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Redis  RedisConfig  `yaml:"redis" mapstructure:"redis"`
	Queue  QueueConfig  `yaml:"queue" mapstructure:"queue"`
	Enrich EnrichConfig `yaml:"enrich" mapstructure:"enrich"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RedisConfig configures the shared Redis connection used by the
// enrichment cache and the task queue.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// QueueConfig configures the task queue worker.
type QueueConfig struct {
	Stream      string `yaml:"stream" mapstructure:"stream"`
	Group       string `yaml:"group" mapstructure:"group"`
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	MinIdleSecs int    `yaml:"min_idle_secs" mapstructure:"min_idle_secs"`
}

// EnrichConfig configures the enrichment providers and cache policy.
type EnrichConfig struct {
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent     string  `yaml:"user_agent" mapstructure:"user_agent"`
	CacheTTLHours int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	ScrapeRPS     float64 `yaml:"scrape_rps" mapstructure:"scrape_rps"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("LEADFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("queue.stream", "leadforge:tasks")
	v.SetDefault("queue.group", "workers")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.min_idle_secs", 60)
	v.SetDefault("enrich.timeout_secs", 10)
	v.SetDefault("enrich.user_agent", "Mozilla/5.0 (compatible; LeadForge/1.0)")
	v.SetDefault("enrich.cache_ttl_hours", 168)
	v.SetDefault("enrich.scrape_rps", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
