package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// AdminToken guards the management and trigger API. Empty disables auth.
	AdminToken string `mapstructure:"admin_token"`
	PublicURL  string `mapstructure:"public_url"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type DeliveryConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	Concurrency       int           `mapstructure:"concurrency"`
	ResponseBodyLimit int64         `mapstructure:"response_body_limit"`
	UserAgent         string        `mapstructure:"user_agent"`
	Retry             RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
}

type RateLimitConfig struct {
	Driver        string        `mapstructure:"driver"`
	Limit         int           `mapstructure:"limit"`
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Redis         RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type IngestConfig struct {
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hookrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hookrelay")
	}

	setDefaults(v)

	v.SetEnvPrefix("HOOKRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Delivery.Timeout <= 0 {
		return fmt.Errorf("delivery.timeout must be positive")
	}
	if c.Delivery.Concurrency <= 0 {
		return fmt.Errorf("delivery.concurrency must be positive")
	}
	if c.Delivery.Retry.Multiplier < 1 {
		return fmt.Errorf("delivery.retry.multiplier must be at least 1")
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.limit and ratelimit.window must be positive")
	}
	if c.RateLimit.Driver == "redis" && c.RateLimit.Redis.Addr == "" {
		return fmt.Errorf("ratelimit.redis.addr is required for the redis driver")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.public_url", "")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "./data/hookrelay.db")

	v.SetDefault("delivery.timeout", 10*time.Second)
	v.SetDefault("delivery.concurrency", 16)
	v.SetDefault("delivery.response_body_limit", 1024)
	v.SetDefault("delivery.user_agent", "HookRelay/1.0")
	v.SetDefault("delivery.retry.enabled", true)
	v.SetDefault("delivery.retry.initial_interval", 30*time.Second)
	v.SetDefault("delivery.retry.max_interval", time.Hour)
	v.SetDefault("delivery.retry.multiplier", 2.0)
	v.SetDefault("delivery.retry.poll_interval", 5*time.Second)
	v.SetDefault("delivery.retry.batch_size", 50)

	v.SetDefault("ratelimit.driver", "memory")
	v.SetDefault("ratelimit.limit", 100)
	v.SetDefault("ratelimit.window", 60*time.Second)
	v.SetDefault("ratelimit.sweep_interval", 5*time.Minute)
	v.SetDefault("ratelimit.redis.addr", "")
	v.SetDefault("ratelimit.redis.password", "")
	v.SetDefault("ratelimit.redis.db", 0)

	v.SetDefault("ingest.max_body_bytes", 1<<20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
