// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported values for DB_DRIVER and TRANSPORT.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	TransportConsole = "console"
	TransportRedis   = "redis"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	BoardLongName  string `mapstructure:"BOARD_LONG_NAME"`
	BoardShortName string `mapstructure:"BOARD_SHORT_NAME"`

	DBDriver                 string `mapstructure:"DB_DRIVER"`
	DBPath                   string `mapstructure:"DB_PATH"`
	DBHost                   string `mapstructure:"DB_HOST"`
	DBPort                   string `mapstructure:"DB_PORT"`
	DBUser                   string `mapstructure:"DB_USER"`
	DBPassword               string `mapstructure:"DB_PASSWORD"`
	DBName                   string `mapstructure:"DB_NAME"`
	DBSSLMode                string `mapstructure:"DB_SSLMODE"`
	DBMaxOpenConns           int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`
	StoreRetryAttempts       int    `mapstructure:"STORE_RETRY_ATTEMPTS"`

	ExpirationDays               int `mapstructure:"EXPIRATION_DAYS"`
	ExpirationCheckIntervalHours int `mapstructure:"EXPIRATION_CHECK_INTERVAL_HOURS"`

	RateLimitWindowMS   int `mapstructure:"RATE_LIMIT_WINDOW_MS"`
	MaxMessageLength    int `mapstructure:"MAX_MESSAGE_LENGTH"`
	MaxReplyLength      int `mapstructure:"MAX_REPLY_LENGTH"`
	MessageDelayMS      int `mapstructure:"MESSAGE_DELAY_MS"`
	NotificationDelayMS int `mapstructure:"NOTIFICATION_DELAY_MS"`

	Transport                string `mapstructure:"TRANSPORT"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	TransportInboundChannel  string `mapstructure:"TRANSPORT_INBOUND_CHANNEL"`
	TransportOutboundChannel string `mapstructure:"TRANSPORT_OUTBOUND_CHANNEL"`
	EventsChannel            string `mapstructure:"EVENTS_CHANNEL"`
	AnnounceOnStart          bool   `mapstructure:"ANNOUNCE_ON_START"`

	OpsPort string `mapstructure:"OPS_PORT"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read profile config 'config.%s.yml': %w", env, err)
			}
			log.Printf("No profile-specific config for %s; using base config and environment", env)
		} else {
			log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
		}
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("BOARD_LONG_NAME", "Nodeice Board")
	viper.SetDefault("BOARD_SHORT_NAME", "NB")
	viper.SetDefault("DB_DRIVER", DriverSQLite)
	viper.SetDefault("DB_PATH", "nodeice_board.db")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "nodeice")
	viper.SetDefault("DB_PASSWORD", "")
	viper.SetDefault("DB_NAME", "nodeice_board")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 10)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 2)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	viper.SetDefault("STORE_RETRY_ATTEMPTS", 3)
	viper.SetDefault("EXPIRATION_DAYS", 7)
	viper.SetDefault("EXPIRATION_CHECK_INTERVAL_HOURS", 6)
	viper.SetDefault("RATE_LIMIT_WINDOW_MS", 1000)
	viper.SetDefault("MAX_MESSAGE_LENGTH", 2000)
	viper.SetDefault("MAX_REPLY_LENGTH", 200)
	viper.SetDefault("MESSAGE_DELAY_MS", 500)
	viper.SetDefault("NOTIFICATION_DELAY_MS", 1000)
	viper.SetDefault("TRANSPORT", TransportConsole)
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("TRANSPORT_INBOUND_CHANNEL", "mesh:inbound")
	viper.SetDefault("TRANSPORT_OUTBOUND_CHANNEL", "mesh:outbound")
	viper.SetDefault("EVENTS_CHANNEL", "board:events")
	viper.SetDefault("ANNOUNCE_ON_START", true)
	viper.SetDefault("OPS_PORT", "8375")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

// Validate ensures that required configuration values are present and in range.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return errors.New("DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DBHost == "" || c.DBName == "" {
			return errors.New("DB_HOST and DB_NAME are required for the postgres driver")
		}
		if c.IsProduction() && (c.DBSSLMode == "" || c.DBSSLMode == "disable") {
			return errors.New("DB_SSLMODE must enable TLS in production")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}

	switch c.Transport {
	case TransportConsole, TransportRedis:
	default:
		return fmt.Errorf("unsupported TRANSPORT %q", c.Transport)
	}

	if c.ExpirationDays < 1 {
		return errors.New("EXPIRATION_DAYS must be at least 1")
	}
	if c.ExpirationCheckIntervalHours < 1 {
		return errors.New("EXPIRATION_CHECK_INTERVAL_HOURS must be at least 1")
	}
	if c.RateLimitWindowMS < 0 {
		return errors.New("RATE_LIMIT_WINDOW_MS must not be negative")
	}
	if c.MaxMessageLength < 1 {
		return errors.New("MAX_MESSAGE_LENGTH must be positive")
	}
	if c.MaxReplyLength < 20 {
		return errors.New("MAX_REPLY_LENGTH must be at least 20")
	}
	if c.StoreRetryAttempts < 1 {
		return errors.New("STORE_RETRY_ATTEMPTS must be at least 1")
	}
	if c.TracingSamplerRatio < 0 || c.TracingSamplerRatio > 1 {
		return errors.New("TRACING_SAMPLER_RATIO must be between 0 and 1")
	}
	return nil
}

// IsProduction reports whether the config targets a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// ExpirationCheckInterval returns the sweep period.
func (c *Config) ExpirationCheckInterval() time.Duration {
	return time.Duration(c.ExpirationCheckIntervalHours) * time.Hour
}

// RateLimitWindow returns the per-sender rate limit window.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMS) * time.Millisecond
}

// MessageDelay returns the pause between the parts of a multi-part reply.
func (c *Config) MessageDelay() time.Duration {
	return time.Duration(c.MessageDelayMS) * time.Millisecond
}

// NotificationDelay returns the pause between fan-out sends.
func (c *Config) NotificationDelay() time.Duration {
	return time.Duration(c.NotificationDelayMS) * time.Millisecond
}

// ConnMaxLifetime returns the pooled connection lifetime.
func (c *Config) ConnMaxLifetime() time.Duration {
	return time.Duration(c.DBConnMaxLifetimeMinutes) * time.Minute
}
