package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN            string `env:"DATABASE_DSN,required=true"`
	DatabaseDriver         string `env:"DATABASE_DRIVER,default=postgres"`
	DatabaseMaxOpenConns   int    `env:"DATABASE_MAX_OPEN_CONNS,default=25"`
	DatabaseMaxIdleConns   int    `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	JWTSecret              string `env:"JWT_SECRET,required=true"`
	RedisURL               string `env:"REDIS_URL"`
	RabbitMQURL            string `env:"RABBITMQ_URL"`
	APIPort                int    `env:"API_PORT,default=8080"`
	LogLevel               string `env:"LOG_LEVEL,default=info"`
	NotifyMaxAttempts      int    `env:"NOTIFY_MAX_ATTEMPTS,default=3"`
	NotifyRetryDelayMs     int    `env:"NOTIFY_RETRY_DELAY_MS,default=200"`
	PushTimeoutMs          int    `env:"PUSH_TIMEOUT_MS,default=5000"`
	ChannelSendBuffer      int    `env:"CHANNEL_SEND_BUFFER,default=32"`
	ChannelWriteTimeoutMs  int    `env:"CHANNEL_WRITE_TIMEOUT_MS,default=5000"`
	InboundRateLimitPerSec int    `env:"INBOUND_RATE_LIMIT_PER_SEC,default=20"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("failed to load config: unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	if cfg.NotifyMaxAttempts < 1 {
		return nil, fmt.Errorf("failed to load config: NOTIFY_MAX_ATTEMPTS must be >= 1")
	}

	return &cfg, nil
}

func (c *Config) NotifyRetryDelay() time.Duration {
	return time.Duration(c.NotifyRetryDelayMs) * time.Millisecond
}

func (c *Config) PushTimeout() time.Duration {
	return time.Duration(c.PushTimeoutMs) * time.Millisecond
}

func (c *Config) ChannelWriteTimeout() time.Duration {
	return time.Duration(c.ChannelWriteTimeoutMs) * time.Millisecond
}
