package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_DSN", "host=localhost user=test password=test dbname=rti port=5432 sslmode=disable")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", cfg.APIPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.DatabaseDriver != "postgres" {
		t.Errorf("DatabaseDriver = %s, want postgres", cfg.DatabaseDriver)
	}
	if cfg.DatabaseMaxOpenConns != 25 || cfg.DatabaseMaxIdleConns != 5 {
		t.Errorf("pool = %d/%d, want 25/5", cfg.DatabaseMaxOpenConns, cfg.DatabaseMaxIdleConns)
	}
	if cfg.NotifyMaxAttempts != 3 {
		t.Errorf("NotifyMaxAttempts = %d, want 3", cfg.NotifyMaxAttempts)
	}
	if cfg.NotifyRetryDelay() != 200*time.Millisecond {
		t.Errorf("NotifyRetryDelay = %v, want 200ms", cfg.NotifyRetryDelay())
	}
	if cfg.RedisURL != "" || cfg.RabbitMQURL != "" {
		t.Errorf("optional brokers should default to empty, got redis=%q rabbitmq=%q", cfg.RedisURL, cfg.RabbitMQURL)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("NOTIFY_RETRY_DELAY_MS", "50")
	t.Setenv("CHANNEL_WRITE_TIMEOUT_MS", "1500")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", cfg.APIPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.DatabaseDriver != "sqlite" {
		t.Errorf("DatabaseDriver = %s, want sqlite", cfg.DatabaseDriver)
	}
	if cfg.NotifyRetryDelay() != 50*time.Millisecond {
		t.Errorf("NotifyRetryDelay = %v, want 50ms", cfg.NotifyRetryDelay())
	}
	if cfg.ChannelWriteTimeout() != 1500*time.Millisecond {
		t.Errorf("ChannelWriteTimeout = %v, want 1.5s", cfg.ChannelWriteTimeout())
	}
	if cfg.RedisURL == "" {
		t.Error("RedisURL should be set")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_DSN", "host=localhost")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing JWT_SECRET, got nil")
	}
}

func TestLoad_UnsupportedDriver(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_DRIVER", "mysql")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestLoad_InvalidAttempts(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("NOTIFY_MAX_ATTEMPTS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero attempts")
	}
}
