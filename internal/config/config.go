package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB_USERNAME string
	DB_PASSWORD string
	DB_HOST     string
	DB_PORT     string
	DB_NAME     string
	DISABLE_TLS string

	REDIS_HOST     string
	REDIS_PORT     string
	REDIS_USERNAME string
	REDIS_PASSWORD string

	RUN_LOCK_TTL_MS               int
	CANCELLATION_POLL_INTERVAL_MS int
	AGENT_STATE_TTL_SECONDS       int
	AGENT_RUN_TIMEOUT_MS          int

	OTEL_EXPORTER_OTLP_ENDPOINT string
}

func ReadConfig() *Config {
	return &Config{
		DB_USERNAME: os.Getenv("DB_USERNAME"),
		DB_PASSWORD: os.Getenv("DB_PASSWORD"),
		DB_HOST:     os.Getenv("DB_HOST"),
		DB_PORT:     os.Getenv("DB_PORT"),
		DB_NAME:     os.Getenv("DB_NAME"),
		DISABLE_TLS: os.Getenv("DISABLE_TLS"),

		REDIS_HOST:     getEnvOrDefault("REDIS_HOST", "localhost"),
		REDIS_PORT:     getEnvOrDefault("REDIS_PORT", "6379"),
		REDIS_USERNAME: os.Getenv("REDIS_USERNAME"),
		REDIS_PASSWORD: os.Getenv("REDIS_PASSWORD"),

		RUN_LOCK_TTL_MS:               getEnvIntOrDefault("RUN_LOCK_TTL_MS", 30_000),
		CANCELLATION_POLL_INTERVAL_MS: getEnvIntOrDefault("CANCELLATION_POLL_INTERVAL_MS", 500),
		AGENT_STATE_TTL_SECONDS:       getEnvIntOrDefault("AGENT_STATE_TTL_SECONDS", 86_400),
		AGENT_RUN_TIMEOUT_MS:          getEnvIntOrDefault("AGENT_RUN_TIMEOUT_MS", 300_000),

		OTEL_EXPORTER_OTLP_ENDPOINT: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func (c *Config) RunLockTTL() time.Duration {
	return time.Duration(c.RUN_LOCK_TTL_MS) * time.Millisecond
}

func (c *Config) CancellationPollInterval() time.Duration {
	return time.Duration(c.CANCELLATION_POLL_INTERVAL_MS) * time.Millisecond
}

func (c *Config) AgentStateTTL() time.Duration {
	return time.Duration(c.AGENT_STATE_TTL_SECONDS) * time.Second
}

// RunTimeout is the per-run wall-clock budget (0 disables it).
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.AGENT_RUN_TIMEOUT_MS) * time.Millisecond
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
