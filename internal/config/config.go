package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment overrides, applied after config.yaml and secrets.yaml.
const (
	EnvHome        = "FILLDRILL_HOME"
	EnvDatabaseURL = "FILLDRILL_DATABASE_URL"
	EnvRedisAddr   = "FILLDRILL_REDIS_ADDR"
	EnvRabbitMQURL = "FILLDRILL_RABBITMQ_URL"
	EnvLogLevel    = "FILLDRILL_LOG_LEVEL"
	EnvPort        = "FILLDRILL_PORT"
	EnvAnthropic   = "ANTHROPIC_API_KEY"
)

// ApplyEnv overlays environment variables onto cfg. Setting a connection
// URL without choosing a backend selects the matching backend.
func ApplyEnv(cfg *LocalConfig) {
	cfg.Daemon.Port = getEnvInt(EnvPort, cfg.Daemon.Port)
	cfg.Daemon.LogLevel = strings.ToLower(getEnv(EnvLogLevel, cfg.Daemon.LogLevel))

	if url := getEnv(EnvDatabaseURL, ""); url != "" {
		cfg.Remote.DatabaseURL = url
		if cfg.Remote.Backend == "" || cfg.Remote.Backend == "none" {
			cfg.Remote.Backend = "postgres"
		}
	}
	if addr := getEnv(EnvRedisAddr, ""); addr != "" {
		cfg.Remote.RedisAddr = addr
		if cfg.Remote.Backend == "" || cfg.Remote.Backend == "none" {
			cfg.Remote.Backend = "redis"
		}
	}
	if url := getEnv(EnvRabbitMQURL, ""); url != "" {
		cfg.StudyLog.RabbitMQURL = url
		if cfg.StudyLog.Backend == "" || cfg.StudyLog.Backend == "local" {
			cfg.StudyLog.Backend = "queue"
		}
	}
	if key := getEnv(EnvAnthropic, ""); key != "" {
		if p, ok := cfg.LLM.Providers["claude"]; ok && p.APIKey == "" {
			p.APIKey = key
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
