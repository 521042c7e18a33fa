package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string

	NotifyInterval    time.Duration
	NotifyMaxAttempts int
	NotifyBackoffBase time.Duration
	NotifyBackoffCap  time.Duration
	NotifyTransport   string

	SweepInterval        time.Duration
	DefaultServiceBudget time.Duration

	RateLimitPerMinute        int
	RateLimitBurst            int
	SessionRateLimitPerMinute int
	SessionRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),

		NotifyInterval:    readDurationSeconds("NOTIFY_POLL_SECONDS", 5),
		NotifyMaxAttempts: readInt("NOTIFY_MAX_ATTEMPTS", 5),
		NotifyBackoffBase: readDurationSeconds("NOTIFY_BACKOFF_BASE_SECONDS", 30),
		NotifyBackoffCap:  readDurationSeconds("NOTIFY_BACKOFF_CAP_SECONDS", 600),
		NotifyTransport:   os.Getenv("NOTIFY_TRANSPORT"),

		SweepInterval:        readDurationSeconds("SERVING_SWEEP_INTERVAL_SECONDS", 30),
		DefaultServiceBudget: readDurationSeconds("DEFAULT_SERVICE_BUDGET_SECONDS", 300),

		RateLimitPerMinute:        readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:            readInt("RATE_LIMIT_BURST", 30),
		SessionRateLimitPerMinute: readInt("SESSION_RATE_LIMIT_PER_MIN", 600),
		SessionRateLimitBurst:     readInt("SESSION_RATE_LIMIT_BURST", 120),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
