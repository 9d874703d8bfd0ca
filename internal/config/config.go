package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	MediaTokenTTL    time.Duration

	PresenceGrace        time.Duration
	PendingCallTTL       time.Duration
	PendingSweepInterval time.Duration
	WebhookDedupeTTL     time.Duration

	InternalAPIKey string
	RunMigrations  bool

	LogLevel  string
	LogFormat string
}

func LoadConfig() (*Config, error) {
	durations := map[string]*time.Duration{}
	cfg := &Config{
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		LiveKitURL:       os.Getenv("LIVEKIT_URL"),
		LiveKitAPIKey:    os.Getenv("LIVEKIT_API_KEY"),
		LiveKitAPISecret: os.Getenv("LIVEKIT_API_SECRET"),
		InternalAPIKey:   os.Getenv("INTERNAL_API_KEY"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
	}
	durations["MEDIA_TOKEN_TTL"] = &cfg.MediaTokenTTL
	durations["PRESENCE_GRACE"] = &cfg.PresenceGrace
	durations["PENDING_CALL_TTL"] = &cfg.PendingCallTTL
	durations["PENDING_SWEEP_INTERVAL"] = &cfg.PendingSweepInterval
	durations["WEBHOOK_DEDUPE_TTL"] = &cfg.WebhookDedupeTTL

	defaults := map[string]string{
		"MEDIA_TOKEN_TTL":        "6h",
		"PRESENCE_GRACE":         "5s",
		"PENDING_CALL_TTL":       "60s",
		"PENDING_SWEEP_INTERVAL": "10s",
		"WEBHOOK_DEDUPE_TTL":     "10m",
	}
	for key, dst := range durations {
		d, err := time.ParseDuration(getEnv(key, defaults[key]))
		if err != nil {
			return nil, fmt.Errorf("invalid %s format", key)
		}
		if d <= 0 {
			return nil, fmt.Errorf("%s must be positive", key)
		}
		*dst = d
	}

	runMigrations, err := strconv.ParseBool(getEnv("RUN_MIGRATIONS", "true"))
	if err != nil {
		return nil, errors.New("invalid RUN_MIGRATIONS format")
	}
	cfg.RunMigrations = runMigrations

	// Validate required fields
	required := []struct {
		name  string
		value string
	}{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"REDIS_URL", cfg.RedisURL},
		{"JWT_SECRET", cfg.JWTSecret},
		{"LIVEKIT_URL", cfg.LiveKitURL},
		{"LIVEKIT_API_KEY", cfg.LiveKitAPIKey},
		{"LIVEKIT_API_SECRET", cfg.LiveKitAPISecret},
		{"INTERNAL_API_KEY", cfg.InternalAPIKey},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, fmt.Errorf("%s is required", r.name)
		}
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
