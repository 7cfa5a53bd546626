// Package config loads application configuration from the environment.
// A .env file is honored in development (godotenv); values map onto the
// Config struct via go-simpler.org/env struct tags.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	BaseURL   string `env:"BASE_URL" default:"http://localhost:8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Broadcast hub tuning. The defaults match the production values;
	// tests shrink them.
	HeartbeatInterval time.Duration `env:"WS_HEARTBEAT_INTERVAL" default:"30s"`
	HistoryLimit      int           `env:"WS_HISTORY_LIMIT" default:"100"`

	// Connection admission limits for /ws.
	MaxWSConnections      int64 `env:"MAX_WS_CONNECTIONS" default:"10000"`
	MaxWSConnectionsPerIP int   `env:"MAX_WS_CONNECTIONS_PER_IP" default:"20"`

	// Token-bucket limit for the broadcast trigger endpoints,
	// requests per second with a burst of the same size.
	BroadcastRateLimit float64 `env:"BROADCAST_RATE_LIMIT" default:"10"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("WS_HEARTBEAT_INTERVAL must be positive")
	}
	if cfg.HistoryLimit < 1 || cfg.HistoryLimit > 1000 {
		return fmt.Errorf("WS_HISTORY_LIMIT must be between 1 and 1000")
	}
	if cfg.MaxWSConnections < 1 {
		return fmt.Errorf("MAX_WS_CONNECTIONS must be at least 1")
	}
	if cfg.MaxWSConnectionsPerIP < 1 {
		return fmt.Errorf("MAX_WS_CONNECTIONS_PER_IP must be at least 1")
	}
	if cfg.BroadcastRateLimit <= 0 {
		return fmt.Errorf("BROADCAST_RATE_LIMIT must be positive")
	}
	return nil
}
