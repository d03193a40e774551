package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/02loveslollipop/detection-relay/services/internal/transport"
)

// Config holds environment-driven settings for the cloud bridge.
type Config struct {
	Port              int
	DetectionTopic    string
	MQTT              transport.Options
	StreamIdleTimeout time.Duration
	DatabaseURL       string
	DefaultLimit      int
	MaxLimit          int
	BearerToken       string
	LogLevel          string
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		Port:              8000,
		DetectionTopic:    "iot/object-detection",
		StreamIdleTimeout: 15 * time.Second,
		DefaultLimit:      50,
		MaxLimit:          500,
	}

	mqttOpts, err := transport.OptionsFromEnv("MQTT", "relay-bridge")
	if err != nil {
		return cfg, err
	}
	if mqttOpts.BrokerURL == "" {
		return cfg, fmt.Errorf("MQTT_BROKER_URL is required")
	}
	cfg.MQTT = mqttOpts

	if topic := strings.TrimSpace(os.Getenv("DETECTION_TOPIC")); topic != "" {
		cfg.DetectionTopic = topic
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	}

	if idleStr := os.Getenv("STREAM_IDLE_TIMEOUT"); idleStr != "" {
		if d, err := time.ParseDuration(idleStr); err == nil && d > 0 {
			cfg.StreamIdleTimeout = d
		} else {
			return cfg, fmt.Errorf("invalid STREAM_IDLE_TIMEOUT: %s", idleStr)
		}
	}

	if limitStr := os.Getenv("HISTORY_DEFAULT_LIMIT"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			cfg.DefaultLimit = limit
		} else {
			return cfg, fmt.Errorf("invalid HISTORY_DEFAULT_LIMIT: %s", limitStr)
		}
	}

	if maxStr := os.Getenv("HISTORY_MAX_LIMIT"); maxStr != "" {
		if limit, err := strconv.Atoi(maxStr); err == nil && limit > 0 {
			cfg.MaxLimit = limit
		} else {
			return cfg, fmt.Errorf("invalid HISTORY_MAX_LIMIT: %s", maxStr)
		}
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.BearerToken = os.Getenv("API_BEARER_TOKEN")
	cfg.LogLevel = os.Getenv("LOGLEVEL")

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// HistoryEnabled reports whether relayed snapshots are persisted.
func (c Config) HistoryEnabled() bool {
	return c.DatabaseURL != ""
}
