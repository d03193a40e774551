package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/02loveslollipop/detection-relay/services/internal/transport"
)

const (
	defaultPublishTopic   = "iot/object-detection"
	defaultLocalBroker    = "tcp://127.0.0.1:1883"
	defaultLocalTopic     = "local/object-detection"
	defaultDeviceCertFile = "/var/sota/client.pem"
	defaultWindow         = time.Second
	defaultKeepAlive      = 10 * time.Second
	defaultThreshold      = 65.0
	defaultSourceBuffer   = 256
	defaultMetricsAddr    = ":9100"
	awsIoTPort            = 8883
)

// Config holds runtime configuration for the edge publisher.
type Config struct {
	DeviceID       string
	DeviceCertFile string

	Cloud        transport.Options
	PublishTopic string

	Local        transport.Options
	LocalTopic   string
	SourceBuffer int

	Window    time.Duration
	KeepAlive time.Duration
	Threshold float64

	MetricsAddr string
	LogLevel    string
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		PublishTopic: defaultPublishTopic,
		LocalTopic:   defaultLocalTopic,
		SourceBuffer: defaultSourceBuffer,
		Window:       defaultWindow,
		KeepAlive:    defaultKeepAlive,
		Threshold:    defaultThreshold,
		MetricsAddr:  defaultMetricsAddr,
	}

	cfg.DeviceID = strings.TrimSpace(os.Getenv("DEVICE_ID"))
	cfg.DeviceCertFile = strings.TrimSpace(os.Getenv("DEVICE_CERT_FILE"))
	if cfg.DeviceCertFile == "" {
		cfg.DeviceCertFile = defaultDeviceCertFile
	}

	cloud, err := transport.OptionsFromEnv("MQTT", "relay-publisher")
	if err != nil {
		return cfg, err
	}
	if cloud.BrokerURL == "" {
		if server := strings.TrimSpace(os.Getenv("AWSIOT_SERVER")); server != "" {
			cloud.BrokerURL = fmt.Sprintf("ssl://%s:%d", server, awsIoTPort)
		}
	}
	if cloud.BrokerURL == "" {
		return cfg, errors.New("MQTT_BROKER_URL or AWSIOT_SERVER is required")
	}
	cfg.Cloud = cloud

	local, err := transport.OptionsFromEnv("LOCAL_MQTT", "relay-source")
	if err != nil {
		return cfg, err
	}
	if local.BrokerURL == "" {
		local.BrokerURL = defaultLocalBroker
	}
	cfg.Local = local

	if v := strings.TrimSpace(os.Getenv("PUBLISH_TOPIC")); v != "" {
		cfg.PublishTopic = v
	}
	if v := strings.TrimSpace(os.Getenv("LOCAL_TOPIC")); v != "" {
		cfg.LocalTopic = v
	}

	if v := strings.TrimSpace(os.Getenv("SOURCE_BUFFER")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid SOURCE_BUFFER: %s", v)
		}
		cfg.SourceBuffer = n
	}

	if v := strings.TrimSpace(os.Getenv("PUBLISH_WINDOW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid PUBLISH_WINDOW: %w", err)
		}
		cfg.Window = d
	}
	if cfg.Window <= 0 {
		return cfg, errors.New("PUBLISH_WINDOW must be positive")
	}

	if v := strings.TrimSpace(os.Getenv("PUBLISH_KEEPALIVE")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid PUBLISH_KEEPALIVE: %w", err)
		}
		cfg.KeepAlive = d
	}
	if cfg.KeepAlive < cfg.Window {
		return cfg, fmt.Errorf("PUBLISH_KEEPALIVE (%s) must not be shorter than PUBLISH_WINDOW (%s)", cfg.KeepAlive, cfg.Window)
	}

	if v := strings.TrimSpace(os.Getenv("CONFIDENCE_THRESHOLD")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 100 {
			return cfg, fmt.Errorf("invalid CONFIDENCE_THRESHOLD: %s", v)
		}
		cfg.Threshold = f
	}

	if v, ok := os.LookupEnv("METRICS_ADDR"); ok {
		cfg.MetricsAddr = strings.TrimSpace(v)
	}

	cfg.LogLevel = os.Getenv("LOGLEVEL")

	return cfg, nil
}
