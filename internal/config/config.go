package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/nfrund/turnstile/internal/tracing"
)

// Config holds all configuration for the application.
type Config struct {
	TopicsFile      string
	ControllersFile string
	StatusAddr      string
	GatePacing      time.Duration
	LogFormat       string
	LogLevel        string
	Tracing         tracing.Config
}

// DefaultGatePacing keeps a local run from spinning the workers at full speed
const DefaultGatePacing = 100 * time.Millisecond

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		TopicsFile: "topics.json",
		StatusAddr: ":8089",
		GatePacing: DefaultGatePacing,
		LogFormat:  "text",
		LogLevel:   "info",
		Tracing:    tracing.DefaultConfig(),
	}
}

// New loads configuration from a .env file, when present, and environment variables.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from a variable lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()

	// Turnstile settings
	if v := getenv("TURNSTILE_TOPICS_FILE"); v != "" {
		cfg.TopicsFile = v
	}
	cfg.ControllersFile = getenv("TURNSTILE_CONTROLLERS_FILE")
	if v := getenv("TURNSTILE_STATUS_ADDR"); v != "" {
		cfg.StatusAddr = v
	}
	if v := getenv("TURNSTILE_GATE_PACING"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("TURNSTILE_GATE_PACING: %w", err)
		}
		cfg.GatePacing = d
	}
	// Logging settings
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	// Tracing settings, disabled unless TRACING_ENABLED is true
	if v := getenv("TRACING_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("TRACING_ENABLED: %w", err)
		}
		cfg.Tracing.Enabled = enabled
	}
	if v := getenv("TRACING_SERVICE_NAME"); v != "" {
		cfg.Tracing.ServiceName = v
	}
	if v := getenv("TRACING_ZIPKIN_URL"); v != "" {
		cfg.Tracing.ZipkinURL = v
	}

	return cfg, nil
}
