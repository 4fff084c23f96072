package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Client holds the chat client configuration.
type Client struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	WSPath         string        `yaml:"ws_path"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	LogLevel       string        `yaml:"log_level"`
	GRPCHealthAddr string        `yaml:"grpc_health_addr"`
}

// DefaultClientPath returns $XDG_CONFIG_HOME/nexus/config.yaml, falling back
// to ~/.config.
func DefaultClientPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "nexus", "config.yaml")
}

// LoadClient reads the optional YAML file at path and applies NEXUS_*
// environment overrides. A missing file is not an error.
func LoadClient(path string) (*Client, error) {
	cfg := &Client{
		BaseURL:        "http://localhost:8080",
		WSPath:         "/api/v1/ws/chat",
		DialTimeout:    10 * time.Second,
		SendTimeout:    10 * time.Second,
		HTTPTimeout:    15 * time.Second,
		LogLevel:       "warn",
		GRPCHealthAddr: "localhost:9090",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read client config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse client config %s: %w", path, err)
			}
		}
	}

	cfg.BaseURL = getEnv("NEXUS_BASE_URL", cfg.BaseURL)
	cfg.Token = getEnv("NEXUS_TOKEN", cfg.Token)
	cfg.WSPath = getEnv("NEXUS_WS_PATH", cfg.WSPath)
	cfg.DialTimeout = getEnvDuration("NEXUS_DIAL_TIMEOUT", cfg.DialTimeout)
	cfg.SendTimeout = getEnvDuration("NEXUS_SEND_TIMEOUT", cfg.SendTimeout)
	cfg.HTTPTimeout = getEnvDuration("NEXUS_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.LogLevel = getEnv("NEXUS_LOG_LEVEL", cfg.LogLevel)
	cfg.GRPCHealthAddr = getEnv("NEXUS_GRPC_HEALTH_ADDR", cfg.GRPCHealthAddr)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the client configuration.
func (c *Client) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base_url cannot be empty")
	}
	if c.DialTimeout <= 0 || c.SendTimeout <= 0 || c.HTTPTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
