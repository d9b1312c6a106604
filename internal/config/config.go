// Package config provides YAML-based configuration management.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at the config file.
const EnvConfigPath = "SEGVIEW_CONFIG"

// DefaultConfigPath is used when EnvConfigPath is unset.
const DefaultConfigPath = "segview.yaml"

// AppConfig represents the root configuration structure
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Inference InferenceConfig `yaml:"inference"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port                int    `yaml:"port"`
	BindAddress         string `yaml:"bind_address"`
	EnableCORS          bool   `yaml:"enable_cors"`
	AllowOrigins        string `yaml:"allow_origins"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int    `yaml:"idle_timeout_seconds"`
	BodyLimit           string `yaml:"body_limit"`
	EnableCompression   bool   `yaml:"enable_compression"`
	CompressionLevel    int    `yaml:"compression_level"`
}

// InferenceConfig points at the segmentation endpoint
type InferenceConfig struct {
	BaseURL        string `yaml:"base_url"`
	Overlay        bool   `yaml:"overlay"`
	ReturnOriginal bool   `yaml:"return_original"`
}

// SessionsConfig bounds the per-tab sessions
type SessionsConfig struct {
	MaxSessions            int `yaml:"max_sessions"`
	TimeoutMinutes         int `yaml:"timeout_minutes"`
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes"`
	KeepAliveMinutes       int `yaml:"keep_alive_minutes"`
}

// LoggingConfig selects the logger preset
type LoggingConfig struct {
	Mode           string `yaml:"mode"` // "release" or "debug"
	RequestLogging bool   `yaml:"request_logging"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:                8089,
			BindAddress:         "0.0.0.0",
			EnableCORS:          true,
			AllowOrigins:        "*",
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 120,
			IdleTimeoutSeconds:  120,
			BodyLimit:           "32M",
			EnableCompression:   true,
			CompressionLevel:    5,
		},
		Inference: InferenceConfig{
			BaseURL: "http://127.0.0.1:8000",
		},
		Sessions: SessionsConfig{
			MaxSessions:            64,
			TimeoutMinutes:         30,
			CleanupIntervalMinutes: 5,
			KeepAliveMinutes:       5,
		},
		Logging: LoggingConfig{
			Mode:           "debug",
			RequestLogging: true,
		},
	}
}

// Path returns the config file location from the environment or the default.
func Path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadConfig loads configuration from a YAML file. A missing file is created
// with the defaults; fields absent from the file keep their default values.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration as YAML
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Segmentation viewer configuration\n\n")
	if err := os.WriteFile(configPath, append(header, output...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Inference.BaseURL) == "" {
		return fmt.Errorf("inference base_url must be set")
	}
	if c.Sessions.TimeoutMinutes <= 0 || c.Sessions.CleanupIntervalMinutes <= 0 {
		return fmt.Errorf("session timeout and cleanup interval must be positive")
	}
	switch c.Logging.Mode {
	case "release", "debug":
	default:
		return fmt.Errorf("invalid logging mode %q (want release or debug)", c.Logging.Mode)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if url := os.Getenv("SEGMENT_API_URL"); url != "" {
		c.Inference.BaseURL = url
	}

	if mode := os.Getenv("LOG_MODE"); mode != "" {
		c.Logging.Mode = mode
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// Origins splits AllowOrigins into a list, defaulting to "*".
func (c *AppConfig) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.Server.AllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Sessions.TimeoutMinutes) * time.Minute
}

func (c *AppConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Sessions.CleanupIntervalMinutes) * time.Minute
}

func (c *AppConfig) KeepAlive() time.Duration {
	return time.Duration(c.Sessions.KeepAliveMinutes) * time.Minute
}
