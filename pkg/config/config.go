package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultDeviceName is the advertised local name of the bike controller
const DefaultDeviceName = "Brompton_Elec"

// Config holds application configuration
type Config struct {
	LogLevel         logrus.Level  `yaml:"-"`
	LogLevelName     string        `yaml:"log_level" default:"info"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"30s"`
	OperationTimeout time.Duration `yaml:"operation_timeout" default:"10s"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout" default:"1m"`
	DeviceName       string        `yaml:"device_name" default:"Brompton_Elec"`
	Address          string        `yaml:"address"`
	WatchBuffer      int           `yaml:"watch_buffer" default:"16"`
	TraceFile        string        `yaml:"trace_file"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.LogLevel = logrus.InfoLevel
	return cfg
}

// Load reads a YAML config file over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges and resolves the log level name
func (c *Config) Validate() error {
	level, err := logrus.ParseLevel(c.LogLevelName)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	c.LogLevel = level

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation_timeout must be positive, got %s", c.OperationTimeout)
	}
	if c.DiscoveryTimeout <= 0 {
		return fmt.Errorf("discovery_timeout must be positive, got %s", c.DiscoveryTimeout)
	}
	if c.WatchBuffer <= 0 {
		return fmt.Errorf("watch_buffer must be positive, got %d", c.WatchBuffer)
	}
	if c.Address == "" && c.DeviceName == "" {
		return errors.New("either address or device_name must be set")
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
