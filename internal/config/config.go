// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads psrpc CLI configuration from YAML files with
// environment variable expansion and duration parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luxfi/psrpc"
)

// Config represents the complete psrpc configuration
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Call      CallConfig      `yaml:"call"`
	Handler   HandlerConfig   `yaml:"handler"`
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TransportConfig selects the pub/sub transport
type TransportConfig struct {
	URL string `yaml:"url"`
}

// CallConfig holds call defaults
type CallConfig struct {
	Timeout time.Duration `yaml:"-"`
	IDSize  int           `yaml:"id_size"`

	TimeoutRaw string `yaml:"timeout"`
}

// HandlerConfig holds registrar settings
type HandlerConfig struct {
	Prefix        string  `yaml:"prefix"`
	DedupCapacity int     `yaml:"dedup_capacity"`
	RateLimit     float64 `yaml:"rate_limit"` // handler invocations per second, 0 disables
	Burst         int     `yaml:"burst"`
}

// HTTPConfig holds the JSON-RPC bridge listener
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// GRPCConfig holds the gateway listener
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{URL: "mem://default"},
		Call: CallConfig{
			Timeout: psrpc.DefaultTimeout,
			IDSize:  psrpc.DefaultIDSize,
		},
		Handler: HandlerConfig{
			Prefix:        "svc",
			DedupCapacity: psrpc.DefaultDedupSize,
		},
		Metrics: MetricsConfig{Path: "/metrics"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path. Values missing
// from the file keep their defaults. Environment variables in the format
// ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(m)[1])
	})
}

func parseDurations(cfg *Config) error {
	if cfg.Call.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Call.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("call.timeout: %w", err)
		}
		cfg.Call.Timeout = d
	}
	return nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []error
	if c.Transport.URL == "" {
		errs = append(errs, errors.New("transport.url is required"))
	}
	if c.Call.Timeout <= 0 {
		errs = append(errs, errors.New("call.timeout must be positive"))
	}
	if c.Call.IDSize <= 0 {
		errs = append(errs, errors.New("call.id_size must be positive"))
	}
	if c.Handler.DedupCapacity <= 0 {
		errs = append(errs, errors.New("handler.dedup_capacity must be positive"))
	}
	if c.Handler.RateLimit < 0 {
		errs = append(errs, errors.New("handler.rate_limit must not be negative"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format))
	}
	return errors.Join(errs...)
}
