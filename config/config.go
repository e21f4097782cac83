// Package config loads the settings shared by the binaries from a YAML or
// TOML file, picked by extension.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"grpcbridge/loadbalance"
	"grpcbridge/transport"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type KeepAliveConfig struct {
	Enabled bool          `yaml:"enabled" toml:"enabled"`
	Time    time.Duration `yaml:"time" toml:"time"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// DiscoveryConfig enables etcd service discovery when Endpoints is set.
type DiscoveryConfig struct {
	Endpoints []string `yaml:"endpoints" toml:"endpoints"`
	Balancer  string   `yaml:"balancer" toml:"balancer"`
}

type MiddlewareConfig struct {
	Timeout        time.Duration `yaml:"timeout" toml:"timeout"`
	Retries        int           `yaml:"retries" toml:"retries"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay" toml:"retryBaseDelay"`
	RateLimit      float64       `yaml:"rateLimit" toml:"rateLimit"` // calls per second, 0 disables
	Burst          int           `yaml:"burst" toml:"burst"`
}

type LoggingConfig struct {
	Level       string `yaml:"level" toml:"level"`
	Development bool   `yaml:"development" toml:"development"`
	UILog       bool   `yaml:"uiLog" toml:"uiLog"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" toml:"addr"` // e.g. ":9090", empty disables /metrics
}

type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint" toml:"endpoint"` // OTLP gRPC collector, empty disables tracing
	ServiceName string `yaml:"serviceName" toml:"serviceName"`
}

type Config struct {
	Host              string           `yaml:"host" toml:"host"`
	Insecure          bool             `yaml:"insecure" toml:"insecure"`
	Compression       string           `yaml:"compression" toml:"compression"`
	ResponseSizeLimit int              `yaml:"responseSizeLimit" toml:"responseSizeLimit"`
	KeepAlive         KeepAliveConfig  `yaml:"keepAlive" toml:"keepAlive"`
	Discovery         DiscoveryConfig  `yaml:"discovery" toml:"discovery"`
	Middleware        MiddlewareConfig `yaml:"middleware" toml:"middleware"`
	Logging           LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics           MetricsConfig    `yaml:"metrics" toml:"metrics"`
	Telemetry         TelemetryConfig  `yaml:"telemetry" toml:"telemetry"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Host: "localhost:50051", Insecure: true}
	cfg.applyDefaults()
	return cfg
}

// Load reads path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("config: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.KeepAlive.Enabled {
		if cfg.KeepAlive.Time == 0 {
			cfg.KeepAlive.Time = 30 * time.Second
		}
		if cfg.KeepAlive.Timeout == 0 {
			cfg.KeepAlive.Timeout = 10 * time.Second
		}
	}
	if cfg.Middleware.Retries > 0 && cfg.Middleware.RetryBaseDelay == 0 {
		cfg.Middleware.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.Middleware.RateLimit > 0 && cfg.Middleware.Burst == 0 {
		cfg.Middleware.Burst = 1
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "grpcbridge"
	}
}

func (cfg *Config) validate() error {
	var errs []error
	if cfg.Host == "" && len(cfg.Discovery.Endpoints) == 0 {
		errs = append(errs, errors.New("host or discovery.endpoints required"))
	}
	switch cfg.Compression {
	case "", transport.CompressionGzip:
	default:
		errs = append(errs, fmt.Errorf("compression: unsupported %q", cfg.Compression))
	}
	if cfg.ResponseSizeLimit < 0 {
		errs = append(errs, errors.New("responseSizeLimit must not be negative"))
	}
	if _, err := loadbalance.New(cfg.Discovery.Balancer); err != nil {
		errs = append(errs, fmt.Errorf("discovery.balancer: %w", err))
	}
	if cfg.Middleware.Retries < 0 {
		errs = append(errs, errors.New("middleware.retries must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// TransportOptions maps the channel settings onto transport options.
// Discovery and middleware are wired by the caller.
func (cfg *Config) TransportOptions() transport.Options {
	opts := transport.Options{
		Target:         cfg.Host,
		Insecure:       cfg.Insecure,
		Compression:    cfg.Compression,
		MaxRecvMsgSize: cfg.ResponseSizeLimit,
	}
	if cfg.KeepAlive.Enabled {
		opts.KeepAlive = &transport.KeepAlive{Time: cfg.KeepAlive.Time, Timeout: cfg.KeepAlive.Timeout}
	}
	return opts
}
