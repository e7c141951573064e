// Package config loads coredevice configuration from COREDEVICE_*
// environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/coredevice/errors"
	"github.com/wippyai/coredevice/host"
	"github.com/wippyai/coredevice/kernel"
	"github.com/wippyai/coredevice/loader"
	"github.com/wippyai/coredevice/mailbox"
)

// Prefix is the environment variable prefix.
const Prefix = "coredevice"

// Config holds all coredevice configuration.
type Config struct {
	Kernel  KernelConfig
	Host    HostConfig
	Loader  LoaderConfig
	Logging LogConfig
	Metrics MetricsConfig
}

// KernelConfig configures the kernel runtime.
type KernelConfig struct {
	// Wait is "spin" or "park".
	Wait string `envconfig:"WAIT" default:"spin"`
}

// HostConfig configures the host session.
type HostConfig struct {
	ClockSlack   uint64 `envconfig:"CLOCK_SLACK" default:"125000"`
	MaxWatchdogs int    `envconfig:"MAX_WATCHDOGS" default:"16"`
	// CacheSeed names a YAML file of cache rows loaded at boot.
	CacheSeed string `envconfig:"CACHE_SEED"`
}

// LoaderConfig configures the wazero loader.
type LoaderConfig struct {
	MemoryLimitPages uint32 `envconfig:"MEMORY_LIMIT_PAGES" default:"256"`
	Compiler         bool   `envconfig:"COMPILER" default:"false"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"info"`
	Development bool   `envconfig:"DEV" default:"false"`
}

// MetricsConfig holds the metrics endpoint; empty disables it.
type MetricsConfig struct {
	Address string `envconfig:"ADDR"`
}

// Load reads configuration from the environment, e.g.
// COREDEVICE_KERNEL_WAIT or COREDEVICE_LOGGING_LEVEL.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns the
// defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Kernel: KernelConfig{Wait: "spin"},
		Host: HostConfig{
			ClockSlack:   host.DefaultClockSlack,
			MaxWatchdogs: host.DefaultMaxWatchdogs,
		},
		Loader:  LoaderConfig{MemoryLimitPages: 256},
		Logging: LogConfig{Level: "info"},
	}
}

// Validate checks values the environment cannot type-check.
func (c *Config) Validate() error {
	if _, err := parseWait(c.Kernel.Wait); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "logging level")
	}
	if c.Host.MaxWatchdogs < 0 {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("max watchdogs %d", c.Host.MaxWatchdogs))
	}
	return nil
}

func parseWait(s string) (mailbox.WaitStrategy, error) {
	switch strings.ToLower(s) {
	case "spin", "":
		return mailbox.Spin, nil
	case "park":
		return mailbox.Park, nil
	}
	return 0, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("kernel wait %q (want spin or park)", s))
}

// KernelRuntime returns the kernel runtime configuration.
func (c *Config) KernelRuntime() *kernel.Config {
	wait, _ := parseWait(c.Kernel.Wait)
	return &kernel.Config{Wait: wait}
}

// Session returns the host session configuration.
func (c *Config) Session() *host.Config {
	return &host.Config{ClockSlack: c.Host.ClockSlack, MaxWatchdogs: c.Host.MaxWatchdogs}
}

// WazeroLoader returns the loader configuration.
func (c *Config) WazeroLoader() *loader.Config {
	return &loader.Config{MemoryLimitPages: c.Loader.MemoryLimitPages, Compiler: c.Loader.Compiler}
}

// NewLogger builds the process logger.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "logging level")
	}
	zc := zap.NewProductionConfig()
	if c.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
