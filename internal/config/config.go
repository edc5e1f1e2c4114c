package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/forgelab/forge/internal/allocator"
	"github.com/forgelab/forge/internal/logger"
	"github.com/forgelab/forge/internal/supervisor"
)

// Config represents the top-level TOML structure.
type Config struct {
	RegistryPath string          `toml:"registry_path" mapstructure:"registry_path"`
	LockPath     string          `toml:"lock_path" mapstructure:"lock_path"`
	Ports        PortsConfig     `toml:"ports" mapstructure:"ports"`
	Supervise    SuperviseConfig `toml:"supervise" mapstructure:"supervise"`
	Log          logger.Config   `toml:"log" mapstructure:"log"`
	Server       ServerConfig    `toml:"server" mapstructure:"server"`
	History      HistoryConfig   `toml:"history" mapstructure:"history"`
}

type PortsConfig struct {
	Min      int   `toml:"min" mapstructure:"min"`
	Max      int   `toml:"max" mapstructure:"max"`
	Reserved []int `toml:"reserved" mapstructure:"reserved"`
}

type SuperviseConfig struct {
	Host           string        `toml:"host" mapstructure:"host"`
	StartupTimeout time.Duration `toml:"startup_timeout" mapstructure:"startup_timeout"`
	PollInterval   time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	StopTimeout    time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	RestartDelay   time.Duration `toml:"restart_delay" mapstructure:"restart_delay"`
	ProbeTimeout   time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
	ChildLogDir    string        `toml:"child_log_dir" mapstructure:"child_log_dir"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type HistoryConfig struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

const (
	DefaultPortMin = 3000
	DefaultPortMax = 9000
)

// Default returns the configuration used when no file is given. The registry
// lives under the user's home directory so every invocation sees the same
// port assignments.
func Default() Config {
	base := "."
	if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".forge")
	}
	return Config{
		RegistryPath: filepath.Join(base, "registry.json"),
		Ports:        PortsConfig{Min: DefaultPortMin, Max: DefaultPortMax},
		Supervise: SuperviseConfig{
			Host:           "127.0.0.1",
			StartupTimeout: 30 * time.Second,
			PollInterval:   time.Second,
			StopTimeout:    8 * time.Second,
			RestartDelay:   time.Second,
			ProbeTimeout:   time.Second,
		},
		Log:    logger.Config{Level: "info"},
		Server: ServerConfig{Listen: "127.0.0.1:7466", BasePath: "/api"},
	}
}

// Load reads a TOML config file and merges it over the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.RegistryPath == "" {
		return fmt.Errorf("registry_path must not be empty")
	}
	if c.Ports.Min <= 0 || c.Ports.Max > 65535 || c.Ports.Min > c.Ports.Max {
		return fmt.Errorf("invalid port range [%d, %d]", c.Ports.Min, c.Ports.Max)
	}
	for _, p := range c.Ports.Reserved {
		if p < c.Ports.Min || p > c.Ports.Max {
			return fmt.Errorf("reserved port %d outside range [%d, %d]", p, c.Ports.Min, c.Ports.Max)
		}
	}
	return nil
}

// Allocator builds the port allocator for the configured range.
func (c Config) Allocator() allocator.Allocator {
	return allocator.New(c.Ports.Min, c.Ports.Max, c.Ports.Reserved...)
}

// Supervisor maps the [supervise] section onto the supervisor's options.
func (c Config) Supervisor() supervisor.Config {
	return supervisor.Config{
		Host:           c.Supervise.Host,
		StartupTimeout: c.Supervise.StartupTimeout,
		PollInterval:   c.Supervise.PollInterval,
		StopTimeout:    c.Supervise.StopTimeout,
		RestartDelay:   c.Supervise.RestartDelay,
		ProbeTimeout:   c.Supervise.ProbeTimeout,
		ChildLogDir:    c.Supervise.ChildLogDir,
	}
}
