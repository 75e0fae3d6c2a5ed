// Package config loads gosweep configuration from defaults, config files,
// environment variables and runtime overrides, in increasing precedence.
package config

import (
	"time"
)

// Identity names the application for config paths and environment
// variables.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the identity of the gosweep binary.
var DefaultIdentity = Identity{
	BinaryName: "gosweep",
	EnvPrefix:  "GOSWEEP",
	ConfigName: "gosweep",
}

// Config is the complete application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Campaign  CampaignConfig  `mapstructure:"campaign"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Machine   MachineConfig   `mapstructure:"machine"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Status    StatusConfig    `mapstructure:"status"`
	Submit    SubmitConfig    `mapstructure:"submit"`
	Server    ServerConfig    `mapstructure:"server"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type CampaignConfig struct {
	// Root is the default campaign directory for status and serve.
	Root string `mapstructure:"root"`
}

type SchedulerConfig struct {
	Name         string   `mapstructure:"name"`
	Runner       string   `mapstructure:"runner"`
	TemplatesDir string   `mapstructure:"templates_dir"`
	Wrapper      []string `mapstructure:"wrapper"`
}

type MachineConfig struct {
	Name             string `mapstructure:"name"`
	ProcessesPerNode int    `mapstructure:"processes_per_node"`
}

type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`

	// LibraryPaths maps machine-name patterns to library directories.
	// Keys are lowercased by the config layer; patterns match
	// case-insensitively.
	LibraryPaths map[string]string `mapstructure:"library_paths"`
}

type StatusConfig struct {
	WatchInterval time.Duration `mapstructure:"watch_interval"`
	MinLogLevel   string        `mapstructure:"min_log_level"`
}

type SubmitConfig struct {
	// RegistryDir holds submission records. Empty means the app data dir.
	RegistryDir string `mapstructure:"registry_dir"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}
