package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
)

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("campaign.root", ".")

	v.SetDefault("scheduler.name", "local")
	v.SetDefault("scheduler.runner", "none")
	v.SetDefault("scheduler.templates_dir", "")
	v.SetDefault("scheduler.wrapper", []string{})

	v.SetDefault("machine.name", "local")
	v.SetDefault("machine.processes_per_node", 1)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.port", 22500)
	v.SetDefault("telemetry.library_paths", map[string]string{})

	v.SetDefault("status.watch_interval", "30s")
	v.SetDefault("status.min_log_level", "debug")

	v.SetDefault("submit.registry_dir", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// envSpec maps one environment variable to a config key.
type envSpec struct {
	Name string
	Path string
}

// getEnvSpecs returns the short-form environment variables. Every key is
// also reachable as <PREFIX>_<KEY> with dots replaced by underscores.
// A short name must never equal a section name: AutomaticEnv would let it
// shadow every key of that section.
func getEnvSpecs() []envSpec {
	if appIdentity == nil || appIdentity.EnvPrefix == "" {
		return []envSpec{}
	}
	p := appIdentity.EnvPrefix + "_"
	return []envSpec{
		{p + "LOG_LEVEL", "logging.level"},
		{p + "LOG_PROFILE", "logging.profile"},
		{p + "HOST", "server.host"},
		{p + "PORT", "server.port"},
		{p + "READ_TIMEOUT", "server.read_timeout"},
		{p + "WRITE_TIMEOUT", "server.write_timeout"},
		{p + "IDLE_TIMEOUT", "server.idle_timeout"},
		{p + "SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{p + "CAMPAIGN_ROOT", "campaign.root"},
		{p + "BACKEND", "scheduler.name"},
		{p + "RUNNER", "scheduler.runner"},
		{p + "TEMPLATES_DIR", "scheduler.templates_dir"},
		{p + "MACHINE_NAME", "machine.name"},
		{p + "PROCESSES_PER_NODE", "machine.processes_per_node"},
		{p + "TELEMETRY_ENABLED", "telemetry.enabled"},
		{p + "TELEMETRY_PORT", "telemetry.port"},
		{p + "WATCH_INTERVAL", "status.watch_interval"},
		{p + "SUBMIT_REGISTRY_DIR", "submit.registry_dir"},
	}
}

// getUserConfigPaths returns candidate user-level config files in
// increasing precedence.
func getUserConfigPaths() []string {
	if appIdentity == nil || appIdentity.ConfigName == "" {
		return []string{}
	}
	name := appIdentity.ConfigName
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, name, name+".yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+name+".yaml"))
	}
	return paths
}

// Load builds the configuration. Later sources win: defaults, user config
// files, ./gosweep.yaml, environment, then overrides in order.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	v := viper.New()
	SetDefaults(v)

	files := append(getUserConfigPaths(), appIdentity.ConfigName+".yaml")
	for _, path := range files {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(appIdentity.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		long := appIdentity.EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(spec.Path, ".", "_"))
		if err := v.BindEnv(spec.Path, spec.Name, long); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the last loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// GetIdentity returns the application identity, or nil before Load.
func GetIdentity() *Identity {
	configMu.RLock()
	defer configMu.RUnlock()
	return appIdentity
}

func (c *Config) validate() error {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Profile = strings.ToLower(strings.TrimSpace(c.Logging.Profile))
	if c.Machine.ProcessesPerNode < 0 {
		return fmt.Errorf("machine.processes_per_node must be >= 0, got %d", c.Machine.ProcessesPerNode)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Status.WatchInterval < 0 {
		return fmt.Errorf("status.watch_interval must not be negative")
	}
	return nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
