// Package config loads and validates sink service configuration via Viper.
// Adapted from the teacher's internal/config/config.go: same
// new-viper-instance/env-prefix/SetDefault/Unmarshal/Validate shape, fields
// replaced with the sink's server/coordinator/upload/routing/artifact knobs.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Upload      UploadConfig      `mapstructure:"upload"`
	Routing     RoutingConfig     `mapstructure:"routing"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts"`
	Auth        AuthConfig        `mapstructure:"auth"`
}

// ServerConfig controls HTTP server behavior and the on-disk project layout.
type ServerConfig struct {
	Port          int    `mapstructure:"port"`
	ProjectRoot   string `mapstructure:"project_root"`   // directory holding BFS_crawl/ and downloads/
	DownloadsRoot string `mapstructure:"downloads_root"` // loaded but not read; downloads always live under <project_root>/downloads/
}

// CoordinatorConfig tunes the mutation lock's watchdog (spec §5).
type CoordinatorConfig struct {
	WatchdogIntervalMs int `mapstructure:"watchdog_interval_ms"`
	WatchdogIdleMs     int `mapstructure:"watchdog_idle_ms"`
}

// UploadConfig bounds the upload endpoint's accepted request size (spec §5).
type UploadConfig struct {
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// RoutingConfig selects the pluggable placement policy by name (spec §4.4).
type RoutingConfig struct {
	Policy string `mapstructure:"policy"`
}

// ArtifactsConfig controls the artifact writer's default chunking and
// encoding (spec §4.6).
type ArtifactsConfig struct {
	DefaultChunkSize int    `mapstructure:"default_chunk_size"`
	Encoding         string `mapstructure:"encoding"` // meta_first_row | legacy
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// Load builds a Config from disk/environment. path may be empty, in which
// case only environment variables and defaults apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.project_root", ".")
	v.SetDefault("server.downloads_root", "downloads")
	v.SetDefault("coordinator.watchdog_interval_ms", 5000)
	v.SetDefault("coordinator.watchdog_idle_ms", 120000)
	v.SetDefault("upload.max_body_bytes", 750*1024*1024) // 750 MiB, spec §5
	v.SetDefault("routing.policy", "electoral")
	v.SetDefault("artifacts.default_chunk_size", 5000)
	v.SetDefault("artifacts.encoding", "meta_first_row")
	v.SetDefault("auth.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Coordinator.WatchdogIntervalMs <= 0 {
		return fmt.Errorf("coordinator.watchdog_interval_ms must be > 0")
	}
	if c.Coordinator.WatchdogIdleMs <= 0 {
		return fmt.Errorf("coordinator.watchdog_idle_ms must be > 0")
	}
	if c.Coordinator.WatchdogIdleMs < c.Coordinator.WatchdogIntervalMs {
		return fmt.Errorf("coordinator.watchdog_idle_ms must be >= coordinator.watchdog_interval_ms")
	}
	if c.Upload.MaxBodyBytes <= 0 {
		return fmt.Errorf("upload.max_body_bytes must be > 0")
	}
	if c.Routing.Policy == "" {
		return fmt.Errorf("routing.policy must be set")
	}
	if c.Artifacts.Encoding != "meta_first_row" && c.Artifacts.Encoding != "legacy" {
		return fmt.Errorf("artifacts.encoding must be meta_first_row or legacy")
	}
	if c.Artifacts.DefaultChunkSize <= 0 {
		return fmt.Errorf("artifacts.default_chunk_size must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}
