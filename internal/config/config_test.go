package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  project_root: /data/BFS_crawl
  downloads_root: /data/downloads
coordinator:
  watchdog_interval_ms: 1000
  watchdog_idle_ms: 30000
upload:
  max_body_bytes: 104857600
routing:
  policy: electoral
artifacts:
  default_chunk_size: 2000
  encoding: legacy
auth:
  enabled: true
  api_key: secret
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.ProjectRoot != "/data/BFS_crawl" || cfg.Server.DownloadsRoot != "/data/downloads" {
		t.Fatalf("expected project/downloads roots to apply, got %+v", cfg.Server)
	}
	if cfg.Coordinator.WatchdogIntervalMs != 1000 || cfg.Coordinator.WatchdogIdleMs != 30000 {
		t.Fatalf("expected coordinator overrides to apply, got %+v", cfg.Coordinator)
	}
	if cfg.Upload.MaxBodyBytes != 104857600 {
		t.Fatalf("expected upload.max_body_bytes override, got %d", cfg.Upload.MaxBodyBytes)
	}
	if cfg.Artifacts.Encoding != "legacy" || cfg.Artifacts.DefaultChunkSize != 2000 {
		t.Fatalf("expected artifacts overrides to apply, got %+v", cfg.Artifacts)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key, got %+v", cfg.Auth)
	}
}

func TestLoadAppliesDefaultsWithoutConfigFile(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Upload.MaxBodyBytes != 750*1024*1024 {
		t.Fatalf("expected default upload.max_body_bytes of 750 MiB, got %d", cfg.Upload.MaxBodyBytes)
	}
	if cfg.Routing.Policy != "electoral" {
		t.Fatalf("expected default routing.policy electoral, got %q", cfg.Routing.Policy)
	}
	if cfg.Artifacts.Encoding != "meta_first_row" {
		t.Fatalf("expected default artifacts.encoding meta_first_row, got %q", cfg.Artifacts.Encoding)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:      ServerConfig{Port: 8080},
		Coordinator: CoordinatorConfig{WatchdogIntervalMs: 1000, WatchdogIdleMs: 30000},
		Upload:      UploadConfig{MaxBodyBytes: 1024},
		Routing:     RoutingConfig{Policy: "electoral"},
		Artifacts:   ArtifactsConfig{DefaultChunkSize: 100, Encoding: "legacy"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid watchdog interval",
			cfg: func() Config {
				c := base
				c.Coordinator.WatchdogIntervalMs = 0
				return c
			}(),
			want: "coordinator.watchdog_interval_ms",
		},
		{
			name: "idle below interval",
			cfg: func() Config {
				c := base
				c.Coordinator.WatchdogIdleMs = 500
				return c
			}(),
			want: "coordinator.watchdog_idle_ms",
		},
		{
			name: "invalid max body bytes",
			cfg: func() Config {
				c := base
				c.Upload.MaxBodyBytes = 0
				return c
			}(),
			want: "upload.max_body_bytes",
		},
		{
			name: "missing routing policy",
			cfg: func() Config {
				c := base
				c.Routing.Policy = ""
				return c
			}(),
			want: "routing.policy",
		},
		{
			name: "invalid artifacts encoding",
			cfg: func() Config {
				c := base
				c.Artifacts.Encoding = "xml"
				return c
			}(),
			want: "artifacts.encoding",
		},
		{
			name: "invalid chunk size",
			cfg: func() Config {
				c := base
				c.Artifacts.DefaultChunkSize = 0
				return c
			}(),
			want: "artifacts.default_chunk_size",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
