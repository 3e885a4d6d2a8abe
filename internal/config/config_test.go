package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("default read timeout = %v, want 30s", cfg.Server.ReadTimeout)
	}
	if cfg.KeyPool.FailureThreshold != 3 {
		t.Errorf("default failure threshold = %d, want 3", cfg.KeyPool.FailureThreshold)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("default database type = %q, want sqlite", cfg.Database.Type)
	}
}

func validBaseConfig() *Config {
	cfg := Default()
	cfg.Upstream.BaseURL = "https://generativelanguage.googleapis.com"
	return cfg
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing upstream base url",
			mutate:  func(c *Config) { c.Upstream.BaseURL = "" },
			wantErr: true,
		},
		{
			name:    "zero gate capacity",
			mutate:  func(c *Config) { c.Gate.MaxConcurrentUpstream = 0 },
			wantErr: true,
		},
		{
			name:    "zero failure threshold",
			mutate:  func(c *Config) { c.KeyPool.FailureThreshold = 0 },
			wantErr: true,
		},
		{
			name:    "max cooldown below base cooldown",
			mutate:  func(c *Config) { c.KeyPool.MaxCooldown = c.KeyPool.BaseCooldown / 2 },
			wantErr: true,
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Database.Type = "postgres"; c.Database.PostgresDSN = "" },
			wantErr: true,
		},
		{
			name:    "unknown database type",
			mutate:  func(c *Config) { c.Database.Type = "mysql" },
			wantErr: true,
		},
		{
			name:    "private upstream host rejected by default",
			mutate:  func(c *Config) { c.Upstream.BaseURL = "http://127.0.0.1:8081" },
			wantErr: true,
		},
		{
			name: "private upstream host allowed when opted in",
			mutate: func(c *Config) {
				c.Upstream.BaseURL = "http://127.0.0.1:8081"
				c.Upstream.AllowPrivateUpstream = true
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestLoadFromFileExpandsEnv(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_URL", "https://upstream.example.com")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "upstream:\n  base_url: \"${TEST_UPSTREAM_URL}\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Upstream.BaseURL != "https://upstream.example.com" {
		t.Fatalf("base_url = %q, want env-expanded value", cfg.Upstream.BaseURL)
	}
}

func TestLoadFromFileRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "upstream:\n  base_url: \"https://upstream.example.com\"\ndatabase:\n  type: mysql\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := LoadFromFile(path)
	if err == nil {
		t.Fatal("expected validation error for unknown database type")
	}
	if !strings.Contains(err.Error(), "database.type") {
		t.Fatalf("error = %v, want it to mention database.type", err)
	}
}
