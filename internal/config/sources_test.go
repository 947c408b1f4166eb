package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSources(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write sources file: %v", err)
	}
	return path
}

func TestLoadSources(t *testing.T) {
	path := writeSources(t, `
sources:
  - name: billing
    secret: s3cr3t
    rate_per_second: 50
  - name: github
    secret: hunter2
  - name: legacy
    secret: old
    enabled: false
`)

	srcs, err := LoadSources(path)
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	if len(srcs.Sources) != 3 {
		t.Fatalf("parsed %d sources, want 3", len(srcs.Sources))
	}

	secrets := srcs.SecretTable()
	if len(secrets) != 2 {
		t.Errorf("secret table has %d entries, want 2 (disabled excluded)", len(secrets))
	}
	if secrets["billing"] != "s3cr3t" || secrets["github"] != "hunter2" {
		t.Errorf("secret table = %v", secrets)
	}
	if _, ok := secrets["legacy"]; ok {
		t.Error("disabled source present in secret table")
	}

	rates := srcs.RateTable()
	if len(rates) != 1 || rates["billing"] != 50 {
		t.Errorf("rate table = %v, want billing:50 only", rates)
	}
}

func TestLoadSourcesValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing name", "sources:\n  - secret: abc\n"},
		{"missing secret", "sources:\n  - name: billing\n"},
		{"not yaml", "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadSources(writeSources(t, tt.content)); err == nil {
				t.Error("LoadSources accepted invalid config")
			}
		})
	}

	if _, err := LoadSources(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadSources accepted missing file")
	}
}

func TestLoadSourcesDisabledWithoutSecret(t *testing.T) {
	// A disabled entry may omit its secret
	srcs, err := LoadSources(writeSources(t, "sources:\n  - name: retired\n    enabled: false\n"))
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	if len(srcs.SecretTable()) != 0 {
		t.Error("disabled source leaked into secret table")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SOURCES_CONFIG_PATH", "/etc/hookd/sources.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.MaxAttempts != 8 {
		t.Errorf("MaxAttempts = %d, want 8", cfg.MaxAttempts)
	}
	if cfg.BackoffJitter != 0.2 {
		t.Errorf("BackoffJitter = %v, want 0.2", cfg.BackoffJitter)
	}
	if cfg.SourcesConfigPath != "/etc/hookd/sources.yaml" {
		t.Errorf("SourcesConfigPath = %s", cfg.SourcesConfigPath)
	}
}

func TestLoadRequiresSourcesPath(t *testing.T) {
	t.Setenv("SOURCES_CONFIG_PATH", "")
	os.Unsetenv("SOURCES_CONFIG_PATH")

	if _, err := Load(); err == nil {
		t.Error("Load succeeded without SOURCES_CONFIG_PATH")
	}
}
