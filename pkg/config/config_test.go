package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Permissions.AutoApproveLevel != "none" {
		t.Errorf("AutoApproveLevel = %q, want none", cfg.Permissions.AutoApproveLevel)
	}
	if cfg.Permissions.RequestTimeout() != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.Permissions.RequestTimeout())
	}
	if cfg.Permissions.AlwaysPermissionDuration() != 30*24*time.Hour {
		t.Errorf("AlwaysPermissionDuration = %v, want 720h", cfg.Permissions.AlwaysPermissionDuration())
	}
	if !cfg.Permissions.EnableArgumentValidation {
		t.Error("argument validation should default on")
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("Storage.Type = %q, want memory", cfg.Storage.Type)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
servers:
  - id: fs
    name: Filesystem
    transport: stdio
    command: mcp-fs
    args: ["--root", "/data"]
    enabled: true
    auto_start: true
  - id: search
    transport: http
    url: https://search.example.com/mcp
    enabled: true
permissions:
  auto_approve_level: low
  request_timeout_seconds: 10
  max_session_permissions: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(cfg.Servers))
	}
	if cfg.Servers[0].Transport != TransportStdio || cfg.Servers[0].Command != "mcp-fs" {
		t.Errorf("unexpected stdio server: %+v", cfg.Servers[0])
	}
	if cfg.Permissions.AutoApproveLevel != "low" {
		t.Errorf("AutoApproveLevel = %q, want low", cfg.Permissions.AutoApproveLevel)
	}
	if cfg.Permissions.RequestTimeoutSeconds != 10 {
		t.Errorf("RequestTimeoutSeconds = %d, want 10", cfg.Permissions.RequestTimeoutSeconds)
	}
	// Unset fields keep their defaults.
	if cfg.Permissions.AlwaysPermissionDays != 30 {
		t.Errorf("AlwaysPermissionDays = %d, want default 30", cfg.Permissions.AlwaysPermissionDays)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STEWARD_AUTO_APPROVE_LEVEL", "medium")
	t.Setenv("STEWARD_REQUEST_TIMEOUT", "5")
	t.Setenv("STEWARD_TRUSTED_SERVERS", "fs, internal ")

	c := Defaults()
	applyEnvOverrides(&c)
	cfg := &c

	if cfg.Permissions.AutoApproveLevel != "medium" {
		t.Errorf("AutoApproveLevel = %q, want medium", cfg.Permissions.AutoApproveLevel)
	}
	if cfg.Permissions.RequestTimeoutSeconds != 5 {
		t.Errorf("RequestTimeoutSeconds = %d, want 5", cfg.Permissions.RequestTimeoutSeconds)
	}
	want := []string{"fs", "internal"}
	if len(cfg.Permissions.TrustedServers) != 2 ||
		cfg.Permissions.TrustedServers[0] != want[0] ||
		cfg.Permissions.TrustedServers[1] != want[1] {
		t.Errorf("TrustedServers = %v, want %v", cfg.Permissions.TrustedServers, want)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestSecretFileResolution(t *testing.T) {
	dir := t.TempDir()
	secretPath := writeFile(t, dir, "secret", "s3cr3t\n")
	cfgPath := writeFile(t, dir, "config.yaml", `
servers:
  - id: remote
    transport: sse
    url: https://remote.example.com/sse
    enabled: true
    auth:
      type: jwt
      jwt_secret_file: `+secretPath+`
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Servers[0].Auth.JWTSecret != "s3cr3t" {
		t.Errorf("JWTSecret = %q, want trimmed file content", cfg.Servers[0].Auth.JWTSecret)
	}
}
