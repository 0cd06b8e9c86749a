package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra_unknown_field: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mesh.ServiceType != "_eliochat._tcp" {
		t.Errorf("expected default service type, got %q", cfg.Mesh.ServiceType)
	}
	if cfg.Mesh.Port != 8765 {
		t.Errorf("expected default mesh port 8765, got %d", cfg.Mesh.Port)
	}
	if cfg.Mesh.MaxHops != 5 {
		t.Errorf("expected default max_hops 5, got %d", cfg.Mesh.MaxHops)
	}
	if cfg.Orchestrator.MaxIterations != 10 {
		t.Errorf("expected default max_iterations 10, got %d", cfg.Orchestrator.MaxIterations)
	}
	if len(cfg.Relay.AllowedHosts) == 0 {
		t.Error("expected default relay allow-list to be non-empty")
	}
	if cfg.Device.IdentityPath == "" {
		t.Error("expected default device identity path")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
mesh:
  port: 9999
  max_hops: 2
relay:
  allowed_hosts:
    - api.example.com
orchestrator:
  max_iterations: 3
  use_japanese: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mesh.Port != 9999 {
		t.Errorf("expected overridden port 9999, got %d", cfg.Mesh.Port)
	}
	if cfg.Mesh.MaxHops != 2 {
		t.Errorf("expected overridden max_hops 2, got %d", cfg.Mesh.MaxHops)
	}
	if len(cfg.Relay.AllowedHosts) != 1 || cfg.Relay.AllowedHosts[0] != "api.example.com" {
		t.Errorf("expected overridden allow-list, got %v", cfg.Relay.AllowedHosts)
	}
	if cfg.Orchestrator.MaxIterations != 3 {
		t.Errorf("expected overridden max_iterations 3, got %d", cfg.Orchestrator.MaxIterations)
	}
	if !cfg.Orchestrator.UseJapanese {
		t.Error("expected use_japanese true")
	}
}

func TestLoadRejectsInvalidMeshPort(t *testing.T) {
	path := writeConfig(t, `
mesh:
  port: 70000
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for out-of-range mesh port")
	}
	var ve *ValidationError
	if !asValidationError(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
}

func asValidationError(err error, target **ValidationError) bool {
	ve, ok := err.(*ValidationError)
	if !ok {
		return false
	}
	*target = ve
	return true
}

func TestLoadWithIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	mainPath := filepath.Join(dir, "main.yaml")

	if err := os.WriteFile(basePath, []byte("mesh:\n  max_hops: 4\n"), 0o644); err != nil {
		t.Fatalf("write base: %v", err)
	}
	if err := os.WriteFile(mainPath, []byte("$include: base.yaml\nmesh:\n  port: 7000\n"), 0o644); err != nil {
		t.Fatalf("write main: %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mesh.MaxHops != 4 {
		t.Errorf("expected included max_hops 4, got %d", cfg.Mesh.MaxHops)
	}
	if cfg.Mesh.Port != 7000 {
		t.Errorf("expected main port 7000, got %d", cfg.Mesh.Port)
	}
}
