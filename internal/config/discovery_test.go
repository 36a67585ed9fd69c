package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func skipIfSystemConfig(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/etc/tablexport/config.yaml"); err == nil {
		t.Skip("system config present on this host")
	}
}

func TestDiscoverConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv("TABLEXPORT_CONFIG", path)

	got, err := DiscoverConfigPath()
	if err != nil {
		t.Fatalf("DiscoverConfigPath() error = %v", err)
	}
	if got != path {
		t.Fatalf("DiscoverConfigPath() = %q, want %q", got, path)
	}
}

func TestDiscoverConfigPathUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	// A dangling env path falls through to the next location.
	t.Setenv("TABLEXPORT_CONFIG", filepath.Join(home, "missing.yaml"))

	userConfig := filepath.Join(home, ".config", "tablexport", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(userConfig), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(userConfig, []byte("service:\n  name: user\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := DiscoverConfigPath()
	if err != nil {
		t.Fatalf("DiscoverConfigPath() error = %v", err)
	}
	if got != userConfig {
		t.Fatalf("DiscoverConfigPath() = %q, want %q", got, userConfig)
	}
}

func TestDiscoverConfigPathLocal(t *testing.T) {
	skipIfSystemConfig(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TABLEXPORT_CONFIG", "")

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	got, err := DiscoverConfigPath()
	if err != nil {
		t.Fatalf("DiscoverConfigPath() error = %v", err)
	}
	if got != "./config.yaml" {
		t.Fatalf("DiscoverConfigPath() = %q, want ./config.yaml", got)
	}
}

func TestDiscoverConfigPathNotFound(t *testing.T) {
	skipIfSystemConfig(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TABLEXPORT_CONFIG", "")
	t.Chdir(t.TempDir())

	_, err := DiscoverConfigPath()
	if err == nil || !strings.Contains(err.Error(), "no config found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}
