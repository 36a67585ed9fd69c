package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFingerprint(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(path, []byte("service:\n  name: a\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	first, err := Fingerprint(path)
	if err != nil {
		t.Fatalf("Fingerprint() failed: %v", err)
	}
	if len(first) != 64 {
		t.Fatalf("len(hash) = %d, want 64", len(first))
	}

	again, err := Fingerprint(path)
	if err != nil {
		t.Fatalf("Fingerprint() failed: %v", err)
	}
	if again != first {
		t.Fatal("fingerprint not stable for unchanged file")
	}

	if err := os.WriteFile(path, []byte("service:\n  name: b\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	changed, err := Fingerprint(path)
	if err != nil {
		t.Fatalf("Fingerprint() failed: %v", err)
	}
	if changed == first {
		t.Fatal("fingerprint did not change with content")
	}
}

func TestFingerprintMissingFile(t *testing.T) {
	if _, err := Fingerprint(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
