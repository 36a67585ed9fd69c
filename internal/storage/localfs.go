package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// networkFilesystems are filesystems where SQLite locking and O_EXCL marker
// creation are not reliable.
var networkFilesystems = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// NetworkFSError reports a path that resolves to a network filesystem.
type NetworkFSError struct {
	Path   string
	FSType string
}

func (e *NetworkFSError) Error() string {
	return fmt.Sprintf("%q is on network filesystem %q", e.Path, e.FSType)
}

// CheckLocal returns a *NetworkFSError when path, or its nearest existing
// parent, lives on a network filesystem. Platforms without filesystem
// detection pass.
func CheckLocal(path string) error {
	return checkLocal(path, detectFilesystemType)
}

// ValidateSQLiteFilesystem rejects SQLite database paths on network filesystems.
func ValidateSQLiteFilesystem(path string) error {
	if err := CheckLocal(path); err != nil {
		var nfs *NetworkFSError
		if errors.As(err, &nfs) {
			return fmt.Errorf("sqlite database %w; point history.path (or datasource.url for the sqlite driver) at local disk", err)
		}
		return err
	}
	return nil
}

func checkLocal(path string, detect func(string) (string, error)) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is empty")
	}

	existing, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", path, err)
	}

	fsType, err := detect(existing)
	if errors.Is(err, errors.ErrUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}

	if networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))] {
		return &NetworkFSError{Path: path, FSType: fsType}
	}
	return nil
}

// nearestExistingPath walks up from path until it finds something that exists,
// so a database or marker that has not been created yet is judged by its
// directory.
func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent directory")
		}
		candidate = parent
	}
}
