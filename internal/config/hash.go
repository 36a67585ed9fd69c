package config

import (
	"fmt"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/storage"
)

// Fingerprint returns the BLAKE3 hash of the raw config file. It is logged at
// startup and printed by the config check so operators can tell which
// revision a running service loaded.
func Fingerprint(filePath string) (string, error) {
	sum, err := storage.FileChecksum(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint config: %w", err)
	}
	return sum, nil
}
