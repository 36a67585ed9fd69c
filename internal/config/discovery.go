package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $TABLEXPORT_CONFIG, ~/.config/tablexport, /etc/tablexport, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("TABLEXPORT_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "tablexport", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/tablexport/config.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	localConfig := "./config.yaml"
	if _, err := os.Stat(localConfig); err == nil {
		return localConfig, nil
	}

	return "", fmt.Errorf("no config found (checked: $TABLEXPORT_CONFIG, ~/.config/tablexport/config.yaml, /etc/tablexport/config.yaml, ./config.yaml)")
}
