package models

import (
	"os"
	"path/filepath"
)

// ConfigPaths provides paths for config and data directories
type ConfigPaths struct {
	ConfigDir    string
	RegistryFile string
}

// GetConfigPaths returns paths for devsup configuration
func GetConfigPaths() (ConfigPaths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return ConfigPaths{}, err
	}

	configDir := filepath.Join(home, ".config", "devsup")
	return ConfigPaths{
		ConfigDir:    configDir,
		RegistryFile: filepath.Join(configDir, "registry.json"),
	}, nil
}

// EnsureDirs creates necessary configuration directories
func (cp ConfigPaths) EnsureDirs() error {
	return os.MkdirAll(cp.ConfigDir, 0755)
}
