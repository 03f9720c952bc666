package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"assetauth/pkg/logging"
)

const (
	userConfigDir  = ".config/assetauth"
	configFileName = "config.yaml"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// GetDefaultConfigPath returns ~/.config/assetauth/config.yaml.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

// LoadConfig loads the configuration file at path. A missing file yields the
// defaults. Defaults are applied to whatever the file leaves empty, then the
// result is validated.
func LoadConfig(path string) (AssetAuthConfig, error) {
	configDir := filepath.Dir(path)
	config := GetDefaultConfig(configDir)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config file found at %s, using defaults", path)
			return config, nil
		}
		return AssetAuthConfig{}, newConfigurationError(path, "io", "failed to read config file", err)
	}

	config = AssetAuthConfig{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		ce := newConfigurationError(path, "parse", "config file is not valid YAML", err)
		ce.Suggestions = []string{"Check indentation and quoting", "Durations use Go syntax, e.g. 30s or 2m"}
		return AssetAuthConfig{}, ce
	}
	applyDefaults(&config, configDir)

	if verrs := Validate(config); verrs.HasErrors() {
		return AssetAuthConfig{}, newConfigurationError(path, "validation", "invalid configuration", verrs)
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s (%d assets)", path, len(config.Assets))
	return config, nil
}
