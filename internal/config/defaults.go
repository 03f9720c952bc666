package config

import (
	"path/filepath"
	"strings"

	"assetauth/internal/store"
	"assetauth/internal/webhook"
)

const (
	// DefaultStateDir is the file backend directory below the config directory.
	DefaultStateDir = "state"
)

// GetDefaultConfig returns the configuration used when no file exists.
// configDir is the directory holding config.yaml.
func GetDefaultConfig(configDir string) AssetAuthConfig {
	return AssetAuthConfig{
		Store: StoreConfig{
			Backend: StoreBackendFile,
			Dir:     filepath.Join(configDir, DefaultStateDir),
			Redis:   store.RedisConfig{KeyPrefix: store.DefaultRedisKeyPrefix},
		},
		Server: ServerConfig{
			ListenAddress: webhook.DefaultListenAddress,
			PublicURL:     "http://" + webhook.DefaultListenAddress,
		},
		Assets: map[string]AssetConfig{},
	}
}

// applyDefaults fills settings the file left empty.
func applyDefaults(cfg *AssetAuthConfig, configDir string) {
	def := GetDefaultConfig(configDir)

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = def.Store.Backend
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = def.Store.Dir
	}
	if cfg.Store.Redis.KeyPrefix == "" {
		cfg.Store.Redis.KeyPrefix = def.Store.Redis.KeyPrefix
	}
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = def.Server.ListenAddress
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = "http://" + cfg.Server.ListenAddress
	}
	if cfg.Assets == nil {
		cfg.Assets = map[string]AssetConfig{}
	}

	for id, asset := range cfg.Assets {
		if asset.GrantType == "" {
			asset.GrantType = GrantAuthorizationCode
		}
		if asset.GrantType == GrantAuthorizationCode && asset.OAuth.RedirectURI == "" {
			asset.OAuth.RedirectURI = strings.TrimSuffix(cfg.Server.PublicURL, "/") + webhook.CallbackPath
		}
		cfg.Assets[id] = asset
	}
}
