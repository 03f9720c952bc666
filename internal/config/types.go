package config

import (
	"time"

	"assetauth/internal/store"
	pkgoauth "assetauth/pkg/oauth"
)

// AssetAuthConfig is the top-level configuration structure.
type AssetAuthConfig struct {
	Store  StoreConfig            `yaml:"store"`
	Server ServerConfig           `yaml:"server"`
	Assets map[string]AssetConfig `yaml:"assets,omitempty"`
}

// StoreBackend selects where asset documents are persisted.
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendFile   StoreBackend = "file"
	StoreBackendRedis  StoreBackend = "redis"
)

// StoreConfig configures the asset document store.
type StoreConfig struct {
	Backend StoreBackend      `yaml:"backend,omitempty"` // memory, file or redis (default: file)
	Dir     string            `yaml:"dir,omitempty"`     // Directory of the file backend
	Redis   store.RedisConfig `yaml:"redis,omitempty"`
}

// ServerConfig configures the callback server.
type ServerConfig struct {
	ListenAddress string `yaml:"listenAddress,omitempty"` // Address the callback server binds (default: 127.0.0.1:8085)
	PublicURL     string `yaml:"publicUrl,omitempty"`     // Externally reachable base URL, used for default redirect URIs
}

// GrantType selects how an asset obtains tokens.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantClientCredentials GrantType = "client_credentials"
	GrantCertificate       GrantType = "certificate"
)

// AssetConfig is the OAuth setup of one asset.
type AssetConfig struct {
	GrantType GrantType       `yaml:"grantType,omitempty"` // default: authorization_code
	OAuth     pkgoauth.Config `yaml:",inline"`

	// UsePKCE defaults to true for the authorization code grant.
	UsePKCE *bool `yaml:"usePkce,omitempty"`
	// AutoRefresh defaults to true.
	AutoRefresh  *bool         `yaml:"autoRefresh,omitempty"`
	ExpiryLeeway time.Duration `yaml:"expiryLeeway,omitempty"`

	AuthParams  map[string]string `yaml:"authParams,omitempty"`
	TokenParams map[string]string `yaml:"tokenParams,omitempty"`

	// Certificate grant only.
	CertificateFile string `yaml:"certificateFile,omitempty"`
	KeyFile         string `yaml:"keyFile,omitempty"`
}

// PKCE reports whether PKCE is used.
func (a AssetConfig) PKCE() bool {
	return a.UsePKCE == nil || *a.UsePKCE
}

// Refresh reports whether expired tokens are refreshed automatically.
func (a AssetConfig) Refresh() bool {
	return a.AutoRefresh == nil || *a.AutoRefresh
}
