package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks a configuration after defaults were applied.
func Validate(cfg AssetAuthConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendFile:
		if strings.TrimSpace(cfg.Store.Dir) == "" {
			errs.Add("store.dir", "is required for the file backend")
		}
	case StoreBackendRedis:
		if strings.TrimSpace(cfg.Store.Redis.Address) == "" {
			errs.Add("store.redis.address", "is required for the redis backend")
		}
	default:
		errs.Add("store.backend", "must be one of: memory, file, redis", cfg.Store.Backend)
	}

	if cfg.Server.PublicURL != "" {
		if u, err := url.Parse(cfg.Server.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs.Add("server.publicUrl", "must be an absolute URL", cfg.Server.PublicURL)
		}
	}

	ids := make([]string, 0, len(cfg.Assets))
	for id := range cfg.Assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		validateAsset(&errs, id, cfg.Assets[id])
	}
	return errs
}

func validateAsset(errs *ValidationErrors, id string, a AssetConfig) {
	field := func(name string) string { return fmt.Sprintf("assets.%s.%s", id, name) }

	if strings.TrimSpace(id) == "" {
		errs.Add("assets", "asset id must not be empty")
	}
	if a.OAuth.ClientID == "" {
		errs.Add(field("clientId"), "is required")
	}
	if a.OAuth.TokenEndpoint == "" {
		errs.Add(field("tokenEndpoint"), "is required")
	}
	if a.ExpiryLeeway < 0 {
		errs.Add(field("expiryLeeway"), "must not be negative", a.ExpiryLeeway)
	}

	switch a.GrantType {
	case GrantAuthorizationCode:
		if a.OAuth.AuthorizationEndpoint == "" {
			errs.Add(field("authorizationEndpoint"), "is required for the authorization_code grant")
		}
	case GrantClientCredentials:
		if a.OAuth.ClientSecret == "" {
			errs.Add(field("clientSecret"), "is required for the client_credentials grant")
		}
	case GrantCertificate:
		if a.CertificateFile == "" {
			errs.Add(field("certificateFile"), "is required for the certificate grant")
		}
		if a.KeyFile == "" {
			errs.Add(field("keyFile"), "is required for the certificate grant")
		}
	default:
		errs.Add(field("grantType"), "must be one of: authorization_code, client_credentials, certificate", a.GrantType)
	}
}
