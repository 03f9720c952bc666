package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"assetauth/internal/config"
	"assetauth/internal/flow"
	"assetauth/internal/httpauth"
	"assetauth/internal/oauth"
	"assetauth/internal/store"
	"assetauth/internal/webhook"
	pkgoauth "assetauth/pkg/oauth"
)

// assetRegistry builds clients and flows for the configured assets on one
// shared document store.
type assetRegistry struct {
	cfg     config.AssetAuthConfig
	backend store.Backend
	close   func() error
}

func openRegistry(ctx context.Context) (*assetRegistry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	backend, closeFn, err := config.OpenBackend(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	return &assetRegistry{cfg: cfg, backend: backend, close: closeFn}, nil
}

func (r *assetRegistry) Close() error { return r.close() }

func (r *assetRegistry) assetIDs() []string {
	ids := make([]string, 0, len(r.cfg.Assets))
	for id := range r.cfg.Assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *assetRegistry) asset(id string) (config.AssetConfig, error) {
	a, ok := r.cfg.Assets[id]
	if !ok {
		return config.AssetConfig{}, fmt.Errorf("%w: %s", webhook.ErrUnknownAsset, id)
	}
	return a, nil
}

func (r *assetRegistry) clientOptions(a config.AssetConfig) []oauth.ClientOption {
	var opts []oauth.ClientOption
	if a.ExpiryLeeway > 0 {
		opts = append(opts, oauth.WithExpiryLeeway(a.ExpiryLeeway))
	}
	return opts
}

// client returns the protocol client of an asset.
func (r *assetRegistry) client(id string) (*oauth.Client, error) {
	a, err := r.asset(id)
	if err != nil {
		return nil, err
	}
	return oauth.NewClient(a.OAuth, id, r.backend.ForAsset(id), r.clientOptions(a)...)
}

// clientCredentialsFlow returns the machine flow of a client_credentials or
// certificate asset.
func (r *assetRegistry) clientCredentialsFlow(id string) (*flow.ClientCredentialsFlow, error) {
	a, err := r.asset(id)
	if err != nil {
		return nil, err
	}
	extra := values(a.TokenParams)

	switch a.GrantType {
	case config.GrantClientCredentials:
		c, err := r.client(id)
		if err != nil {
			return nil, err
		}
		return flow.NewClientCredentialsFlow(c, extra), nil
	case config.GrantCertificate:
		cert, err := oauth.LoadCertificateFiles(a.KeyFile, a.CertificateFile)
		if err != nil {
			return nil, err
		}
		c, err := oauth.NewCertificateClient(a.OAuth, id, r.backend.ForAsset(id), cert, r.clientOptions(a)...)
		if err != nil {
			return nil, err
		}
		return flow.NewCertificateFlow(c, extra), nil
	default:
		return nil, pkgoauth.NewClientError("build flow", pkgoauth.ErrMisconfigured,
			fmt.Sprintf("asset %s uses the %s grant", id, a.GrantType), nil)
	}
}

// authorizationCodeFlow returns the interactive flow of an authorization_code asset.
func (r *assetRegistry) authorizationCodeFlow(id string, opts ...flow.AuthCodeOption) (*flow.AuthorizationCodeFlow, error) {
	a, err := r.asset(id)
	if err != nil {
		return nil, err
	}
	if a.GrantType != config.GrantAuthorizationCode {
		return nil, pkgoauth.NewClientError("build flow", pkgoauth.ErrMisconfigured,
			fmt.Sprintf("asset %s does not use the authorization_code grant", id), nil)
	}
	c, err := r.client(id)
	if err != nil {
		return nil, err
	}
	all := append([]flow.AuthCodeOption{flow.WithPKCE(a.PKCE()), flow.WithAuthParams(values(a.AuthParams))}, opts...)
	return flow.NewAuthorizationCodeFlow(c, all...), nil
}

// token returns a valid token for the asset, whatever its grant.
func (r *assetRegistry) token(ctx context.Context, id string) (*pkgoauth.Token, error) {
	a, err := r.asset(id)
	if err != nil {
		return nil, err
	}
	if a.GrantType != config.GrantAuthorizationCode {
		f, err := r.clientCredentialsFlow(id)
		if err != nil {
			return nil, err
		}
		return f.GetToken(ctx)
	}

	if !a.Refresh() {
		c, err := r.client(id)
		if err != nil {
			return nil, err
		}
		return c.GetValidToken(ctx, false)
	}
	f, err := r.authorizationCodeFlow(id)
	if err != nil {
		return nil, err
	}
	return f.GetToken(ctx)
}

// transport returns an http.RoundTripper authenticating as the asset.
func (r *assetRegistry) transport(id string, next http.RoundTripper) (http.RoundTripper, error) {
	a, err := r.asset(id)
	if err != nil {
		return nil, err
	}
	if a.GrantType == config.GrantAuthorizationCode {
		c, err := r.client(id)
		if err != nil {
			return nil, err
		}
		return httpauth.NewBearerAuth(c, a.Refresh(), next), nil
	}

	f, err := r.clientCredentialsFlow(id)
	if err != nil {
		return nil, err
	}
	opts := []httpauth.ClientCredentialsOption{}
	if a.ExpiryLeeway > 0 {
		opts = append(opts, httpauth.WithLeeway(a.ExpiryLeeway))
	}
	return httpauth.NewClientCredentialsAuth(f, next, opts...), nil
}

// resolver adapts the registry to the webhook handler.
func (r *assetRegistry) resolver() webhook.ClientResolver {
	return func(assetID string) (*oauth.Client, error) {
		a, err := r.asset(assetID)
		if err != nil {
			return nil, err
		}
		if a.GrantType != config.GrantAuthorizationCode {
			return nil, fmt.Errorf("%w: %s does not accept callbacks", webhook.ErrUnknownAsset, assetID)
		}
		return r.client(assetID)
	}
}

func values(m map[string]string) url.Values {
	if len(m) == 0 {
		return nil
	}
	v := url.Values{}
	for k, s := range m {
		v.Set(k, s)
	}
	return v
}
