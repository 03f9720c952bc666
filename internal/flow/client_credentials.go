package flow

import (
	"context"
	"errors"
	"net/url"

	"assetauth/internal/oauth"
	"assetauth/pkg/logging"
	pkgoauth "assetauth/pkg/oauth"
)

// Grant identifies how a ClientCredentialsFlow authenticates to the token
// endpoint.
type Grant int

const (
	// GrantSecret authenticates with the client secret.
	GrantSecret Grant = iota
	// GrantCertificate authenticates with a signed client assertion.
	GrantCertificate
)

func (g Grant) String() string {
	switch g {
	case GrantSecret:
		return "client_secret"
	case GrantCertificate:
		return "certificate"
	default:
		return "unknown"
	}
}

// ClientCredentialsFlow returns the stored token while it is valid and runs
// the grant again once it expires. This grant has no refresh token.
type ClientCredentialsFlow struct {
	client *oauth.Client
	grant  Grant
	fetch  func(ctx context.Context) (*pkgoauth.Token, error)
}

// NewClientCredentialsFlow creates a flow using the client secret grant.
func NewClientCredentialsFlow(client *oauth.Client, extra url.Values) *ClientCredentialsFlow {
	return &ClientCredentialsFlow{
		client: client,
		grant:  GrantSecret,
		fetch: func(ctx context.Context) (*pkgoauth.Token, error) {
			return client.FetchTokenWithClientCredentials(ctx, extra)
		},
	}
}

// NewCertificateFlow creates a flow using the certificate grant.
func NewCertificateFlow(client *oauth.CertificateClient, extra url.Values) *ClientCredentialsFlow {
	return &ClientCredentialsFlow{
		client: client.Client,
		grant:  GrantCertificate,
		fetch: func(ctx context.Context) (*pkgoauth.Token, error) {
			return client.FetchTokenWithCertificate(ctx, extra)
		},
	}
}

// Grant returns the grant this flow runs.
func (f *ClientCredentialsFlow) Grant() Grant { return f.grant }

// Client returns the underlying client.
func (f *ClientCredentialsFlow) Client() *oauth.Client { return f.client }

// GetToken returns a non-expired token, fetching a new one when none is
// stored or the stored one expired. Client id drift simply causes a fetch.
func (f *ClientCredentialsFlow) GetToken(ctx context.Context) (*pkgoauth.Token, error) {
	tok, err := f.client.GetStoredToken(ctx)
	if err != nil && !errors.Is(err, pkgoauth.ErrConfigurationChanged) {
		return nil, err
	}
	if tok != nil && !f.client.IsExpired(tok) {
		return tok, nil
	}

	logging.Debug("Flow", "Fetching %s token for asset %s", f.grant, f.client.AssetID())
	return f.fetch(ctx)
}

// FetchToken runs the grant unconditionally.
func (f *ClientCredentialsFlow) FetchToken(ctx context.Context) (*pkgoauth.Token, error) {
	return f.fetch(ctx)
}
