package httpauth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"assetauth/internal/oauth"
	"assetauth/pkg/logging"
	pkgoauth "assetauth/pkg/oauth"
)

// BearerAuth authenticates requests with the asset's stored user token.
type BearerAuth struct {
	client      *oauth.Client
	autoRefresh bool
	next        http.RoundTripper

	mu    sync.Mutex
	token *pkgoauth.Token
}

// NewBearerAuth wraps next, or http.DefaultTransport when next is nil. With
// autoRefresh, expired tokens are refreshed and a 401 triggers one refresh
// and one retry.
func NewBearerAuth(client *oauth.Client, autoRefresh bool, next http.RoundTripper) *BearerAuth {
	return &BearerAuth{client: client, autoRefresh: autoRefresh, next: base(next)}
}

// RoundTrip implements http.RoundTripper.
func (a *BearerAuth) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	tok, err := a.currentToken(ctx)
	if err != nil {
		closeBody(req)
		return nil, err
	}

	body, err := replayable(req)
	if err != nil {
		return nil, err
	}
	out, err := authorize(req, body, bearer(tok.AccessToken))
	if err != nil {
		return nil, err
	}
	resp, err := a.next.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || !a.autoRefresh || tok.RefreshToken == "" {
		return resp, nil
	}

	logging.Debug("OAuth", "Request for asset %s rejected with 401, refreshing once", a.client.AssetID())
	discard(resp)

	fresh, err := a.client.RefreshToken(ctx, tok.RefreshToken)
	if err != nil {
		a.invalidate()
		return nil, fmt.Errorf("refresh after 401: %w", err)
	}
	a.store(fresh)

	retry, err := authorize(req, body, bearer(fresh.AccessToken))
	if err != nil {
		return nil, err
	}
	return a.next.RoundTrip(retry)
}

func (a *BearerAuth) currentToken(ctx context.Context) (*pkgoauth.Token, error) {
	a.mu.Lock()
	tok := a.token
	a.mu.Unlock()
	if tok != nil && !a.client.IsExpired(tok) {
		return tok, nil
	}

	tok, err := a.client.GetValidToken(ctx, a.autoRefresh)
	if err != nil {
		a.invalidate()
		return nil, err
	}
	a.store(tok)
	return tok, nil
}

func (a *BearerAuth) store(tok *pkgoauth.Token) {
	a.mu.Lock()
	a.token = tok
	a.mu.Unlock()
}

func (a *BearerAuth) invalidate() { a.store(nil) }

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
