package httpauth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"assetauth/pkg/logging"
	pkgoauth "assetauth/pkg/oauth"
)

// TokenFetcher runs a client credentials grant. *flow.ClientCredentialsFlow
// implements it.
type TokenFetcher interface {
	FetchToken(ctx context.Context) (*pkgoauth.Token, error)
}

// ClientCredentialsAuth authenticates requests with a machine token held in
// memory. Concurrent fetches are collapsed into one token endpoint call.
type ClientCredentialsAuth struct {
	fetcher TokenFetcher
	next    http.RoundTripper
	leeway  time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	token *pkgoauth.Token
	group singleflight.Group
}

// ClientCredentialsOption configures a ClientCredentialsAuth.
type ClientCredentialsOption func(*ClientCredentialsAuth)

// WithLeeway treats tokens as expired this long before their expiry.
func WithLeeway(d time.Duration) ClientCredentialsOption {
	return func(a *ClientCredentialsAuth) { a.leeway = d }
}

// WithClock sets the time source for expiry checks.
func WithClock(now func() time.Time) ClientCredentialsOption {
	return func(a *ClientCredentialsAuth) {
		if now != nil {
			a.now = now
		}
	}
}

// NewClientCredentialsAuth wraps next, or http.DefaultTransport when nil.
func NewClientCredentialsAuth(fetcher TokenFetcher, next http.RoundTripper, opts ...ClientCredentialsOption) *ClientCredentialsAuth {
	a := &ClientCredentialsAuth{
		fetcher: fetcher,
		next:    base(next),
		leeway:  pkgoauth.DefaultExpiryLeeway,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RoundTrip implements http.RoundTripper. A 401 always causes one fetch of a
// new token and one retry.
func (a *ClientCredentialsAuth) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	tok, err := a.cachedToken(ctx)
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
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	logging.Debug("OAuth", "Client credentials token rejected with 401, fetching a new one")
	discard(resp)

	fresh, err := a.fetch(ctx, tok)
	if err != nil {
		return nil, err
	}
	retry, err := authorize(req, body, bearer(fresh.AccessToken))
	if err != nil {
		return nil, err
	}
	return a.next.RoundTrip(retry)
}

// Invalidate drops the cached token.
func (a *ClientCredentialsAuth) Invalidate() {
	a.mu.Lock()
	a.token = nil
	a.mu.Unlock()
}

func (a *ClientCredentialsAuth) cachedToken(ctx context.Context) (*pkgoauth.Token, error) {
	a.mu.RLock()
	tok := a.token
	a.mu.RUnlock()
	if tok != nil && !tok.IsExpiredAt(a.now(), a.leeway) {
		return tok, nil
	}
	return a.fetch(ctx, tok)
}

// fetch replaces rejected with a new token. When another caller already
// replaced it, that token is used instead. The shared fetch is detached from
// the cancellation of whichever caller started it; each caller still stops
// waiting when its own context is done.
func (a *ClientCredentialsAuth) fetch(ctx context.Context, rejected *pkgoauth.Token) (*pkgoauth.Token, error) {
	shared := context.WithoutCancel(ctx)
	ch := a.group.DoChan("token", func() (interface{}, error) {
		a.mu.RLock()
		current := a.token
		a.mu.RUnlock()
		if current != nil && current != rejected && !current.IsExpiredAt(a.now(), a.leeway) {
			return current, nil
		}

		tok, err := a.fetcher.FetchToken(shared)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.token = tok
		a.mu.Unlock()
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*pkgoauth.Token), nil
	}
}
