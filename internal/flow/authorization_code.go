package flow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"assetauth/internal/oauth"
	"assetauth/pkg/logging"
	pkgoauth "assetauth/pkg/oauth"
)

const (
	// DefaultWaitTimeout bounds WaitForAuthorization.
	DefaultWaitTimeout = 5 * time.Minute
	// DefaultPollInterval is the pause between two reads of the session.
	DefaultPollInterval = 2 * time.Second
)

// Progress is reported once per poll iteration.
type Progress struct {
	Attempt int
	Elapsed time.Duration
	Timeout time.Duration
}

// Remaining returns the time left before the wait times out.
func (p Progress) Remaining() time.Duration {
	if r := p.Timeout - p.Elapsed; r > 0 {
		return r
	}
	return 0
}

// WaitOptions configures WaitForAuthorization.
type WaitOptions struct {
	// Timeout is checked at iteration boundaries. Zero means DefaultWaitTimeout.
	Timeout time.Duration
	// PollInterval is the sleep between iterations. Zero means DefaultPollInterval.
	PollInterval time.Duration
	// OnProgress, if set, is called after each unsuccessful iteration.
	OnProgress func(Progress)
	// Wake, if set, ends the current sleep early. The session is still read
	// from the store, so a spurious wake only costs one extra read.
	Wake <-chan struct{}
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultWaitTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// AuthorizationCodeFlow sequences the interactive authorization code grant.
// The process that calls GetAuthorizationURL and the one that receives the
// callback may differ; they only share the asset document.
type AuthorizationCodeFlow struct {
	client  *oauth.Client
	usePKCE bool
	extra   url.Values
	clock   Clock

	mu        sync.Mutex
	sessionID string
}

// AuthCodeOption configures an AuthorizationCodeFlow.
type AuthCodeOption func(*AuthorizationCodeFlow)

// WithPKCE enables or disables PKCE. It is enabled by default.
func WithPKCE(enabled bool) AuthCodeOption {
	return func(f *AuthorizationCodeFlow) { f.usePKCE = enabled }
}

// WithAuthParams adds extra authorization URL parameters.
func WithAuthParams(extra url.Values) AuthCodeOption {
	return func(f *AuthorizationCodeFlow) { f.extra = extra }
}

// WithClock sets the clock used by WaitForAuthorization.
func WithClock(clock Clock) AuthCodeOption {
	return func(f *AuthorizationCodeFlow) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// NewAuthorizationCodeFlow creates a flow for the client's asset.
func NewAuthorizationCodeFlow(client *oauth.Client, opts ...AuthCodeOption) *AuthorizationCodeFlow {
	f := &AuthorizationCodeFlow{
		client:  client,
		usePKCE: true,
		clock:   RealClock{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Client returns the underlying client.
func (f *AuthorizationCodeFlow) Client() *oauth.Client { return f.client }

// GetAuthorizationURL starts a new session and returns its URL. The flow
// remembers the session so WaitForAuthorization waits for exactly that one.
func (f *AuthorizationCodeFlow) GetAuthorizationURL(ctx context.Context) (string, error) {
	authURL, session, err := f.client.CreateAuthorizationURL(ctx, f.client.AssetID(), f.usePKCE, f.extra)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.sessionID = session.SessionID
	f.mu.Unlock()
	return authURL, nil
}

// ExchangeCodeForToken exchanges a code obtained out of band.
func (f *AuthorizationCodeFlow) ExchangeCodeForToken(ctx context.Context, code string) (*pkgoauth.Token, error) {
	return f.client.FetchTokenWithAuthorizationCode(ctx, code, "", nil)
}

// GetToken returns a valid token, refreshing if needed. When the user has to
// authorize, it fails with an AuthorizationRequiredError carrying a fresh URL.
func (f *AuthorizationCodeFlow) GetToken(ctx context.Context) (*pkgoauth.Token, error) {
	tok, err := f.client.GetValidToken(ctx, true)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, pkgoauth.ErrAuthorizationRequired) && !errors.Is(err, pkgoauth.ErrTokenExpired) {
		return nil, err
	}

	authURL, urlErr := f.GetAuthorizationURL(ctx)
	if urlErr != nil {
		return nil, fmt.Errorf("%w (failed to create authorization url: %v)", err, urlErr)
	}
	return nil, &pkgoauth.AuthorizationRequiredError{AuthURL: authURL, Reason: err.Error()}
}

// WaitForAuthorization blocks until the session started by this flow (or,
// if this flow started none, the first session it observes) is completed by
// the callback, then exchanges the code. The session is re-read from the
// store on every iteration. It fails when the session is superseded or
// cleared, when the callback reported an error, on timeout, or when ctx is
// done.
func (f *AuthorizationCodeFlow) WaitForAuthorization(ctx context.Context, opts WaitOptions) (*pkgoauth.Token, error) {
	const op = "wait for authorization"
	opts = opts.withDefaults()

	f.mu.Lock()
	sessionID := f.sessionID
	f.mu.Unlock()

	start := f.clock.Now()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		session, err := f.client.GetPendingSession(ctx)
		if err != nil {
			return nil, err
		}

		switch {
		case session == nil && sessionID == "":
			return nil, pkgoauth.NewClientError(op, pkgoauth.ErrSessionSuperseded, "no authorization session in progress", nil)
		case session == nil:
			return nil, pkgoauth.NewClientError(op, pkgoauth.ErrSessionSuperseded, "session was cleared", nil)
		case sessionID == "":
			sessionID = session.SessionID
		case session.SessionID != sessionID:
			return nil, pkgoauth.NewClientError(op, pkgoauth.ErrSessionSuperseded, "a newer authorization was started", nil)
		}

		if session.AuthComplete {
			return f.finish(ctx, op, session)
		}

		elapsed := f.clock.Now().Sub(start)
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Attempt: attempt, Elapsed: elapsed, Timeout: opts.Timeout})
		}
		if elapsed >= opts.Timeout {
			logging.Warn("Flow", "Authorization for asset %s timed out after %s", f.client.AssetID(), opts.Timeout)
			return nil, pkgoauth.NewClientError(op, pkgoauth.ErrAuthorizationTimeout,
				fmt.Sprintf("no callback received within %s", opts.Timeout), nil)
		}

		wait := opts.PollInterval
		if remaining := opts.Timeout - elapsed; remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.clock.After(wait):
		case <-opts.Wake:
			logging.Debug("Flow", "Woken early for asset %s", f.client.AssetID())
		}
	}
}

// finish exchanges the code of a completed session. Only a session observed
// as complete reaches this point.
func (f *AuthorizationCodeFlow) finish(ctx context.Context, op string, session *pkgoauth.Session) (*pkgoauth.Token, error) {
	if session.Failed() {
		if err := f.client.ClearSession(ctx); err != nil {
			logging.Warn("Flow", "Failed to clear failed session for asset %s: %v", f.client.AssetID(), err)
		}
		detail := session.Error
		if session.ErrorDescription != "" {
			detail += ": " + session.ErrorDescription
		}
		return nil, pkgoauth.NewClientError(op, pkgoauth.ErrAuthorizationDenied, detail, nil)
	}
	if session.AuthCode == "" {
		return nil, pkgoauth.NewClientError(op, pkgoauth.ErrMissingCode, "session completed without a code", nil)
	}

	tok, err := f.client.FetchTokenWithAuthorizationCode(ctx, session.AuthCode, session.CodeVerifier, nil)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.sessionID = ""
	f.mu.Unlock()
	return tok, nil
}
