package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"assetauth/internal/store"
	"assetauth/pkg/logging"
	pkgoauth "assetauth/pkg/oauth"
)

// DefaultHTTPTimeout bounds a single token endpoint call.
const DefaultHTTPTimeout = 30 * time.Second

// Client is the OAuth protocol engine for one asset. It acquires, refreshes
// and persists tokens and correlates interactive authorization sessions.
//
// All state lives in the asset document, so any number of Clients, possibly
// in different processes, can work on the same asset.
type Client struct {
	config     pkgoauth.Config
	assetID    string
	tokens     *TokenStore
	httpClient *http.Client
	now        func() time.Time
	leeway     time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for token endpoint calls.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithClock sets the time source. Tests use it to control expiry.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithExpiryLeeway sets how long before expiry a token is treated as expired.
func WithExpiryLeeway(leeway time.Duration) ClientOption {
	return func(c *Client) {
		c.leeway = leeway
	}
}

// NewClient creates a client for assetID whose state is persisted in docs.
func NewClient(cfg pkgoauth.Config, assetID string, docs store.AssetStore, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if docs == nil {
		return nil, pkgoauth.NewClientError("create client", pkgoauth.ErrMisconfigured, "asset store is required", nil)
	}

	c := &Client{
		config:     cfg,
		assetID:    assetID,
		tokens:     NewTokenStore(docs, cfg.ClientID),
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		now:        time.Now,
		leeway:     pkgoauth.DefaultExpiryLeeway,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() pkgoauth.Config { return c.config }

// AssetID returns the asset this client works for.
func (c *Client) AssetID() string { return c.assetID }

// TokenStore returns the underlying state store.
func (c *Client) TokenStore() *TokenStore { return c.tokens }

// ExpiryLeeway returns the margin used by expiry checks.
func (c *Client) ExpiryLeeway() time.Duration { return c.leeway }

// Now returns the client's current time.
func (c *Client) Now() time.Time { return c.now() }

// IsExpired reports whether tok is expired according to the client's clock
// and leeway.
func (c *Client) IsExpired(tok *pkgoauth.Token) bool {
	return tok.IsExpiredAt(c.now(), c.leeway)
}

// GetStoredToken returns the persisted token, or nil if there is none. On
// client id drift the state is purged and a ConfigurationChangedError is
// returned; the next call then sees no token.
func (c *Client) GetStoredToken(ctx context.Context) (*pkgoauth.Token, error) {
	state, err := c.tokens.LoadChecked(ctx, false)
	if err != nil {
		return nil, err
	}
	return state.Token, nil
}

// GetValidToken returns a non-expired token. An expired token is refreshed
// when autoRefresh is set and a refresh token is stored.
func (c *Client) GetValidToken(ctx context.Context, autoRefresh bool) (*pkgoauth.Token, error) {
	tok, err := c.GetStoredToken(ctx)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, &pkgoauth.AuthorizationRequiredError{Reason: "no stored token"}
	}
	if !c.IsExpired(tok) {
		return tok, nil
	}

	if tok.RefreshToken == "" || !autoRefresh {
		return nil, &pkgoauth.TokenExpiredError{ExpiredAt: tok.ExpiresAt}
	}

	logging.Debug("OAuth", "Token for asset %s expired, refreshing", c.assetID)
	return c.RefreshToken(ctx, tok.RefreshToken)
}

// RefreshToken exchanges refreshToken for a new token and persists it. If the
// response omits refresh_token the one passed in is kept. Failures of the
// refresh call are returned as *pkgoauth.TokenRefreshError.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*pkgoauth.Token, error) {
	if refreshToken == "" {
		return nil, &pkgoauth.TokenRefreshError{Detail: "no refresh token available"}
	}
	// A refresh token issued to another client id must never be used.
	if _, err := c.tokens.LoadChecked(ctx, false); err != nil {
		return nil, err
	}

	form := c.tokenForm(pkgoauth.GrantRefreshToken, true, url.Values{
		"refresh_token": {refreshToken},
	}, nil)

	tok, err := c.requestToken(ctx, form)
	if err != nil {
		var f *tokenFailure
		if errors.As(err, &f) {
			return nil, &pkgoauth.TokenRefreshError{StatusCode: f.status, Detail: f.detail, Err: f.cause}
		}
		return nil, &pkgoauth.TokenRefreshError{Err: err}
	}

	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	if err := c.storeToken(ctx, tok, ""); err != nil {
		return nil, err
	}
	logging.Info("OAuth", "Refreshed token for asset %s", c.assetID)
	return tok, nil
}

// FetchTokenWithClientCredentials runs the client_credentials grant and
// persists the result. Client id drift is purged silently since the grant
// replaces the stored token anyway.
func (c *Client) FetchTokenWithClientCredentials(ctx context.Context, extra url.Values) (*pkgoauth.Token, error) {
	if err := c.purgeOnDrift(ctx); err != nil {
		return nil, err
	}

	form := c.tokenForm(pkgoauth.GrantClientCredentials, true, nil, extra)
	tok, err := c.requestToken(ctx, form)
	if err != nil {
		return nil, asClientError("fetch client credentials token", err)
	}

	if err := c.storeToken(ctx, tok, ""); err != nil {
		return nil, err
	}
	logging.Info("OAuth", "Fetched client credentials token for asset %s", c.assetID)
	return tok, nil
}

// CreateAuthorizationURL starts an interactive authorization. It persists a
// new session, superseding any prior one, and returns the URL the user must
// visit. With usePKCE the S256 challenge is sent and the verifier stays in
// the persisted session only. An empty assetID means the client's asset.
func (c *Client) CreateAuthorizationURL(ctx context.Context, assetID string, usePKCE bool, extra url.Values) (string, *pkgoauth.Session, error) {
	const op = "create authorization url"

	if c.config.AuthorizationEndpoint == "" {
		return "", nil, pkgoauth.NewClientError(op, pkgoauth.ErrMisconfigured, "authorization_endpoint is required", nil)
	}
	endpoint, err := url.Parse(c.config.AuthorizationEndpoint)
	if err != nil {
		return "", nil, pkgoauth.NewClientError(op, pkgoauth.ErrMisconfigured, "invalid authorization_endpoint", err)
	}
	if assetID == "" {
		assetID = c.assetID
	}

	sessionID := uuid.NewString()
	state, err := pkgoauth.EncodeStateParam(assetID, sessionID)
	if err != nil {
		return "", nil, pkgoauth.NewClientError(op, pkgoauth.ErrMisconfigured, "failed to generate state", err)
	}

	session := &pkgoauth.Session{
		SessionID:   sessionID,
		AssetID:     assetID,
		State:       state,
		AuthPending: true,
		CreatedAt:   c.now(),
	}

	required := url.Values{}
	required.Set("response_type", "code")
	required.Set("client_id", c.config.ClientID)
	required.Set("state", state)
	if c.config.RedirectURI != "" {
		required.Set("redirect_uri", c.config.RedirectURI)
	}
	if scope := c.config.Scope(); scope != "" {
		required.Set("scope", scope)
	}
	if usePKCE {
		pkce := pkgoauth.GeneratePKCE()
		session.CodeVerifier = pkce.CodeVerifier
		required.Set("code_challenge", pkce.CodeChallenge)
		required.Set("code_challenge_method", pkce.CodeChallengeMethod)
	}

	endpoint.RawQuery = buildQuery(endpoint.RawQuery, required, extra)

	if err := c.purgeOnDrift(ctx); err != nil {
		return "", nil, err
	}
	err = c.tokens.Update(ctx, func(st *pkgoauth.State) error {
		if st.Session != nil {
			logging.Debug("OAuth", "Superseding session %s for asset %s", st.Session.SessionID, assetID)
		}
		st.Session = session
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	logging.Audit("oauth_session_created",
		slog.String("asset_id", assetID),
		slog.String("session_id", sessionID),
		slog.Bool("pkce", usePKCE))

	return endpoint.String(), session, nil
}

// buildQuery joins any query already present on the endpoint, the required
// parameters and then the extras. Extras never override an existing key.
func buildQuery(existing string, required, extra url.Values) string {
	present := map[string]bool{}
	parts := []string{}

	if existing != "" {
		parts = append(parts, existing)
		if q, err := url.ParseQuery(existing); err == nil {
			for k := range q {
				present[k] = true
			}
		}
	}
	for k := range required {
		present[k] = true
	}
	parts = append(parts, required.Encode())

	filtered := url.Values{}
	for k, vs := range extra {
		if !present[k] {
			filtered[k] = vs
		}
	}
	if len(filtered) > 0 {
		parts = append(parts, filtered.Encode())
	}
	return strings.Join(parts, "&")
}

// FetchTokenWithAuthorizationCode exchanges code for a token. When
// codeVerifier is empty the verifier of the active session is used. On
// success the token is persisted and the session that produced the code is
// cleared.
func (c *Client) FetchTokenWithAuthorizationCode(ctx context.Context, code, codeVerifier string, extra url.Values) (*pkgoauth.Token, error) {
	const op = "exchange authorization code"

	if code == "" {
		return nil, pkgoauth.NewClientError(op, pkgoauth.ErrMissingCode, "", nil)
	}

	state, err := c.tokens.LoadChecked(ctx, true)
	if err != nil {
		return nil, err
	}
	sessionID := ""
	if state.Session != nil {
		sessionID = state.Session.SessionID
		if codeVerifier == "" {
			codeVerifier = state.Session.CodeVerifier
		}
	}

	fields := url.Values{"code": {code}}
	if c.config.RedirectURI != "" {
		fields.Set("redirect_uri", c.config.RedirectURI)
	}
	if codeVerifier != "" {
		fields.Set("code_verifier", codeVerifier)
	}

	tok, err := c.requestToken(ctx, c.tokenForm(pkgoauth.GrantAuthorizationCode, true, fields, extra))
	if err != nil {
		return nil, asClientError(op, err)
	}

	if err := c.storeToken(ctx, tok, sessionID); err != nil {
		return nil, err
	}
	logging.Info("OAuth", "Exchanged authorization code for asset %s", c.assetID)
	return tok, nil
}

// HandleAuthorizationCallback validates the callback query parameters and
// exchanges the code.
func (c *Client) HandleAuthorizationCallback(ctx context.Context, params url.Values) (*pkgoauth.Token, error) {
	const op = "handle callback"

	if errCode := params.Get("error"); errCode != "" {
		return nil, pkgoauth.NewClientError(op, pkgoauth.ErrAuthorizationDenied,
			formatServerError(errCode, params.Get("error_description")), nil)
	}

	code := params.Get("code")
	if code == "" {
		return nil, pkgoauth.NewClientError(op, pkgoauth.ErrMissingCode, "", nil)
	}

	codeVerifier := ""
	if params.Has("state") {
		session, err := c.GetPendingSession(ctx)
		if err != nil {
			return nil, err
		}
		if session == nil || !StateEqual(session.State, params.Get("state")) {
			logging.Warn("OAuth", "Callback state does not match the active session for asset %s", c.assetID)
			return nil, pkgoauth.NewClientError(op, pkgoauth.ErrStateMismatch, "", nil)
		}
		codeVerifier = session.CodeVerifier
	}

	return c.FetchTokenWithAuthorizationCode(ctx, code, codeVerifier, nil)
}

// StateEqual compares two state values in constant time.
func StateEqual(expected, got string) bool {
	return expected != "" && subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// GetPendingSession returns the active session, re-reading the document. On
// client id drift the state is purged and no session is returned.
func (c *Client) GetPendingSession(ctx context.Context) (*pkgoauth.Session, error) {
	state, err := c.tokens.LoadChecked(ctx, true)
	if err != nil {
		if errors.Is(err, pkgoauth.ErrConfigurationChanged) {
			return nil, nil
		}
		return nil, err
	}
	return state.Session, nil
}

// CompleteSession records the outcome of the authorization callback on the
// session identified by sessionID. It is idempotent and does nothing when
// sessionID is not the active session.
func (c *Client) CompleteSession(ctx context.Context, sessionID, authCode, errCode, errDescription string) error {
	completed := false
	err := c.tokens.Update(ctx, func(st *pkgoauth.State) error {
		s := st.Session
		if s == nil || s.SessionID != sessionID {
			logging.Debug("OAuth", "Ignoring completion of inactive session %s for asset %s", sessionID, c.assetID)
			return errNoChange
		}
		if s.AuthComplete {
			return errNoChange
		}
		s.AuthPending = false
		s.AuthComplete = true
		s.AuthCode = authCode
		s.Error = errCode
		s.ErrorDescription = errDescription
		completed = true
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) && !errors.Is(err, pkgoauth.ErrConfigurationChanged) {
		return err
	}

	if completed {
		logging.Audit("oauth_session_completed",
			slog.String("asset_id", c.assetID),
			slog.String("session_id", sessionID),
			slog.Bool("error", errCode != ""))
	}
	return nil
}

// errNoChange aborts an Update without writing.
var errNoChange = errors.New("no change")

// SetAuthorizationCode stores a code obtained out of band on the active
// session, creating a session when none exists.
func (c *Client) SetAuthorizationCode(ctx context.Context, code string) error {
	if code == "" {
		return pkgoauth.NewClientError("set authorization code", pkgoauth.ErrMissingCode, "", nil)
	}
	return c.tokens.Update(ctx, func(st *pkgoauth.State) error {
		if st.Session == nil {
			st.Session = &pkgoauth.Session{
				SessionID: uuid.NewString(),
				AssetID:   c.assetID,
				CreatedAt: c.now(),
			}
		}
		st.Session.AuthPending = false
		st.Session.AuthComplete = true
		st.Session.AuthCode = code
		st.Session.Error = ""
		st.Session.ErrorDescription = ""
		return nil
	})
}

// GetAuthorizationCode returns the code of a completed session, or "" if the
// active session has not been completed with a code.
func (c *Client) GetAuthorizationCode(ctx context.Context, forceReload bool) (string, error) {
	state, err := c.tokens.LoadChecked(ctx, forceReload)
	if err != nil {
		return "", err
	}
	if state.Session == nil || !state.Session.AuthComplete {
		return "", nil
	}
	return state.Session.AuthCode, nil
}

// ClearSession discards the active session without completing it.
func (c *Client) ClearSession(ctx context.Context) error {
	err := c.tokens.Update(ctx, func(st *pkgoauth.State) error {
		if st.Session == nil {
			return errNoChange
		}
		st.Session = nil
		return nil
	})
	if errors.Is(err, errNoChange) || errors.Is(err, pkgoauth.ErrConfigurationChanged) {
		return nil
	}
	return err
}

// ClearState removes all persisted OAuth state of the asset.
func (c *Client) ClearState(ctx context.Context) error {
	return c.tokens.Clear(ctx)
}

// LoadState returns the persisted state without drift handling.
func (c *Client) LoadState(ctx context.Context) (*pkgoauth.State, error) {
	return c.tokens.Load(ctx, true)
}

// purgeOnDrift purges drifted state and reports only real failures.
func (c *Client) purgeOnDrift(ctx context.Context) error {
	_, err := c.tokens.LoadChecked(ctx, true)
	if err != nil && !errors.Is(err, pkgoauth.ErrConfigurationChanged) {
		return err
	}
	return nil
}

// storeToken persists tok. When sessionID is set and still names the active
// session, that session is cleared as well.
func (c *Client) storeToken(ctx context.Context, tok *pkgoauth.Token, sessionID string) error {
	update := func(st *pkgoauth.State) error {
		st.Token = tok
		if sessionID != "" && st.Session != nil && st.Session.SessionID == sessionID {
			st.Session = nil
		}
		return nil
	}
	err := c.tokens.Update(ctx, update)
	if errors.Is(err, store.ErrConflict) {
		// The provider may already have rotated the refresh token, so losing
		// this write would lose the only valid one. Retry on the fresh document.
		logging.Warn("OAuth", "Retrying token write for asset %s after a concurrent change", c.assetID)
		err = c.tokens.Update(ctx, update)
	}
	if err != nil {
		return err
	}

	attrs := []slog.Attr{
		slog.String("asset_id", c.assetID),
		slog.Bool("has_refresh_token", tok.RefreshToken != ""),
	}
	if !tok.ExpiresAt.IsZero() {
		attrs = append(attrs, slog.Time("expires_at", tok.ExpiresAt))
	}
	logging.Audit("oauth_token_stored", attrs...)
	return nil
}
