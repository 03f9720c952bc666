package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"assetauth/internal/store"
	pkgoauth "assetauth/pkg/oauth"
)

func TestNewClient_Validation(t *testing.T) {
	docs := store.NewMemoryBackend().ForAsset("a")

	_, err := NewClient(pkgoauth.Config{TokenEndpoint: "https://idp/token"}, "a", docs)
	assert.ErrorIs(t, err, pkgoauth.ErrMisconfigured)

	_, err = NewClient(pkgoauth.Config{ClientID: "cid", TokenEndpoint: "https://idp/token"}, "a", nil)
	assert.ErrorIs(t, err, pkgoauth.ErrMisconfigured)
}

func TestClient_FetchTokenWithClientCredentials(t *testing.T) {
	srv := newTokenServer(t, respondToken("tok1", 3600, ""))
	docs := store.NewMemoryBackend().ForAsset("asset-1")
	seedState(t, docs, pkgoauth.State{})
	client := newTestClient(t, testConfig(srv.URL), docs)

	tok, err := client.FetchTokenWithClientCredentials(context.Background(), url.Values{
		"audience":   {"api://x"},
		"grant_type": {"password"}, // must not override
	})
	require.NoError(t, err)
	assert.Equal(t, "tok1", tok.AccessToken)
	assert.False(t, tok.IsExpired(0))

	form := srv.lastForm(t)
	assert.Equal(t, "client_credentials", form.Get("grant_type"))
	assert.Equal(t, "cid", form.Get("client_id"))
	assert.Equal(t, "sec", form.Get("client_secret"))
	assert.Equal(t, "read write", form.Get("scope"))
	assert.Equal(t, "api://x", form.Get("audience"))

	stored, err := client.GetStoredToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok1", stored.AccessToken)

	doc, err := docs.GetAll(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, `{"keep":"me","n":[1,2,3]}`, string(doc["unrelated"]))
}

func TestClient_TokenRequestSendsHeaders(t *testing.T) {
	var contentType, accept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		accept = r.Header.Get("Accept")
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "a"})
	}))
	defer srv.Close()

	client := newTestClient(t, testConfig(srv.URL), store.NewMemoryBackend().ForAsset("a"))
	_, err := client.FetchTokenWithClientCredentials(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "application/x-www-form-urlencoded", contentType)
	assert.Equal(t, "application/json", accept)
}

func TestClient_GetStoredToken_ConfigurationChanged(t *testing.T) {
	docs := store.NewMemoryBackend().ForAsset("asset-1")
	seedState(t, docs, pkgoauth.State{ClientID: "A", Token: &pkgoauth.Token{AccessToken: "x"}})

	cfg := testConfig("https://idp.example.com/token")
	cfg.ClientID = "B"
	client := newTestClient(t, cfg, docs)

	_, err := client.GetStoredToken(context.Background())
	require.ErrorIs(t, err, pkgoauth.ErrConfigurationChanged)

	tok, err := client.GetStoredToken(context.Background())
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestClient_GetValidToken(t *testing.T) {
	now := time.Now()

	t.Run("no token requires authorization", func(t *testing.T) {
		client := newTestClient(t, testConfig("https://idp/token"), store.NewMemoryBackend().ForAsset("a"))
		_, err := client.GetValidToken(context.Background(), true)
		assert.ErrorIs(t, err, pkgoauth.ErrAuthorizationRequired)
	})

	t.Run("valid token returned without network", func(t *testing.T) {
		docs := store.NewMemoryBackend().ForAsset("a")
		seedState(t, docs, pkgoauth.State{ClientID: "cid", Token: &pkgoauth.Token{AccessToken: "ok", ExpiresAt: now.Add(time.Hour)}})
		client := newTestClient(t, testConfig("http://127.0.0.1:1/unreachable"), docs)

		tok, err := client.GetValidToken(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, "ok", tok.AccessToken)
	})

	t.Run("expired without refresh token", func(t *testing.T) {
		docs := store.NewMemoryBackend().ForAsset("a")
		seedState(t, docs, pkgoauth.State{ClientID: "cid", Token: &pkgoauth.Token{AccessToken: "old", ExpiresAt: now.Add(-time.Minute)}})
		client := newTestClient(t, testConfig("https://idp/token"), docs)

		_, err := client.GetValidToken(context.Background(), true)
		var expired *pkgoauth.TokenExpiredError
		assert.ErrorAs(t, err, &expired)
	})

	t.Run("expired with refresh token but auto refresh disabled", func(t *testing.T) {
		docs := store.NewMemoryBackend().ForAsset("a")
		seedState(t, docs, pkgoauth.State{ClientID: "cid", Token: &pkgoauth.Token{AccessToken: "old", RefreshToken: "rt", ExpiresAt: now.Add(-time.Minute)}})
		client := newTestClient(t, testConfig("https://idp/token"), docs)

		_, err := client.GetValidToken(context.Background(), false)
		assert.ErrorIs(t, err, pkgoauth.ErrTokenExpired)
	})

	t.Run("expired with refresh token refreshes", func(t *testing.T) {
		srv := newTokenServer(t, respondToken("new", 3600, ""))
		docs := store.NewMemoryBackend().ForAsset("a")
		seedState(t, docs, pkgoauth.State{ClientID: "cid", Token: &pkgoauth.Token{AccessToken: "old", RefreshToken: "rt", ExpiresAt: now.Add(-time.Minute)}})
		client := newTestClient(t, testConfig(srv.URL), docs)

		tok, err := client.GetValidToken(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, "new", tok.AccessToken)
		assert.Equal(t, "rt", tok.RefreshToken)
		assert.Equal(t, "refresh_token", srv.lastForm(t).Get("grant_type"))
		assert.Equal(t, "rt", srv.lastForm(t).Get("refresh_token"))
	})

	t.Run("leeway and clock are honored", func(t *testing.T) {
		docs := store.NewMemoryBackend().ForAsset("a")
		seedState(t, docs, pkgoauth.State{ClientID: "cid", Token: &pkgoauth.Token{AccessToken: "t", ExpiresAt: now.Add(10 * time.Second)}})
		client := newTestClient(t, testConfig("https://idp/token"), docs, WithExpiryLeeway(time.Minute))

		_, err := client.GetValidToken(context.Background(), false)
		assert.ErrorIs(t, err, pkgoauth.ErrTokenExpired)

		client = newTestClient(t, testConfig("https://idp/token"), docs, WithExpiryLeeway(0),
			WithClock(func() time.Time { return now }))
		_, err = client.GetValidToken(context.Background(), false)
		assert.NoError(t, err)
	})
}

func TestClient_RefreshToken_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	srv := newTokenServer(t, respondToken("fresh", 60, ""))
	docs := store.NewMemoryBackend().ForAsset("a")
	client := newTestClient(t, testConfig(srv.URL), docs)

	tok, err := client.RefreshToken(context.Background(), "keep-me")
	require.NoError(t, err)
	assert.Equal(t, "keep-me", tok.RefreshToken)

	stored, err := client.GetStoredToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "keep-me", stored.RefreshToken)
}

func TestClient_RefreshToken_RotatedRefreshToken(t *testing.T) {
	srv := newTokenServer(t, respondToken("fresh", 60, "rotated"))
	client := newTestClient(t, testConfig(srv.URL), store.NewMemoryBackend().ForAsset("a"))

	tok, err := client.RefreshToken(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, "rotated", tok.RefreshToken)
}

// conflictingStore fails the first conflicts PutAll calls with ErrConflict.
type conflictingStore struct {
	store.AssetStore
	conflicts int
	puts      int
}

func (s *conflictingStore) PutAll(ctx context.Context, doc store.Document) error {
	s.puts++
	if s.conflicts > 0 {
		s.conflicts--
		return store.ErrConflict
	}
	return s.AssetStore.PutAll(ctx, doc)
}

func TestClient_RefreshToken_RetriesWriteOnConflict(t *testing.T) {
	ctx := context.Background()
	srv := newTokenServer(t, respondToken("new-at", 3600, "rotated-rt"))
	docs := &conflictingStore{AssetStore: store.NewMemoryBackend().ForAsset("asset-1")}
	seedState(t, docs.AssetStore, pkgoauth.State{ClientID: "cid", Token: &pkgoauth.Token{AccessToken: "old", RefreshToken: "rt"}})
	c := newTestClient(t, testConfig(srv.URL), docs)

	docs.conflicts = 1
	tok, err := c.RefreshToken(ctx, "rt")
	require.NoError(t, err)
	assert.Equal(t, "rotated-rt", tok.RefreshToken)
	assert.Equal(t, 2, docs.puts)

	stored, err := c.GetStoredToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rotated-rt", stored.RefreshToken)

	docs.conflicts = 2
	_, err = c.RefreshToken(ctx, "rt")
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestClient_RefreshToken_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{name: "structured error", status: 400, body: `{"error":"invalid_grant","error_description":"expired"}`, wantDetail: "invalid_grant: expired"},
		{name: "structured error without description", status: 400, body: `{"error":"invalid_grant"}`, wantDetail: "invalid_grant"},
		{name: "raw body", status: 502, body: `upstream exploded`, wantDetail: "upstream exploded"},
		{name: "empty body", status: 503, body: ``, wantDetail: "HTTP 503"},
		{name: "truncated body", status: 500, body: strings.Repeat("x", 2000), wantDetail: strings.Repeat("x", 512) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			client := newTestClient(t, testConfig(srv.URL), store.NewMemoryBackend().ForAsset("a"))

			_, err := client.RefreshToken(context.Background(), "rt")
			var refreshErr *pkgoauth.TokenRefreshError
			require.ErrorAs(t, err, &refreshErr)
			assert.Equal(t, tt.status, refreshErr.StatusCode)
			assert.Equal(t, tt.wantDetail, refreshErr.Detail)
		})
	}
}

func TestClient_RefreshToken_NetworkFailure(t *testing.T) {
	srv := newTokenServer(t, respondToken("x", 1, ""))
	u := srv.URL
	srv.Close()

	client := newTestClient(t, testConfig(u), store.NewMemoryBackend().ForAsset("a"))
	_, err := client.RefreshToken(context.Background(), "rt")

	var refreshErr *pkgoauth.TokenRefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Zero(t, refreshErr.StatusCode)
	assert.NotNil(t, errors.Unwrap(refreshErr))
}

func TestClient_RefreshToken_RefusesForeignClient(t *testing.T) {
	srv := newTokenServer(t, respondToken("x", 60, ""))
	docs := store.NewMemoryBackend().ForAsset("a")
	seedState(t, docs, pkgoauth.State{ClientID: "other", Token: &pkgoauth.Token{AccessToken: "x", RefreshToken: "foreign"}})
	client := newTestClient(t, testConfig(srv.URL), docs)

	_, err := client.RefreshToken(context.Background(), "foreign")
	assert.ErrorIs(t, err, pkgoauth.ErrConfigurationChanged)
	assert.Empty(t, srv.forms())
}

func TestClient_ExchangeFailures(t *testing.T) {
	t.Run("missing access token", func(t *testing.T) {
		srv := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
			writeJSON(w, http.StatusOK, map[string]any{"token_type": "Bearer"})
		})
		client := newTestClient(t, testConfig(srv.URL), store.NewMemoryBackend().ForAsset("a"))

		_, err := client.FetchTokenWithClientCredentials(context.Background(), nil)
		assert.ErrorIs(t, err, pkgoauth.ErrExchangeFailed)
	})

	t.Run("unparseable body", func(t *testing.T) {
		srv := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
			_, _ = w.Write([]byte("<html>"))
		})
		client := newTestClient(t, testConfig(srv.URL), store.NewMemoryBackend().ForAsset("a"))

		_, err := client.FetchTokenWithClientCredentials(context.Background(), nil)
		assert.ErrorIs(t, err, pkgoauth.ErrExchangeFailed)
	})

	t.Run("http error", func(t *testing.T) {
		srv := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		})
		client := newTestClient(t, testConfig(srv.URL), store.NewMemoryBackend().ForAsset("a"))

		_, err := client.FetchTokenWithClientCredentials(context.Background(), nil)
		assert.ErrorIs(t, err, pkgoauth.ErrClient)
		assert.Contains(t, err.Error(), "invalid_client")
	})

	t.Run("network", func(t *testing.T) {
		srv := newTokenServer(t, respondToken("x", 1, ""))
		u := srv.URL
		srv.Close()
		client := newTestClient(t, testConfig(u), store.NewMemoryBackend().ForAsset("a"))

		_, err := client.FetchTokenWithClientCredentials(context.Background(), nil)
		assert.ErrorIs(t, err, pkgoauth.ErrNetwork)
	})
}

func TestClient_ClientCredentialsPurgesDriftSilently(t *testing.T) {
	srv := newTokenServer(t, respondToken("new", 3600, ""))
	docs := store.NewMemoryBackend().ForAsset("a")
	seedState(t, docs, pkgoauth.State{ClientID: "old-client", Token: &pkgoauth.Token{AccessToken: "old"}})
	client := newTestClient(t, testConfig(srv.URL), docs)

	tok, err := client.FetchTokenWithClientCredentials(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "new", tok.AccessToken)

	state, err := client.LoadState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cid", state.ClientID)
}

func TestClient_CreateAuthorizationURL_PKCE(t *testing.T) {
	client := newTestClient(t, testConfig("https://idp/token"), store.NewMemoryBackend().ForAsset("A1"))

	authURL, session, err := client.CreateAuthorizationURL(context.Background(), "A1", true, url.Values{
		"prompt":    {"consent"},
		"client_id": {"evil"}, // must not override
	})
	require.NoError(t, err)

	assert.NotEmpty(t, session.CodeVerifier)
	assert.NotContains(t, authURL, session.CodeVerifier)
	assert.True(t, session.AuthPending)
	assert.Equal(t, "A1", session.AssetID)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, []string{"cid"}, q["client_id"])
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(session.CodeVerifier), q.Get("code_challenge"))
	assert.Equal(t, session.State, q.Get("state"))
	assert.Equal(t, "https://app.example.com/callback", q.Get("redirect_uri"))
	assert.Equal(t, "read write", q.Get("scope"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.True(t, strings.HasSuffix(u.RawQuery, "prompt=consent"), "extras are appended last")

	assetID, sessionID, err := pkgoauth.DecodeStateParam(session.State)
	require.NoError(t, err)
	assert.Equal(t, "A1", assetID)
	assert.Equal(t, session.SessionID, sessionID)
}

func TestClient_CreateAuthorizationURL_WithoutPKCE(t *testing.T) {
	cfg := testConfig("https://idp/token")
	cfg.AuthorizationEndpoint = "https://idp.example.com/authorize?tenant=t1"
	client := newTestClient(t, cfg, store.NewMemoryBackend().ForAsset("a"))

	authURL, session, err := client.CreateAuthorizationURL(context.Background(), "", false, nil)
	require.NoError(t, err)
	assert.Empty(t, session.CodeVerifier)
	assert.Equal(t, "asset-1", session.AssetID)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "t1", u.Query().Get("tenant"))
	assert.Empty(t, u.Query().Get("code_challenge"))
}

func TestClient_CreateAuthorizationURL_Misconfigured(t *testing.T) {
	cfg := testConfig("https://idp/token")
	cfg.AuthorizationEndpoint = ""
	client := newTestClient(t, cfg, store.NewMemoryBackend().ForAsset("a"))

	_, _, err := client.CreateAuthorizationURL(context.Background(), "a", true, nil)
	assert.ErrorIs(t, err, pkgoauth.ErrMisconfigured)
}

func TestClient_CreateAuthorizationURL_Supersedes(t *testing.T) {
	client := newTestClient(t, testConfig("https://idp/token"), store.NewMemoryBackend().ForAsset("a"))
	ctx := context.Background()

	_, first, err := client.CreateAuthorizationURL(ctx, "a", true, nil)
	require.NoError(t, err)
	_, second, err := client.CreateAuthorizationURL(ctx, "a", true, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.NotEqual(t, first.State, second.State)

	pending, err := client.GetPendingSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, second.SessionID, pending.SessionID)

	// Completing the superseded session is a no-op.
	require.NoError(t, client.CompleteSession(ctx, first.SessionID, "code", "", ""))
	pending, err = client.GetPendingSession(ctx)
	require.NoError(t, err)
	assert.False(t, pending.AuthComplete)
}

func TestClient_HandleAuthorizationCallback(t *testing.T) {
	ctx := context.Background()

	t.Run("server error", func(t *testing.T) {
		client := newTestClient(t, testConfig("https://idp/token"), store.NewMemoryBackend().ForAsset("a"))
		_, err := client.HandleAuthorizationCallback(ctx, url.Values{
			"error":             {"access_denied"},
			"error_description": {"x"},
		})
		require.ErrorIs(t, err, pkgoauth.ErrAuthorizationDenied)
		assert.Contains(t, err.Error(), "access_denied")
		assert.Contains(t, err.Error(), "x")
	})

	t.Run("missing code", func(t *testing.T) {
		client := newTestClient(t, testConfig("https://idp/token"), store.NewMemoryBackend().ForAsset("a"))
		_, err := client.HandleAuthorizationCallback(ctx, url.Values{})
		assert.ErrorIs(t, err, pkgoauth.ErrMissingCode)
	})

	t.Run("state mismatch", func(t *testing.T) {
		client := newTestClient(t, testConfig("https://idp/token"), store.NewMemoryBackend().ForAsset("a"))
		_, _, err := client.CreateAuthorizationURL(ctx, "a", true, nil)
		require.NoError(t, err)

		_, err = client.HandleAuthorizationCallback(ctx, url.Values{"code": {"c"}, "state": {"forged"}})
		assert.ErrorIs(t, err, pkgoauth.ErrStateMismatch)
		assert.NotErrorIs(t, err, pkgoauth.ErrMissingCode)
	})

	t.Run("state without session", func(t *testing.T) {
		client := newTestClient(t, testConfig("https://idp/token"), store.NewMemoryBackend().ForAsset("a"))
		_, err := client.HandleAuthorizationCallback(ctx, url.Values{"code": {"c"}, "state": {"anything"}})
		assert.ErrorIs(t, err, pkgoauth.ErrStateMismatch)
	})

	t.Run("success exchanges with verifier and clears session", func(t *testing.T) {
		srv := newTokenServer(t, respondToken("user-token", 3600, "rt"))
		client := newTestClient(t, testConfig(srv.URL), store.NewMemoryBackend().ForAsset("a"))

		_, session, err := client.CreateAuthorizationURL(ctx, "a", true, nil)
		require.NoError(t, err)

		tok, err := client.HandleAuthorizationCallback(ctx, url.Values{"code": {"the-code"}, "state": {session.State}})
		require.NoError(t, err)
		assert.Equal(t, "user-token", tok.AccessToken)

		form := srv.lastForm(t)
		assert.Equal(t, "authorization_code", form.Get("grant_type"))
		assert.Equal(t, "the-code", form.Get("code"))
		assert.Equal(t, session.CodeVerifier, form.Get("code_verifier"))
		assert.Equal(t, "https://app.example.com/callback", form.Get("redirect_uri"))

		pending, err := client.GetPendingSession(ctx)
		require.NoError(t, err)
		assert.Nil(t, pending)
	})
}

func TestClient_FetchTokenWithAuthorizationCode_ExplicitVerifier(t *testing.T) {
	srv := newTokenServer(t, respondToken("t", 60, ""))
	client := newTestClient(t, testConfig(srv.URL), store.NewMemoryBackend().ForAsset("a"))

	_, _, err := client.CreateAuthorizationURL(context.Background(), "a", true, nil)
	require.NoError(t, err)

	_, err = client.FetchTokenWithAuthorizationCode(context.Background(), "c", "explicit", nil)
	require.NoError(t, err)
	assert.Equal(t, "explicit", srv.lastForm(t).Get("code_verifier"))

	_, err = client.FetchTokenWithAuthorizationCode(context.Background(), "", "", nil)
	assert.ErrorIs(t, err, pkgoauth.ErrMissingCode)
}

func TestClient_CompleteSession(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, testConfig("https://idp/token"), store.NewMemoryBackend().ForAsset("a"))

	_, session, err := client.CreateAuthorizationURL(ctx, "a", true, nil)
	require.NoError(t, err)

	require.NoError(t, client.CompleteSession(ctx, session.SessionID, "code-1", "", ""))
	// Idempotent: a second completion does not change the outcome.
	require.NoError(t, client.CompleteSession(ctx, session.SessionID, "code-2", "late_error", ""))

	pending, err := client.GetPendingSession(ctx)
	require.NoError(t, err)
	assert.True(t, pending.AuthComplete)
	assert.False(t, pending.AuthPending)
	assert.Equal(t, "code-1", pending.AuthCode)
	assert.Empty(t, pending.Error)

	code, err := client.GetAuthorizationCode(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "code-1", code)
}

func TestClient_CompleteSession_WithError(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, testConfig("https://idp/token"), store.NewMemoryBackend().ForAsset("a"))

	_, session, err := client.CreateAuthorizationURL(ctx, "a", false, nil)
	require.NoError(t, err)
	require.NoError(t, client.CompleteSession(ctx, session.SessionID, "", "access_denied", "user said no"))

	pending, err := client.GetPendingSession(ctx)
	require.NoError(t, err)
	assert.True(t, pending.Failed())
	assert.Equal(t, "user said no", pending.ErrorDescription)
}

func TestClient_CompleteSession_AfterDriftIsNoop(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryBackend().ForAsset("a")
	seedState(t, docs, pkgoauth.State{ClientID: "A", Session: &pkgoauth.Session{SessionID: "s1", AuthPending: true}})
	client := newTestClient(t, testConfig("https://idp/token"), docs)

	require.NoError(t, client.CompleteSession(ctx, "s1", "code", "", ""))

	pending, err := client.GetPendingSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestClient_SetAuthorizationCodeAndClearSession(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, testConfig("https://idp/token"), store.NewMemoryBackend().ForAsset("a"))

	code, err := client.GetAuthorizationCode(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, code)

	require.NoError(t, client.SetAuthorizationCode(ctx, "oob"))
	code, err = client.GetAuthorizationCode(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "oob", code)

	require.NoError(t, client.ClearSession(ctx))
	require.NoError(t, client.ClearSession(ctx))
	pending, err := client.GetPendingSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, pending)

	assert.ErrorIs(t, client.SetAuthorizationCode(ctx, ""), pkgoauth.ErrMissingCode)
}

func TestClient_ClearState(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryBackend().ForAsset("a")
	seedState(t, docs, pkgoauth.State{ClientID: "cid", Token: &pkgoauth.Token{AccessToken: "x"}})
	client := newTestClient(t, testConfig("https://idp/token"), docs)

	require.NoError(t, client.ClearState(ctx))
	tok, err := client.GetStoredToken(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestExtractErrorDetail(t *testing.T) {
	assert.Equal(t, "bad: worse", extractErrorDetail(400, []byte(`{"error":"bad","error_description":"worse"}`)))
	assert.Equal(t, `{"message":"nope"}`, extractErrorDetail(400, []byte(`{"message":"nope"}`)))
	assert.Equal(t, "HTTP 418", extractErrorDetail(418, []byte("  \n")))
}

func TestStateEqual(t *testing.T) {
	assert.True(t, StateEqual("abc", "abc"))
	assert.False(t, StateEqual("abc", "abd"))
	assert.False(t, StateEqual("", ""))
}
