package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"assetauth/internal/store"
	pkgoauth "assetauth/pkg/oauth"
)

// tokenServer is a fake token endpoint that records every form it receives.
type tokenServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []url.Values
	respond  func(w http.ResponseWriter, form url.Values)
}

func newTokenServer(t *testing.T, respond func(w http.ResponseWriter, form url.Values)) *tokenServer {
	t.Helper()
	ts := &tokenServer{respond: respond}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ts.mu.Lock()
		ts.requests = append(ts.requests, r.PostForm)
		ts.mu.Unlock()
		ts.respond(w, r.PostForm)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) forms() []url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]url.Values(nil), ts.requests...)
}

func (ts *tokenServer) lastForm(t *testing.T) url.Values {
	t.Helper()
	forms := ts.forms()
	require.NotEmpty(t, forms, "token endpoint was not called")
	return forms[len(forms)-1]
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondToken answers every request with the given access token.
func respondToken(accessToken string, expiresIn int, refreshToken string) func(http.ResponseWriter, url.Values) {
	return func(w http.ResponseWriter, _ url.Values) {
		body := map[string]any{
			"access_token": accessToken,
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
			"ext_field":    map[string]any{"nested": true},
		}
		if refreshToken != "" {
			body["refresh_token"] = refreshToken
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func testConfig(tokenURL string) pkgoauth.Config {
	return pkgoauth.Config{
		ClientID:              "cid",
		ClientSecret:          "sec",
		AuthorizationEndpoint: "https://idp.example.com/authorize",
		TokenEndpoint:         tokenURL,
		RedirectURI:           "https://app.example.com/callback",
		Scopes:                []string{"read", "write"},
	}
}

func newTestClient(t *testing.T, cfg pkgoauth.Config, docs store.AssetStore, opts ...ClientOption) *Client {
	t.Helper()
	c, err := NewClient(cfg, "asset-1", docs, opts...)
	require.NoError(t, err)
	return c
}

// seedState writes an oauth state next to an unrelated key.
func seedState(t *testing.T, docs store.AssetStore, state pkgoauth.State) {
	t.Helper()
	raw, err := json.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, docs.PutAll(t.Context(), store.Document{
		pkgoauth.StateKey: raw,
		"unrelated":       json.RawMessage(`{"keep":"me","n":[1,2,3]}`),
	}))
}
