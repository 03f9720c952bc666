package oauth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryLeeway is the default margin when checking token expiry.
// This accounts for clock skew and network latency.
const DefaultExpiryLeeway = 30 * time.Second

// StateKey is the reserved top-level key of the per-asset document that holds
// the persisted State. Every other key of that document is opaque.
const StateKey = "oauth"

// Grant types sent to the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
)

// ClientAssertionTypeJWTBearer is the client_assertion_type used by the certificate grant.
const ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Config is the OAuth configuration of one asset. It is a value type and is
// never mutated after construction.
type Config struct {
	ClientID              string   `json:"client_id" yaml:"clientId"`
	ClientSecret          string   `json:"client_secret,omitempty" yaml:"clientSecret,omitempty"`
	AuthorizationEndpoint string   `json:"authorization_endpoint,omitempty" yaml:"authorizationEndpoint,omitempty"`
	TokenEndpoint         string   `json:"token_endpoint" yaml:"tokenEndpoint"`
	RedirectURI           string   `json:"redirect_uri,omitempty" yaml:"redirectUri,omitempty"`
	Scopes                []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// Scope returns the scopes in their space-joined wire form.
func (c Config) Scope() string {
	return strings.Join(c.Scopes, " ")
}

// Validate checks the fields every grant needs.
func (c Config) Validate() error {
	if c.ClientID == "" {
		return NewClientError("validate config", ErrMisconfigured, "client_id is required", nil)
	}
	if c.TokenEndpoint == "" {
		return NewClientError("validate config", ErrMisconfigured, "token_endpoint is required", nil)
	}
	return nil
}

// TokenResponse is the decoded JSON body of a successful token endpoint call.
// Unknown fields are kept in Extra instead of being rejected.
type TokenResponse struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	ExpiresIn    int64
	Scope        string
	Extra        map[string]json.RawMessage
}

// UnmarshalJSON accepts expires_in as either a JSON number or a numeric string.
func (r *TokenResponse) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	str := func(key string) (string, error) {
		v, ok := raw[key]
		if !ok || bytes.Equal(v, []byte("null")) {
			return "", nil
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", fmt.Errorf("field %s: %w", key, err)
		}
		return s, nil
	}

	var err error
	if r.AccessToken, err = str("access_token"); err != nil {
		return err
	}
	if r.TokenType, err = str("token_type"); err != nil {
		return err
	}
	if r.RefreshToken, err = str("refresh_token"); err != nil {
		return err
	}
	if r.Scope, err = str("scope"); err != nil {
		return err
	}
	if v, ok := raw["expires_in"]; ok {
		if r.ExpiresIn, err = parseExpiresIn(v); err != nil {
			return err
		}
	}

	for _, k := range []string{"access_token", "token_type", "refresh_token", "scope", "expires_in"} {
		delete(raw, k)
	}
	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}

func parseExpiresIn(v json.RawMessage) (int64, error) {
	if bytes.Equal(v, []byte("null")) {
		return 0, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return numberSeconds(string(n))
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, fmt.Errorf("field expires_in: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return numberSeconds(strings.TrimSpace(s))
}

func numberSeconds(s string) (int64, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("field expires_in: invalid number %q", s)
	}
	return int64(f), nil
}

// Token represents an issued OAuth access token.
type Token struct {
	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is the absolute expiry. Zero means the token never expires.
	ExpiresAt time.Time `json:"expires_at,omitzero"`

	// Scope is the granted scope(s), space-separated.
	Scope string `json:"scope,omitempty"`
}

// NewToken builds a Token from a token endpoint response, normalizing the
// relative expires_in to an absolute instant based on now.
func NewToken(resp *TokenResponse, now time.Time) *Token {
	t := &Token{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
		Scope:        resp.Scope,
	}
	if t.TokenType == "" {
		t.TokenType = "Bearer"
	}
	if resp.ExpiresIn > 0 {
		t.ExpiresAt = now.Add(time.Duration(min(resp.ExpiresIn, MaxExpiresIn)) * time.Second)
	}
	return t
}

// MaxExpiresIn caps the expires_in of a token response, in seconds. Larger
// values would overflow time.Duration.
const MaxExpiresIn int64 = 10 * 365 * 24 * 60 * 60

// IsExpired reports whether the token has expired or will within leeway.
func (t *Token) IsExpired(leeway time.Duration) bool {
	return t.IsExpiredAt(time.Now(), leeway)
}

// IsExpiredAt is IsExpired evaluated at the given instant.
func (t *Token) IsExpiredAt(now time.Time, leeway time.Duration) bool {
	if t == nil {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false // Tokens without expiration don't expire
	}
	return !now.Add(leeway).Before(t.ExpiresAt)
}

// Scopes returns the scope as a slice of individual scopes.
func (t *Token) Scopes() []string {
	if t.Scope == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// ToOAuth2Token converts the Token to an oauth2.Token for compatibility with golang.org/x/oauth2.
func (t *Token) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}

// Session is one in-flight authorization attempt. It is created when an
// authorization URL is generated and mutated only by callback completion.
type Session struct {
	SessionID        string    `json:"session_id"`
	AssetID          string    `json:"asset_id"`
	State            string    `json:"state"`
	CodeVerifier     string    `json:"code_verifier,omitempty"`
	AuthPending      bool      `json:"auth_pending"`
	AuthComplete     bool      `json:"auth_complete"`
	AuthCode         string    `json:"auth_code,omitempty"`
	Error            string    `json:"error,omitempty"`
	ErrorDescription string    `json:"error_description,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitzero"`
}

// Failed reports whether the callback delivered an error for this session.
func (s *Session) Failed() bool {
	return s != nil && s.Error != ""
}

// State is the unit persisted under StateKey: the last known client id, the
// current token and at most one session.
type State struct {
	ClientID string   `json:"client_id,omitempty"`
	Token    *Token   `json:"token,omitempty"`
	Session  *Session `json:"session,omitempty"`
}

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) challenge.
type PKCEChallenge struct {
	// CodeVerifier is kept secret and never transmitted to the authorization server.
	CodeVerifier string

	// CodeChallenge is the SHA256 hash of the verifier (base64url-encoded).
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}
