package flow

import (
	"context"
	"fmt"
	"strings"

	"assetauth/internal/oauth"
	"assetauth/internal/store"
	"assetauth/pkg/logging"
	pkgoauth "assetauth/pkg/oauth"
)

// DefaultAuthTypeValue is the auth type that enables OAuth on an asset record.
const DefaultAuthTypeValue = "oauth"

// FieldNames maps flow parameters to keys of a generic asset record, so one
// flow implementation can serve integrations with different record layouts.
type FieldNames struct {
	AuthType     string `yaml:"authType,omitempty"`
	ClientID     string `yaml:"clientId,omitempty"`
	ClientSecret string `yaml:"clientSecret,omitempty"`
	AuthURL      string `yaml:"authUrl,omitempty"`
	TokenURL     string `yaml:"tokenUrl,omitempty"`
	RedirectURI  string `yaml:"redirectUri,omitempty"`
	Scopes       string `yaml:"scopes,omitempty"`
}

// DefaultFieldNames returns the conventional record keys.
func DefaultFieldNames() FieldNames {
	return FieldNames{
		AuthType:     "auth_type",
		ClientID:     "client_id",
		ClientSecret: "client_secret",
		AuthURL:      "auth_url",
		TokenURL:     "token_url",
		RedirectURI:  "redirect_uri",
		Scopes:       "scopes",
	}
}

// merge fills empty names from the defaults.
func (n FieldNames) merge() FieldNames {
	d := DefaultFieldNames()
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return FieldNames{
		AuthType:     pick(n.AuthType, d.AuthType),
		ClientID:     pick(n.ClientID, d.ClientID),
		ClientSecret: pick(n.ClientSecret, d.ClientSecret),
		AuthURL:      pick(n.AuthURL, d.AuthURL),
		TokenURL:     pick(n.TokenURL, d.TokenURL),
		RedirectURI:  pick(n.RedirectURI, d.RedirectURI),
		Scopes:       pick(n.Scopes, d.Scopes),
	}
}

// InteractiveAuthFlow binds the authorization code flow to an asset record.
type InteractiveAuthFlow struct {
	record        map[string]any
	fields        FieldNames
	authTypeValue string
	backend       store.Backend
	clientOpts    []oauth.ClientOption
	flowOpts      []AuthCodeOption
	wait          WaitOptions
}

// InteractiveOption configures an InteractiveAuthFlow.
type InteractiveOption func(*InteractiveAuthFlow)

// WithFieldNames overrides record keys. Empty names keep their default.
func WithFieldNames(names FieldNames) InteractiveOption {
	return func(f *InteractiveAuthFlow) { f.fields = names.merge() }
}

// WithAuthTypeValue sets the auth type value that enables OAuth.
func WithAuthTypeValue(value string) InteractiveOption {
	return func(f *InteractiveAuthFlow) { f.authTypeValue = value }
}

// WithClientOptions passes options to every client the flow creates.
func WithClientOptions(opts ...oauth.ClientOption) InteractiveOption {
	return func(f *InteractiveAuthFlow) { f.clientOpts = append(f.clientOpts, opts...) }
}

// WithFlowOptions passes options to every authorization code flow created.
func WithFlowOptions(opts ...AuthCodeOption) InteractiveOption {
	return func(f *InteractiveAuthFlow) { f.flowOpts = append(f.flowOpts, opts...) }
}

// WithWaitOptions sets timeout and poll interval for WaitForAuthorization.
func WithWaitOptions(wait WaitOptions) InteractiveOption {
	return func(f *InteractiveAuthFlow) { f.wait = wait }
}

// NewInteractiveAuthFlow creates a flow for record whose state is kept in backend.
func NewInteractiveAuthFlow(record map[string]any, backend store.Backend, opts ...InteractiveOption) *InteractiveAuthFlow {
	f := &InteractiveAuthFlow{
		record:        record,
		fields:        DefaultFieldNames(),
		authTypeValue: DefaultAuthTypeValue,
		backend:       backend,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IsOAuthEnabled reports whether the record's auth type field selects OAuth.
func (f *InteractiveAuthFlow) IsOAuthEnabled() bool {
	return strings.EqualFold(strings.TrimSpace(f.stringField(f.fields.AuthType)), f.authTypeValue)
}

// Config builds the OAuth configuration from the record.
func (f *InteractiveAuthFlow) Config() (pkgoauth.Config, error) {
	cfg := pkgoauth.Config{
		ClientID:              f.stringField(f.fields.ClientID),
		ClientSecret:          f.stringField(f.fields.ClientSecret),
		AuthorizationEndpoint: f.stringField(f.fields.AuthURL),
		TokenEndpoint:         f.stringField(f.fields.TokenURL),
		RedirectURI:           f.stringField(f.fields.RedirectURI),
		Scopes:                f.scopes(),
	}
	if err := cfg.Validate(); err != nil {
		return pkgoauth.Config{}, err
	}
	return cfg, nil
}

// InitiateAuthorization starts a session for assetID and returns its URL.
func (f *InteractiveAuthFlow) InitiateAuthorization(ctx context.Context, assetID string) (string, error) {
	acf, err := f.authorizationCodeFlow(assetID)
	if err != nil {
		return "", err
	}
	return acf.GetAuthorizationURL(ctx)
}

// GetValidToken returns a valid token for assetID, refreshing if needed.
func (f *InteractiveAuthFlow) GetValidToken(ctx context.Context, assetID string) (*pkgoauth.Token, error) {
	client, err := f.client(assetID)
	if err != nil {
		return nil, err
	}
	return client.GetValidToken(ctx, true)
}

// WaitForAuthorization waits for the pending session of assetID. When the
// backend can signal document changes, the wait is woken by them.
func (f *InteractiveAuthFlow) WaitForAuthorization(ctx context.Context, assetID string, onProgress func(Progress)) (*pkgoauth.Token, error) {
	acf, err := f.authorizationCodeFlow(assetID)
	if err != nil {
		return nil, err
	}

	wait := f.wait
	wait.OnProgress = onProgress

	if watcher, ok := f.backend.(store.Watcher); ok && wait.Wake == nil {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		wake, err := watcher.Watch(watchCtx, assetID)
		if err != nil {
			logging.Warn("Flow", "Change notifications unavailable for asset %s, polling only: %v", assetID, err)
		} else {
			wait.Wake = wake
		}
	}

	return acf.WaitForAuthorization(ctx, wait)
}

func (f *InteractiveAuthFlow) client(assetID string) (*oauth.Client, error) {
	if !f.IsOAuthEnabled() {
		return nil, pkgoauth.NewClientError("bind asset record", pkgoauth.ErrMisconfigured,
			fmt.Sprintf("asset %s does not use %s authentication", assetID, f.authTypeValue), nil)
	}
	cfg, err := f.Config()
	if err != nil {
		return nil, err
	}
	return oauth.NewClient(cfg, assetID, f.backend.ForAsset(assetID), f.clientOpts...)
}

func (f *InteractiveAuthFlow) authorizationCodeFlow(assetID string) (*AuthorizationCodeFlow, error) {
	client, err := f.client(assetID)
	if err != nil {
		return nil, err
	}
	return NewAuthorizationCodeFlow(client, f.flowOpts...), nil
}

func (f *InteractiveAuthFlow) stringField(key string) string {
	v, ok := f.record[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// scopes accepts a list or a string separated by spaces or commas.
func (f *InteractiveAuthFlow) scopes() []string {
	switch v := f.record[f.fields.Scopes].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str := strings.TrimSpace(fmt.Sprint(s)); str != "" {
				out = append(out, str)
			}
		}
		return out
	case string:
		return strings.FieldsFunc(v, func(r rune) bool { return r == ' ' || r == ',' })
	default:
		return nil
	}
}
