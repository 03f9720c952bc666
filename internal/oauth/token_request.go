package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"assetauth/pkg/logging"
	pkgoauth "assetauth/pkg/oauth"
	textutil "assetauth/pkg/strings"
)

const (
	// maxErrorDetail caps how many runes of a raw error body are carried in
	// errors, not counting the ellipsis.
	maxErrorDetail = 512

	// maxTokenResponseSize caps the token endpoint response body.
	maxTokenResponseSize = 1 << 20
)

// tokenFailure describes a failed token endpoint call. status is zero when
// the request never produced a response.
type tokenFailure struct {
	status int
	detail string
	cause  error
}

func (f *tokenFailure) Error() string {
	switch {
	case f.cause != nil && f.detail != "":
		return f.detail + ": " + f.cause.Error()
	case f.cause != nil:
		return f.cause.Error()
	default:
		return f.detail
	}
}

func (f *tokenFailure) Unwrap() error { return f.cause }

// tokenForm builds the form of a token request: grant type, client id,
// optional secret and scope, the grant fields, then extras that never
// override a field already set.
func (c *Client) tokenForm(grantType string, includeSecret bool, fields, extra url.Values) url.Values {
	form := url.Values{}
	form.Set("grant_type", grantType)
	form.Set("client_id", c.config.ClientID)
	if includeSecret && c.config.ClientSecret != "" {
		form.Set("client_secret", c.config.ClientSecret)
	}
	if scope := c.config.Scope(); scope != "" {
		form.Set("scope", scope)
	}
	for k, vs := range fields {
		form[k] = append([]string(nil), vs...)
	}
	for k, vs := range extra {
		if _, exists := form[k]; exists {
			continue
		}
		form[k] = append([]string(nil), vs...)
	}
	return form
}

// requestToken POSTs form to the token endpoint and decodes the token. Every
// failure is a *tokenFailure.
func (c *Client) requestToken(ctx context.Context, form url.Values) (*pkgoauth.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &tokenFailure{detail: "failed to create token request", cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &tokenFailure{detail: "token request failed", cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, &tokenFailure{status: resp.StatusCode, detail: "failed to read token response", cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := extractErrorDetail(resp.StatusCode, body)
		logging.Debug("OAuth", "Token request (%s) failed: status=%d detail=%s", form.Get("grant_type"), resp.StatusCode, detail)
		return nil, &tokenFailure{status: resp.StatusCode, detail: detail}
	}

	var tr pkgoauth.TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &tokenFailure{status: resp.StatusCode, detail: "failed to parse token response", cause: err}
	}
	if tr.AccessToken == "" {
		return nil, &tokenFailure{status: resp.StatusCode, detail: "token response did not include access_token"}
	}

	return pkgoauth.NewToken(&tr, c.now()), nil
}

// asClientError converts a token request failure into a ClientError.
func asClientError(op string, err error) error {
	var f *tokenFailure
	if !errors.As(err, &f) {
		return pkgoauth.NewClientError(op, pkgoauth.ErrExchangeFailed, "", err)
	}
	if f.status == 0 {
		return pkgoauth.NewClientError(op, pkgoauth.ErrNetwork, f.detail, f.cause)
	}
	return pkgoauth.NewClientError(op, pkgoauth.ErrExchangeFailed, f.detail, f.cause)
}

// extractErrorDetail produces a best-effort description of a failed token
// response: the structured error and error_description, else the raw body,
// else the status code.
func extractErrorDetail(status int, body []byte) string {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return formatServerError(payload.Error, payload.ErrorDescription)
	}

	if raw := strings.TrimSpace(string(body)); raw != "" {
		return textutil.SingleLine(raw, maxErrorDetail+3)
	}
	return fmt.Sprintf("HTTP %d", status)
}

func formatServerError(code, description string) string {
	if description == "" {
		return code
	}
	return code + ": " + description
}
