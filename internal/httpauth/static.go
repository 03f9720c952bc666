package httpauth

import (
	"errors"
	"net/http"

	"golang.org/x/oauth2"
)

// NewStaticTokenAuth returns a transport that sends token with scheme on every
// request. The scheme is normalized the way x/oauth2 does it: empty or any
// casing of "bearer" becomes "Bearer", likewise "Basic" and "MAC".
func NewStaticTokenAuth(token, scheme string, next http.RoundTripper) (http.RoundTripper, error) {
	if token == "" {
		return nil, errors.New("static token must not be empty")
	}
	return &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: scheme}),
		Base:   base(next),
	}, nil
}
