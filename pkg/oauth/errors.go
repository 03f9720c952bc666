package oauth

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is. Each typed error below matches exactly one of them.
var (
	ErrConfigurationChanged  = errors.New("oauth configuration changed")
	ErrAuthorizationRequired = errors.New("authorization required")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenRefresh          = errors.New("token refresh failed")
	ErrClient                = errors.New("oauth client error")
)

// Kinds of ClientError. A ClientError matches both ErrClient and its Kind.
var (
	ErrMisconfigured        = errors.New("misconfigured")
	ErrMissingCode          = errors.New("missing authorization code")
	ErrStateMismatch        = errors.New("state mismatch")
	ErrAuthorizationDenied  = errors.New("authorization denied")
	ErrExchangeFailed       = errors.New("token exchange failed")
	ErrNetwork              = errors.New("network failure")
	ErrSessionSuperseded    = errors.New("authorization session superseded")
	ErrAuthorizationTimeout = errors.New("authorization timed out")
	ErrSigning              = errors.New("assertion signing failed")
)

// ConfigurationChangedError reports that the persisted client id no longer
// matches the configured one. The stored token and session have been purged.
type ConfigurationChangedError struct {
	PreviousClientID string
	ClientID         string
}

func (e *ConfigurationChangedError) Error() string {
	return fmt.Sprintf("oauth configuration changed: client id %q replaced by %q, stored credentials were cleared and authorization is required again",
		e.PreviousClientID, e.ClientID)
}

func (e *ConfigurationChangedError) Is(target error) bool { return target == ErrConfigurationChanged }

// AuthorizationRequiredError reports that no usable token exists. AuthURL,
// when set, is where the user can authorize.
type AuthorizationRequiredError struct {
	AuthURL string
	Reason  string
}

func (e *AuthorizationRequiredError) Error() string {
	msg := "authorization required"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.AuthURL != "" {
		msg += "\nPlease authorize at: " + e.AuthURL
	}
	return msg
}

func (e *AuthorizationRequiredError) Is(target error) bool { return target == ErrAuthorizationRequired }

// TokenExpiredError reports an expired token that cannot be refreshed
// without user interaction.
type TokenExpiredError struct {
	ExpiredAt time.Time
}

func (e *TokenExpiredError) Error() string {
	if e.ExpiredAt.IsZero() {
		return "token expired and no refresh token is available"
	}
	return fmt.Sprintf("token expired at %s and no refresh token is available", e.ExpiredAt.Format(time.RFC3339))
}

func (e *TokenExpiredError) Is(target error) bool { return target == ErrTokenExpired }

// TokenRefreshError reports a failed refresh_token grant. StatusCode is zero
// for network failures.
type TokenRefreshError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *TokenRefreshError) Error() string {
	msg := "token refresh failed"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TokenRefreshError) Is(target error) bool { return target == ErrTokenRefresh }

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// ClientError is the generic failure of an OAuth operation.
type ClientError struct {
	// Op is the operation that failed, e.g. "exchange code".
	Op string
	// Kind is one of the Err* kinds declared in this package.
	Kind   error
	Detail string
	Err    error
}

// NewClientError creates a ClientError.
func NewClientError(op string, kind error, detail string, err error) *ClientError {
	return &ClientError{Op: op, Kind: kind, Detail: detail, Err: err}
}

func (e *ClientError) Error() string {
	msg := "oauth " + e.Op
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ClientError) Is(target error) bool {
	return target == ErrClient || (e.Kind != nil && target == e.Kind)
}

func (e *ClientError) Unwrap() error { return e.Err }

// IsReauthorizationNeeded reports whether err means the user has to go through
// the interactive authorization again.
func IsReauthorizationNeeded(err error) bool {
	return errors.Is(err, ErrAuthorizationRequired) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrConfigurationChanged)
}
