// Package oauth implements the OAuth 2.0 credential lifecycle of a single asset.
//
// # Architecture
//
//   - TokenStore: reads and writes the "oauth" sub-tree of the asset document
//     and detects client id drift
//   - Client: token retrieval, refresh, the client credentials grant, the
//     authorization code grant with PKCE and callback/session correlation
//   - CertificateClient: the client credentials grant authenticated by an
//     RS256 client assertion carrying the certificate thumbprint
//
// # Authorization Sessions
//
// CreateAuthorizationURL persists a session before returning the URL. The
// callback, usually handled by another process, calls CompleteSession with the
// session id decoded from the state parameter. The process that started the
// authorization observes the completed session and exchanges the code.
// Starting a new authorization supersedes the previous session, and completing
// a superseded session does nothing.
//
// # Client ID Drift
//
// The client id that obtained the stored credentials is persisted with them.
// When the configured client id changes, the stored token and session are
// purged. GetStoredToken and GetValidToken report this once as a
// ConfigurationChangedError; grants that replace the token anyway proceed.
//
// # Security
//
//   - Tokens, secrets, codes and verifiers are never logged
//   - The PKCE verifier is persisted with the session and never sent to the
//     authorization endpoint
//   - Callback state is compared in constant time
//   - Refresh only uses a refresh token issued to the configured client id
package oauth
