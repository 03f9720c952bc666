// Package oauth holds the OAuth 2.0 data model shared by the assetauth client,
// its flows, the HTTP adapters and the callback server.
//
// # Core Components
//
//   - Config: per-asset client configuration (immutable value)
//   - TokenResponse and Token: token endpoint payload and the normalized token
//   - Session and State: the in-flight authorization attempt and the unit
//     persisted under the reserved "oauth" key of an asset document
//   - EncodeStateParam / DecodeStateParam: the anti-CSRF state value
//   - GeneratePKCE: RFC 7636 S256 verifier and challenge
//   - Error taxonomy usable with errors.Is and errors.As
//
// This package has no dependency on storage or transport.
package oauth
