// Package logging provides leveled, subsystem-tagged logging for assetauth.
//
// It is a thin layer over log/slog. Every entry carries a subsystem attribute so
// output from the OAuth client, the document stores and the callback server can be
// filtered independently.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("OAuth", "Stored token for asset %s", assetID)
//	logging.Debug("Store", "Loaded document from %s", path)
//	logging.Error("Webhook", err, "Failed to complete session")
//
// The callback server uses InitForServer, which emits JSON lines instead of text.
//
// # Security
//
// Token values, client secrets, PKCE verifiers and authorization codes must never be
// passed to any function in this package. Audit records security-relevant events
// (token stored, state purged, session completed) with non-secret attributes only.
package logging
