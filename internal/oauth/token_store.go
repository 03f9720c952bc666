package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"assetauth/internal/store"
	"assetauth/pkg/logging"
	pkgoauth "assetauth/pkg/oauth"
)

// TokenStore persists the OAuth state of one asset as the pkgoauth.StateKey
// sub-tree of the asset document. Every other key of the document is written
// back exactly as it was read.
type TokenStore struct {
	docs     store.AssetStore
	clientID string
}

// NewTokenStore creates a token store for the configured client id.
func NewTokenStore(docs store.AssetStore, clientID string) *TokenStore {
	return &TokenStore{docs: docs, clientID: clientID}
}

// Load decodes the persisted state. A missing or null sub-tree yields an
// empty state.
func (ts *TokenStore) Load(ctx context.Context, forceReload bool) (*pkgoauth.State, error) {
	doc, err := ts.docs.GetAll(ctx, forceReload)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset document: %w", err)
	}
	return decodeState(doc)
}

func decodeState(doc store.Document) (*pkgoauth.State, error) {
	raw, ok := doc[pkgoauth.StateKey]
	if !ok || len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return &pkgoauth.State{}, nil
	}

	var state pkgoauth.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode oauth state: %w", err)
	}
	return &state, nil
}

// LoadChecked loads the state and detects client id drift. On drift the
// stored token and session are purged and the returned error is a
// *pkgoauth.ConfigurationChangedError; the returned state is the purged one,
// so callers that replace the state anyway can continue with it.
func (ts *TokenStore) LoadChecked(ctx context.Context, forceReload bool) (*pkgoauth.State, error) {
	state, err := ts.Load(ctx, forceReload)
	if err != nil {
		return nil, err
	}
	if state.ClientID == "" || state.ClientID == ts.clientID {
		return state, nil
	}

	previous := state.ClientID
	purged := &pkgoauth.State{ClientID: ts.clientID}
	if err := ts.Save(ctx, purged); err != nil {
		return nil, fmt.Errorf("failed to purge state after client id change: %w", err)
	}

	logging.Warn("OAuth", "Client id changed from %s to %s, purged stored credentials", previous, ts.clientID)
	logging.Audit("oauth_state_purged",
		slog.String("previous_client_id", previous),
		slog.String("client_id", ts.clientID))

	return purged, &pkgoauth.ConfigurationChangedError{PreviousClientID: previous, ClientID: ts.clientID}
}

// Save re-reads the document, replaces only the oauth sub-tree and writes the
// document back. The persisted client id is always the configured one.
func (ts *TokenStore) Save(ctx context.Context, state *pkgoauth.State) error {
	toSave := *state
	toSave.ClientID = ts.clientID

	raw, err := json.Marshal(&toSave)
	if err != nil {
		return fmt.Errorf("failed to encode oauth state: %w", err)
	}

	doc, err := ts.docs.GetAll(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to load asset document: %w", err)
	}
	doc[pkgoauth.StateKey] = raw

	if err := ts.docs.PutAll(ctx, doc); err != nil {
		return fmt.Errorf("failed to save asset document: %w", err)
	}
	return nil
}

// Update applies fn to a freshly loaded, drift-checked state and saves the
// result. The load-mutate-save sequence is not atomic on backends without
// conflict detection.
func (ts *TokenStore) Update(ctx context.Context, fn func(state *pkgoauth.State) error) error {
	state, err := ts.LoadChecked(ctx, true)
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	return ts.Save(ctx, state)
}

// Clear removes the oauth sub-tree from the document.
func (ts *TokenStore) Clear(ctx context.Context) error {
	doc, err := ts.docs.GetAll(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to load asset document: %w", err)
	}
	if _, ok := doc[pkgoauth.StateKey]; !ok {
		return nil
	}
	delete(doc, pkgoauth.StateKey)

	if err := ts.docs.PutAll(ctx, doc); err != nil {
		return fmt.Errorf("failed to save asset document: %w", err)
	}
	logging.Audit("oauth_state_cleared", slog.String("client_id", ts.clientID))
	return nil
}
