package oauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// stateParam is the decoded form of the state query parameter. The nonce
// makes every value unguessable even for a known asset and session.
type stateParam struct {
	AssetID   string `json:"asset_id"`
	SessionID string `json:"session_id"`
	Nonce     string `json:"nonce"`
}

// EncodeStateParam builds the opaque anti-CSRF state value binding an asset
// and an authorization session.
func EncodeStateParam(assetID, sessionID string) (string, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return "", err
	}

	stateJSON, err := json.Marshal(stateParam{AssetID: assetID, SessionID: sessionID, Nonce: nonce})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(stateJSON), nil
}

// DecodeStateParam recovers the asset id and session id from a state value.
// It does not authenticate the value; callers must still compare it with the
// state stored in the active session.
func DecodeStateParam(encoded string) (assetID, sessionID string, err error) {
	stateJSON, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", fmt.Errorf("failed to decode state: %w", err)
	}

	var p stateParam
	if err := json.Unmarshal(stateJSON, &p); err != nil {
		return "", "", fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if p.AssetID == "" || p.SessionID == "" || p.Nonce == "" {
		return "", "", fmt.Errorf("state is missing required fields")
	}
	return p.AssetID, p.SessionID, nil
}
