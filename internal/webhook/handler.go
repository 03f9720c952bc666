// Package webhook receives OAuth authorization callbacks and completes the
// pending session of the asset they belong to. The process waiting on that
// session picks the result up from the asset document.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"assetauth/internal/oauth"
	"assetauth/internal/store"
	"assetauth/pkg/logging"
	pkgoauth "assetauth/pkg/oauth"
)

const (
	// CallbackPath receives callbacks routed by the state parameter alone.
	CallbackPath = "/oauth/callback"
	// AssetCallbackPath receives callbacks for one asset.
	AssetCallbackPath = "/assets/{asset_id}/oauth/callback"
)

// ErrUnknownAsset is returned by a ClientResolver for assets it does not know.
var ErrUnknownAsset = errors.New("unknown asset")

// ClientResolver returns the OAuth client of an asset.
type ClientResolver func(assetID string) (*oauth.Client, error)

// Handler completes authorization sessions from browser callbacks.
type Handler struct {
	resolve   ClientResolver
	completed store.Broadcaster
}

// NewHandler creates a Handler.
func NewHandler(resolve ClientResolver) *Handler {
	return &Handler{resolve: resolve}
}

// Watch implements store.Watcher. The channel is signalled whenever a
// callback completes a session of assetID in this process.
func (h *Handler) Watch(ctx context.Context, assetID string) (<-chan struct{}, error) {
	return h.completed.Subscribe(ctx, assetID), nil
}

// Routes registers the callback routes on r.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc(CallbackPath, h.HandleCallback).Methods(http.MethodGet)
	r.HandleFunc(AssetCallbackPath, h.HandleCallback).Methods(http.MethodGet)
}

// HandleCallback validates the state parameter against the asset's active
// session and records the outcome on it. The code is not exchanged here.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stateParam := q.Get("state")
	code := q.Get("code")
	errCode := q.Get("error")
	errDesc := q.Get("error_description")

	if stateParam == "" {
		logging.Warn("OAuth", "Callback without state parameter")
		renderErrorPage(w, http.StatusBadRequest, "Invalid callback: missing state parameter.")
		return
	}

	assetID, sessionID, err := pkgoauth.DecodeStateParam(stateParam)
	if err != nil {
		logging.Warn("OAuth", "Callback with undecodable state: %v", err)
		renderErrorPage(w, http.StatusBadRequest, "Invalid callback: malformed state parameter.")
		return
	}
	if routed, ok := mux.Vars(r)["asset_id"]; ok && routed != assetID {
		logging.Warn("OAuth", "Callback for asset %s carries state of asset %s", routed, assetID)
		rejectState(w, routed, "asset_mismatch")
		return
	}

	client, err := h.resolve(assetID)
	if err != nil {
		if errors.Is(err, ErrUnknownAsset) {
			logging.Warn("OAuth", "Callback for unknown asset %s", assetID)
			renderErrorPage(w, http.StatusNotFound, "Unknown asset.")
			return
		}
		logging.Error("OAuth", err, "Failed to resolve client for asset %s", assetID)
		renderErrorPage(w, http.StatusInternalServerError, "Failed to complete authentication. Please try again.")
		return
	}

	ctx := r.Context()
	session, err := client.GetPendingSession(ctx)
	if err != nil {
		logging.Error("OAuth", err, "Failed to load session for asset %s", assetID)
		renderErrorPage(w, http.StatusInternalServerError, "Failed to complete authentication. Please try again.")
		return
	}
	if session == nil || session.SessionID != sessionID || !oauth.StateEqual(session.State, stateParam) {
		rejectState(w, assetID, "no_matching_session")
		return
	}

	if errCode == "" && code == "" {
		errCode = "invalid_request"
		errDesc = "callback carried neither code nor error"
	}
	if err := client.CompleteSession(ctx, sessionID, code, errCode, errDesc); err != nil {
		logging.Error("OAuth", err, "Failed to complete session %s for asset %s", sessionID, assetID)
		renderErrorPage(w, http.StatusInternalServerError, "Failed to complete authentication. Please try again.")
		return
	}
	h.completed.Notify(assetID)

	if errCode != "" {
		logging.Warn("OAuth", "Authorization for asset %s failed: %s %s", assetID, errCode, errDesc)
		msg := "Authentication failed: " + errCode
		if errDesc != "" {
			msg += " (" + errDesc + ")"
		}
		renderErrorPage(w, http.StatusBadRequest, msg)
		return
	}

	logging.Info("OAuth", "Authorization callback completed session %s for asset %s", sessionID, assetID)
	renderSuccessPage(w, assetID)
}

func rejectState(w http.ResponseWriter, assetID, reason string) {
	logging.Audit("oauth_callback_rejected",
		slog.String("asset_id", assetID),
		slog.String("reason", reason))
	renderErrorPage(w, http.StatusBadRequest, "Authentication session expired or was replaced. Please try again.")
}
