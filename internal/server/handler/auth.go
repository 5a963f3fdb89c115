package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/signaldeck/signaldeck/internal/domain"
	"github.com/signaldeck/signaldeck/internal/server/middleware"
	"github.com/signaldeck/signaldeck/internal/server/ws"
)

// AuthHandler implements the channel-authorization endpoint. Clients that
// want a gated channel POST their socket id and channel name here; entitled
// viewers get back the grant the hub verifies on authorize frames.
type AuthHandler struct {
	verifier middleware.TokenVerifier
	profiles domain.ProfileStore
	secret   []byte
	logger   *slog.Logger
}

func NewAuthHandler(verifier middleware.TokenVerifier, profiles domain.ProfileStore, secret []byte, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{verifier: verifier, profiles: profiles, secret: secret, logger: logger}
}

// AuthorizeChannel handles POST /api/pusher/auth. The request body is a
// form with socket_id and channel_name fields.
func (h *AuthHandler) AuthorizeChannel(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing session token")
		return
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}
	socketID := strings.TrimSpace(r.PostFormValue("socket_id"))
	channel := strings.TrimSpace(r.PostFormValue("channel_name"))
	if socketID == "" || channel == "" {
		writeError(w, http.StatusBadRequest, "socket_id and channel_name are required")
		return
	}

	if channel == domain.TopicVIPSignals {
		profile, err := h.profiles.GetProfile(r.Context(), userID)
		if err != nil {
			h.logger.Warn("profile lookup failed during channel auth",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			writeError(w, http.StatusForbidden, "channel requires an active subscription")
			return
		}
		if !profile.VIP() {
			writeError(w, http.StatusForbidden, "channel requires an active subscription")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"auth": ws.ChannelGrant(h.secret, socketID, channel),
	})
}
