package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/mertdlkr/x-rent/internal/audit"
	"github.com/mertdlkr/x-rent/internal/auth"
)

type tokenRequest struct {
	Identity string `json:"identity"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	identity := strings.TrimSpace(req.Identity)
	if identity == "" {
		writeError(w, r, http.StatusBadRequest, "identity is required")
		return
	}

	token, err := auth.GenerateToken(identity, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"identity":   identity,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
