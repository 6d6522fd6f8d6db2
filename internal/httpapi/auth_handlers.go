package httpapi

import (
	"net/http"
	"time"

	"veriflow.org/internal/audit"
	"veriflow.org/internal/auth"
)

type sessionResponse struct {
	SessionRef string    `json:"session_ref"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// handleAuthSession bootstraps a verification flow: it mints a fresh session
// ref and returns the bearer token that scopes every later call to it.
func (a *API) handleAuthSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	ref := auth.NewSessionRef()
	token, err := auth.GenerateSessionToken(ref, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.session.issued", map[string]any{
		"session_ref": ref,
		"expires_at":  expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionRef: ref,
		Token:      token,
		ExpiresAt:  expiresAt,
	})
}
