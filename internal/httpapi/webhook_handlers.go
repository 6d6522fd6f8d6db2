package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"veriflow.org/internal/obs"
)

const signatureHeader = "X-Webhook-Signature"

type webhookEvent struct {
	Type    string `json:"type"`
	Payload struct {
		ID string `json:"id"`
	} `json:"payload"`
}

// handleProviderWebhook ingests provider callbacks. The provider retries on
// non-2xx, so every accepted delivery is answered 200 even when the event is
// irrelevant here; only a bad signature or unreadable body is rejected.
func (a *API) handleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unreadable body")
		return
	}

	if a.webhookSecret != "" {
		if !validSignature(a.webhookSecret, body, r.Header.Get(signatureHeader)) {
			obs.WebhookEvent("rejected")
			writeError(w, r, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Only completion events carry state this service reconciles.
	if !strings.HasPrefix(event.Type, "check.completed") || event.Payload.ID == "" {
		obs.WebhookEvent("ignored")
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	if err := a.svc.HandleCheckCompleted(r.Context(), event.Payload.ID); err != nil {
		handleVerificationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}

func validSignature(secret string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.ToLower(header)))
}
