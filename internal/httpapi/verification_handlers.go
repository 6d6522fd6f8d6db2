package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"veriflow.org/internal/verification"
)

type captureRequest struct {
	DocumentID   string `json:"document_id"`
	LivePhotoID  string `json:"live_photo_id"`
	DocumentType string `json:"document_type"`
}

type checksResponse struct {
	Items []verification.Check `json:"items"`
	AsOf  time.Time            `json:"as_of"`
}

type sdkTokenResponse struct {
	Token string `json:"token"`
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	ref, ok := a.sessionRef(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getIdentity(w, r, ref)
	case http.MethodPut:
		a.upsertIdentity(w, r, ref)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) getIdentity(w http.ResponseWriter, r *http.Request, ref string) {
	view, err := a.svc.GetIdentity(r.Context(), ref)
	if err != nil {
		handleVerificationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) upsertIdentity(w http.ResponseWriter, r *http.Request, ref string) {
	var payload verification.ClientPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	view, err := a.svc.UpsertIdentity(r.Context(), ref, payload)
	if err != nil {
		handleVerificationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSessionToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ref, ok := a.sessionRef(w, r)
	if !ok {
		return
	}
	token, err := a.svc.SessionToken(r.Context(), ref)
	if err != nil {
		handleVerificationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sdkTokenResponse{Token: token})
}

func (a *API) handleCaptureCollection(w http.ResponseWriter, r *http.Request) {
	ref, ok := a.sessionRef(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		a.initiateCapture(w, r, ref)
	case http.MethodGet:
		a.listChecks(w, r, ref)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) initiateCapture(w http.ResponseWriter, r *http.Request, ref string) {
	var req captureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	checks, err := a.svc.InitiateCapture(r.Context(), ref, verification.CapturePayload{
		DocumentID:   strings.TrimSpace(req.DocumentID),
		LivePhotoID:  strings.TrimSpace(req.LivePhotoID),
		DocumentType: strings.TrimSpace(req.DocumentType),
	})
	if err != nil {
		handleVerificationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checksResponse{Items: checks, AsOf: time.Now().UTC()})
}

func (a *API) listChecks(w http.ResponseWriter, r *http.Request, ref string) {
	checks, err := a.svc.ListChecks(r.Context(), ref)
	if err != nil {
		handleVerificationError(w, r, err)
		return
	}
	if checks == nil {
		checks = []verification.Check{}
	}
	writeJSON(w, http.StatusOK, checksResponse{Items: checks, AsOf: time.Now().UTC()})
}

func (a *API) handleCaptureResource(w http.ResponseWriter, r *http.Request) {
	ref, ok := a.sessionRef(w, r)
	if !ok {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/verification/capture/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/check") {
		id := strings.TrimSuffix(path, "/check")
		id = strings.TrimSuffix(id, "/")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, r, http.StatusNotFound, "check not found")
			return
		}
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.checkStatus(w, r, ref, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getCheck(w, r, ref, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) getCheck(w http.ResponseWriter, r *http.Request, ref, id string) {
	check, err := a.svc.GetCheck(r.Context(), ref, id)
	if err != nil {
		handleVerificationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (a *API) checkStatus(w http.ResponseWriter, r *http.Request, ref, id string) {
	check, err := a.svc.CheckStatus(r.Context(), ref, id)
	if err != nil {
		handleVerificationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// --- helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleVerificationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, verification.ErrIdentityRequired):
		writeError(w, r, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, verification.ErrInvalidPayload),
		errors.Is(err, verification.ErrUnknownDocumentType),
		errors.Is(err, verification.ErrKindMismatch):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, verification.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case verification.IsProviderError(err):
		writeError(w, r, http.StatusBadGateway, "verification provider unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
