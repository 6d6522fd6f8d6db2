// Package httpapi is the HTTP transport of the verification service.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"veriflow.org/api/spec"
	"veriflow.org/internal/obs"
	"veriflow.org/internal/stream"
	"veriflow.org/internal/verification"
)

// ReadyProbe reports whether the service can take traffic (DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API routes verification requests to the engine.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	svc verification.Service
	hub *stream.Hub

	webhookSecret string
	tokenTTL      time.Duration
}

// Option configures API.
type Option func(*API)

// WithWebhookSecret enables HMAC validation of provider webhook deliveries.
func WithWebhookSecret(secret string) Option {
	return func(a *API) { a.webhookSecret = secret }
}

// WithSessionTokenTTL overrides the lifetime of issued session tokens.
func WithSessionTokenTTL(ttl time.Duration) Option {
	return func(a *API) {
		if ttl > 0 {
			a.tokenTTL = ttl
		}
	}
}

func New(svc verification.Service, hub *stream.Hub, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		svc:        svc,
		hub:        hub,
		tokenTTL:   time.Hour,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// OpenAPI YAML
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// session bootstrap
	a.mux.HandleFunc("/v1/auth/session", a.handleAuthSession)

	// verification flow
	a.mux.HandleFunc("/v1/verification/session", a.handleSession)
	a.mux.HandleFunc("/v1/verification/session/token", a.handleSessionToken)
	a.mux.HandleFunc("/v1/verification/capture", a.handleCaptureCollection)
	a.mux.HandleFunc("/v1/verification/capture/", a.handleCaptureResource)
	a.mux.HandleFunc("/v1/verification/stream", a.Stream)

	// provider callbacks
	a.mux.HandleFunc("/v1/webhooks/provider", a.handleProviderWebhook)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full http.Handler: authentication wraps the mux and
// metrics instrumentation wraps both.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "veriflow-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "veriflow-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
