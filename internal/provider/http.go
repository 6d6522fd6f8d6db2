package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// HTTPClient implements Client against the provider's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient overrides the underlying http.Client (tests, custom
// transports).
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) {
		if c != nil {
			h.http = c
		}
	}
}

// WithTimeout sets the per-call timeout. A provider call that never returns
// must only ever stall its own request, so the zero value falls back to a
// conservative default rather than no timeout.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTPClient) {
		if d > 0 {
			h.http.Timeout = d
		}
	}
}

// NewHTTPClient creates a REST client for the given provider account.
func NewHTTPClient(baseURL, apiKey string, opts ...Option) *HTTPClient {
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type clientResponse struct {
	ID string `json:"id"`
}

type checkResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result *struct {
		Outcome   string          `json:"outcome"`
		Breakdown json.RawMessage `json:"breakdown"`
	} `json:"result"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (h *HTTPClient) CreateClient(ctx context.Context, req ClientRequest) (string, error) {
	var resp clientResponse
	if err := h.do(ctx, http.MethodPost, "/clients", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (h *HTTPClient) UpdateClient(ctx context.Context, externalID string, req ClientRequest) error {
	return h.do(ctx, http.MethodPost, "/clients/"+url.PathEscape(externalID), req, nil)
}

func (h *HTTPClient) CreateCheck(ctx context.Context, clientExternalID string, req CheckRequest) (string, error) {
	body := struct {
		ClientID string `json:"clientId"`
		CheckRequest
	}{ClientID: clientExternalID, CheckRequest: req}
	var resp checkResponse
	if err := h.do(ctx, http.MethodPost, "/checks", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (h *HTTPClient) GetCheck(ctx context.Context, providerCheckID string) (CheckResult, error) {
	var resp checkResponse
	if err := h.do(ctx, http.MethodGet, "/checks/"+url.PathEscape(providerCheckID), nil, &resp); err != nil {
		return CheckResult{}, err
	}
	result := CheckResult{Complete: resp.Status == "complete"}
	if result.Complete && resp.Result != nil {
		result.Outcome = resp.Result.Outcome
		result.Breakdown = resp.Result.Breakdown
	}
	return result, nil
}

func (h *HTTPClient) GenerateToken(ctx context.Context, clientExternalID, referrer string) (string, error) {
	body := map[string]string{
		"clientId": clientExternalID,
		"referrer": referrer,
	}
	var resp tokenResponse
	if err := h.do(ctx, http.MethodPost, "/tokens", body, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (h *HTTPClient) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var resp struct {
		Items []Webhook `json:"items"`
	}
	if err := h.do(ctx, http.MethodGet, "/webhooks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (h *HTTPClient) EnsureWebhook(ctx context.Context, endpoint string, events []string) (Webhook, error) {
	hooks, err := h.ListWebhooks(ctx)
	if err != nil {
		return Webhook{}, err
	}
	for _, hook := range hooks {
		if hook.URL != endpoint {
			continue
		}
		if hook.Enabled {
			return hook, nil
		}
		update := map[string]bool{"enabled": true}
		if err := h.do(ctx, http.MethodPost, "/webhooks/"+url.PathEscape(hook.ID), update, nil); err != nil {
			return Webhook{}, err
		}
		hook.Enabled = true
		return hook, nil
	}

	body := Webhook{URL: endpoint, Enabled: true, Events: events}
	var created Webhook
	if err := h.do(ctx, http.MethodPost, "/webhooks", body, &created); err != nil {
		return Webhook{}, err
	}
	return created, nil
}

func (h *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", h.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(data))
}

var _ Client = (*HTTPClient)(nil)
