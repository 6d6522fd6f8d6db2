// smoke-verify drives a deployed veriflow-api through the whole flow:
// session bootstrap, identity upsert, capture submission and status polling.
// It needs a provider sandbox behind the API to pass.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

type sessionResponse struct {
	SessionRef string `json:"session_ref"`
	Token      string `json:"token"`
}

type check struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Processed bool   `json:"processed"`
	Outcome   string `json:"outcome"`
}

type checksResponse struct {
	Items []check `json:"items"`
}

func main() {
	base := os.Getenv("VERIFLOW_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var sess sessionResponse
	if err := call(ctx, http.MethodPost, base+"/v1/auth/session", "", nil, &sess); err != nil {
		log.Fatalf("bootstrap session: %v", err)
	}

	identity := map[string]any{
		"email": fmt.Sprintf("smoke-%d@example.com", time.Now().Unix()),
		"person": map[string]any{
			"first_name":    "Smoke",
			"last_name":     "Test",
			"date_of_birth": "1990-01-01",
			"nationality":   "GB",
		},
	}
	if err := call(ctx, http.MethodPut, base+"/v1/verification/session", sess.Token, identity, nil); err != nil {
		log.Fatalf("upsert identity: %v", err)
	}

	capture := map[string]any{
		"document_id":   os.Getenv("VERIFLOW_SMOKE_DOCUMENT_ID"),
		"live_photo_id": os.Getenv("VERIFLOW_SMOKE_LIVE_PHOTO_ID"),
		"document_type": "passport",
	}
	var created checksResponse
	if err := call(ctx, http.MethodPost, base+"/v1/verification/capture", sess.Token, capture, &created); err != nil {
		log.Fatalf("initiate capture: %v", err)
	}
	if len(created.Items) != 2 {
		log.Fatalf("expected 2 checks, got %d", len(created.Items))
	}

	// Poll each check until the provider completes it.
	for _, c := range created.Items {
		deadline := time.Now().Add(90 * time.Second)
		for {
			var polled check
			if err := call(ctx, http.MethodPut, base+"/v1/verification/capture/"+c.ID+"/check", sess.Token, nil, &polled); err != nil {
				log.Fatalf("poll %s: %v", c.ID, err)
			}
			if polled.Processed {
				fmt.Printf("check %s (%s): %s\n", polled.ID, polled.Kind, polled.Outcome)
				break
			}
			if time.Now().After(deadline) {
				log.Fatalf("check %s still unprocessed after 90s", c.ID)
			}
			time.Sleep(3 * time.Second)
		}
	}

	fmt.Printf("✅ verification smoke test passed: session=%s\n", sess.SessionRef)
}

func call(ctx context.Context, method, url, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: %d: %s", method, url, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
