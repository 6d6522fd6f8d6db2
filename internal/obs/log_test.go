package obs

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestHTTPLineEmitsJSONEntry(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	HTTPLine("GET", "/v1/verification/session", "req-7", 200, 42*time.Millisecond)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "http" || entry["method"] != "GET" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["path"] != "/v1/verification/session" {
		t.Fatalf("path = %v", entry["path"])
	}
	if entry["status"] != float64(200) {
		t.Fatalf("status = %v", entry["status"])
	}
	if entry["duration_ms"] != float64(42) {
		t.Fatalf("duration_ms = %v", entry["duration_ms"])
	}
	if entry["request_id"] != "req-7" {
		t.Fatalf("request_id = %v", entry["request_id"])
	}
}

func TestHTTPLineOmitsEmptyRequestID(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	HTTPLine("POST", "/v1/webhooks/provider", "", 200, time.Millisecond)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if _, ok := entry["request_id"]; ok {
		t.Fatalf("request_id should be absent: %v", entry)
	}
}
