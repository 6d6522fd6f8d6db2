package httpapi

import (
	"net/http"
	"testing"
)

func TestProtectedPathsRequireToken(t *testing.T) {
	h := newHarness(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/verification/session"},
		{http.MethodPost, "/v1/verification/session/token"},
		{http.MethodGet, "/v1/verification/capture"},
		{http.MethodGet, "/v1/verification/capture/chk-1"},
		{http.MethodGet, "/v1/verification/stream"},
	}
	for _, p := range paths {
		resp, _ := h.do(p.method, p.path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", p.method, p.path, resp.StatusCode)
		}
	}
}

func TestPublicPathsSkipAuth(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info", "/metrics", "/openapi.yaml"} {
		resp, _ := h.do(http.MethodGet, path, "", nil)
		if resp.StatusCode == http.StatusUnauthorized {
			t.Errorf("GET %s: unexpected 401", path)
		}
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(http.MethodGet, "/v1/verification/session", "not-a-jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestWrongAuthSchemeRejected(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/v1/verification/session", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer   abc  ", "abc", true},
		{"", "", false},
		{"Bearer ", "", false},
		{"Token abc", "", false},
	}
	for _, c := range cases {
		got, err := extractBearerToken(c.header)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("extractBearerToken(%q) = %q, %v", c.header, got, err)
		}
		if !c.ok && err == nil {
			t.Errorf("extractBearerToken(%q): expected error", c.header)
		}
	}
}
