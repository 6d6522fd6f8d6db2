package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                     "/",
		"/metrics":                             "/metrics",
		"/v1/verification/session":             "/v1/verification/session",
		"/v1/verification/capture":             "/v1/verification/capture",
		"/v1/verification/capture/chk_1":       "/v1/verification/capture/:id",
		"/v1/verification/capture/chk_1/check": "/v1/verification/capture/:id/check",
		"/v1/verification/capture/a/b/c":       "/v1/verification/capture/a/b/c",
		"/v1/verification/stream?x=1":          "/v1/verification/stream",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
