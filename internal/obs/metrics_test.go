package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                 "/",
		"/metrics":                         "/metrics",
		"/v1/auth/callback":                "/v1/auth/callback",
		"/v1/auth/callback?code=abc&state": "/v1/auth/callback",
		"/v1/me":                           "/v1/me",
		"/v1/auth/username?username=bob":   "/v1/auth/username",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
