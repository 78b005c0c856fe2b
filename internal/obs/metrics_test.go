package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/auth/login":                 "/v1/auth/login",
		"/v1/sessions":                   "/v1/sessions",
		"/v1/sessions/01J7ZX4YKQ":        "/v1/sessions/:id",
		"/v1/sessions/abc/extra":         "/v1/sessions/abc/extra",
		"/v1/sessions/01J7ZX4YKQ?x=1":    "/v1/sessions/:id",
		"/v1/auth/reset-password?tok=aa": "/v1/auth/reset-password",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
