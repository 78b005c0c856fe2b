package httpapi

import "testing"

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"plain", "Bearer abc123", "abc123", true},
		{"lowercase scheme", "bearer abc123", "abc123", true},
		{"padded", "  Bearer abc123  ", "abc123", true},
		{"empty", "", "", false},
		{"missing token", "Bearer ", "", false},
		{"wrong scheme", "Basic abc123", "", false},
		{"no scheme", "abc123", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractBearerToken(tc.header)
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got != tc.want {
					t.Fatalf("got %q, want %q", got, tc.want)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error, got token %q", got)
			}
		})
	}
}

func TestIsProtectedPath(t *testing.T) {
	protected := []string{
		"/v1/me",
		"/v1/sessions",
		"/v1/sessions/refresh",
		"/v1/sessions/abc123",
		"/v1/auth/logout",
		"/v1/auth/logout-all",
		"/v1/auth/change-password",
	}
	for _, p := range protected {
		if !isProtectedPath(p) {
			t.Fatalf("%s should be protected", p)
		}
	}
	open := []string{
		"/healthz",
		"/v1/info",
		"/v1/auth/login",
		"/v1/auth/register",
		"/v1/auth/forgot-password",
		"/v1/auth/reset-password",
		"/v1/sessionsx",
	}
	for _, p := range open {
		if isProtectedPath(p) {
			t.Fatalf("%s should not be protected", p)
		}
	}
}
