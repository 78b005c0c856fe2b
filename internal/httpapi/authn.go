package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// expiryHeader surfaces a transparently refreshed expiry to the client.
	expiryHeader = "X-Session-Expires-At"
)

var protectedPrefixes = []string{
	"/v1/me",
	"/v1/sessions",
	"/v1/auth/logout",
	"/v1/auth/logout-all",
	"/v1/auth/change-password",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || !isProtectedPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tok, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		info, err := a.svc.ValidateSession(r.Context(), tok)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidSession) {
				writeError(w, r, http.StatusUnauthorized, "invalid session")
			} else {
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		// Advisory refresh close to expiry; a failure here must not fail
		// the request itself.
		if expiresAt, ok := a.svc.MaybeRefresh(r.Context(), tok, info); ok {
			info.ExpiresAt = expiresAt
			w.Header().Set(expiryHeader, expiresAt.UTC().Format(time.RFC3339))
		}

		ctx := auth.ContextWithSession(r.Context(), *info)
		ctx = auth.ContextWithToken(ctx, tok)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	tok := strings.TrimSpace(header[len(bearer):])
	if tok == "" {
		return "", errors.New("missing bearer token")
	}
	return tok, nil
}

func isProtectedPath(path string) bool {
	for _, prefix := range protectedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
