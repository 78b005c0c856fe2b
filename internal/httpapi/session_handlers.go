package httpapi

import (
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/ids"
)

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	info, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid session")
		return
	}
	if err := a.svc.RevokeSession(r.Context(), info.SessionID, info.UserID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
		"session_id": info.SessionID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	info, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid session")
		return
	}
	revoked, err := a.svc.RevokeAllSessions(r.Context(), info.UserID, info.SessionID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout_all", map[string]any{
		"revoked": revoked,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "logged out everywhere",
		"revoked": revoked,
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	info, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid session")
		return
	}
	sessions, err := a.svc.ListSessions(r.Context(), info.UserID, info.SessionID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleSessionScoped routes /v1/sessions/{refresh|rotate|<id>}.
func (a *API) handleSessionScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"), "/")
	if rest == "" || strings.Contains(rest, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch rest {
	case "refresh":
		a.handleSessionRefresh(w, r)
	case "rotate":
		a.handleSessionRotate(w, r)
	default:
		a.handleSessionDelete(w, r, rest)
	}
}

func (a *API) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	tok, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid session")
		return
	}
	expiresAt, err := a.svc.RefreshSession(r.Context(), tok)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

func (a *API) handleSessionRotate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	tok, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid session")
		return
	}
	creds, err := a.svc.RotateSession(r.Context(), tok)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.session.rotated", map[string]any{
		"session_id": creds.SessionID,
	})
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     creds.Token,
		SessionID: creds.SessionID,
		UserID:    creds.UserID,
		ExpiresAt: creds.ExpiresAt,
	})
}

func (a *API) handleSessionDelete(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !ids.Valid(sessionID) {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	info, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid session")
		return
	}
	if err := a.svc.RevokeSession(r.Context(), sessionID, info.UserID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.session.revoked", map[string]any{
		"session_id": sessionID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
