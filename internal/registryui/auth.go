package registryui

import (
	"context"
	"net/http"
	"time"

	"sentryfleet/internal/registrystore"
)

const (
	tenantCookieName  = "e2e_token_hash"
	monitorCookieName = "e2e_monitor_hash"
)

type ctxKey string

const tenantIDKey ctxKey = "registryui_tenant_id"

func setSessionCookie(w http.ResponseWriter, name, hash string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    hash,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(30 * 24 * time.Hour),
	})
}

func clearSessionCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// requireTenantSession resolves the e2e_token_hash cookie against the api
// keys table and stashes the tenant id in the request context, redirecting
// to the login page when absent or invalid.
func (s *Server) requireTenantSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(tenantCookieName)
		if err != nil || cookie.Value == "" {
			http.Redirect(w, r, "/ui/login", http.StatusSeeOther)
			return
		}
		key, err := s.Store.GetAPIKeyByHash(r.Context(), cookie.Value)
		if err != nil {
			clearSessionCookie(w, tenantCookieName)
			http.Redirect(w, r, "/ui/login", http.StatusSeeOther)
			return
		}
		ctx := context.WithValue(r.Context(), tenantIDKey, key.TenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(tenantIDKey).(string)
	return id
}

// requireMonitorSession gates the fleet-wide dashboard behind a session
// cookie derived from the fixed monitor token, independent of tenant login.
func (s *Server) requireMonitorSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(monitorCookieName)
		if err != nil || cookie.Value != registrystore.HashToken(s.MonitorToken) {
			http.Redirect(w, r, "/ui/monitor/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}
