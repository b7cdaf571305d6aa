package registryui

import (
	"net/http"

	"sentryfleet/internal/registrystore"
)

type loginView struct {
	Heading    string
	FieldLabel string
	Action     string
	Error      string
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	render(w, "login", loginView{
		Heading:    "sentryfleet",
		FieldLabel: "API key",
		Action:     "/ui/login",
	})
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	token := r.FormValue("token")
	key, err := s.Store.VerifyAPIKey(r.Context(), token)
	if err != nil {
		render(w, "login", loginView{
			Heading: "sentryfleet", FieldLabel: "API key", Action: "/ui/login",
			Error: "invalid or revoked API key",
		})
		return
	}
	setSessionCookie(w, tenantCookieName, key.TokenHash)
	http.Redirect(w, r, "/ui/tests", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w, tenantCookieName)
	http.Redirect(w, r, "/ui/login", http.StatusSeeOther)
}

func (s *Server) handleMonitorLoginForm(w http.ResponseWriter, r *http.Request) {
	render(w, "login", loginView{
		Heading:    "sentryfleet fleet dashboard",
		FieldLabel: "monitor token",
		Action:     "/ui/monitor/login",
	})
}

func (s *Server) handleMonitorLoginSubmit(w http.ResponseWriter, r *http.Request) {
	token := r.FormValue("token")
	if token == "" || token != s.MonitorToken {
		render(w, "login", loginView{
			Heading: "sentryfleet fleet dashboard", FieldLabel: "monitor token", Action: "/ui/monitor/login",
			Error: "invalid monitor token",
		})
		return
	}
	setSessionCookie(w, monitorCookieName, registrystore.HashToken(token))
	http.Redirect(w, r, "/ui/monitor", http.StatusSeeOther)
}
