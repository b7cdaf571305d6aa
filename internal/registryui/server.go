// Package registryui is the registry's server-rendered operator console:
// tenant login, a tests table, test detail with run history, a synthetic
// test upload form, a run-detail page with a live log-tail websocket, and a
// monitor-token-gated fleet dashboard. It reads and writes through the same
// registrystore.Store the REST API (registryapi) uses, as a second front
// end over the same data, not a client of the API itself.
package registryui

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sentryfleet/internal/registrystore"
)

// Server holds every dependency the UI handlers need.
type Server struct {
	Store         *registrystore.Store
	MonitorToken  string
	ArtifactsDir  string
	NewID         func() string
	LogPollPeriod time.Duration // defaults to 500ms when zero
}

func (s *Server) logPollPeriod() time.Duration {
	if s.LogPollPeriod <= 0 {
		return 500 * time.Millisecond
	}
	return s.LogPollPeriod
}

// NewRouter builds the registryui chi router, meant to be mounted under
// /ui on the same process as registryapi.NewRouter (or standalone).
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ui/login", s.handleLoginForm)
	r.Post("/ui/login", s.handleLoginSubmit)
	r.Post("/ui/logout", s.handleLogout)

	r.Group(func(auth chi.Router) {
		auth.Use(s.requireTenantSession)
		auth.Get("/ui/tests", s.handleTestsList)
		auth.Get("/ui/tests/upload", s.handleUploadForm)
		auth.Post("/ui/tests/upload", s.handleUploadSubmit)
		auth.Get("/ui/tests/{id}", s.handleTestDetail)
		auth.Post("/ui/tests/{id}/run", s.handleRunNow)
		auth.Post("/ui/tests/{id}/enable", s.handleSetEnabled(true))
		auth.Post("/ui/tests/{id}/disable", s.handleSetEnabled(false))
		auth.Get("/ui/runs/{id}", s.handleRunDetail)
		auth.Get("/ui/runs/{id}/logs", s.handleRunLogTail)
	})

	r.Get("/ui/monitor/login", s.handleMonitorLoginForm)
	r.Post("/ui/monitor/login", s.handleMonitorLoginSubmit)
	r.With(s.requireMonitorSession).Get("/ui/monitor", s.handleMonitorDashboard)

	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/tests", http.StatusSeeOther)
	})

	return r
}

func render(w http.ResponseWriter, name string, data interface{}) {
	tmpl, ok := pages[name]
	if !ok {
		http.Error(w, "template not found: "+name, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if name == "login" || name == "monitor" {
		_ = tmpl.ExecuteTemplate(w, name, data)
		return
	}
	_ = tmpl.ExecuteTemplate(w, "layout", data)
}
