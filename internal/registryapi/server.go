package registryapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"sentryfleet/internal/alertsink"
	"sentryfleet/internal/dispatcher"
	"sentryfleet/internal/regcache"
	"sentryfleet/internal/registrystore"
	"sentryfleet/internal/telemetry"
)

// Server holds every dependency the registry's HTTP handlers need.
type Server struct {
	Store          *registrystore.Store
	Tokens         Tokens
	ArtifactsDir   string
	PublicBaseURL  string
	AllowedHosts   []string // explicit base_url allowlist for strict mode; the monitor's domain set is not consulted
	Dispatcher     *dispatcher.Client
	Telegram       *alertsink.TelegramSender
	Cache          *regcache.Cache
	MaxUploadBytes int64
	NewID          func() string
}

// NewRouter builds the full chi router for the registry per spec §4.6.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/admin", func(admin chi.Router) {
			admin.Use(requireFixedToken(s.Tokens.AdminToken))
			admin.Use(httprate.LimitByIP(30, time.Minute))
			admin.Post("/tenants", s.handleCreateTenant)
			admin.Post("/api_keys", s.handleCreateAPIKey)
		})

		api.Route("/tests", func(tests chi.Router) {
			tests.Use(s.requireTenantToken)
			tests.Use(httprate.LimitByIP(120, time.Minute))
			tests.Post("/", s.handleCreateTest)
			tests.Post("/upload", s.handleUploadTest)
			tests.Patch("/{id}", s.handlePatchTest)
			tests.Post("/{id}/disable", s.handleDisableTest)
			tests.Post("/{id}/enable", s.handleEnableTest)
			tests.Post("/{id}/run", s.handleRunNow)
			tests.Get("/{id}/runs", s.handleListRuns)
		})

		api.Route("/runs", func(runs chi.Router) {
			runs.Use(s.requireTenantToken)
			runs.Get("/{id}", s.handleGetRun)
			runs.Get("/{id}/artifacts/{name}", s.handleGetArtifact)
		})

		api.With(s.requireAnyStatusScope).Get("/status/summary", s.handleStatusSummary)

		api.Route("/runner", func(runner chi.Router) {
			runner.Use(requireFixedToken(s.Tokens.RunnerToken))
			runner.Post("/claim", s.handleClaim)
			runner.Post("/runs/{id}/complete", s.handleComplete)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
