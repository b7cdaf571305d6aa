package registryui

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"sentryfleet/internal/registrystore"
)

// runForTenant loads a run and verifies it belongs to a test owned by
// tenantID, so a tenant can't browse to another tenant's run by id.
func (s *Server) runForTenant(r *http.Request, runID string) (registrystore.Run, registrystore.Test, error) {
	run, err := s.Store.GetRun(r.Context(), runID)
	if err != nil {
		return registrystore.Run{}, registrystore.Test{}, err
	}
	test, err := s.Store.GetTest(r.Context(), run.TestID, tenantIDFrom(r))
	if err != nil {
		return registrystore.Run{}, registrystore.Test{}, registrystore.ErrNotFound
	}
	return run, test, nil
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, test, err := s.runForTenant(r, id)
	if err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	render(w, "run_detail", struct {
		Run  registrystore.Run
		Test registrystore.Test
	}{Run: run, Test: test})
}
