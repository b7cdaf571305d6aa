package registryui

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sentryfleet/internal/registrystore"
)

type testRow struct {
	Test  registrystore.Test
	State registrystore.TestState
}

func (s *Server) handleTestsList(w http.ResponseWriter, r *http.Request) {
	tests, err := s.Store.ListTests(r.Context(), tenantIDFrom(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rows := make([]testRow, 0, len(tests))
	for _, t := range tests {
		state, _ := s.Store.GetTestState(r.Context(), t.ID)
		rows = append(rows, testRow{Test: t, State: state})
	}
	render(w, "tests", struct{ Tests []testRow }{Tests: rows})
}

func (s *Server) testForTenant(r *http.Request, id string) (registrystore.Test, error) {
	return s.Store.GetTest(r.Context(), id, tenantIDFrom(r))
}

func (s *Server) handleTestDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	test, err := s.testForTenant(r, id)
	if err != nil {
		http.Error(w, "test not found", http.StatusNotFound)
		return
	}
	state, _ := s.Store.GetTestState(r.Context(), test.ID)
	runs, err := s.Store.ListRuns(r.Context(), test.ID, 25)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	render(w, "test_detail", struct {
		Test registrystore.Test
		State registrystore.TestState
		Runs []registrystore.Run
	}{Test: test, State: state, Runs: runs})
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tenantID := tenantIDFrom(r)
	if err := s.Store.RunNow(r.Context(), id, tenantID, time.Now().Unix()); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Redirect(w, r, "/ui/tests/"+id, http.StatusSeeOther)
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		tenantID := tenantIDFrom(r)
		reason := ""
		if !enabled {
			reason = "disabled from the operator console"
		}
		if err := s.Store.SetEnabled(r.Context(), id, tenantID, enabled, reason, nil); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Redirect(w, r, "/ui/tests/"+id, http.StatusSeeOther)
	}
}
