package registryapi

import (
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"sentryfleet/internal/registrystore"
)

// runForTenant loads a run and verifies it belongs to a test owned by
// tenantID, returning ErrNotFound otherwise so a tenant can't probe for the
// existence of another tenant's runs.
func (s *Server) runForTenant(r *http.Request, runID, tenantID string) (registrystore.Run, error) {
	run, err := s.Store.GetRun(r.Context(), runID)
	if err != nil {
		return registrystore.Run{}, err
	}
	if _, err := s.Store.GetTest(r.Context(), run.TestID, tenantID); err != nil {
		return registrystore.Run{}, registrystore.ErrNotFound
	}
	return run, nil
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.runForTenant(r, id, tenantIDFrom(r))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleGetArtifact serves one file from a run's artifact subtree. The
// resolved path is required to stay inside
// {artifacts_dir}/{tenant}/{test}/{run}/ — any traversal attempt is a 400.
func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	tenantID := tenantIDFrom(r)

	run, err := s.runForTenant(r, id, tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}

	runDir := filepath.Join(s.ArtifactsDir, tenantID, run.TestID, run.ID)
	cleanRunDir, err := filepath.Abs(runDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	path := filepath.Join(cleanRunDir, name)
	cleanPath, err := filepath.Abs(path)
	if err != nil || !strings.HasPrefix(cleanPath, cleanRunDir+string(filepath.Separator)) {
		writeError(w, http.StatusBadRequest, "path_traversal_rejected", "artifact name escapes the run subtree")
		return
	}

	f, err := os.Open(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "not_found", "artifact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	defer f.Close()

	http.ServeContent(w, r, name, time.Time{}, f)
}

// writeArtifact saves a tenant/test-scoped artifact to disk, creating the
// run subtree directories as needed.
func (s *Server) writeArtifact(tenantID, testID, name string, contents []byte) error {
	dir := filepath.Join(s.ArtifactsDir, tenantID, testID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), contents, 0o644)
}

func (s *Server) handleStatusSummary(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantIDFrom(r) // empty for admin/monitor scope

	var cached []registrystore.StatusSummaryRow
	if s.Cache.GetStatusSummary(r.Context(), tenantID, &cached) {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	rows, err := s.Store.StatusSummary(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.Cache.SetStatusSummary(r.Context(), tenantID, rows)
	writeJSON(w, http.StatusOK, rows)
}
