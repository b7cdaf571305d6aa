package registryapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"sentryfleet/internal/registrystore"
	"sentryfleet/internal/stepflow"
)

const defaultMaxUploadBytes = 10 << 20 // 10 MiB

func (s *Server) maxUploadBytes() int64 {
	if s.MaxUploadBytes > 0 {
		return s.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

type createTestRequest struct {
	Name              string                 `json:"name"`
	BaseURL           string                 `json:"base_url"`
	Definition        stepflow.Definition    `json:"definition"`
	IntervalSeconds   int                    `json:"interval_seconds"`
	TimeoutSeconds    int                    `json:"timeout_seconds"`
	JitterSeconds     int                    `json:"jitter_seconds"`
	DownAfterFailures int                    `json:"down_after_failures"`
	UpAfterSuccesses  int                    `json:"up_after_successes"`
	NotifyOnRecovery  bool                   `json:"notify_on_recovery"`
	DispatchOnFailure bool                   `json:"dispatch_on_failure"`
}

func (s *Server) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var req createTestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if req.Name == "" || req.BaseURL == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name and base_url are required")
		return
	}
	if err := stepflow.Validate(req.Definition); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_definition", err.Error())
		return
	}
	if err := ValidateBaseURL(req.BaseURL, s.PublicBaseURL, s.AllowedHosts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "base_url rejected by policy")
		return
	}

	definitionJSON, err := json.Marshal(req.Definition)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	test := applyTestDefaults(registrystore.Test{
		ID:                s.NewID(),
		TenantID:          tenantIDFrom(r),
		Name:              req.Name,
		BaseURL:           req.BaseURL,
		TestKind:          registrystore.TestKindStepflow,
		DefinitionJSON:    string(definitionJSON),
		IntervalSeconds:   req.IntervalSeconds,
		TimeoutSeconds:    req.TimeoutSeconds,
		JitterSeconds:     req.JitterSeconds,
		DownAfterFailures: req.DownAfterFailures,
		UpAfterSuccesses:  req.UpAfterSuccesses,
		NotifyOnRecovery:  req.NotifyOnRecovery,
		DispatchOnFailure: req.DispatchOnFailure,
		Enabled:           true,
		CreatedAt:         time.Now().Unix(),
	})

	created, err := s.Store.CreateTest(r.Context(), test)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func applyTestDefaults(t registrystore.Test) registrystore.Test {
	if t.IntervalSeconds <= 0 {
		t.IntervalSeconds = 300
	}
	if t.TimeoutSeconds <= 0 {
		t.TimeoutSeconds = 60
	}
	if t.DownAfterFailures <= 0 {
		t.DownAfterFailures = 3
	}
	if t.UpAfterSuccesses <= 0 {
		t.UpAfterSuccesses = 2
	}
	return t
}

var allowedUploadKinds = map[registrystore.TestKind]bool{
	registrystore.TestKindPlaywrightPython: true,
	registrystore.TestKindPuppeteerJS:      true,
}

func (s *Server) handleUploadTest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	if err := r.ParseMultipartForm(s.maxUploadBytes()); err != nil {
		writeError(w, http.StatusBadRequest, "upload_too_large", "upload exceeds the maximum allowed size")
		return
	}

	name := r.FormValue("name")
	baseURL := r.FormValue("base_url")
	kind := registrystore.TestKind(r.FormValue("test_kind"))
	if name == "" || baseURL == "" || !allowedUploadKinds[kind] {
		writeError(w, http.StatusBadRequest, "bad_request", "name, base_url, and a valid test_kind are required")
		return
	}
	if err := ValidateBaseURL(baseURL, s.PublicBaseURL, s.AllowedHosts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "base_url rejected by policy")
		return
	}

	file, _, err := r.FormFile("source")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "source file is required")
		return
	}
	defer file.Close()

	contents, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read uploaded source")
		return
	}

	sum := sha256.Sum256(contents)
	sha := hex.EncodeToString(sum[:])
	testID := s.NewID()
	relpath := tenantIDFrom(r) + "/" + testID + "/source"

	if err := s.writeArtifact(tenantIDFrom(r), testID, "source", contents); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	interval, _ := strconv.Atoi(r.FormValue("interval_seconds"))
	timeout, _ := strconv.Atoi(r.FormValue("timeout_seconds"))

	test := applyTestDefaults(registrystore.Test{
		ID:              testID,
		TenantID:        tenantIDFrom(r),
		Name:            name,
		BaseURL:         baseURL,
		TestKind:        kind,
		SourceRelpath:   relpath,
		SourceSHA256:    sha,
		IntervalSeconds: interval,
		TimeoutSeconds:  timeout,
		Enabled:         true,
		CreatedAt:       time.Now().Unix(),
	})

	created, err := s.Store.CreateTest(r.Context(), test)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type patchTestRequest struct {
	Name       *string              `json:"name"`
	BaseURL    *string              `json:"base_url"`
	Definition *stepflow.Definition `json:"definition"`
}

func (s *Server) handlePatchTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tenantID := tenantIDFrom(r)

	existing, err := s.Store.GetTest(r.Context(), id, tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "test not found")
		return
	}

	var req patchTestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}

	if req.BaseURL != nil {
		if err := ValidateBaseURL(*req.BaseURL, s.PublicBaseURL, s.AllowedHosts); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "base_url rejected by policy")
			return
		}
		existing.BaseURL = *req.BaseURL
	}
	if req.Name != nil {
		existing.Name = *req.Name
	}
	if req.Definition != nil {
		if err := stepflow.Validate(*req.Definition); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_definition", err.Error())
			return
		}
		definitionJSON, _ := json.Marshal(*req.Definition)
		existing.DefinitionJSON = string(definitionJSON)
	}

	if err := s.Store.UpdateTest(r.Context(), existing); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "test not found")
		return
	}

	writeJSON(w, http.StatusOK, existing)
}

type disableTestRequest struct {
	Reason string `json:"reason"`
	Until  *int64 `json:"until"`
}

func (s *Server) handleDisableTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req disableTestRequest
	_ = decodeJSON(r, &req)

	if err := s.Store.SetEnabled(r.Context(), id, tenantIDFrom(r), req.Until != nil && *req.Until > time.Now().Unix(), req.Reason, req.Until); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "test not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEnableTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Store.SetEnabled(r.Context(), id, tenantIDFrom(r), true, "", nil); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "test not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Store.RunNow(r.Context(), id, tenantIDFrom(r), time.Now().Unix()); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "test not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Store.GetTest(r.Context(), id, tenantIDFrom(r)); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "test not found")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	runs, err := s.Store.ListRuns(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
