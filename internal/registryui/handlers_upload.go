package registryui

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"sentryfleet/internal/registryapi"
	"sentryfleet/internal/registrystore"
	"sentryfleet/internal/stepflow"
)

const maxUploadBytes = 5 << 20 // 5MiB; the REST upload endpoint defaults to 10MiB

var allowedUploadKinds = map[registrystore.TestKind]bool{
	registrystore.TestKindPlaywrightPython: true,
	registrystore.TestKindPuppeteerJS:      true,
}

func (s *Server) handleUploadForm(w http.ResponseWriter, r *http.Request) {
	render(w, "upload", struct{ Error string }{})
}

func (s *Server) handleUploadSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.renderUploadError(w, "upload exceeds the maximum allowed size")
		return
	}

	tenantID := tenantIDFrom(r)
	name := r.FormValue("name")
	baseURL := r.FormValue("base_url")
	kind := registrystore.TestKind(r.FormValue("test_kind"))
	if name == "" || baseURL == "" {
		s.renderUploadError(w, "name and base_url are required")
		return
	}
	if err := registryapi.ValidateBaseURL(baseURL, "", nil); err != nil {
		s.renderUploadError(w, "base_url rejected: "+err.Error())
		return
	}

	interval, _ := strconv.Atoi(r.FormValue("interval_seconds"))
	testID := s.NewID()

	test := registrystore.Test{
		ID:              testID,
		TenantID:        tenantID,
		Name:            name,
		BaseURL:         baseURL,
		TestKind:        kind,
		IntervalSeconds: interval,
		Enabled:         true,
		CreatedAt:       time.Now().Unix(),
	}

	switch {
	case kind == registrystore.TestKindStepflow:
		var def stepflow.Definition
		if err := json.Unmarshal([]byte(r.FormValue("definition_json")), &def); err != nil {
			s.renderUploadError(w, "step-flow definition must be valid JSON")
			return
		}
		if err := stepflow.Validate(def); err != nil {
			s.renderUploadError(w, "invalid step-flow definition: "+err.Error())
			return
		}
		defJSON, _ := json.Marshal(def)
		test.DefinitionJSON = string(defJSON)

	case allowedUploadKinds[kind]:
		file, _, err := r.FormFile("script")
		if err != nil {
			s.renderUploadError(w, "a script file is required for this test kind")
			return
		}
		defer file.Close()

		contents, err := io.ReadAll(file)
		if err != nil {
			s.renderUploadError(w, "failed to read uploaded script")
			return
		}
		sum := sha256.Sum256(contents)
		test.SourceSHA256 = hex.EncodeToString(sum[:])
		test.SourceRelpath = tenantID + "/" + testID + "/source"
		if err := s.writeArtifact(tenantID, testID, "source", contents); err != nil {
			s.renderUploadError(w, "failed to store uploaded script")
			return
		}

	default:
		s.renderUploadError(w, "unknown test_kind")
		return
	}

	test = applyUIDefaults(test)
	if _, err := s.Store.CreateTest(r.Context(), test); err != nil {
		s.renderUploadError(w, "failed to save test: "+err.Error())
		return
	}
	http.Redirect(w, r, "/ui/tests/"+testID, http.StatusSeeOther)
}

func (s *Server) renderUploadError(w http.ResponseWriter, msg string) {
	render(w, "upload", struct{ Error string }{Error: msg})
}

func (s *Server) writeArtifact(tenantID, testID, name string, contents []byte) error {
	dir := filepath.Join(s.ArtifactsDir, tenantID, testID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), contents, 0o644)
}

func applyUIDefaults(t registrystore.Test) registrystore.Test {
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
