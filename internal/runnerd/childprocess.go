package runnerd

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"sentryfleet/internal/registrystore"
)

const e2eResultPrefix = "E2E_RESULT_JSON="

// e2eResult is the shape every playwright_python/puppeteer_js child must
// print on a single stdout line prefixed with E2E_RESULT_JSON=.
type e2eResult struct {
	Status            string            `json:"status"`
	ElapsedMs         int               `json:"elapsed_ms"`
	ErrorKind         string            `json:"error_kind"`
	ErrorMessage      string            `json:"error_message"`
	FinalURL          string            `json:"final_url"`
	Title             string            `json:"title"`
	Artifacts         map[string]string `json:"artifacts"`
	BrowserInfraError bool              `json:"browser_infra_error"`
}

func (w *Worker) runChildProcess(ctx context.Context, job registrystore.ClaimedRun, artifactDir string) jobOutcome {
	sourcePath := filepath.Join(w.Cfg.ArtifactsRoot, job.Test.TenantID, job.Test.ID, "source")
	if _, err := os.Stat(sourcePath); err != nil {
		return jobOutcome{Status: registrystore.RunStatusInfraDegraded, ErrorKind: "source_missing", ErrorMessage: err.Error()}
	}

	var cmd *exec.Cmd
	switch job.Test.TestKind {
	case registrystore.TestKindPlaywrightPython:
		cmd = exec.CommandContext(ctx, "python3", sourcePath)
	case registrystore.TestKindPuppeteerJS:
		cmd = exec.CommandContext(ctx, "node", sourcePath)
	default:
		return jobOutcome{Status: registrystore.RunStatusInfraDegraded, ErrorKind: "unknown_test_kind"}
	}

	cmd.Env = append(os.Environ(),
		"E2E_BASE_URL="+job.Test.BaseURL,
		"E2E_ARTIFACTS_DIR="+artifactDir,
	)
	cmd.Dir = artifactDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return jobOutcome{Status: registrystore.RunStatusInfraDegraded, ErrorKind: "spawn_failed", ErrorMessage: err.Error()}
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return jobOutcome{Status: registrystore.RunStatusInfraDegraded, ErrorKind: "spawn_failed", ErrorMessage: err.Error()}
	}

	var result e2eResult
	found := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, e2eResultPrefix) {
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, e2eResultPrefix)), &result); err == nil {
				found = true
			}
		}
	}

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		_ = cmd.Process.Kill()
		return jobOutcome{Status: registrystore.RunStatusInfraDegraded, ErrorKind: "timeout", ErrorMessage: "child process exceeded timeout_seconds"}
	}

	if !found {
		msg := "child process did not emit E2E_RESULT_JSON="
		if waitErr != nil {
			msg = waitErr.Error()
		}
		return jobOutcome{Status: registrystore.RunStatusInfraDegraded, ErrorKind: "no_result_line", ErrorMessage: msg}
	}

	if result.BrowserInfraError {
		return jobOutcome{Status: registrystore.RunStatusInfraDegraded, ErrorKind: "browser_infra_error", ErrorMessage: result.ErrorMessage}
	}

	status := registrystore.RunStatusFail
	if result.Status == "pass" {
		status = registrystore.RunStatusPass
	}

	return jobOutcome{
		Status:       status,
		ErrorKind:    result.ErrorKind,
		ErrorMessage: result.ErrorMessage,
		FinalURL:     result.FinalURL,
		Title:        result.Title,
		Artifacts:    result.Artifacts,
	}
}
