package runnerd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"sentryfleet/internal/logger"
	"sentryfleet/internal/probe"
	"sentryfleet/internal/registrystore"
	"sentryfleet/internal/stepflow"
)

// Config controls worker concurrency and artifact capture.
type Config struct {
	ArtifactsRoot     string
	Concurrency       int
	CaptureTraceOnFail bool
	PollInterval      time.Duration
}

// Worker polls the registry for due runs and executes them.
type Worker struct {
	Registry *RegistryClient
	Browser  *probe.Browser
	Cfg      Config

	backoff time.Duration
}

const maxBrowserBackoff = 120 * time.Second

// Run drives the claim loop until ctx is cancelled. It never claims while
// the shared browser is unhealthy, backing off exponentially (capped at
// 120s) between relaunch attempts.
func (w *Worker) Run(ctx context.Context) {
	log := logger.GetLogger(logger.WithComponent(ctx, "runnerd"))
	interval := w.Cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.Browser == nil {
			if err := w.relaunchBrowser(); err != nil {
				log.Warn("browser launch failed, backing off", zap.Error(err), zap.Duration("backoff", w.nextBackoff()))
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.backoff):
				}
				continue
			}
			w.backoff = 0
		}

		concurrency := w.Cfg.Concurrency
		if concurrency <= 0 {
			concurrency = 1
		}

		claimed, err := w.Registry.Claim(ctx, concurrency)
		if err != nil {
			log.Warn("claim failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
			continue
		}

		if len(claimed) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
			continue
		}

		for _, job := range claimed {
			w.executeJob(ctx, job)
		}
	}
}

func (w *Worker) relaunchBrowser() error {
	b, err := probe.NewBrowser(1)
	if err != nil {
		return err
	}
	w.Browser = b
	return nil
}

func (w *Worker) nextBackoff() time.Duration {
	if w.backoff <= 0 {
		w.backoff = 1 * time.Second
	} else {
		w.backoff *= 2
	}
	if w.backoff > maxBrowserBackoff {
		w.backoff = maxBrowserBackoff
	}
	return w.backoff
}

// executeJob runs one claimed test to completion (or hard-timeout) and
// reports the outcome. A child that exceeds timeout_seconds is terminated
// and reported infra_degraded/timeout rather than left running.
func (w *Worker) executeJob(ctx context.Context, job registrystore.ClaimedRun) {
	log := logger.GetLogger(logger.WithComponent(ctx, "runnerd"))

	timeout := time.Duration(job.Test.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	artifactDir := filepath.Join(w.Cfg.ArtifactsRoot, job.Test.TenantID, job.Test.ID, job.Run.ID)
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		log.Error("failed to prepare artifact dir", zap.Error(err))
	}

	start := time.Now()
	var outcome jobOutcome

	switch job.Test.TestKind {
	case registrystore.TestKindStepflow:
		outcome = w.runStepflow(runCtx, job, artifactDir)
	case registrystore.TestKindPlaywrightPython, registrystore.TestKindPuppeteerJS:
		outcome = w.runChildProcess(runCtx, job, artifactDir)
	default:
		outcome = jobOutcome{Status: registrystore.RunStatusInfraDegraded, ErrorKind: "unknown_test_kind"}
	}

	if runCtx.Err() != nil {
		outcome = jobOutcome{Status: registrystore.RunStatusInfraDegraded, ErrorKind: "timeout", ErrorMessage: "run exceeded timeout_seconds"}
	}

	// A shared-browser failure drops the browser so Run relaunches it (with
	// backoff) before claiming again.
	if job.Test.TestKind == registrystore.TestKindStepflow && outcome.ErrorKind == "browser_infra_error" && w.Browser != nil {
		w.Browser.Close()
		w.Browser = nil
	}

	elapsedMs := int(time.Since(start).Milliseconds())
	if !outcome.OK() {
		w.captureFailureArtifacts(ctx, artifactDir, outcome)
	}

	manifest, _ := json.Marshal(outcome.Artifacts)
	startedAt := start.Unix()
	finishedAt := time.Now().Unix()

	if err := w.Registry.Complete(ctx, job.Run.ID, CompleteRequest{
		RunID:         job.Run.ID,
		Status:        outcome.Status,
		ElapsedMs:     &elapsedMs,
		ErrorKind:     outcome.ErrorKind,
		ErrorMessage:  outcome.ErrorMessage,
		FinalURL:      outcome.FinalURL,
		Title:         outcome.Title,
		ArtifactsJSON: string(manifest),
		StartedAtTs:   &startedAt,
		FinishedAtTs:  &finishedAt,
	}); err != nil {
		log.Error("complete call failed", zap.String("run_id", job.Run.ID), zap.Error(err))
	}
}

// jobOutcome is the worker's internal execution result before translation
// into a registrystore.CompleteInput.
type jobOutcome struct {
	Status       registrystore.RunStatus
	ErrorKind    string
	ErrorMessage string
	FinalURL     string
	Title        string
	Artifacts    map[string]string
	screenshot   []byte
}

func (o jobOutcome) OK() bool { return o.Status == registrystore.RunStatusPass }

func (w *Worker) runStepflow(ctx context.Context, job registrystore.ClaimedRun, artifactDir string) jobOutcome {
	var def stepflow.Definition
	if err := json.Unmarshal([]byte(job.Test.DefinitionJSON), &def); err != nil {
		return jobOutcome{Status: registrystore.RunStatusInfraDegraded, ErrorKind: "invalid_definition", ErrorMessage: err.Error()}
	}

	tabCtx, release, err := w.Browser.NewTab(ctx)
	if err != nil {
		return jobOutcome{Status: registrystore.RunStatusInfraDegraded, ErrorKind: "browser_infra_error", ErrorMessage: err.Error()}
	}
	defer release()

	if err := chromedp.Run(tabCtx, chromedp.Navigate(job.Test.BaseURL)); err != nil {
		if probe.IsBrowserInfraError(err) {
			return jobOutcome{Status: registrystore.RunStatusInfraDegraded, ErrorKind: "browser_infra_error", ErrorMessage: err.Error()}
		}
		return jobOutcome{Status: registrystore.RunStatusFail, ErrorKind: "navigation_failed", ErrorMessage: err.Error()}
	}

	result := stepflow.Execute(ctx, tabCtx, def, os.Getenv)
	outcome := jobOutcome{FinalURL: result.FinalURL, Title: result.Title, Artifacts: map[string]string{}}
	if result.OK {
		outcome.Status = registrystore.RunStatusPass
		return outcome
	}

	outcome.Status = registrystore.RunStatusFail
	outcome.ErrorKind = result.ErrorKind
	outcome.ErrorMessage = result.Reason
	if buf, ok := result.Screenshots[result.FailedStep]; ok {
		outcome.screenshot = buf
	}
	return outcome
}

func (w *Worker) captureFailureArtifacts(ctx context.Context, artifactDir string, outcome jobOutcome) {
	log := logger.GetLogger(ctx)

	if len(outcome.screenshot) > 0 {
		if err := os.WriteFile(filepath.Join(artifactDir, "failure.png"), outcome.screenshot, 0o644); err != nil {
			log.Warn("failed to write failure screenshot", zap.Error(err))
		}
	}

	runLog, _ := json.MarshalIndent(map[string]interface{}{
		"status":        outcome.Status,
		"error_kind":    outcome.ErrorKind,
		"error_message": outcome.ErrorMessage,
	}, "", "  ")
	if err := os.WriteFile(filepath.Join(artifactDir, "run.log"), runLog, 0o644); err != nil {
		log.Warn("failed to write run.log", zap.Error(err))
	}

	if w.Cfg.CaptureTraceOnFail {
		// No chromedp-native trace recorder exists in this stack; capturing
		// a real trace.zip would need the CDP Tracing domain wired by hand.
		// Left as a placeholder file so the artifact manifest stays stable.
		_ = os.WriteFile(filepath.Join(artifactDir, "trace.zip"), []byte{}, 0o644)
	}
}
