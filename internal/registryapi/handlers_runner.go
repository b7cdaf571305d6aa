package registryapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sentryfleet/internal/alertsink"
	"sentryfleet/internal/dispatcher"
	"sentryfleet/internal/registrystore"
	"sentryfleet/internal/telemetry"
)

const defaultRunnerLockTimeoutSec = 300

type claimRequest struct {
	MaxRuns int `json:"max_runs"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil || req.MaxRuns <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "max_runs must be positive")
		return
	}

	claimed, err := s.Store.Claim(r.Context(), req.MaxRuns, defaultRunnerLockTimeoutSec, time.Now().Unix(), s.NewID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	for _, c := range claimed {
		telemetry.RecordRunnerClaim(string(c.Test.TestKind))
		s.Cache.IncrRunnerHeartbeat(r.Context(), c.Run.ID)
	}
	writeJSON(w, http.StatusOK, claimed)
}

type completeRequest struct {
	Status        registrystore.RunStatus `json:"status"`
	ElapsedMs     *int                    `json:"elapsed_ms"`
	ErrorKind     string                  `json:"error_kind"`
	ErrorMessage  string                  `json:"error_message"`
	FinalURL      string                  `json:"final_url"`
	Title         string                  `json:"title"`
	ArtifactsJSON string                  `json:"artifacts_json"`
	StartedAtTs   *int64                  `json:"started_at_ts"`
	FinishedAtTs  *int64                  `json:"finished_at_ts"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}

	outcome, err := s.Store.Complete(r.Context(), registrystore.CompleteInput{
		RunID:         id,
		Status:        req.Status,
		ElapsedMs:     req.ElapsedMs,
		ErrorKind:     req.ErrorKind,
		ErrorMessage:  req.ErrorMessage,
		FinalURL:      req.FinalURL,
		Title:         req.Title,
		ArtifactsJSON: req.ArtifactsJSON,
		StartedAtTs:   req.StartedAtTs,
		FinishedAtTs:  req.FinishedAtTs,
	}, time.Now().Unix())
	if err != nil {
		writeError(w, http.StatusOK, "no_op", "run not found, treated as a benign no-op")
		return
	}
	telemetry.RecordRunnerCompletion(string(req.Status))

	go s.postCompleteNotify(context.Background(), outcome, req.ErrorMessage)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// postCompleteNotify runs outside the completing transaction: it sends a
// Telegram alert on a confirmed-down or recovered-up edge and, when the
// test is dispatch_on_failure, submits an escalation job and appends the
// agent's final message as a follow-up alert.
func (s *Server) postCompleteNotify(ctx context.Context, outcome registrystore.CompleteOutcome, errorMessage string) {
	stateKey := "registry:" + outcome.Test.ID

	if outcome.AlertedDown {
		s.sendTestAlert(ctx, alertsink.AlertEvent{
			Domain: outcome.Test.Name, Signal: "test", Reason: errorMessage,
			FailStreak: int64(outcome.State.FailStreak), LastOKTs: outcome.State.LastOKTs,
		})
	}
	if outcome.RecoveredUp && outcome.Test.NotifyOnRecovery {
		s.sendTestAlert(ctx, alertsink.AlertEvent{
			Domain: outcome.Test.Name, Signal: "test", Recovered: true,
			SuccessStreak: int64(outcome.State.SuccessStreak), LastOKTs: outcome.State.LastOKTs,
		})
	}

	if outcome.AlertedDown && outcome.Test.DispatchOnFailure && s.Dispatcher != nil {
		telemetry.RecordDispatch(outcome.Test.ID)
		s.escalateTest(ctx, outcome.Test, stateKey, errorMessage)
	}
}

func (s *Server) sendTestAlert(ctx context.Context, ev alertsink.AlertEvent) {
	if s.Telegram == nil {
		return
	}
	_ = s.Telegram.SendAlert(ctx, ev)
}

func (s *Server) escalateTest(ctx context.Context, test registrystore.Test, stateKey, errorMessage string) {
	bundle, _, err := s.Dispatcher.Dispatch(ctx, dispatcher.DispatchRequest{
		Prompt:   fmt.Sprintf("Investigate why test %q (%s) is failing: %s", test.Name, test.BaseURL, errorMessage),
		StateKey: stateKey,
	})
	if err != nil {
		return
	}

	status, err := s.Dispatcher.WaitForTerminalStatus(ctx, bundle)
	if err != nil {
		return
	}

	logTail, _ := s.Dispatcher.GetLogTail(ctx, bundle, 8192)
	agentMsg := dispatcher.ExtractLastAgentMessage(logTail)
	dispatchErrMsg := dispatcher.ExtractLastErrorMessage(logTail)

	_ = s.Store.RecordDispatchRun(ctx, registrystore.DispatchRun{
		ID: s.NewID(), Ts: time.Now().Unix(), StateKey: stateKey, Bundle: bundle,
		QueueState: status.QueueState, AgentMessage: agentMsg, ErrorMessage: dispatchErrMsg,
	})

	if agentMsg != "" {
		s.sendTestAlert(ctx, alertsink.AlertEvent{Domain: test.Name, Signal: "dispatch", Reason: agentMsg})
	}
}
