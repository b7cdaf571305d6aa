package telemetry

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	RecordProbeOutcome("example.com", "http_browser", "ok")
	RecordAlert("down")
	RecordRunnerClaim("stepflow")
	RecordRunnerCompletion("pass")
	RecordDispatch("test-1")
	ObserveCycleDuration(250 * time.Millisecond)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "sentryfleet_monitor_probe_outcomes_total")
	assert.Contains(t, body, "sentryfleet_monitor_alerts_total")
	assert.Contains(t, body, "sentryfleet_runner_claims_total")
	assert.Contains(t, body, "sentryfleet_runner_completions_total")
	assert.Contains(t, body, "sentryfleet_registry_dispatches_total")
	assert.Contains(t, body, "sentryfleet_monitor_cycle_duration_seconds")
}
