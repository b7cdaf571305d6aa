package monitord

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryfleet/internal/monitorcfg"
	"sentryfleet/internal/probe"
	"sentryfleet/internal/signal"
)

func fakeCfg() *monitorcfg.Config {
	return &monitorcfg.Config{
		RED: monitorcfg.RedConfig{WindowMinutes: 15, MinSamples: 1000},
		SLO: monitorcfg.SLOConfig{TargetPercent: 99.9},
	}
}

func TestApplyOutcomeAlertsOnDownTransition(t *testing.T) {
	s := &Scheduler{Thresholds: Thresholds{DownAfterFailures: 2, UpAfterSuccesses: 2}}
	state := NewMonitorState()

	o := domainOutcome{domain: "example.com", outcome: probe.Outcome{OK: false, Reason: "status_code=503"}}

	s.applyOutcome(context.Background(), state, o, 100)
	s.applyOutcome(context.Background(), state, o, 160)

	st := state.DomainDebounce["example.com"]
	require.NotNil(t, st)
	assert.False(t, st.EffectiveOK)
	assert.Equal(t, 2, st.FailStreak)

	series := state.History["example.com"]
	require.Len(t, series, 2)
	assert.False(t, series[0].OK)
	assert.False(t, series[1].OK)
}

func TestApplyOutcomeBrowserInfraErrorDoesNotCountAgainstDebounce(t *testing.T) {
	s := &Scheduler{Thresholds: Thresholds{DownAfterFailures: 1, UpAfterSuccesses: 1}}
	state := NewMonitorState()

	o := domainOutcome{domain: "example.com", outcome: probe.Outcome{OK: true, BrowserInfraError: true}}
	s.applyOutcome(context.Background(), state, o, 100)

	st := state.DomainDebounce["example.com"]
	require.NotNil(t, st)
	assert.True(t, st.EffectiveOK)

	browserSignal := state.Signals[string(signal.KindBrowser)]
	require.NotNil(t, browserSignal)
	assert.Equal(t, 1, browserSignal.FailStreak)
}

func TestFoldSignalTracksStreaksBySubject(t *testing.T) {
	s := &Scheduler{}
	state := NewMonitorState()

	s.foldSignal(state, signal.Result{Kind: signal.KindTLS, Subject: "a.example.com", OK: false, Reason: "expires_soon"}, 1)
	s.foldSignal(state, signal.Result{Kind: signal.KindTLS, Subject: "a.example.com", OK: false, Reason: "expires_soon"}, 2)
	s.foldSignal(state, signal.Result{Kind: signal.KindTLS, Subject: "b.example.com", OK: true}, 2)

	a := state.Signals["tls:a.example.com"]
	require.NotNil(t, a)
	assert.Equal(t, 2, a.FailStreak)
	assert.False(t, a.LastOK)

	b := state.Signals["tls:b.example.com"]
	require.NotNil(t, b)
	assert.Equal(t, 1, b.SuccessStreak)
	assert.True(t, b.LastOK)
}

func TestCheckProxySignalUsesCapturedHeaders(t *testing.T) {
	s := &Scheduler{}
	state := NewMonitorState()
	proxy := &probe.ProxyExpectation{
		HeaderName:       "x-aipc-upstream",
		PrimaryUpstreams: []string{"app-1"},
		AlertOnMissing:   true,
	}

	s.checkProxySignal(state, "app.example.com", proxy, map[string]string{"x-aipc-upstream": "app-1"}, 1000)

	proxySignal := state.Signals["proxy:app.example.com"]
	require.NotNil(t, proxySignal)
	assert.True(t, proxySignal.LastOK)
}

func TestCheckProxySignalMissingHeaderAlertsWhenConfigured(t *testing.T) {
	s := &Scheduler{}
	state := NewMonitorState()
	proxy := &probe.ProxyExpectation{
		HeaderName:       "x-aipc-upstream",
		PrimaryUpstreams: []string{"app-1"},
		AlertOnMissing:   true,
	}

	s.checkProxySignal(state, "app.example.com", proxy, nil, 1000)

	proxySignal := state.Signals["proxy:app.example.com"]
	require.NotNil(t, proxySignal)
	assert.False(t, proxySignal.LastOK)
}

func TestCheckProxySignalNilProxyIsNoop(t *testing.T) {
	s := &Scheduler{}
	state := NewMonitorState()

	s.checkProxySignal(state, "app.example.com", nil, map[string]string{"x-aipc-upstream": "app-1"}, 1000)

	assert.Nil(t, state.Signals["proxy:app.example.com"])
}

func TestEvaluateRedAndSLOMarksCleanDomainsOK(t *testing.T) {
	s := &Scheduler{}
	state := NewMonitorState()
	state.History["clean.example.com"] = nil

	s.evaluateRedAndSLO(state, fakeCfg(), 1000)

	red := state.Signals["red:clean.example.com"]
	require.NotNil(t, red)
	assert.True(t, red.LastOK)
}
