package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(v float64) *float64 { return &v }

func TestAppendSampleOrderedAndOutOfOrder(t *testing.T) {
	h := History{}

	AppendSample(h, "a.example.com", Sample{Ts: 10, OK: true})
	AppendSample(h, "a.example.com", Sample{Ts: 20, OK: true})
	AppendSample(h, "a.example.com", Sample{Ts: 15, OK: false}) // out of order

	series := h["a.example.com"]
	require.Len(t, series, 3)
	assert.Equal(t, []int64{10, 15, 20}, []int64{series[0].Ts, series[1].Ts, series[2].Ts})
	assert.False(t, series[1].OK)
}

func TestAppendSamplePermutationInvariantForWindow(t *testing.T) {
	perm1 := History{}
	perm2 := History{}

	samples := []Sample{{Ts: 5}, {Ts: 1}, {Ts: 3}, {Ts: 4}, {Ts: 2}}
	for _, s := range samples {
		AppendSample(perm1, "d", s)
	}
	// insert in reverse order
	for i := len(samples) - 1; i >= 0; i-- {
		AppendSample(perm2, "d", samples[i])
	}

	w1 := Window(perm1["d"], 3)
	w2 := Window(perm2["d"], 3)
	require.Equal(t, len(w1), len(w2))
	for i := range w1 {
		assert.Equal(t, w1[i].Ts, w2[i].Ts)
	}
}

func TestPruneDropsOldSamplesAndEmptyDomains(t *testing.T) {
	h := History{
		"stale.example.com": {{Ts: 1}, {Ts: 2}},
		"mixed.example.com": {{Ts: 1}, {Ts: 100}},
	}

	Prune(h, 50)

	_, hasStale := h["stale.example.com"]
	assert.False(t, hasStale)

	require.Contains(t, h, "mixed.example.com")
	assert.Len(t, h["mixed.example.com"], 1)
	assert.Equal(t, int64(100), h["mixed.example.com"][0].Ts)
}

func TestHistoryPruningRetentionScenario(t *testing.T) {
	// retention of 1 day, samples spanning 48 hours
	const day = int64(86400)
	h := History{}
	now := int64(200000)
	for i := int64(0); i < 48; i++ {
		AppendSample(h, "a.example.com", Sample{Ts: now - i*3600})
	}
	AppendSample(h, "b.example.com", Sample{Ts: now - 47*3600}) // all old

	Prune(h, now-day)

	for _, s := range h["a.example.com"] {
		assert.GreaterOrEqual(t, s.Ts, now-day)
	}
	_, hasB := h["b.example.com"]
	assert.False(t, hasB)
}

func TestAvailability(t *testing.T) {
	window := []Sample{{OK: true}, {OK: true}, {OK: false}, {OK: true}}
	total, okCount, pct := Availability(window)
	assert.Equal(t, 4, total)
	assert.Equal(t, 3, okCount)
	require.NotNil(t, pct)
	assert.InDelta(t, 75.0, *pct, 0.001)

	total, _, pct = Availability(nil)
	assert.Equal(t, 0, total)
	assert.Nil(t, pct)
}

func TestPercentileBoundsAndNullHandling(t *testing.T) {
	window := []Sample{
		{HTTPElapsedMs: ms(100)},
		{HTTPElapsedMs: nil},
		{HTTPElapsedMs: ms(300)},
		{HTTPElapsedMs: ms(200)},
	}

	min := Percentile(window, FieldHTTPElapsedMs, 0)
	require.NotNil(t, min)
	assert.Equal(t, 100.0, *min)

	max := Percentile(window, FieldHTTPElapsedMs, 100)
	require.NotNil(t, max)
	assert.Equal(t, 300.0, *max)

	p50 := Percentile(window, FieldHTTPElapsedMs, 50)
	require.NotNil(t, p50)

	empty := Percentile([]Sample{{HTTPElapsedMs: nil}}, FieldHTTPElapsedMs, 50)
	assert.Nil(t, empty)
}

func TestBurnRate(t *testing.T) {
	window := make([]Sample, 20)
	for i := range window {
		window[i] = Sample{OK: i%4 != 0} // 25% error rate
	}

	rate := BurnRate(window, 99.9)
	require.NotNil(t, rate)
	assert.Greater(t, *rate, 0.0)

	assert.Nil(t, BurnRate(nil, 99.9))
	assert.Nil(t, BurnRate(window, 100)) // budget <= 0
}

func TestSLOBurnTriggersScenario(t *testing.T) {
	// 20 samples over 20 minutes at 25% error rate, SLO 99.9%,
	// rule short=5 long=10 burn thresholds 1.0 both
	h := History{}
	now := int64(20 * 60)
	for i := int64(0); i < 20; i++ {
		ok := i%4 != 0 // 25% errors
		AppendSample(h, "a.example.com", Sample{Ts: i * 60, OK: ok})
	}

	rule := BurnRateRule{
		Name: "fast-burn", ShortWindowMin: 5, LongWindowMin: 10,
		ShortBurnRateThr: 1.0, LongBurnRateThr: 1.0,
	}

	violations := SLOViolations(h, now, 99.9, []BurnRateRule{rule})
	require.Len(t, violations, 1)
	assert.Equal(t, "a.example.com", violations[0].Domain)
	assert.Equal(t, "fast-burn", violations[0].Rule)
}

func TestREDViolationsReasonsAndMinSamples(t *testing.T) {
	h := History{}
	now := int64(600)
	for i := int64(0); i < 10; i++ {
		ok := i != 0 // 1 of 10 fails: 10% errors, above the 5% cap
		AppendSample(h, "a.example.com", Sample{Ts: now - i*10, OK: ok, HTTPElapsedMs: ms(2000)})
	}

	cfg := REDConfig{WindowMinutes: 5, MinSamples: 5, ErrorRateMaxPct: 5.0, HTTPP95MsMax: 1500}
	violations := REDViolations(h, now, cfg)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Reasons, "http_p95>1500ms")

	// below MinSamples: no violation emitted regardless of breach
	h2 := History{"b.example.com": {{Ts: now, OK: false}}}
	assert.Empty(t, REDViolations(h2, now, cfg))
}
