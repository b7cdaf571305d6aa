package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUPercentFromDeltaNormal(t *testing.T) {
	prev := CPUTotals{Idle: 900, Total: 1000}
	cur := CPUTotals{Idle: 950, Total: 1100}

	pct := CPUPercentFromDelta(prev, cur)
	require.NotNil(t, pct)
	// idleDelta=50, totalDelta=100 -> used = 1 - 0.5 = 0.5 -> 50%
	assert.InDelta(t, 50.0, *pct, 0.001)
}

func TestCPUPercentFromDeltaNullWhenTotalNotIncreasing(t *testing.T) {
	// cur_total <= prev_total must return nil, no spurious deltas.
	same := CPUTotals{Idle: 100, Total: 500}
	assert.Nil(t, CPUPercentFromDelta(same, same))

	regressed := CPUTotals{Idle: 50, Total: 400}
	assert.Nil(t, CPUPercentFromDelta(same, regressed))
}

func TestEvaluateHostSnapshotThresholds(t *testing.T) {
	snapshot := HostSnapshot{
		DiskUsedPct: map[string]float64{"/": 95.0, "/data": 50.0},
		MemUsedPct:  90.0,
		SwapUsedPct: 10.0,
	}
	cpuPct := 80.0
	snapshot.CPUUsedPct = &cpuPct

	th := HostThresholds{
		DiskUsedPctMax:   90.0,
		MemUsedPctMax:    85.0,
		SwapUsedPctMax:   50.0,
		CPUUsedPctMax:    70.0,
		PerMountOverride: map[string]float64{"/data": 40.0},
	}

	results := EvaluateHostSnapshot(snapshot, th)

	var subjects []string
	for _, r := range results {
		subjects = append(subjects, r.Subject)
	}
	assert.Contains(t, subjects, "/")
	assert.Contains(t, subjects, "/data") // overridden to 40, 50 > 40
	assert.Contains(t, subjects, "memory")
	assert.Contains(t, subjects, "cpu")
	assert.NotContains(t, subjects, "swap") // 10 < 50
}

func TestEvaluateHostSnapshotNilCPUSkipsCheck(t *testing.T) {
	snapshot := HostSnapshot{DiskUsedPct: map[string]float64{}}
	th := HostThresholds{CPUUsedPctMax: 10.0}
	results := EvaluateHostSnapshot(snapshot, th)
	assert.Empty(t, results)
}
