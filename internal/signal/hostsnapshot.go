package signal

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostThresholds configures the host-snapshot signal, with optional
// per-mount-point overrides for disk usage.
type HostThresholds struct {
	DiskUsedPctMax   float64
	MemUsedPctMax    float64
	SwapUsedPctMax   float64
	CPUUsedPctMax    float64
	PerMountOverride map[string]float64
}

// CPUTotals is the pair of /proc/stat-derived totals needed to compute a
// delta-based CPU percentage across two cycles.
type CPUTotals struct {
	Idle  float64
	Total float64
}

// HostSnapshot is one cycle's resource reading.
type HostSnapshot struct {
	DiskUsedPct map[string]float64
	MemUsedPct  float64
	SwapUsedPct float64
	CPUUsedPct  *float64 // nil on the first cycle (no prior totals)
	Load1       float64
	NumCPU      int
}

// ReadCPUTotals samples the current cumulative CPU totals via gopsutil's
// /proc/stat reader (idle vs. total jiffies, summed across all CPUs).
func ReadCPUTotals() (CPUTotals, error) {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return CPUTotals{}, fmt.Errorf("failed to read cpu times: %w", err)
	}
	t := times[0]
	idle := t.Idle + t.Iowait
	total := t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
	return CPUTotals{Idle: idle, Total: total}, nil
}

// CPUPercentFromDelta computes used-CPU percentage from two /proc/stat
// total snapshots. Returns nil when cur.Total <= prev.Total (no spurious
// deltas on clock skew, counter reset, or the very first cycle).
func CPUPercentFromDelta(prev, cur CPUTotals) *float64 {
	totalDelta := cur.Total - prev.Total
	if totalDelta <= 0 {
		return nil
	}
	idleDelta := cur.Idle - prev.Idle
	pct := (1.0 - idleDelta/totalDelta) * 100.0
	return &pct
}

// ReadHostSnapshot gathers the current disk/mem/swap/load reading and folds
// in a CPU percentage computed against prevCPU (nil on the first call).
func ReadHostSnapshot(mountPoints []string, prevCPU *CPUTotals) (HostSnapshot, CPUTotals, error) {
	snapshot := HostSnapshot{DiskUsedPct: map[string]float64{}}

	for _, mount := range mountPoints {
		usage, err := disk.Usage(mount)
		if err != nil {
			continue
		}
		snapshot.DiskUsedPct[mount] = usage.UsedPercent
	}

	vm, err := mem.VirtualMemory()
	if err == nil {
		snapshot.MemUsedPct = vm.UsedPercent
	}

	swap, err := mem.SwapMemory()
	if err == nil && swap.Total > 0 {
		snapshot.SwapUsedPct = swap.UsedPercent
	}

	loadAvg, err := load.Avg()
	if err == nil {
		snapshot.Load1 = loadAvg.Load1
	}

	counts, err := cpu.Counts(true)
	if err == nil {
		snapshot.NumCPU = counts
	}

	curCPU, err := ReadCPUTotals()
	if err != nil {
		return snapshot, CPUTotals{}, err
	}

	if prevCPU != nil {
		snapshot.CPUUsedPct = CPUPercentFromDelta(*prevCPU, curCPU)
	}

	return snapshot, curCPU, nil
}

// EvaluateHostSnapshot checks a HostSnapshot against thresholds and returns
// one Result per breached dimension (disk checked per mount point).
func EvaluateHostSnapshot(snapshot HostSnapshot, th HostThresholds) []Result {
	var results []Result

	for mount, usedPct := range snapshot.DiskUsedPct {
		max := th.DiskUsedPctMax
		if override, ok := th.PerMountOverride[mount]; ok {
			max = override
		}
		if max > 0 && usedPct > max {
			results = append(results, Result{
				Kind: KindHostHealth, Subject: mount, OK: false,
				Reason:  fmt.Sprintf("disk_used_pct %.1f exceeds max %.1f", usedPct, max),
				Details: map[string]interface{}{"used_pct": usedPct},
			})
		}
	}

	if th.MemUsedPctMax > 0 && snapshot.MemUsedPct > th.MemUsedPctMax {
		results = append(results, Result{
			Kind: KindHostHealth, Subject: "memory", OK: false,
			Reason: fmt.Sprintf("mem_used_pct %.1f exceeds max %.1f", snapshot.MemUsedPct, th.MemUsedPctMax),
		})
	}

	if th.SwapUsedPctMax > 0 && snapshot.SwapUsedPct > th.SwapUsedPctMax {
		results = append(results, Result{
			Kind: KindHostHealth, Subject: "swap", OK: false,
			Reason: fmt.Sprintf("swap_used_pct %.1f exceeds max %.1f", snapshot.SwapUsedPct, th.SwapUsedPctMax),
		})
	}

	if th.CPUUsedPctMax > 0 && snapshot.CPUUsedPct != nil && *snapshot.CPUUsedPct > th.CPUUsedPctMax {
		results = append(results, Result{
			Kind: KindHostHealth, Subject: "cpu", OK: false,
			Reason: fmt.Sprintf("cpu_used_pct %.1f exceeds max %.1f", *snapshot.CPUUsedPct, th.CPUUsedPctMax),
		})
	}

	return results
}
