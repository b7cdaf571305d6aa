// Package history stores the per-domain rolling sample series the monitor
// persists between cycles, and computes availability/percentile/burn-rate
// analytics over windows of it.
package history

import "sort"

// Sample is a single monitoring observation for one domain in one cycle.
// OK records the debounced *effective* state (history_ok_mode="effective"),
// not the raw probe observation.
type Sample struct {
	Ts              int64
	OK              bool
	HTTPElapsedMs   *float64
	BrowserElapsedMs *float64
	StatusCode      *int
}

// History maps domain name to its ordered sample series.
type History map[string][]Sample

// AppendSample inserts sample into history[domain], preserving ascending
// order by Ts. The common case (sample.Ts >= last sample's Ts) is O(1);
// out-of-order inserts fall back to a sorted insertion.
func AppendSample(h History, domain string, sample Sample) {
	series := h[domain]

	if len(series) == 0 || sample.Ts >= series[len(series)-1].Ts {
		h[domain] = append(series, sample)
		return
	}

	idx := sort.Search(len(series), func(i int) bool { return series[i].Ts > sample.Ts })
	series = append(series, Sample{})
	copy(series[idx+1:], series[idx:])
	series[idx] = sample
	h[domain] = series
}

// Prune drops samples older than beforeTs from every domain, removing the
// domain entry entirely once its series is empty.
func Prune(h History, beforeTs int64) {
	for domain, series := range h {
		idx := sort.Search(len(series), func(i int) bool { return series[i].Ts >= beforeTs })
		if idx == 0 {
			continue
		}
		if idx >= len(series) {
			delete(h, domain)
			continue
		}
		h[domain] = series[idx:]
	}
}

// Window returns the sub-slice of samples with Ts >= sinceTs, found via
// binary search on the (already sorted) series.
func Window(samples []Sample, sinceTs int64) []Sample {
	idx := sort.Search(len(samples), func(i int) bool { return samples[i].Ts >= sinceTs })
	return samples[idx:]
}

// Availability returns the total sample count, the count of OK samples,
// and the OK percentage (nil when the window is empty).
func Availability(window []Sample) (total, okCount int, okPct *float64) {
	total = len(window)
	for _, s := range window {
		if s.OK {
			okCount++
		}
	}
	if total == 0 {
		return total, okCount, nil
	}
	pct := float64(okCount) / float64(total) * 100.0
	return total, okCount, &pct
}

// Field selects which elapsed-time field Percentile operates on.
type Field int

const (
	FieldHTTPElapsedMs Field = iota
	FieldBrowserElapsedMs
)

// Percentile computes the nearest-rank percentile of the given field over
// window, ignoring samples where the field is nil. p<=0 returns the
// minimum, p>=100 returns the maximum. Returns nil if no values are present.
func Percentile(window []Sample, field Field, p float64) *float64 {
	values := make([]float64, 0, len(window))
	for _, s := range window {
		var v *float64
		switch field {
		case FieldHTTPElapsedMs:
			v = s.HTTPElapsedMs
		case FieldBrowserElapsedMs:
			v = s.BrowserElapsedMs
		}
		if v != nil {
			values = append(values, *v)
		}
	}
	if len(values) == 0 {
		return nil
	}

	sort.Float64s(values)

	if p <= 0 {
		return &values[0]
	}
	if p >= 100 {
		return &values[len(values)-1]
	}

	rank := int((p/100.0)*float64(len(values)) + 0.5)
	if rank < 1 {
		rank = 1
	}
	if rank > len(values) {
		rank = len(values)
	}
	result := values[rank-1]
	return &result
}

// BurnRate computes error_rate / (1 - slo_target) over window. Returns nil
// when the window is empty or the error budget is non-positive.
func BurnRate(window []Sample, sloTargetPct float64) *float64 {
	total, okCount, _ := Availability(window)
	if total == 0 {
		return nil
	}

	budget := 1.0 - sloTargetPct/100.0
	if budget <= 0 {
		return nil
	}

	errorRate := float64(total-okCount) / float64(total)
	rate := errorRate / budget
	return &rate
}
