package history

import (
	"fmt"
	"sort"
)

// REDConfig configures the RED (rate/errors/duration) violation check.
type REDConfig struct {
	WindowMinutes     int
	MinSamples        int
	ErrorRateMaxPct   float64
	HTTPP95MsMax      float64
	BrowserP95MsMax   float64
}

// REDViolation is one domain's RED-window breach in a cycle.
type REDViolation struct {
	Domain  string
	Reasons []string
}

// REDViolations evaluates cfg against the trailing window of each domain's
// history, emitting one violation per domain whose window meets MinSamples
// and breaches at least one cap.
func REDViolations(h History, nowTs int64, cfg REDConfig) []REDViolation {
	sinceTs := nowTs - int64(cfg.WindowMinutes)*60

	domains := sortedDomains(h)
	var violations []REDViolation

	for _, domain := range domains {
		window := Window(h[domain], sinceTs)
		if len(window) < cfg.MinSamples {
			continue
		}

		var reasons []string

		total, okCount, _ := Availability(window)
		if total > 0 {
			errPct := float64(total-okCount) / float64(total) * 100.0
			if errPct > cfg.ErrorRateMaxPct {
				reasons = append(reasons, fmt.Sprintf("errors>%.2f%%", cfg.ErrorRateMaxPct))
			}
		}

		if cfg.HTTPP95MsMax > 0 {
			if p95 := Percentile(window, FieldHTTPElapsedMs, 95); p95 != nil && *p95 > cfg.HTTPP95MsMax {
				reasons = append(reasons, fmt.Sprintf("http_p95>%.0fms", cfg.HTTPP95MsMax))
			}
		}

		if cfg.BrowserP95MsMax > 0 {
			if p95 := Percentile(window, FieldBrowserElapsedMs, 95); p95 != nil && *p95 > cfg.BrowserP95MsMax {
				reasons = append(reasons, fmt.Sprintf("browser_p95>%.0fms", cfg.BrowserP95MsMax))
			}
		}

		if len(reasons) > 0 {
			violations = append(violations, REDViolation{Domain: domain, Reasons: reasons})
		}
	}

	return violations
}

// BurnRateRule is one SLO burn-rate alert rule applied across a short and
// long window.
type BurnRateRule struct {
	Name             string  `yaml:"name"`
	ShortWindowMin   int     `yaml:"short_window_min"`
	LongWindowMin    int     `yaml:"long_window_min"`
	ShortBurnRateThr float64 `yaml:"short_burn_rate_threshold"`
	LongBurnRateThr  float64 `yaml:"long_burn_rate_threshold"`
	MinSamplesShort  int     `yaml:"min_samples_short"`
	MinSamplesLong   int     `yaml:"min_samples_long"`
}

// SLOViolation identifies a rule breach for a domain.
type SLOViolation struct {
	Domain string
	Rule   string
}

// SLOViolations evaluates every rule against every domain's history and
// emits a violation only when both the short and long window burn rates
// exceed their thresholds and meet their minimum sample counts. Results are
// sorted by (domain, rule).
func SLOViolations(h History, nowTs int64, sloTargetPct float64, rules []BurnRateRule) []SLOViolation {
	var violations []SLOViolation

	for _, domain := range sortedDomains(h) {
		series := h[domain]
		for _, rule := range rules {
			shortWindow := Window(series, nowTs-int64(rule.ShortWindowMin)*60)
			longWindow := Window(series, nowTs-int64(rule.LongWindowMin)*60)

			if len(shortWindow) < rule.MinSamplesShort || len(longWindow) < rule.MinSamplesLong {
				continue
			}

			shortBurn := BurnRate(shortWindow, sloTargetPct)
			longBurn := BurnRate(longWindow, sloTargetPct)
			if shortBurn == nil || longBurn == nil {
				continue
			}

			if *shortBurn > rule.ShortBurnRateThr && *longBurn > rule.LongBurnRateThr {
				violations = append(violations, SLOViolation{Domain: domain, Rule: rule.Name})
			}
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Domain != violations[j].Domain {
			return violations[i].Domain < violations[j].Domain
		}
		return violations[i].Rule < violations[j].Rule
	})

	return violations
}

func sortedDomains(h History) []string {
	domains := make([]string, 0, len(h))
	for d := range h {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}
