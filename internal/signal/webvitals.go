package signal

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"

	"sentryfleet/internal/probe"
)

// WebVitals is the set of metrics read back from the page context after
// the configured post-load wait.
type WebVitals struct {
	LCPMs float64
	CLS   float64
	INPMs float64
}

// observerScript installs PerformanceObservers for LCP, CLS, and an INP
// approximation (max Event Timing duration with interactionId > 0) and
// stashes the running totals on window for later retrieval.
const observerScript = `
(function() {
  window.__vitals = { lcp: 0, cls: 0, inp: 0 };
  try {
    new PerformanceObserver((list) => {
      const entries = list.getEntries();
      const last = entries[entries.length - 1];
      if (last) window.__vitals.lcp = last.startTime;
    }).observe({ type: 'largest-contentful-paint', buffered: true });
  } catch (e) {}
  try {
    new PerformanceObserver((list) => {
      for (const entry of list.getEntries()) {
        if (!entry.hadRecentInput) window.__vitals.cls += entry.value;
      }
    }).observe({ type: 'layout-shift', buffered: true });
  } catch (e) {}
  try {
    new PerformanceObserver((list) => {
      for (const entry of list.getEntries()) {
        if (entry.interactionId > 0 && entry.duration > window.__vitals.inp) {
          window.__vitals.inp = entry.duration;
        }
      }
    }).observe({ type: 'event', buffered: true, durationThreshold: 16 });
  } catch (e) {}
})();
`

const readVitalsScript = `window.__vitals`

// MeasureWebVitals loads url with wait_until=load, installs the vitals
// observers, waits postLoadWait, then reads the accumulated metrics.
func MeasureWebVitals(ctx context.Context, browser *probe.Browser, url string, postLoadWait time.Duration) (WebVitals, Result) {
	tabCtx, release, err := browser.NewTab(ctx)
	if err != nil {
		return WebVitals{}, Result{Kind: KindMeta, Subject: url, OK: false, Reason: "browser_degraded", Details: map[string]interface{}{"browser_infra_error": true}}
	}
	defer release()

	var raw map[string]float64
	runErr := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.Evaluate(observerScript, nil),
		chromedp.Sleep(postLoadWait),
		chromedp.Evaluate(readVitalsScript, &raw),
	)
	if runErr != nil {
		if probe.IsBrowserInfraError(runErr) {
			return WebVitals{}, Result{Kind: KindMeta, Subject: url, OK: false, Reason: "browser_degraded", Details: map[string]interface{}{"browser_infra_error": true}}
		}
		return WebVitals{}, Result{Kind: KindMeta, Subject: url, OK: false, Reason: runErr.Error()}
	}

	vitals := WebVitals{LCPMs: raw["lcp"], CLS: raw["cls"], INPMs: raw["inp"]}
	return vitals, Result{Kind: KindMeta, Subject: url, OK: true, Details: map[string]interface{}{
		"lcp_ms": vitals.LCPMs, "cls": vitals.CLS, "inp_ms": vitals.INPMs,
	}}
}
