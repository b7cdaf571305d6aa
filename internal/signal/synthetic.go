package signal

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"sentryfleet/internal/probe"
)

var envPlaceholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvPlaceholders replaces ${ENVVAR} tokens with the named
// environment variable's value, leaving unresolved tokens untouched so a
// missing secret fails loudly downstream rather than silently.
func expandEnvPlaceholders(value string) string {
	return envPlaceholderRe.ReplaceAllStringFunc(value, func(token string) string {
		name := envPlaceholderRe.FindStringSubmatch(token)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return token
	})
}

// RunSyntheticTransaction drives one scripted multi-step flow over a single
// browser tab. The first failing step fails the whole transaction; a
// browser-infra error aborts with BrowserInfraError set.
func RunSyntheticTransaction(ctx context.Context, browser *probe.Browser, tx probe.SyntheticTransaction) Result {
	timeout := time.Duration(tx.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	tabCtx, release, err := browser.NewTab(ctx)
	if err != nil {
		return Result{Kind: KindMeta, Subject: tx.Name, OK: false, Reason: "browser_degraded", Details: map[string]interface{}{"browser_infra_error": true}}
	}
	defer release()

	tabCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	for i, step := range tx.Steps {
		if err := runStep(tabCtx, step); err != nil {
			if probe.IsBrowserInfraError(err) {
				return Result{
					Kind: KindMeta, Subject: tx.Name, OK: false, Reason: "browser_degraded",
					Details: map[string]interface{}{"browser_infra_error": true, "step_index": i},
				}
			}
			return Result{
				Kind: KindMeta, Subject: tx.Name, OK: false,
				Reason:  fmt.Sprintf("step %d (%s) failed: %v", i, step.Type, err),
				Details: map[string]interface{}{"step_index": i},
			}
		}
	}

	return Result{Kind: KindMeta, Subject: tx.Name, OK: true}
}

func runStep(ctx context.Context, step probe.SyntheticTransactionStep) error {
	switch step.Type {
	case "goto":
		return chromedp.Run(ctx, chromedp.Navigate(step.Value))
	case "click":
		return chromedp.Run(ctx, chromedp.Click(step.Selector, chromedp.ByQuery))
	case "fill":
		return chromedp.Run(ctx, chromedp.SetValue(step.Selector, expandEnvPlaceholders(step.Value), chromedp.ByQuery))
	case "press":
		return chromedp.Run(ctx, chromedp.KeyEvent(step.Key))
	case "wait_for_selector":
		return chromedp.Run(ctx, chromedp.WaitVisible(step.Selector, chromedp.ByQuery))
	case "expect_url_contains":
		var url string
		if err := chromedp.Run(ctx, chromedp.Evaluate(`window.location.href`, &url)); err != nil {
			return err
		}
		if !strings.Contains(url, step.ExpectURLContains) {
			return fmt.Errorf("url %q does not contain %q", url, step.ExpectURLContains)
		}
		return nil
	case "expect_text":
		var body string
		if err := chromedp.Run(ctx, chromedp.Evaluate(`document.body.innerText`, &body)); err != nil {
			return err
		}
		if !strings.Contains(body, step.ExpectText) {
			return fmt.Errorf("body does not contain expected text %q", step.ExpectText)
		}
		return nil
	case "sleep_ms":
		ms := step.SleepMs
		if ms < 0 {
			ms = 0
		}
		if ms > 30000 {
			ms = 30000
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	default:
		return fmt.Errorf("unknown synthetic transaction step type %q", step.Type)
	}
}
