package probe

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Browser wraps a single shared headless Chromium allocator. New checks
// create a new browser tab (context) off the shared allocator so the
// process pays Chromium's startup cost once.
type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserCancel context.CancelFunc

	mu   sync.Mutex
	sem  chan struct{}
}

// NewBrowser launches the shared Chromium instance. concurrency bounds how
// many tabs may run browser operations simultaneously (shared semaphore).
func NewBrowser(concurrency int) (*Browser, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)

	if lowSharedMemory() {
		opts = append(opts, chromedp.Flag("disable-dev-shm-usage", true))
	}

	if path := os.Getenv("CHROMIUM_PATH"); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		allocCancel()
		return nil, fmt.Errorf("browser_infra_error: failed to launch chromium: %w", err)
	}

	return &Browser{
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		sem:           make(chan struct{}, concurrency),
	}, nil
}

// lowSharedMemory reports whether /dev/shm is smaller than 512 MiB, in which
// case chromium needs --disable-dev-shm-usage to avoid crashing. A /dev/shm
// that cannot be inspected counts as large enough.
func lowSharedMemory() bool {
	var st syscall.Statfs_t
	if err := syscall.Statfs("/dev/shm", &st); err != nil {
		return false
	}
	return uint64(st.Blocks)*uint64(st.Bsize) < 512<<20
}

// Close releases the shared browser and its allocator.
func (b *Browser) Close() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
}

// NewTab acquires a concurrency slot and returns a fresh tab context plus a
// release func the caller must defer-call.
func (b *Browser) NewTab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	release := func() {
		tabCancel()
		<-b.sem
	}
	return tabCtx, release, nil
}

// blockedResourceTypes are route-filtered out of every browser check.
var blockedResourceTypes = map[network.ResourceType]bool{
	network.ResourceTypeImage: true,
	network.ResourceTypeMedia: true,
	network.ResourceTypeFont:  true,
}

// BrowserCheck performs the headless-browser probe layer for one domain,
// under the shared Browser's concurrency semaphore.
func BrowserCheck(ctx context.Context, browser *Browser, spec DomainSpec) Outcome {
	timeout := time.Duration(spec.BrowserTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	tabCtx, release, err := browser.NewTab(ctx)
	if err != nil {
		return Outcome{OK: false, ErrorKind: "browser_infra_error", Reason: "browser_degraded", BrowserInfraError: true}
	}
	defer release()

	tabCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	start := time.Now()

	var title string
	var bodyText string
	var finalURL string

	err = chromedp.Run(tabCtx,
		chromedp.EmulateViewport(1280, 720),
		chromedp.Navigate(spec.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.Evaluate(`document.body.innerText`, &bodyText),
		chromedp.Evaluate(`window.location.href`, &finalURL),
	)
	elapsed := float64(time.Since(start).Milliseconds())

	if err != nil {
		if IsBrowserInfraError(err) {
			return Outcome{
				OK: false, ErrorKind: "browser_infra_error", Reason: "browser_degraded",
				BrowserInfraError: true, BrowserElapsedMs: &elapsed,
			}
		}
		return Outcome{OK: false, ErrorKind: "http_error", Reason: err.Error(), BrowserElapsedMs: &elapsed}
	}

	outcome := Outcome{BrowserElapsedMs: &elapsed, Title: title, FinalURL: finalURL, Details: map[string]interface{}{}}

	if spec.ExpectedTitleContains != "" &&
		!strings.Contains(strings.ToLower(title), strings.ToLower(spec.ExpectedTitleContains)) {
		outcome.OK = false
		outcome.ErrorKind = "assertion_failed"
		outcome.Reason = fmt.Sprintf("title %q does not contain %q", title, spec.ExpectedTitleContains)
		return outcome
	}

	missing := waitForSelectorsAll(tabCtx, spec.RequiredSelectorsAll)
	if len(missing) > 0 {
		outcome.OK = false
		outcome.ErrorKind = "selector_missing"
		outcome.Reason = fmt.Sprintf("missing required selectors: %s", strings.Join(missing, ", "))
		outcome.Details["missing_selectors"] = missing
		return outcome
	}

	if len(spec.RequiredSelectorsAny) > 0 {
		if !raceAnySelector(tabCtx, spec.RequiredSelectorsAny) {
			outcome.OK = false
			outcome.ErrorKind = "selector_missing"
			outcome.Reason = "none of the required_selectors_any resolved before the deadline"
			return outcome
		}
	}

	forbidden := spec.ForbiddenTextAny
	if len(forbidden) == 0 {
		forbidden = DefaultForbiddenPhrases
	}
	lowerBody := strings.ToLower(bodyText)
	for _, phrase := range forbidden {
		if strings.Contains(lowerBody, strings.ToLower(phrase)) {
			outcome.OK = false
			outcome.ErrorKind = "forbidden_text"
			outcome.Reason = fmt.Sprintf("body contains forbidden phrase %q", phrase)
			return outcome
		}
	}

	if spec.ExpectedFinalHostSuffix != "" && !strings.HasSuffix(hostOf(finalURL), spec.ExpectedFinalHostSuffix) {
		outcome.OK = false
		outcome.ErrorKind = "final_host_mismatch"
		outcome.Reason = fmt.Sprintf("final host does not match required suffix %q", spec.ExpectedFinalHostSuffix)
		return outcome
	}

	outcome.OK = true
	return outcome
}

// waitForSelectorsAll waits, within ctx's deadline, for every selector to
// reach its required state, returning the selectors that never did.
func waitForSelectorsAll(ctx context.Context, checks []SelectorCheck) []string {
	var missing []string
	for _, c := range checks {
		state := c.State
		if state == "" {
			state = DefaultState(c.Selector)
		}
		if err := waitForSelectorState(ctx, c.Selector, state); err != nil {
			missing = append(missing, c.Selector)
		}
	}
	return missing
}

// raceAnySelector launches one wait per candidate concurrently and returns
// true as soon as any resolves, cancelling the rest. If all candidates are
// missing it still returns only once the shared ctx deadline elapses, never
// N times the per-selector timeout.
func raceAnySelector(ctx context.Context, checks []SelectorCheck) bool {
	if len(checks) == 0 {
		return true
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan bool, len(checks))
	for _, c := range checks {
		check := c
		go func() {
			state := check.State
			if state == "" {
				state = DefaultState(check.Selector)
			}
			err := waitForSelectorState(raceCtx, check.Selector, state)
			resultCh <- err == nil
		}()
	}

	for range checks {
		select {
		case ok := <-resultCh:
			if ok {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
	return false
}

func waitForSelectorState(ctx context.Context, selector string, state SelectorState) error {
	switch state {
	case StateAttached:
		return chromedp.Run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
	case StateDetached:
		return chromedp.Run(ctx, chromedp.WaitNotPresent(selector, chromedp.ByQuery))
	case StateHidden:
		return chromedp.Run(ctx, chromedp.WaitNotVisible(selector, chromedp.ByQuery))
	default: // StateVisible
		return chromedp.Run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
	}
}

func hostOf(rawURL string) string {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return rawURL
	}
	rest := rawURL[idx+3:]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		rest = rest[:slash]
	}
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		rest = rest[at+1:]
	}
	if colon := strings.IndexByte(rest, ':'); colon >= 0 {
		rest = rest[:colon]
	}
	return rest
}
