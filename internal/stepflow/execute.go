package stepflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// Result is the outcome of executing a Definition in a browser tab.
type Result struct {
	OK           bool
	FailedStep   int
	Reason       string
	ErrorKind    string
	FinalURL     string
	Title        string
	ScreenshotAt int
	Screenshots  map[int][]byte
}

// Execute runs every step of def against tabCtx in order, stopping at the
// first failing assertion or action error. envLookup resolves ${ENVVAR}
// placeholders inside fill.text at execution time, keeping secrets out of
// the stored definition.
func Execute(ctx context.Context, tabCtx context.Context, def Definition, envLookup func(string) string) Result {
	res := Result{OK: true, Screenshots: map[int][]byte{}}

	for i, step := range def.Steps {
		if err := executeStep(tabCtx, i, step, envLookup, &res); err != nil {
			res.OK = false
			res.FailedStep = i
			res.Reason = err.Error()
			if res.ErrorKind == "" {
				res.ErrorKind = "assertion_failed"
			}
			break
		}
	}

	var finalURL, title string
	_ = chromedp.Run(tabCtx,
		chromedp.Evaluate(`window.location.href`, &finalURL),
		chromedp.Title(&title),
	)
	res.FinalURL = finalURL
	res.Title = title

	return res
}

func executeStep(tabCtx context.Context, index int, s Step, envLookup func(string) string, res *Result) error {
	switch s.Type {
	case StepGoto:
		return chromedp.Run(tabCtx, chromedp.Navigate(s.URL), chromedp.WaitReady("body", chromedp.ByQuery))

	case StepClick:
		return chromedp.Run(tabCtx, chromedp.Click(s.Selector, chromedp.ByQuery))

	case StepFill:
		return chromedp.Run(tabCtx, chromedp.SetValue(s.Selector, expandEnv(s.Text, envLookup), chromedp.ByQuery))

	case StepPress:
		return chromedp.Run(tabCtx, chromedp.KeyEvent(s.Key))

	case StepWaitForSelector:
		return chromedp.Run(tabCtx, chromedp.WaitVisible(s.Selector, chromedp.ByQuery))

	case StepExpectURLContains:
		var url string
		if err := chromedp.Run(tabCtx, chromedp.Evaluate(`window.location.href`, &url)); err != nil {
			return err
		}
		if !strings.Contains(url, s.Contains) {
			return fmt.Errorf("steps[%d]: url %q does not contain %q", index, url, s.Contains)
		}
		return nil

	case StepExpectText:
		var text string
		if err := chromedp.Run(tabCtx, chromedp.Text(s.Selector, &text, chromedp.ByQuery)); err != nil {
			return err
		}
		if !strings.Contains(text, s.Contains) {
			return fmt.Errorf("steps[%d]: selector %q text %q does not contain %q", index, s.Selector, text, s.Contains)
		}
		return nil

	case StepExpectTitleContains:
		var title string
		if err := chromedp.Run(tabCtx, chromedp.Title(&title)); err != nil {
			return err
		}
		if !strings.Contains(title, s.Contains) {
			return fmt.Errorf("steps[%d]: title %q does not contain %q", index, title, s.Contains)
		}
		return nil

	case StepExpectSelectorCount:
		var count int
		if err := chromedp.Run(tabCtx, chromedp.EvaluateAsDevTools(
			fmt.Sprintf(`document.querySelectorAll(%q).length`, s.Selector), &count)); err != nil {
			return err
		}
		if s.Count != nil && count != *s.Count {
			return fmt.Errorf("steps[%d]: selector %q count %d != expected %d", index, s.Selector, count, *s.Count)
		}
		return nil

	case StepScreenshot:
		var buf []byte
		if err := chromedp.Run(tabCtx, chromedp.FullScreenshot(&buf, 90)); err != nil {
			return err
		}
		res.Screenshots[index] = buf
		return nil

	case StepSetViewport:
		return chromedp.Run(tabCtx, chromedp.EmulateViewport(int64(s.Width), int64(s.Height)))

	case StepSleep, StepSleepMs:
		select {
		case <-time.After(time.Duration(ClampSleepMs(s.Ms)) * time.Millisecond):
			return nil
		case <-tabCtx.Done():
			return tabCtx.Err()
		}

	default:
		return fmt.Errorf("steps[%d]: unknown step type %q", index, s.Type)
	}
}

func expandEnv(text string, lookup func(string) string) string {
	if lookup == nil {
		return text
	}
	return envvarPlaceholder.ReplaceAllStringFunc(text, func(m string) string {
		name := m[2 : len(m)-1]
		if v := lookup(name); v != "" {
			return v
		}
		return m
	})
}
