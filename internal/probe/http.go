package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const defaultUserAgent = "sentryfleet-monitor/1.0 (+https://sentryfleet.internal)"

// excise strips <script>...</script> and <style>...</style> content so
// forbidden-phrase scanning never matches substrings inside inline script
// literals.
func excise(body string) string {
	re := regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</(script|style)>`)
	return re.ReplaceAllString(body, "")
}

// HTTPCheck performs the raw HTTP probe layer for one domain.
func HTTPCheck(ctx context.Context, spec DomainSpec) Outcome {
	timeout := time.Duration(spec.HTTPTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return Outcome{OK: false, ErrorKind: "http_error", Reason: fmt.Sprintf("bad request: %v", err)}
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		return Outcome{
			OK:            false,
			ErrorKind:     "http_error",
			Reason:        err.Error(),
			HTTPElapsedMs: &elapsed,
		}
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	body := string(bodyBytes)

	finalURL := resp.Request.URL
	finalHost := ""
	if finalURL != nil {
		finalHost = finalURL.Host
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[strings.ToLower(k)] = v[0]
		}
	}

	statusCode := resp.StatusCode
	outcome := Outcome{
		HTTPElapsedMs:   &elapsed,
		StatusCode:      &statusCode,
		FinalURL:        safeURLString(finalURL),
		CapturedHeaders: headers,
		Details:         map[string]interface{}{},
	}

	allowed := spec.AllowedStatusCodes
	if len(allowed) == 0 {
		allowed = DefaultAllowedStatusCodes()
	}
	if !containsInt(allowed, resp.StatusCode) {
		outcome.OK = false
		outcome.ErrorKind = "http_error"
		outcome.Reason = fmt.Sprintf("unexpected status code %d", resp.StatusCode)
		return outcome
	}

	forbidden := spec.ForbiddenTextAny
	if len(forbidden) == 0 {
		forbidden = DefaultForbiddenPhrases
	}
	scanBody := strings.ToLower(excise(body))
	for _, phrase := range forbidden {
		if strings.Contains(scanBody, strings.ToLower(phrase)) {
			outcome.OK = false
			outcome.ErrorKind = "forbidden_text"
			outcome.Reason = fmt.Sprintf("body contains forbidden phrase %q", phrase)
			return outcome
		}
	}

	if spec.ExpectedFinalHostSuffix != "" && !strings.HasSuffix(finalHost, spec.ExpectedFinalHostSuffix) {
		outcome.OK = false
		outcome.ErrorKind = "final_host_mismatch"
		outcome.Reason = fmt.Sprintf("final host %q does not match required suffix %q", finalHost, spec.ExpectedFinalHostSuffix)
		return outcome
	}

	for _, text := range spec.RequiredTextAll {
		if !strings.Contains(body, text) {
			outcome.OK = false
			outcome.ErrorKind = "assertion_failed"
			outcome.Reason = fmt.Sprintf("required text %q not found", text)
			return outcome
		}
	}

	outcome.OK = true
	return outcome
}

func safeURLString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}

func containsInt(haystack []int, needle int) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
