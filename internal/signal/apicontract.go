package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sentryfleet/internal/probe"
)

// CheckAPIContract issues the configured request against baseURL (or an
// absolute URL in check.Path) and asserts status, content-type, required
// JSON paths, and value equalities.
func CheckAPIContract(ctx context.Context, baseURL string, check probe.APIContractCheck) Result {
	target := check.Path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(check.Path, "/")
	}

	timeout := time.Duration(check.MaxElapsedMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return Result{Kind: KindMeta, Subject: check.Name, OK: false, Reason: err.Error()}
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	elapsedMs := time.Since(start).Milliseconds()
	if err != nil {
		return Result{Kind: KindMeta, Subject: check.Name, OK: false, Reason: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if check.MaxElapsedMs > 0 && int(elapsedMs) > check.MaxElapsedMs {
		return Result{
			Kind: KindMeta, Subject: check.Name, OK: false,
			Reason: fmt.Sprintf("elapsed %dms exceeds max %dms", elapsedMs, check.MaxElapsedMs),
		}
	}

	if check.ExpectedStatus != 0 && resp.StatusCode != check.ExpectedStatus {
		return Result{
			Kind: KindMeta, Subject: check.Name, OK: false,
			Reason: fmt.Sprintf("status %d, expected %d", resp.StatusCode, check.ExpectedStatus),
		}
	}

	if check.ContentTypeContains != "" {
		ct := resp.Header.Get("Content-Type")
		if !strings.Contains(ct, check.ContentTypeContains) {
			return Result{
				Kind: KindMeta, Subject: check.Name, OK: false,
				Reason: fmt.Sprintf("content-type %q does not contain %q", ct, check.ContentTypeContains),
			}
		}
	}

	if len(check.RequiredJSONPaths) == 0 && len(check.RequiredJSONEquals) == 0 {
		return Result{Kind: KindMeta, Subject: check.Name, OK: true}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{Kind: KindMeta, Subject: check.Name, OK: false, Reason: fmt.Sprintf("failed to read body: %v", err)}
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return Result{Kind: KindMeta, Subject: check.Name, OK: false, Reason: fmt.Sprintf("invalid JSON body: %v", err)}
	}

	for _, path := range check.RequiredJSONPaths {
		if _, ok := jsonPathLookup(doc, path); !ok {
			return Result{Kind: KindMeta, Subject: check.Name, OK: false, Reason: fmt.Sprintf("required json path %q missing", path)}
		}
	}

	for path, expected := range check.RequiredJSONEquals {
		value, ok := jsonPathLookup(doc, path)
		if !ok {
			return Result{Kind: KindMeta, Subject: check.Name, OK: false, Reason: fmt.Sprintf("json path %q missing", path)}
		}
		if fmt.Sprintf("%v", value) != expected {
			return Result{
				Kind: KindMeta, Subject: check.Name, OK: false,
				Reason: fmt.Sprintf("json path %q = %v, expected %v", path, value, expected),
			}
		}
	}

	return Result{Kind: KindMeta, Subject: check.Name, OK: true}
}

// jsonPathLookup resolves a dot-path (with optional numeric array indices,
// e.g. "items.0.id") against an already-unmarshaled JSON document.
func jsonPathLookup(doc interface{}, path string) (interface{}, bool) {
	current := doc
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		if idx, err := strconv.Atoi(part); err == nil {
			arr, ok := current.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
			continue
		}
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
