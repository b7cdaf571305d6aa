package signal

import (
	"fmt"
	"strings"
)

// ProxyConfig mirrors probe.ProxyExpectation for the proxy upstream signal.
type ProxyConfig struct {
	HeaderName       string
	PrimaryUpstreams []string
	BackupUpstreams  []string
	AlertOnBackup    bool
	AlertOnMissing   bool
}

// CheckProxyUpstream classifies the captured upstream header against the
// configured primary/backup sets.
func CheckProxyUpstream(domain string, capturedHeaders map[string]string, cfg ProxyConfig) Result {
	headerName := cfg.HeaderName
	if headerName == "" {
		headerName = "x-aipc-upstream"
	}

	value, present := capturedHeaders[strings.ToLower(headerName)]
	details := map[string]interface{}{"header": headerName, "value": value}

	if !present || value == "" {
		if cfg.AlertOnMissing {
			return Result{Kind: KindProxy, Subject: domain, OK: false, Reason: "missing_upstream_header", Details: details}
		}
		return Result{Kind: KindProxy, Subject: domain, OK: true, Reason: "missing_upstream_header", Details: details}
	}

	if contains(cfg.PrimaryUpstreams, value) {
		return Result{Kind: KindProxy, Subject: domain, OK: true, Details: details}
	}

	if contains(cfg.BackupUpstreams, value) {
		reason := fmt.Sprintf("backup_upstream_in_use: %s", value)
		if cfg.AlertOnBackup {
			return Result{Kind: KindProxy, Subject: domain, OK: false, Reason: reason, Details: details}
		}
		return Result{Kind: KindProxy, Subject: domain, OK: true, Reason: reason, Details: details}
	}

	return Result{
		Kind: KindProxy, Subject: domain, OK: false,
		Reason:  fmt.Sprintf("unknown_upstream_value: %s", value),
		Details: details,
	}
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
