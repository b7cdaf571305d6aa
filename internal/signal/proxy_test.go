package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckProxyUpstreamPrimary(t *testing.T) {
	cfg := ProxyConfig{HeaderName: "x-aipc-upstream", PrimaryUpstreams: []string{"app-1", "app-2"}}
	headers := map[string]string{"x-aipc-upstream": "app-1"}

	result := CheckProxyUpstream("example.test", headers, cfg)
	assert.True(t, result.OK)
	assert.Empty(t, result.Reason)
}

func TestCheckProxyUpstreamBackup(t *testing.T) {
	cfg := ProxyConfig{
		HeaderName:       "x-aipc-upstream",
		PrimaryUpstreams: []string{"app-1"},
		BackupUpstreams:  []string{"app-backup"},
	}
	headers := map[string]string{"x-aipc-upstream": "app-backup"}

	result := CheckProxyUpstream("example.test", headers, cfg)
	assert.True(t, result.OK)
	assert.Contains(t, result.Reason, "backup_upstream_in_use")

	cfg.AlertOnBackup = true
	result = CheckProxyUpstream("example.test", headers, cfg)
	assert.False(t, result.OK)
	assert.Contains(t, result.Reason, "backup_upstream_in_use")
}

func TestCheckProxyUpstreamUnknownValue(t *testing.T) {
	cfg := ProxyConfig{HeaderName: "x-aipc-upstream", PrimaryUpstreams: []string{"app-1"}}
	headers := map[string]string{"x-aipc-upstream": "app-rogue"}

	result := CheckProxyUpstream("example.test", headers, cfg)
	assert.False(t, result.OK)
	assert.Contains(t, result.Reason, "unknown_upstream_value")
}

func TestCheckProxyUpstreamMissingHeader(t *testing.T) {
	cfg := ProxyConfig{HeaderName: "x-aipc-upstream", PrimaryUpstreams: []string{"app-1"}, AlertOnMissing: true}

	result := CheckProxyUpstream("example.test", map[string]string{}, cfg)
	assert.False(t, result.OK)
	assert.Equal(t, "missing_upstream_header", result.Reason)

	result = CheckProxyUpstream("example.test", nil, cfg)
	assert.False(t, result.OK)
	assert.Equal(t, "missing_upstream_header", result.Reason)
}

func TestCheckProxyUpstreamMissingHeaderNotAlerting(t *testing.T) {
	cfg := ProxyConfig{HeaderName: "x-aipc-upstream", PrimaryUpstreams: []string{"app-1"}}

	result := CheckProxyUpstream("example.test", nil, cfg)
	assert.True(t, result.OK)
	assert.Equal(t, "missing_upstream_header", result.Reason)
}

func TestCheckProxyUpstreamHeaderNameCaseInsensitive(t *testing.T) {
	cfg := ProxyConfig{HeaderName: "X-AIPC-Upstream", PrimaryUpstreams: []string{"app-1"}}
	headers := map[string]string{"x-aipc-upstream": "app-1"}

	result := CheckProxyUpstream("example.test", headers, cfg)
	assert.True(t, result.OK)
}
