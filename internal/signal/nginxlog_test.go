package signal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAccessLogTail(t *testing.T) {
	log := strings.Join([]string{
		`1.2.3.4 - - [01/Jan/2026:00:00:00 +0000] "GET / HTTP/1.1" 200 512`,
		`1.2.3.4 - - [01/Jan/2026:00:00:01 +0000] "GET /missing HTTP/1.1" 404 0`,
		`1.2.3.4 - - [01/Jan/2026:00:00:02 +0000] "GET /bad HTTP/1.1" 502 0`,
		`1.2.3.4 - - [01/Jan/2026:00:00:03 +0000] "GET /worse HTTP/1.1" 504 0`,
		`1.2.3.4 - - [01/Jan/2026:00:00:04 +0000] "GET /err HTTP/1.1" 500 0`,
	}, "\n")

	counts := ParseAccessLogTail(strings.NewReader(log))
	assert.Equal(t, 1, counts.Count4xx)
	assert.Equal(t, 3, counts.Count5xx)
	assert.Equal(t, 2, counts.Count502504)
}

func TestParseErrorLogTail(t *testing.T) {
	log := strings.Join([]string{
		`2026/01/01 00:00:00 [error] 123#0: *1 connect() failed, server: example.com, upstream: "http://10.0.0.1:8080/"`,
		`2026/01/01 00:00:01 [warn] irrelevant line`,
	}, "\n")

	events := ParseErrorLogTail(strings.NewReader(log))
	assert.Len(t, events, 1)
	assert.Equal(t, "example.com", events[0].Server)
	assert.Equal(t, "http://10.0.0.1:8080/", events[0].Upstream)
}

func TestCheckProxyUpstream(t *testing.T) {
	cfg := ProxyConfig{
		HeaderName:       "x-aipc-upstream",
		PrimaryUpstreams: []string{"primary-1"},
		BackupUpstreams:  []string{"backup-1"},
		AlertOnBackup:    true,
		AlertOnMissing:   true,
	}

	ok := CheckProxyUpstream("d.example.com", map[string]string{"x-aipc-upstream": "primary-1"}, cfg)
	assert.True(t, ok.OK)

	backup := CheckProxyUpstream("d.example.com", map[string]string{"x-aipc-upstream": "backup-1"}, cfg)
	assert.False(t, backup.OK)
	assert.Contains(t, backup.Reason, "backup_upstream_in_use")

	unknown := CheckProxyUpstream("d.example.com", map[string]string{"x-aipc-upstream": "mystery"}, cfg)
	assert.False(t, unknown.OK)
	assert.Contains(t, unknown.Reason, "unknown_upstream_value")

	missing := CheckProxyUpstream("d.example.com", map[string]string{}, cfg)
	assert.False(t, missing.OK)
	assert.Equal(t, "missing_upstream_header", missing.Reason)
}

func TestExpandEnvPlaceholders(t *testing.T) {
	t.Setenv("SECRET_PASSWORD", "hunter2")
	assert.Equal(t, "hunter2", expandEnvPlaceholders("${SECRET_PASSWORD}"))
	assert.Equal(t, "${UNSET_VAR}", expandEnvPlaceholders("${UNSET_VAR}"))
}
