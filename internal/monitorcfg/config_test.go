package monitorcfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryfleet/internal/probe"
)

const sampleYAML = `
interval_seconds: 30
history:
  retention_days: 14
slo:
  target_percent: 99.9
  burn_rate_rules:
    - name: fast_burn
      short_window_min: 5
      long_window_min: 60
      short_burn_rate_threshold: 14.4
      long_burn_rate_threshold: 6
red:
  window_minutes: 15
  min_samples: 5
  error_rate_max_percent: 5
domains:
  - plain.example.com
  - domain: example.com
    url: https://example.com
    check:
      expected_title_contains: "Example"
      required_selectors_all:
        - "h1"
        - selector: "#footer"
          state: attached
      forbidden_text_any: ["down for maintenance"]
    proxy:
      header_name: x-aipc-upstream
      primary_upstreams: ["node-a"]
  - domain: disabled.example.com
    disabled: true
    disabled_reason: "manual"
  - domain: dispatch.pitchai.net
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesDomainsAndDefaults(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.IntervalSeconds)
	assert.Equal(t, 14, cfg.History.RetentionDays)
	require.Len(t, cfg.Domains, 4)

	assert.Equal(t, "plain.example.com", cfg.Domains[0].Domain)
	assert.Equal(t, "", cfg.Domains[0].URL)

	second := cfg.Domains[1]
	assert.Equal(t, "example.com", second.Domain)
	require.Len(t, second.Check.RequiredSelectorsAll, 2)
	assert.Equal(t, "h1", second.Check.RequiredSelectorsAll[0].Selector)
	assert.Equal(t, "#footer", second.Check.RequiredSelectorsAll[1].Selector)
	require.NotNil(t, second.Proxy)
	assert.Equal(t, "x-aipc-upstream", second.Proxy.HeaderName)

	assert.True(t, cfg.Domains[2].Disabled)

	// the dispatcher's own domain is always force-disabled
	assert.Equal(t, "dispatch.pitchai.net", cfg.Domains[3].Domain)
	assert.True(t, cfg.Domains[3].Disabled)
	assert.Equal(t, "forced_disabled_by_policy", cfg.Domains[3].DisabledReason)
}

func TestToProbeSpecAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	spec := cfg.Domains[1].ToProbeSpec()
	assert.Equal(t, "https://example.com", spec.URL)
	assert.Equal(t, []string{"down for maintenance"}, spec.ForbiddenTextAny)
	assert.Equal(t, 10, spec.HTTPTimeoutSeconds)
	assert.Equal(t, 30, spec.BrowserTimeoutSeconds)
	assert.NotEmpty(t, spec.AllowedStatusCodes)

	plainSpec := cfg.Domains[0].ToProbeSpec()
	assert.Equal(t, "https://plain.example.com", plainSpec.URL)
	assert.Equal(t, len(probe.DefaultForbiddenPhrases), len(plainSpec.ForbiddenTextAny))
}

func TestEnabledDomainsDropsDisabledAndAutoClearsExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour).Unix()
	future := time.Now().Add(time.Hour).Unix()

	cfg := &Config{
		Domains: []DomainEntry{
			{Domain: "always-on.example.com"},
			{Domain: "manually-disabled.example.com", Disabled: true},
			{Domain: "expired.example.com", Disabled: true, DisabledUntilTs: &past},
			{Domain: "still-disabled.example.com", Disabled: true, DisabledUntilTs: &future},
		},
	}

	enabled := EnabledDomains(cfg, time.Now().Unix())
	names := make([]string, 0, len(enabled))
	for _, d := range enabled {
		names = append(names, d.Domain)
	}

	assert.Contains(t, names, "always-on.example.com")
	assert.Contains(t, names, "expired.example.com")
	assert.NotContains(t, names, "manually-disabled.example.com")
	assert.NotContains(t, names, "still-disabled.example.com")
}

func TestValidateRejectsMissingAndDuplicateDomains(t *testing.T) {
	cfg := &Config{
		IntervalSeconds: 30,
		Domains: []DomainEntry{
			{Domain: "a.example.com"},
			{Domain: "a.example.com"},
			{Domain: ""},
		},
	}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate domain")
	assert.Contains(t, err.Error(), "missing domain name")
}

func TestValidateRejectsBadIntervalAndSLO(t *testing.T) {
	cfg := &Config{IntervalSeconds: 0, SLO: SLOConfig{TargetPercent: 150}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval_seconds")
	assert.Contains(t, err.Error(), "target_percent")
}
