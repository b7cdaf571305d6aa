// Package monitorcfg loads and validates the monitor's YAML configuration
// document (spec §6.1): the scheduler interval, history retention,
// performance/SLO/RED thresholds, signal-check defaults, and the domain
// list itself.
package monitorcfg

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"sentryfleet/internal/history"
	"sentryfleet/internal/probe"
)

// forcedDisabledDomain is disabled by policy regardless of config content;
// it is the dispatcher's own domain and must never be monitored by it.
const forcedDisabledDomain = "dispatch.pitchai.net"

// Config is the root monitor configuration document.
type Config struct {
	IntervalSeconds int                 `yaml:"interval_seconds"`
	History         HistoryConfig       `yaml:"history"`
	Performance     PerformanceConfig   `yaml:"performance"`
	SLO             SLOConfig           `yaml:"slo"`
	RED             RedConfig           `yaml:"red"`
	TLS             TLSConfig           `yaml:"tls"`
	DNS             DNSConfig           `yaml:"dns"`
	Container       ContainerConfig     `yaml:"container_monitoring"`
	Domains         []DomainEntry       `yaml:"domains"`
}

type HistoryConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

type PerformanceConfig struct {
	HTTPElapsedMsMax    float64                        `yaml:"http_elapsed_ms_max"`
	BrowserElapsedMsMax float64                        `yaml:"browser_elapsed_ms_max"`
	PerDomainOverrides  map[string]PerformanceOverride `yaml:"per_domain_overrides"`
}

type PerformanceOverride struct {
	HTTPElapsedMsMax    float64 `yaml:"http_elapsed_ms_max"`
	BrowserElapsedMsMax float64 `yaml:"browser_elapsed_ms_max"`
}

type SLOConfig struct {
	TargetPercent  float64                 `yaml:"target_percent"`
	BurnRateRules  []history.BurnRateRule  `yaml:"burn_rate_rules"`
}

type RedConfig struct {
	WindowMinutes       int     `yaml:"window_minutes"`
	MinSamples          int     `yaml:"min_samples"`
	ErrorRateMaxPercent float64 `yaml:"error_rate_max_percent"`
	HTTPP95MsMax        float64 `yaml:"http_p95_ms_max"`
	BrowserP95MsMax     float64 `yaml:"browser_p95_ms_max"`
}

type TLSConfig struct {
	MinDaysValid   int `yaml:"min_days_valid"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type DNSConfig struct {
	Resolvers           []string            `yaml:"resolvers"`
	TimeoutSeconds      int                 `yaml:"timeout_seconds"`
	RequireIPv4         bool                `yaml:"require_ipv4"`
	RequireIPv6         bool                `yaml:"require_ipv6"`
	ExpectedIPsByDomain map[string][]string `yaml:"expected_ips_by_domain"`
}

type ContainerConfig struct {
	SocketPath          string   `yaml:"socket_path"`
	IncludeNamePatterns []string `yaml:"include_name_patterns"`
	ExcludeNamePatterns []string `yaml:"exclude_name_patterns"`
	MonitorAll          bool     `yaml:"monitor_all"`
}

// CheckSpec is the YAML shape of a domain's "check" block, mirroring
// probe.DomainSpec's check-relevant fields.
type CheckSpec struct {
	ExpectedTitleContains   string              `yaml:"expected_title_contains"`
	RequiredSelectorsAll    []SelectorCheckYAML `yaml:"required_selectors_all"`
	RequiredSelectorsAny    []SelectorCheckYAML `yaml:"required_selectors_any"`
	RequiredTextAll         []string            `yaml:"required_text_all"`
	ForbiddenTextAny        []string            `yaml:"forbidden_text_any"`
	HTTPTimeoutSeconds      int                 `yaml:"http_timeout_seconds"`
	BrowserTimeoutSeconds   int                 `yaml:"browser_timeout_seconds"`
	ExpectedFinalHostSuffix string              `yaml:"expected_final_host_suffix"`
	AllowedStatusCodes      []int               `yaml:"allowed_status_codes"`
}

// SelectorCheckYAML accepts either a bare selector string or an
// {selector, state} mapping.
type SelectorCheckYAML struct {
	Selector string
	State    string
}

func (s *SelectorCheckYAML) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&s.Selector)
	}
	var aux struct {
		Selector string `yaml:"selector"`
		State    string `yaml:"state"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	s.Selector = aux.Selector
	s.State = aux.State
	return nil
}

func (s SelectorCheckYAML) toProbe() probe.SelectorCheck {
	state := probe.SelectorState(s.State)
	if state == "" {
		state = probe.DefaultState(s.Selector)
	}
	return probe.SelectorCheck{Selector: s.Selector, State: state}
}

// ProxyYAML is the YAML shape of a domain's "proxy" block.
type ProxyYAML struct {
	HeaderName       string   `yaml:"header_name"`
	PrimaryUpstreams []string `yaml:"primary_upstreams"`
	BackupUpstreams  []string `yaml:"backup_upstreams"`
	AlertOnBackup    bool     `yaml:"alert_on_backup"`
	AlertOnMissing   bool     `yaml:"alert_on_missing"`
}

// DomainEntry is one entry of the "domains" list. It accepts either a bare
// domain-name scalar or a full mapping; DisabledUntil holds the raw
// "disabled_until" string and DisabledUntilTs its parsed unix timestamp.
type DomainEntry struct {
	Domain                string                    `yaml:"domain"`
	URL                   string                    `yaml:"url"`
	Disabled              bool                      `yaml:"disabled"`
	DisabledReason        string                    `yaml:"disabled_reason"`
	DisabledUntil         string                    `yaml:"disabled_until"`
	Check                 CheckSpec                 `yaml:"check"`
	Proxy                 *ProxyYAML                `yaml:"proxy"`
	APIContractChecks     []probe.APIContractCheck  `yaml:"api_contract_checks"`
	SyntheticTransactions []probe.SyntheticTransaction `yaml:"synthetic_transactions"`

	DisabledUntilTs *int64 `yaml:"-"`
}

func (d *DomainEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&d.Domain)
	}

	type plain DomainEntry
	var aux plain
	if err := node.Decode(&aux); err != nil {
		return err
	}
	*d = DomainEntry(aux)

	if d.DisabledUntil != "" {
		ts, err := time.Parse(time.RFC3339, d.DisabledUntil)
		if err != nil {
			return fmt.Errorf("domain %s: invalid disabled_until %q: %w", d.Domain, d.DisabledUntil, err)
		}
		unix := ts.Unix()
		d.DisabledUntilTs = &unix
	}
	return nil
}

// ToProbeSpec builds the probe.DomainSpec this entry describes.
func (d DomainEntry) ToProbeSpec() probe.DomainSpec {
	spec := probe.DomainSpec{
		Domain:                  d.Domain,
		URL:                     d.URL,
		ExpectedTitleContains:   d.Check.ExpectedTitleContains,
		RequiredTextAll:         d.Check.RequiredTextAll,
		ForbiddenTextAny:        d.Check.ForbiddenTextAny,
		HTTPTimeoutSeconds:      d.Check.HTTPTimeoutSeconds,
		BrowserTimeoutSeconds:   d.Check.BrowserTimeoutSeconds,
		ExpectedFinalHostSuffix: d.Check.ExpectedFinalHostSuffix,
		AllowedStatusCodes:      d.Check.AllowedStatusCodes,
		APIContractChecks:       d.APIContractChecks,
		SyntheticTransactions:   d.SyntheticTransactions,
	}
	if spec.URL == "" {
		spec.URL = "https://" + d.Domain
	}
	if len(spec.ForbiddenTextAny) == 0 {
		spec.ForbiddenTextAny = probe.DefaultForbiddenPhrases
	}
	if len(spec.AllowedStatusCodes) == 0 {
		spec.AllowedStatusCodes = probe.DefaultAllowedStatusCodes()
	}
	if spec.HTTPTimeoutSeconds == 0 {
		spec.HTTPTimeoutSeconds = 10
	}
	if spec.BrowserTimeoutSeconds == 0 {
		spec.BrowserTimeoutSeconds = 30
	}
	for _, s := range d.Check.RequiredSelectorsAll {
		spec.RequiredSelectorsAll = append(spec.RequiredSelectorsAll, s.toProbe())
	}
	for _, s := range d.Check.RequiredSelectorsAny {
		spec.RequiredSelectorsAny = append(spec.RequiredSelectorsAny, s.toProbe())
	}
	if d.Proxy != nil {
		spec.Proxy = &probe.ProxyExpectation{
			HeaderName:       d.Proxy.HeaderName,
			PrimaryUpstreams: d.Proxy.PrimaryUpstreams,
			BackupUpstreams:  d.Proxy.BackupUpstreams,
			AlertOnBackup:    d.Proxy.AlertOnBackup,
			AlertOnMissing:   d.Proxy.AlertOnMissing,
		}
	}
	return spec
}

// Load reads and parses the YAML document at path, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	enforceForcedDisable(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.IntervalSeconds == 0 {
		cfg.IntervalSeconds = 60
	}
	if cfg.History.RetentionDays == 0 {
		cfg.History.RetentionDays = 7
	}
	if cfg.TLS.TimeoutSeconds == 0 {
		cfg.TLS.TimeoutSeconds = 10
	}
	if cfg.TLS.MinDaysValid == 0 {
		cfg.TLS.MinDaysValid = 14
	}
	if cfg.DNS.TimeoutSeconds == 0 {
		cfg.DNS.TimeoutSeconds = 5
	}
	if cfg.RED.WindowMinutes == 0 {
		cfg.RED.WindowMinutes = 15
	}
	if cfg.RED.MinSamples == 0 {
		cfg.RED.MinSamples = 5
	}
	if cfg.Container.SocketPath == "" {
		cfg.Container.SocketPath = "unix:///var/run/docker.sock"
	}
}

func enforceForcedDisable(cfg *Config) {
	for i := range cfg.Domains {
		if cfg.Domains[i].Domain == forcedDisabledDomain {
			cfg.Domains[i].Disabled = true
			cfg.Domains[i].DisabledReason = "forced_disabled_by_policy"
		}
	}
}

// Validate checks structural invariants on cfg, aggregating every
// violation found rather than stopping at the first one.
func Validate(cfg *Config) error {
	var result *multierror.Error

	if cfg.IntervalSeconds <= 0 {
		result = multierror.Append(result, fmt.Errorf("interval_seconds must be positive"))
	}
	if cfg.SLO.TargetPercent < 0 || cfg.SLO.TargetPercent > 100 {
		result = multierror.Append(result, fmt.Errorf("slo.target_percent must be between 0 and 100"))
	}

	seen := make(map[string]bool, len(cfg.Domains))
	for _, d := range cfg.Domains {
		if d.Domain == "" {
			result = multierror.Append(result, fmt.Errorf("domains[]: entry missing domain name"))
			continue
		}
		if seen[d.Domain] {
			result = multierror.Append(result, fmt.Errorf("domains[]: duplicate domain %q", d.Domain))
		}
		seen[d.Domain] = true
	}

	return result.ErrorOrNil()
}

// EnabledDomains returns the DomainEntry set that should be monitored this
// cycle: disabled entries are dropped, and entries whose disabled_until has
// passed are auto-cleared back to enabled (spec §3.1 DomainEntry note).
func EnabledDomains(cfg *Config, nowTs int64) []DomainEntry {
	enabled := make([]DomainEntry, 0, len(cfg.Domains))
	for _, d := range cfg.Domains {
		if d.Disabled {
			if d.DisabledUntilTs != nil && *d.DisabledUntilTs <= nowTs {
				d.Disabled = false
				d.DisabledReason = ""
				d.DisabledUntilTs = nil
			} else {
				continue
			}
		}
		enabled = append(enabled, d)
	}
	return enabled
}
