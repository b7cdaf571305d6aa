// Package probe implements the two independent check layers the monitor and
// runner both drive against a domain: a raw HTTP GET and a headless browser
// pass. Both layers report through the same Outcome shape so the scheduler
// can fold them into one effective observation per domain.
package probe

// SelectorState is the state a SelectorCheck requires an element to be in.
type SelectorState string

const (
	StateAttached SelectorState = "attached"
	StateDetached SelectorState = "detached"
	StateVisible  SelectorState = "visible"
	StateHidden   SelectorState = "hidden"
)

// SelectorCheck names an element and the state it must resolve to. When
// State is empty, DefaultState fills in attached for meta/script/link/title
// selectors and visible for everything else.
type SelectorCheck struct {
	Selector string
	State    SelectorState
}

// DefaultState infers the default required state for a bare selector string
// per spec: meta/script/link/title default to attached, all others visible.
func DefaultState(selector string) SelectorState {
	switch {
	case hasPrefixAny(selector, "meta", "script", "link", "title"):
		return StateAttached
	default:
		return StateVisible
	}
}

func hasPrefixAny(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}

// DomainSpec is the immutable-per-cycle configuration for one monitored
// domain, as loaded from monitorcfg.
type DomainSpec struct {
	Domain                   string
	URL                      string
	ExpectedTitleContains    string
	RequiredSelectorsAll     []SelectorCheck
	RequiredSelectorsAny     []SelectorCheck
	RequiredTextAll          []string
	ForbiddenTextAny         []string
	HTTPTimeoutSeconds       int
	BrowserTimeoutSeconds    int
	ExpectedFinalHostSuffix  string
	AllowedStatusCodes       []int
	Proxy                    *ProxyExpectation
	APIContractChecks        []APIContractCheck
	SyntheticTransactions    []SyntheticTransaction
}

// ProxyExpectation configures the reverse-proxy upstream-header signal.
type ProxyExpectation struct {
	HeaderName      string
	PrimaryUpstreams []string
	BackupUpstreams  []string
	AlertOnBackup    bool
	AlertOnMissing   bool
}

// Outcome is the per-domain, per-cycle result of the probe layer.
type Outcome struct {
	OK               bool
	Reason           string
	ErrorKind        string
	HTTPElapsedMs    *float64
	BrowserElapsedMs *float64
	StatusCode       *int
	FinalURL         string
	Title            string
	CapturedHeaders  map[string]string
	Details          map[string]interface{}
	BrowserInfraError bool
}

// APIContractCheck asserts shape and timing on a JSON HTTP endpoint,
// evaluated independently of the domain's main HTTP/browser checks.
type APIContractCheck struct {
	Name                string            `yaml:"name"`
	Path                string            `yaml:"path"` // relative to DomainSpec.URL, or absolute
	ExpectedStatus      int               `yaml:"expected_status"`
	ContentTypeContains string            `yaml:"content_type_contains"`
	RequiredJSONPaths   []string          `yaml:"required_json_paths"`  // dot-paths that must exist
	RequiredJSONEquals  map[string]string `yaml:"required_json_equals"` // dot-path -> expected string value
	MaxElapsedMs        int               `yaml:"max_elapsed_ms"`
}

// SyntheticTransactionStep is one operation in a SyntheticTransaction.
type SyntheticTransactionStep struct {
	Type              string `yaml:"type"` // goto, click, fill, press, wait_for_selector, expect_url_contains, expect_text, sleep_ms
	Selector          string `yaml:"selector"`
	Value             string `yaml:"value"` // may contain ${ENVVAR} placeholders for fill
	Key               string `yaml:"key"`
	ExpectURLContains string `yaml:"expect_url_contains"`
	ExpectText        string `yaml:"expect_text"`
	SleepMs           int    `yaml:"sleep_ms"`
}

// SyntheticTransaction drives a scripted multi-step flow over a single
// browser page; the first failing step fails the whole transaction.
type SyntheticTransaction struct {
	Name    string                     `yaml:"name"`
	Steps   []SyntheticTransactionStep `yaml:"steps"`
	Timeout int                        `yaml:"timeout"` // seconds
}

// DefaultForbiddenPhrases is the reserved list of maintenance-indicator
// phrases scanned for when a DomainSpec sets no ForbiddenTextAny. See
// DESIGN.md "Open Question Resolutions" for why this particular set was
// adopted as the common-check default.
var DefaultForbiddenPhrases = []string{
	"site is under maintenance",
	"scheduled maintenance",
	"temporarily unavailable",
	"service unavailable",
	"back soon",
	"down for maintenance",
}

// DefaultAllowedStatusCodes is 2xx ∪ 3xx.
func DefaultAllowedStatusCodes() []int {
	codes := make([]int, 0, 200)
	for c := 200; c < 400; c++ {
		codes = append(codes, c)
	}
	return codes
}
