// Package signal implements the cross-cutting checks that run alongside
// the per-domain HTTP/browser probes each cycle: TLS expiry, DNS
// resolution/drift, container health, proxy upstream expectations, nginx
// log analysis, host resource snapshots, synthetic transactions, API
// contract checks, and web vitals.
package signal

// Kind names one of the signal state machines tracked in MonitorState.
type Kind string

const (
	KindBrowser          Kind = "browser"
	KindHostHealth       Kind = "host_health"
	KindPerformance      Kind = "performance"
	KindSLO              Kind = "slo"
	KindRED              Kind = "red"
	KindTLS              Kind = "tls"
	KindDNS              Kind = "dns"
	KindContainerHealth  Kind = "container_health"
	KindProxy            Kind = "proxy"
	KindMeta             Kind = "meta"
)

// State is the persisted per-signal status, generic over Aux for
// signal-specific auxiliary data (DNS's ips, container restart counts).
type State struct {
	LastOK        bool
	FailStreak    int
	SuccessStreak int
	LastRunTs     *int64
	Aux           map[string]interface{}
}

// Result is what a single signal check run produces for one cycle.
type Result struct {
	Kind    Kind
	Subject string // domain, mount point, or container name
	OK      bool
	Reason  string
	Details map[string]interface{}
}
