package signal

import (
	"fmt"
	"sort"
	"time"

	"github.com/miekg/dns"
)

// DNSConfig configures resolution and drift detection for one domain.
type DNSConfig struct {
	Resolvers     []string
	TimeoutSeconds int
	RequireIPv4   bool
	RequireIPv6   bool
	ExpectedIPs   []string // when set, current IPs must intersect this set
	PreviousIPs   []string // drift baseline: the prior cycle's IPs (MonitorState.PrevDNSIPsByDomain)
}

// CheckDNS resolves A and AAAA records for domain against the first
// reachable resolver in cfg.Resolvers, applying required-family and
// expected-IP checks. Drift from cfg.PreviousIPs is only recorded in
// Details["drift_detected"] and does not fail the result on its own; an
// expected-IP mismatch fails it whether or not drift was seen.
func CheckDNS(domain string, cfg DNSConfig) Result {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := &dns.Client{Timeout: timeout}

	var ips []string
	var lastErr error
	resolved := false

	for _, resolver := range cfg.Resolvers {
		addr := resolver
		if len(addr) > 0 && !hasPort(addr) {
			addr = addr + ":53"
		}

		v4, errV4 := resolve(client, addr, domain, dns.TypeA)
		v6, errV6 := resolve(client, addr, domain, dns.TypeAAAA)

		if errV4 == nil || errV6 == nil {
			resolved = true
			ips = append(ips, v4...)
			ips = append(ips, v6...)
			if errV4 != nil {
				lastErr = errV4
			} else if errV6 != nil {
				lastErr = errV6
			}
			break
		}
		lastErr = errV4
		if lastErr == nil {
			lastErr = errV6
		}
	}

	if !resolved {
		if lastErr == nil {
			lastErr = fmt.Errorf("no resolvers configured")
		}
		return Result{Kind: KindDNS, Subject: domain, OK: false, Reason: fmt.Sprintf("dns resolution failed: %v", lastErr)}
	}

	sort.Strings(ips)
	details := map[string]interface{}{"ips": ips}

	if len(ips) == 0 {
		return Result{Kind: KindDNS, Subject: domain, OK: false, Reason: "NXDOMAIN", Details: details}
	}

	hasV4, hasV6 := classifyIPs(ips)
	if cfg.RequireIPv4 && !hasV4 {
		return Result{Kind: KindDNS, Subject: domain, OK: false, Reason: "required A record missing", Details: details}
	}
	if cfg.RequireIPv6 && !hasV6 {
		return Result{Kind: KindDNS, Subject: domain, OK: false, Reason: "required AAAA record missing", Details: details}
	}

	driftDetected := len(cfg.PreviousIPs) > 0 && !sameSet(cfg.PreviousIPs, ips)
	details["drift_detected"] = driftDetected

	if len(cfg.ExpectedIPs) > 0 && !intersects(cfg.ExpectedIPs, ips) {
		details["expected_ips_mismatch"] = true
		return Result{
			Kind: KindDNS, Subject: domain, OK: false,
			Reason:  "current IPs do not intersect expected_ips",
			Details: details,
		}
	}

	return Result{Kind: KindDNS, Subject: domain, OK: true, Reason: "", Details: details}
}

func resolve(client *dns.Client, resolverAddr, domain string, qtype uint16) ([]string, error) {
	if resolverAddr == "" {
		return nil, fmt.Errorf("no resolver address")
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), qtype)
	m.RecursionDesired = true

	resp, _, err := client.Exchange(m, resolverAddr)
	if err != nil {
		return nil, err
	}
	if resp.Rcode == dns.RcodeNameError {
		return nil, nil // NXDOMAIN: not an error, just zero IPs
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("resolver returned rcode %d", resp.Rcode)
	}

	var ips []string
	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			ips = append(ips, rec.A.String())
		case *dns.AAAA:
			ips = append(ips, rec.AAAA.String())
		}
	}
	return ips, nil
}

func hasPort(addr string) bool {
	for i := len(addr) - 1; i >= 0 && i > len(addr)-7; i-- {
		if addr[i] == ':' {
			return true
		}
	}
	return false
}

func classifyIPs(ips []string) (hasV4, hasV6 bool) {
	for _, ip := range ips {
		if isIPv6(ip) {
			hasV6 = true
		} else {
			hasV4 = true
		}
	}
	return
}

func isIPv6(ip string) bool {
	for _, c := range ip {
		if c == ':' {
			return true
		}
	}
	return false
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	aSorted := append([]string(nil), a...)
	bSorted := append([]string(nil), b...)
	sort.Strings(aSorted)
	sort.Strings(bSorted)
	for i := range aSorted {
		if aSorted[i] != bSorted[i] {
			return false
		}
	}
	return true
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if set[v] {
			return true
		}
	}
	return false
}
