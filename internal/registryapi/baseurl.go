package registryapi

import (
	"fmt"
	"net/url"
	"strings"
)

var reservedHosts = map[string]bool{
	"example.com":     true,
	"example.org":     true,
	"example.net":     true,
	"localhost":       true,
	"test.example.com": true,
}

// strictModeHost is the public_base_url substring that turns on host
// allowlisting for uploaded tests' base_url.
const strictModeHost = "monitoring.pitchai.net"

// ValidateBaseURL enforces the registry's base-url policy: reserved hosts
// are always rejected; in strict mode (the public_base_url contains
// monitoring.pitchai.net) the host must additionally appear in
// allowedHosts. Exported for registryui's upload form, which passes no
// public_base_url and no allowlist, so only the reserved-host check
// applies there.
func ValidateBaseURL(rawURL, publicBaseURL string, allowedHosts []string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("base_url_invalid")
	}
	host := strings.ToLower(u.Hostname())

	if reservedHosts[host] {
		return fmt.Errorf("base_url_not_allowed_host")
	}

	if strings.Contains(publicBaseURL, strictModeHost) {
		for _, allowed := range allowedHosts {
			if strings.EqualFold(allowed, host) {
				return nil
			}
		}
		return fmt.Errorf("base_url_not_monitored_domain")
	}

	return nil
}
