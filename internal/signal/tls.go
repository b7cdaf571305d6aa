package signal

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// TLSConfig configures the certificate-expiry check.
type TLSConfig struct {
	MinDaysValid   int
	TimeoutSeconds int
}

// CheckTLS opens a TLS connection to host:port, reads the leaf certificate's
// NotAfter, and reports expires_soon when fewer than cfg.MinDaysValid days
// remain.
func CheckTLS(host string, port string, cfg TLSConfig) Result {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(host, port), &tls.Config{ServerName: host})
	if err != nil {
		return Result{Kind: KindTLS, Subject: host, OK: false, Reason: fmt.Sprintf("tls dial failed: %v", err)}
	}
	defer conn.Close()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return Result{Kind: KindTLS, Subject: host, OK: false, Reason: "no peer certificates presented"}
	}

	leaf := certs[0]
	daysRemaining := int(time.Until(leaf.NotAfter).Hours() / 24)

	details := map[string]interface{}{
		"not_after":      leaf.NotAfter,
		"days_remaining": daysRemaining,
	}

	if daysRemaining < cfg.MinDaysValid {
		return Result{
			Kind: KindTLS, Subject: host, OK: false,
			Reason:  fmt.Sprintf("expires_soon: %d days remaining (min %d)", daysRemaining, cfg.MinDaysValid),
			Details: details,
		}
	}

	return Result{Kind: KindTLS, Subject: host, OK: true, Details: details}
}
