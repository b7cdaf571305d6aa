package probe

import "strings"

// browserInfraMarkers is the centralized, testable list of substrings that
// identify a browser/driver failure as infrastructure rather than a failure
// of the page under test. Keep this list centralized per the design note on
// the browser infra heuristic.
var browserInfraMarkers = []string{
	"page crashed",
	"target crashed",
	"connection closed while reading from the driver",
	"context deadline exceeded while connecting",
	"net::err_connection_closed",
	"session deleted because of page crash",
	"websocket: close",
	"target closed",
}

// IsBrowserInfraError reports whether err's message matches the centralized
// browser-infra heuristic. Matching errors must not feed the debounce state
// machine; they are reported as neutral "browser_degraded" outcomes.
func IsBrowserInfraError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range browserInfraMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
