package alertsink

import (
	"fmt"
	"strings"
	"time"
)

// AlertEvent carries the fields a debounce transition or signal check result
// contributes to an outbound alert. Domain, signal kind, streak counters, and
// last-ok timestamp are grouped into a fixed-order block before chunking, the
// way the original Telegram integration groups task fields into a labeled
// block ahead of send.
type AlertEvent struct {
	Domain        string
	Signal        string // e.g. "http", "browser", "tls", "dns", "container_health"
	Recovered     bool   // false = down/alert, true = recovery
	Reason        string
	FailStreak    int64
	SuccessStreak int64
	LastOKTs      *int64
	Details       map[string]string
}

// FormatAlert renders an AlertEvent into the fixed-order Telegram message
// block: status line, domain, signal, reason, streak counters, last-ok
// timestamp, then any extra details sorted for determinism.
func FormatAlert(ev AlertEvent) string {
	var b strings.Builder

	if ev.Recovered {
		fmt.Fprintf(&b, "✅ *Recovered*\n")
	} else {
		fmt.Fprintf(&b, "\U0001F6A8 *Alert*\n")
	}

	fmt.Fprintf(&b, "*Domain:* %s\n", ev.Domain)
	fmt.Fprintf(&b, "*Signal:* %s\n", ev.Signal)

	if ev.Reason != "" {
		fmt.Fprintf(&b, "*Reason:* %s\n", ev.Reason)
	}

	if ev.Recovered {
		fmt.Fprintf(&b, "*Success streak:* %d\n", ev.SuccessStreak)
	} else {
		fmt.Fprintf(&b, "*Fail streak:* %d\n", ev.FailStreak)
	}

	if ev.LastOKTs != nil {
		fmt.Fprintf(&b, "*Last OK:* %s\n", time.Unix(*ev.LastOKTs, 0).UTC().Format("2006-01-02 15:04:05 UTC"))
	} else {
		fmt.Fprintf(&b, "*Last OK:* never\n")
	}

	for _, k := range sortedKeys(ev.Details) {
		fmt.Fprintf(&b, "*%s:* %s\n", k, ev.Details[k])
	}

	return strings.TrimRight(b.String(), "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
