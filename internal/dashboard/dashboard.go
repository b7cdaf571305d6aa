// Package dashboard composes a read-only operator view over the domain
// monitor's in-process state and the registry's tenant status summary. It
// owns no storage of its own: it is a pure projection, served as JSON by
// cmd/monitor alongside the telemetry endpoint.
package dashboard

import (
	"sort"

	"sentryfleet/internal/monitord"
	"sentryfleet/internal/registrystore"
)

// DomainView is one domain's effective debounce state plus its signal
// streaks, flattened for display.
type DomainView struct {
	Domain        string `json:"domain"`
	EffectiveOK   bool   `json:"effective_ok"`
	FailStreak    int    `json:"fail_streak"`
	SuccessStreak int    `json:"success_streak"`
	LastOKTs      int64  `json:"last_ok_ts,omitempty"`
	LastFailTs    int64  `json:"last_fail_ts,omitempty"`
}

// SignalView is one (kind, subject) signal's current streak.
type SignalView struct {
	Key        string `json:"key"`
	OK         bool   `json:"ok"`
	FailStreak int    `json:"fail_streak"`
}

// View is the full composed dashboard payload.
type View struct {
	Domains        []DomainView                `json:"domains"`
	Signals        []SignalView                `json:"signals"`
	RecentDispatch []monitord.DispatchRecord    `json:"recent_dispatch"`
	RegistryTests  []registrystore.StatusSummaryRow `json:"registry_tests,omitempty"`
	RegistryError  string                       `json:"registry_error,omitempty"`
}

// Compose projects a monitor state snapshot and an optional registry status
// summary into a View. registryRows may be nil when the registry is
// unreachable or not configured; registryErr then carries the reason.
func Compose(state *monitord.MonitorState, registryRows []registrystore.StatusSummaryRow, registryErr error) View {
	v := View{}

	domains := make([]string, 0, len(state.DomainDebounce))
	for d := range state.DomainDebounce {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, d := range domains {
		st := state.DomainDebounce[d]
		dv := DomainView{Domain: d, EffectiveOK: st.EffectiveOK, FailStreak: st.FailStreak, SuccessStreak: st.SuccessStreak}
		if st.LastOKTs != nil {
			dv.LastOKTs = *st.LastOKTs
		}
		if st.LastFailTs != nil {
			dv.LastFailTs = *st.LastFailTs
		}
		v.Domains = append(v.Domains, dv)
	}

	for _, key := range state.SortedSignalKeys() {
		st := state.Signals[key]
		v.Signals = append(v.Signals, SignalView{Key: key, OK: st.LastOK, FailStreak: st.FailStreak})
	}

	v.RecentDispatch = state.DispatchHistory
	v.RegistryTests = registryRows
	if registryErr != nil {
		v.RegistryError = registryErr.Error()
	}
	return v
}
