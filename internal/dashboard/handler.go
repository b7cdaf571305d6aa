package dashboard

import (
	"encoding/json"
	"net/http"

	"sentryfleet/internal/monitord"
)

// Handler serves the composed View as JSON. stateFn reads the monitor's
// current in-memory state; registry may be nil when the registry
// integration isn't configured.
func Handler(stateFn func() *monitord.MonitorState, registry *RegistryStatusClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := registry.FetchSummary(r.Context())
		view := Compose(stateFn(), rows, err)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	}
}
