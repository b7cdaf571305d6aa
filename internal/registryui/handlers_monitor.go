package registryui

import (
	"net/http"

	"sentryfleet/internal/registrystore"
)

func (s *Server) handleMonitorDashboard(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Store.StatusSummary(r.Context(), "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	render(w, "monitor", struct{ Rows []registrystore.StatusSummaryRow }{Rows: rows})
}
