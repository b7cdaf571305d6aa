package registryapi

import (
	"net/http"
	"time"
)

type createTenantRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}

	tenant, err := s.Store.CreateTenant(r.Context(), s.NewID(), req.Name, time.Now().Unix())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, tenant)
}

type createAPIKeyRequest struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

type createAPIKeyResponse struct {
	APIKey string `json:"api_key"`
	Token  string `json:"token"`
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil || req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "tenant_id is required")
		return
	}

	id := s.NewID()
	token := s.NewID() + s.NewID()

	key, err := s.Store.CreateAPIKey(r.Context(), id, req.TenantID, token, req.Name, time.Now().Unix())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{APIKey: key.ID, Token: token})
}
