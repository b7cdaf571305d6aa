package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sentryfleet/internal/registrystore"
)

// RegistryStatusClient fetches the registry's fleet-wide status summary for
// the dashboard, the same way internal/dispatcher.Client talks to its
// external service: a thin wrapper around *http.Client with a fixed
// bearer token.
type RegistryStatusClient struct {
	baseURL      string
	monitorToken string
	httpClient   *http.Client
}

// NewRegistryStatusClient builds a client against the registry's
// /api/v1/status/summary endpoint using the fixed monitor-scope token.
func NewRegistryStatusClient(baseURL, monitorToken string) *RegistryStatusClient {
	return &RegistryStatusClient{
		baseURL:      baseURL,
		monitorToken: monitorToken,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchSummary returns every tenant's test status. A nil client (registry
// integration not configured) always returns an empty result.
func (c *RegistryStatusClient) FetchSummary(ctx context.Context) ([]registrystore.StatusSummaryRow, error) {
	if c == nil || c.baseURL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/status/summary", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.monitorToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry status summary request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry status summary returned %s", resp.Status)
	}

	var rows []registrystore.StatusSummaryRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode registry status summary: %w", err)
	}
	return rows, nil
}
