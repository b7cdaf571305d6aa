// Package runnerd is the runner worker: it claims due tests from the
// registry over HTTP, executes them (stepflow in-process against a shared
// browser, playwright_python/puppeteer_js in a sandboxed child process),
// captures failure artifacts, and reports the outcome back via complete.
package runnerd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sentryfleet/internal/registrystore"
)

// RegistryConfig points the runner at its registry's claim/complete API.
type RegistryConfig struct {
	BaseURL string
	Token   string
}

// RegistryClient is a thin HTTP client for the runner-scoped registry
// endpoints (claim, complete).
type RegistryClient struct {
	cfg        RegistryConfig
	httpClient *http.Client
}

// NewRegistryClient builds a client from cfg.
func NewRegistryClient(cfg RegistryConfig) *RegistryClient {
	return &RegistryClient{cfg: cfg, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// Claim requests up to maxRuns leased runs.
func (c *RegistryClient) Claim(ctx context.Context, maxRuns int) ([]registrystore.ClaimedRun, error) {
	body, err := json.Marshal(map[string]int{"max_runs": maxRuns})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/runner/claim", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("claim request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("claim failed: %s: %s", resp.Status, string(b))
	}

	var claimed []registrystore.ClaimedRun
	if err := json.NewDecoder(resp.Body).Decode(&claimed); err != nil {
		return nil, fmt.Errorf("decode claim response: %w", err)
	}
	return claimed, nil
}

// CompleteRequest is the runner's completion payload.
type CompleteRequest = registrystore.CompleteInput

// Complete reports a run's terminal outcome.
func (c *RegistryClient) Complete(ctx context.Context, runID string, in CompleteRequest) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/v1/runner/runs/"+runID+"/complete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("complete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("complete failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

func (c *RegistryClient) authorize(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
}
