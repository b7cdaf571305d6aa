// Package dispatcher is a thin HTTP client for the external read-only
// investigation service the monitor and registry escalate confirmed
// failures to. It enqueues a job, long-polls for a terminal state, and
// extracts the agent's final conclusion from the run log tail.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Config holds the dispatcher service's base URL and credentials.
type Config struct {
	BaseURL           string
	Token             string
	PollIntervalSeconds int
	MaxWaitSeconds      int
}

// Client is the dispatcher HTTP client.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds a dispatcher client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = 5
	}
	if cfg.MaxWaitSeconds <= 0 {
		cfg.MaxWaitSeconds = 600
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// DispatchRequest is the payload for POST /dispatch.
type DispatchRequest struct {
	Prompt      string   `json:"prompt"`
	ConfigTOML  string   `json:"config_toml"`
	Model       string   `json:"model,omitempty"`
	StateKey    string   `json:"state_key,omitempty"`
	PreCommands []string `json:"pre_commands,omitempty"`
}

// Status is the polled terminal/non-terminal state of a dispatched job.
type Status struct {
	QueueState   string          `json:"queue_state"`
	RunnerStatus string          `json:"runner_status"`
	ThreadID     string          `json:"thread_id,omitempty"`
	LiveStatus   string          `json:"live_status,omitempty"`
	Record       json.RawMessage `json:"record,omitempty"`
}

var terminalStates = map[string]bool{
	"processed":    true,
	"failed":       true,
	"runner_error": true,
}

// Dispatch enqueues a remote investigation and parses the plain-text
// "queued:<bundle>:runner:<rest>" response. Anything not starting with
// "queued:" or missing ":runner:" is a validation error.
func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) (bundle string, runner string, err error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal dispatch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/dispatch", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-PitchAI-Dispatch-Token", c.cfg.Token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", "", fmt.Errorf("dispatch request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read dispatch response: %w", err)
	}

	return ParseDispatchResponse(string(respBody))
}

// ParseDispatchResponse parses the plain-text dispatch response. It is
// tolerant of further ':'-delimited suffixes in the runner part, but
// rejects anything not starting with "queued:" or missing ":runner:".
func ParseDispatchResponse(text string) (bundle string, runner string, err error) {
	text = strings.TrimSpace(text)

	if !strings.HasPrefix(text, "queued:") {
		return "", "", fmt.Errorf("invalid dispatch response: does not start with 'queued:'")
	}

	rest := strings.TrimPrefix(text, "queued:")
	idx := strings.Index(rest, ":runner:")
	if idx < 0 {
		return "", "", fmt.Errorf("invalid dispatch response: missing ':runner:'")
	}

	bundle = rest[:idx]
	runner = rest[idx+len(":runner:"):]
	return bundle, runner, nil
}

// WaitForTerminalStatus polls /runs/{bundle}/status every PollIntervalSeconds
// until queue_state reaches a terminal value or MaxWaitSeconds elapses.
// Transient 5xx/404 responses do not fail the poll; 404 falls back to
// /runs/{bundle}/record.
func (c *Client) WaitForTerminalStatus(ctx context.Context, bundle string) (Status, error) {
	deadline := time.Now().Add(time.Duration(c.cfg.MaxWaitSeconds) * time.Second)
	interval := time.Duration(c.cfg.PollIntervalSeconds) * time.Second

	for {
		status, ok, err := c.fetchStatus(ctx, bundle)
		if err == nil && ok && terminalStates[status.QueueState] {
			return status, nil
		}

		if time.Now().After(deadline) {
			return Status{}, fmt.Errorf("dispatch_timeout: bundle %s did not reach terminal state within %ds", bundle, c.cfg.MaxWaitSeconds)
		}

		select {
		case <-ctx.Done():
			return Status{}, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (c *Client) fetchStatus(ctx context.Context, bundle string) (Status, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/runs/"+bundle+"/status", nil)
	if err != nil {
		return Status{}, false, err
	}
	req.Header.Set("X-PitchAI-Dispatch-Token", c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{}, false, nil // transient; caller retries
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return c.fetchRecord(ctx, bundle)
	}
	if resp.StatusCode >= 500 {
		return Status{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Status{}, false, nil
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return Status{}, false, nil
	}
	return status, true, nil
}

func (c *Client) fetchRecord(ctx context.Context, bundle string) (Status, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/runs/"+bundle+"/record", nil)
	if err != nil {
		return Status{}, false, err
	}
	req.Header.Set("X-PitchAI-Dispatch-Token", c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		return Status{}, false, nil
	}
	defer resp.Body.Close()

	var record json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return Status{}, false, nil
	}

	var withState struct {
		QueueState string `json:"queue_state"`
	}
	_ = json.Unmarshal(record, &withState)

	return Status{QueueState: withState.QueueState, Record: record}, withState.QueueState != "", nil
}

// logResponse is the shape of GET /runs/{bundle}/log.
type logResponse struct {
	Exists     bool   `json:"exists"`
	Offset     int64  `json:"offset"`
	NextOffset int64  `json:"next_offset"`
	Size       int64  `json:"size"`
	EOF        bool   `json:"eof"`
	Content    string `json:"content"`
}

// GetLogTail fetches the last maxBytes of a run's log. It first discovers
// the current size with a one-byte probe request, then fetches the final
// window; robust to empty logs.
func (c *Client) GetLogTail(ctx context.Context, bundle string, maxBytes int64) (string, error) {
	probe, err := c.fetchLog(ctx, bundle, 0, 1)
	if err != nil {
		return "", err
	}
	if !probe.Exists || probe.Size == 0 {
		return "", nil
	}

	start := probe.Size - maxBytes
	if start < 0 {
		start = 0
	}

	tail, err := c.fetchLog(ctx, bundle, start, probe.Size-start)
	if err != nil {
		return "", err
	}
	return tail.Content, nil
}

func (c *Client) fetchLog(ctx context.Context, bundle string, offset, maxBytes int64) (logResponse, error) {
	url := fmt.Sprintf("%s/runs/%s/log?offset=%s&max_bytes=%s", c.cfg.BaseURL, bundle,
		strconv.FormatInt(offset, 10), strconv.FormatInt(maxBytes, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return logResponse{}, err
	}
	req.Header.Set("X-PitchAI-Dispatch-Token", c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return logResponse{}, fmt.Errorf("log fetch failed: %w", err)
	}
	defer resp.Body.Close()

	var out logResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return logResponse{}, fmt.Errorf("failed to decode log response: %w", err)
	}
	return out, nil
}
