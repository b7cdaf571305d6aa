// Package dockerhealth watches a set of containers over the Docker Engine
// unix socket and reports per-container health for the monitor's
// container_health signal, using only the read-only inspect/list surface
// this signal needs.
package dockerhealth

import (
	"context"
	"fmt"
	"regexp"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// Config selects which containers to watch.
type Config struct {
	SocketPath          string
	IncludeNamePatterns []string
	ExcludeNamePatterns []string
	MonitorAll          bool
}

// Client wraps a Docker Engine client scoped to container-health reads.
type Client struct {
	cli     *client.Client
	include []*regexp.Regexp
	exclude []*regexp.Regexp
	all     bool
}

// NewClient dials the Docker Engine over its unix socket.
func NewClient(cfg Config) (*Client, error) {
	host := "unix:///var/run/docker.sock"
	if cfg.SocketPath != "" {
		host = "unix://" + cfg.SocketPath
	}

	cli, err := client.NewClientWithOpts(client.WithHost(host), client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	include, err := compileAll(cfg.IncludeNamePatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid include_name_patterns: %w", err)
	}
	exclude, err := compileAll(cfg.ExcludeNamePatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude_name_patterns: %w", err)
	}

	return &Client{cli: cli, include: include, exclude: exclude, all: cfg.MonitorAll}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// Close releases the underlying Docker client.
func (c *Client) Close() error {
	return c.cli.Close()
}

// ContainerSnapshot is the previous-cycle state kept to detect restart-count
// increases and to suppress the sticky OOMKilled flag.
type ContainerSnapshot struct {
	RestartCount int
}

// ContainerOutcome is one container's health verdict for this cycle.
type ContainerOutcome struct {
	Name         string
	Running      bool
	HealthStatus string // "", "healthy", "unhealthy", "starting"
	RestartCount int
	OOMKilled    bool
	Bad          bool
	Reason       string
}

// CheckAll lists and inspects every container that matches the configured
// include/exclude filters (or all, if MonitorAll), comparing restart counts
// against prevSnapshots to detect new restarts.
func (c *Client) CheckAll(ctx context.Context, prevSnapshots map[string]ContainerSnapshot) ([]ContainerOutcome, map[string]ContainerSnapshot, error) {
	listFilters := filters.NewArgs()
	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: listFilters})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var outcomes []ContainerOutcome
	nextSnapshots := make(map[string]ContainerSnapshot, len(containers))

	for _, summary := range containers {
		name := primaryName(summary.Names)
		if !c.matches(name) {
			continue
		}

		inspect, err := c.cli.ContainerInspect(ctx, summary.ID)
		if err != nil {
			outcomes = append(outcomes, ContainerOutcome{Name: name, Bad: true, Reason: fmt.Sprintf("inspect failed: %v", err)})
			continue
		}

		outcome := ContainerOutcome{Name: name, Running: inspect.State.Running}

		if inspect.State.Health != nil {
			outcome.HealthStatus = inspect.State.Health.Status
		}
		if inspect.RestartCount > 0 {
			outcome.RestartCount = inspect.RestartCount
		}
		outcome.OOMKilled = inspect.State.OOMKilled

		nextSnapshots[name] = ContainerSnapshot{RestartCount: outcome.RestartCount}

		prev, hadPrev := prevSnapshots[name]
		outcome.Bad, outcome.Reason = evaluateHealth(outcome, hadPrev, prev.RestartCount)

		outcomes = append(outcomes, outcome)
	}

	return outcomes, nextSnapshots, nil
}

// evaluateHealth is the pure decision logic behind CheckAll's per-container
// verdict, factored out so it is directly testable without a Docker daemon.
func evaluateHealth(o ContainerOutcome, hadPrevSnapshot bool, prevRestartCount int) (bad bool, reason string) {
	restartIncreased := hadPrevSnapshot && o.RestartCount > prevRestartCount

	// Docker never clears OOMKilled once set; a currently-running,
	// currently-healthy container with a stale OOMKilled flag is not bad.
	stickyOOM := o.OOMKilled && o.Running && (o.HealthStatus == "" || o.HealthStatus == "healthy")

	switch {
	case !o.Running:
		return true, "container not running"
	case o.HealthStatus != "" && o.HealthStatus != "healthy":
		return true, fmt.Sprintf("health status is %q", o.HealthStatus)
	case restartIncreased:
		return true, fmt.Sprintf("restart count increased to %d", o.RestartCount)
	case o.OOMKilled && !stickyOOM:
		return true, "container was OOM killed"
	default:
		return false, ""
	}
}

func (c *Client) matches(name string) bool {
	for _, re := range c.exclude {
		if re.MatchString(name) {
			return false
		}
	}
	if c.all {
		return true
	}
	if len(c.include) == 0 {
		return false
	}
	for _, re := range c.include {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func primaryName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	name := names[0]
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	return name
}
