package monitord

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"go.uber.org/zap"
	"sentryfleet/internal/logger"
)

// Coordinator shards domains across monitor instances using consistent hashing.
// With a single instance (no etcd endpoints configured) it assigns everything
// to that instance, preserving the default single-process behavior.
type Coordinator struct {
	registry *Registry

	instanceID string

	mu        sync.RWMutex
	instances []string

	assignmentChangeChan chan struct{}
}

// NewCoordinator creates a new domain-assignment coordinator.
func NewCoordinator(registry *Registry) *Coordinator {
	return &Coordinator{
		registry:             registry,
		instanceID:           registry.GetInstanceID(),
		instances:            []string{registry.GetInstanceID()},
		assignmentChangeChan: make(chan struct{}, 1),
	}
}

// Start begins watching for instance changes and updating assignments.
func (c *Coordinator) Start(ctx context.Context) error {
	instancesChan, err := c.registry.WatchInstances(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch instances: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case instanceIDs, ok := <-instancesChan:
				if !ok {
					return
				}
				c.updateInstances(instanceIDs)
			}
		}
	}()

	return nil
}

// ShouldMonitor reports whether this instance owns the given domain.
// Uses consistent hashing: hash(domain) % totalInstances == currentInstanceIndex.
func (c *Coordinator) ShouldMonitor(domain string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.instances) == 0 {
		return false
	}
	if len(c.instances) == 1 {
		return true
	}

	return c.getAssignedInstance(domain) == c.instanceID
}

// GetAssignedDomains returns the subset of allDomains owned by this instance.
func (c *Coordinator) GetAssignedDomains(allDomains []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.instances) == 0 {
		return nil
	}
	if len(c.instances) == 1 {
		return allDomains
	}

	assigned := make([]string, 0, len(allDomains))
	for _, domain := range allDomains {
		if c.getAssignedInstance(domain) == c.instanceID {
			assigned = append(assigned, domain)
		}
	}

	return assigned
}

// AssignmentChanges signals when domain assignments may have changed
// (instances joining or leaving the registry).
func (c *Coordinator) AssignmentChanges() <-chan struct{} {
	return c.assignmentChangeChan
}

// GetInstanceCount returns the current number of registered instances.
func (c *Coordinator) GetInstanceCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instances)
}

func (c *Coordinator) updateInstances(instanceIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sortedInstances := make([]string, len(instanceIDs))
	copy(sortedInstances, instanceIDs)
	sort.Strings(sortedInstances)

	if !instancesEqual(c.instances, sortedInstances) {
		oldCount := len(c.instances)
		c.instances = sortedInstances

		log := logger.NewProductionLogger()
		defer func() { _ = log.Sync() }()
		log.Info("monitor instance list updated",
			zap.Int("instance_count", len(c.instances)),
			zap.Int("previous_count", oldCount),
			zap.Strings("instances", c.instances))

		select {
		case c.assignmentChangeChan <- struct{}{}:
		default:
		}
	}
}

// getAssignedInstance returns the instance ID that owns the given domain.
// Must be called with the read lock held.
func (c *Coordinator) getAssignedInstance(domain string) string {
	if len(c.instances) == 0 {
		return ""
	}

	h := fnv.New64a()
	h.Write([]byte(domain))
	hash := h.Sum64()

	index := int(hash % uint64(len(c.instances)))
	return c.instances[index]
}

// GetAssignmentStats returns the distribution of domains across instances.
func (c *Coordinator) GetAssignmentStats(allDomains []string) map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make(map[string]int)
	for _, instanceID := range c.instances {
		stats[instanceID] = 0
	}

	for _, domain := range allDomains {
		stats[c.getAssignedInstance(domain)]++
	}

	return stats
}

func instancesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
