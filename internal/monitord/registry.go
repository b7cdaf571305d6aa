package monitord

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"sentryfleet/internal/etcd"
	"sentryfleet/internal/logger"
)

const instancePrefix = "/sentryfleet/monitor/instances/"

// RegistryConfig controls how a monitor instance registers itself for
// consistent-hash domain sharding. Endpoints is left empty to run as a
// single, unsharded instance (the default when etcd is not configured).
type RegistryConfig struct {
	Endpoints         []string
	HeartbeatInterval time.Duration
	LeaseTTLSeconds   int64
}

// Registry registers this monitor instance in etcd and watches for
// sibling instances joining or leaving, so Coordinator can reshard domains.
type Registry struct {
	client     *etcd.Client
	instanceID string

	heartbeatInterval time.Duration
	leaseTTL          int64
}

// NewRegistry creates a registry backed by etcd. If cfg.Endpoints is empty,
// the returned Registry has no client and behaves as a single fixed instance.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	instanceID := generateInstanceID()

	if len(cfg.Endpoints) == 0 {
		return &Registry{instanceID: instanceID}, nil
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat == 0 {
		heartbeat = 10 * time.Second
	}
	leaseTTL := cfg.LeaseTTLSeconds
	if leaseTTL == 0 {
		leaseTTL = 30
	}

	cli, err := etcd.NewClient(etcd.Config{Endpoints: cfg.Endpoints})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client for monitor registry: %w", err)
	}

	return &Registry{
		client:            cli,
		instanceID:        instanceID,
		heartbeatInterval: heartbeat,
		leaseTTL:          leaseTTL,
	}, nil
}

// GetInstanceID returns this process's stable identifier within the registry.
func (r *Registry) GetInstanceID() string {
	return r.instanceID
}

// Register announces this instance's presence and maintains its lease until
// ctx is cancelled. It blocks until the initial registration succeeds, then
// keeps the lease alive in the background. Single-instance mode is a no-op.
func (r *Registry) Register(ctx context.Context) error {
	if r.client == nil {
		return nil
	}

	log := logger.WithComponent(ctx, "monitor-registry")
	l := logger.GetLogger(log)

	leaseID, err := r.client.GrantLease(ctx, r.leaseTTL)
	if err != nil {
		return fmt.Errorf("failed to grant registry lease: %w", err)
	}

	key := instancePrefix + r.instanceID
	if err := r.client.PutWithLease(ctx, key, time.Now().UTC().Format(time.RFC3339), leaseID); err != nil {
		return fmt.Errorf("failed to register instance %s: %w", r.instanceID, err)
	}

	keepAlive, err := r.client.KeepAlive(ctx, leaseID)
	if err != nil {
		return fmt.Errorf("failed to start lease keep-alive: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-keepAlive:
				if !ok {
					l.Warn("registry lease keep-alive channel closed, instance may be deregistered")
					return
				}
				if resp == nil {
					l.Warn("registry lease expired")
					return
				}
			}
		}
	}()

	l.Info("registered monitor instance", zap.String("instance_id", r.instanceID))
	return nil
}

// WatchInstances returns a channel that emits the full list of registered
// instance IDs whenever the set changes. In single-instance mode it emits
// once with just this instance's ID and then the channel stays open but idle.
func (r *Registry) WatchInstances(ctx context.Context) (<-chan []string, error) {
	out := make(chan []string, 1)

	if r.client == nil {
		out <- []string{r.instanceID}
		return out, nil
	}

	initial, err := r.listInstances(ctx)
	if err != nil {
		return nil, err
	}
	out <- initial

	watchChan := r.client.Watch(ctx, instancePrefix, clientv3.WithPrefix())

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-watchChan:
				if !ok {
					return
				}
				if resp.Err() != nil {
					continue
				}
				ids, err := r.listInstances(ctx)
				if err != nil {
					continue
				}
				select {
				case out <- ids:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *Registry) listInstances(ctx context.Context) ([]string, error) {
	kvs, err := r.client.GetWithPrefix(ctx, instancePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitor instances: %w", err)
	}

	ids := make([]string, 0, len(kvs))
	for key := range kvs {
		ids = append(ids, strings.TrimPrefix(key, instancePrefix))
	}
	return ids, nil
}

// Close releases the underlying etcd client, if any.
func (r *Registry) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func generateInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "monitor"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
