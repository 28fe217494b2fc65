package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// KeyPrefix roots every endpoint entry: /mini-jsonrpc/endpoints/{endpointID}/{addr}.
const KeyPrefix = "/mini-jsonrpc/endpoints/"

// EtcdRegistry implements Registry on etcd v3.
//
// Registration uses TTL-based leases: if a server crashes, its lease expires and the
// entry disappears, so callers never dial a ghost address.
type EtcdRegistry struct {
	client  *clientv3.Client // thread-safe, shared across goroutines
	timeout time.Duration    // per-operation timeout
	logger  *zap.Logger
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, timeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, timeout: timeout, logger: logger}, nil
}

func endpointPrefix(endpointID string) string {
	return KeyPrefix + endpointID + "/"
}

// Register adds an instance under a lease of ttl seconds and keeps the lease alive.
//
// The lease id stays a local variable: one EtcdRegistry may register many instances.
func (r *EtcdRegistry) Register(endpointID string, instance Instance, ttl int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("grant lease for %s: %w", endpointID, err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, endpointPrefix(endpointID)+instance.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return fmt.Errorf("register %s at %s: %w", endpointID, instance.Addr, err)
	}

	// KeepAlive must outlive this call, so it gets its own context.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("endpoint", endpointID), zap.String("addr", instance.Addr))
	}()
	return nil
}

// Deregister removes an instance. Called during graceful shutdown.
func (r *EtcdRegistry) Deregister(endpointID string, addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_, err := r.client.Delete(ctx, endpointPrefix(endpointID)+addr)
	return err
}

// Discover returns every instance currently registered for the endpoint.
func (r *EtcdRegistry) Discover(endpointID string) ([]Instance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	resp, err := r.client.Get(ctx, endpointPrefix(endpointID), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed registry entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, endpointID)
	}
	return instances, nil
}

func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
