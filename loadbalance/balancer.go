// Package loadbalance picks which registered instance serves an endpoint.
//
// An endpoint may be served by several addresses. A connection is opened to one of them
// and reused until it breaks, so the choice is made once per connection, not per call:
//   - RoundRobin:      spread endpoints evenly over equal-capacity instances
//   - WeightedRandom:  heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  the same endpoint lands on the same instance across reconnects
package loadbalance

import (
	"errors"
	"fmt"
	"mini-jsonrpc/registry"
)

var ErrNoInstances = errors.New("no instances available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance for key (the endpoint id). Must be goroutine-safe.
	Pick(key string, instances []registry.Instance) (*registry.Instance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin", "RoundRobin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random", "WeightedRandom":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash", "ConsistentHash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("unknown balancer %q", name)
}
