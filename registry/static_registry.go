package registry

import (
	"fmt"
	"sync"
)

// StaticRegistry keeps endpoint instances in memory. It backs fixed deployments
// configured by address and tests. TTLs are ignored.
type StaticRegistry struct {
	mu        sync.RWMutex
	instances map[string][]Instance
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{instances: make(map[string][]Instance)}
}

// Register adds or replaces the instance with the same address.
func (r *StaticRegistry) Register(endpointID string, instance Instance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts := r.instances[endpointID]
	for i, inst := range insts {
		if inst.Addr == instance.Addr {
			insts[i] = instance
			return nil
		}
	}
	r.instances[endpointID] = append(insts, instance)
	return nil
}

func (r *StaticRegistry) Deregister(endpointID string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts := r.instances[endpointID]
	for i, inst := range insts {
		if inst.Addr == addr {
			r.instances[endpointID] = append(insts[:i:i], insts[i+1:]...)
			break
		}
	}
	if len(r.instances[endpointID]) == 0 {
		delete(r.instances, endpointID)
	}
	return nil
}

// Discover returns a copy of the endpoint's instances.
func (r *StaticRegistry) Discover(endpointID string) ([]Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	insts := r.instances[endpointID]
	if len(insts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, endpointID)
	}
	return append([]Instance(nil), insts...), nil
}
