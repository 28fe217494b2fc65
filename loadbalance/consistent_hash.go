package loadbalance

import (
	"fmt"
	"hash/crc32"
	"mini-jsonrpc/registry"
	"sort"
	"strings"
	"sync"
)

// ConsistentHashBalancer maps endpoint ids to instances using a hash ring, so an
// endpoint keeps landing on the same instance while the instance set is stable, and
// only a fraction of endpoints move when it changes.
//
// Each real instance owns N virtual nodes on the ring; without them a few instances
// may cluster together and take uneven shares.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	                ╲   ╱
type ConsistentHashBalancer struct {
	mu       sync.Mutex
	replicas int                          // Virtual nodes per real instance
	members  string                       // Sorted addresses the ring was built from
	ring     []uint32                     // Sorted hash values on the ring
	nodes    map[uint32]registry.Instance // Hash value → instance
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

// Pick rebuilds the ring when the instance set changed, then finds the first node
// clockwise from the key's hash, wrapping around past the largest.
func (b *ConsistentHashBalancer) Pick(key string, instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if members := membersOf(instances); members != b.members {
		b.rebuild(instances)
		b.members = members
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}

	inst := b.nodes[b.ring[idx]]
	return &inst, nil
}

func (b *ConsistentHashBalancer) rebuild(instances []registry.Instance) {
	b.ring = make([]uint32, 0, len(instances)*b.replicas)
	b.nodes = make(map[uint32]registry.Instance, len(instances)*b.replicas)
	for _, instance := range instances {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.Addr, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = instance
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

func membersOf(instances []registry.Instance) string {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ",")
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
