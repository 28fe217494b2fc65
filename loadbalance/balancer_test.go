package loadbalance

import (
	"fmt"
	"mini-jsonrpc/registry"
	"testing"
)

var testInstances = []registry.Instance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick("ep", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr
	}
	if results[0] == results[1] || results[1] == results[2] {
		t.Fatalf("expect distinct picks, got %v", results)
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick("ep", testInstances)
	if inst.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.Addr)
	}
}

func TestEmptyInstances(t *testing.T) {
	for _, name := range []string{"round_robin", "weighted_random", "consistent_hash"} {
		b, err := New(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := b.Pick("ep", nil); err != ErrNoInstances {
			t.Fatalf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
	if _, err := New("random"); err == nil {
		t.Fatal("expect error for unknown balancer")
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick("ep", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	inst, err := b.Pick("ep", []registry.Instance{{Addr: ":9001"}})
	if err != nil {
		t.Fatal(err)
	}
	if inst.Addr != ":9001" {
		t.Fatalf("expect :9001, got %s", inst.Addr)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	// Same key should always map to the same instance
	inst1, _ := b.Pick("workspace-agent-1", testInstances)
	inst2, _ := b.Pick("workspace-agent-1", testInstances)
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	// Order of the instance list must not matter
	reversed := []registry.Instance{testInstances[2], testInstances[1], testInstances[0]}
	inst3, _ := b.Pick("workspace-agent-1", reversed)
	if inst3.Addr != inst1.Addr {
		t.Fatalf("instance order changed the pick: %s vs %s", inst3.Addr, inst1.Addr)
	}

	// With 100 different keys and 3 nodes, we should hit at least 2
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("key-%d", i), testInstances)
		seen[inst.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashRebuildsOnChange(t *testing.T) {
	b := NewConsistentHashBalancer()
	for i := 0; i < 50; i++ {
		if _, err := b.Pick(fmt.Sprintf("key-%d", i), testInstances); err != nil {
			t.Fatal(err)
		}
	}

	only := []registry.Instance{{Addr: ":9999"}}
	for i := 0; i < 50; i++ {
		inst, err := b.Pick(fmt.Sprintf("key-%d", i), only)
		if err != nil {
			t.Fatal(err)
		}
		if inst.Addr != ":9999" {
			t.Fatalf("expect :9999 after the instance set changed, got %s", inst.Addr)
		}
	}
}
