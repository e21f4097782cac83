package loadbalance

import (
	"fmt"
	"testing"

	"grpcbridge/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr
	}
	if results[0] != ":8001" || results[1] != ":8002" || results[2] != ":8003" {
		t.Fatalf("unexpected order %v", results)
	}

	inst, _ := b.Pick("", testInstances)
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
		if _, err := b.Pick("k", nil); err != ErrNoInstances {
			t.Fatalf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
}

func TestUnknownBalancer(t *testing.T) {
	if _, err := New("random_walk"); err == nil {
		t.Fatal("expect error for unknown balancer")
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// weights are 10:5:10, so :8001 should see about twice the traffic of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	inst, err := b.Pick("", []registry.ServiceInstance{{Addr: ":1"}, {Addr: ":2"}})
	if err != nil || inst == nil {
		t.Fatalf("zero weights must still pick, got %v %v", inst, err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	inst1, _ := b.Pick("/example.Examples/SendExampleMessage", testInstances)
	inst2, _ := b.Pick("/example.Examples/SendExampleMessage", testInstances)
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

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
	b.Pick("k", testInstances)

	only := []registry.ServiceInstance{{Addr: ":9000"}}
	for i := 0; i < 20; i++ {
		inst, err := b.Pick(fmt.Sprintf("key-%d", i), only)
		if err != nil {
			t.Fatal(err)
		}
		if inst.Addr != ":9000" {
			t.Fatalf("ring not rebuilt, picked %s", inst.Addr)
		}
	}
}
