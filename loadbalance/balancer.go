// Package loadbalance picks the instance a call is sent to when a service
// has several addresses.
//
//   - RoundRobin:     equal-capacity instances
//   - WeightedRandom: instances of different capacity
//   - ConsistentHash: the same method keeps landing on the same instance
package loadbalance

import (
	"errors"
	"fmt"

	"grpcbridge/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer selects one instance per call. key is the full method path of
// the call; strategies that do not need it ignore it. Implementations must be
// safe for concurrent use.
type Balancer interface {
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)
	Name() string
}

// New builds a balancer by name. An empty name selects round robin.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown balancer %q", name)
}
