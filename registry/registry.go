// Package registry resolves a gRPC service name to the addresses serving it.
//
// EtcdRegistry is backed by etcd leases so crashed servers disappear on
// their own. StaticRegistry is an in-memory table, used for a fixed host
// and in tests.
package registry

import (
	"context"
	"errors"
)

// ErrNoInstances is returned by Discover when nothing serves a service.
var ErrNoInstances = errors.New("registry: no instances available")

type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight,omitempty"` // relative share for weighted balancing
	Version string `json:"version,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, service string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, service string, addr string) error
	Discover(ctx context.Context, service string) ([]ServiceInstance, error)
	// Watch emits the full instance list each time it changes, until ctx is done.
	Watch(ctx context.Context, service string) <-chan []ServiceInstance
}
