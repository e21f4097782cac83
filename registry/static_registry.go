package registry

import (
	"context"
	"sync"
)

// StaticRegistry keeps instances in memory. TTLs are ignored.
type StaticRegistry struct {
	mu       sync.RWMutex
	services map[string][]ServiceInstance
	watchers map[string][]chan []ServiceInstance
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		services: make(map[string][]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

// NewHostRegistry returns a registry that answers every service with the
// single address host.
func NewHostRegistry(host string) *StaticRegistry {
	r := NewStaticRegistry()
	r.services["*"] = []ServiceInstance{{Addr: host, Weight: 1}}
	return r
}

func (r *StaticRegistry) Register(ctx context.Context, service string, instance ServiceInstance, ttl int64) error {
	r.mu.Lock()
	list := r.services[service]
	replaced := false
	for i := range list {
		if list[i].Addr == instance.Addr {
			list[i] = instance
			replaced = true
		}
	}
	if !replaced {
		list = append(list, instance)
	}
	r.services[service] = list
	r.mu.Unlock()
	r.notify(service)
	return nil
}

func (r *StaticRegistry) Deregister(ctx context.Context, service string, addr string) error {
	r.mu.Lock()
	list := r.services[service]
	kept := list[:0]
	for _, inst := range list {
		if inst.Addr != addr {
			kept = append(kept, inst)
		}
	}
	if len(kept) == 0 {
		delete(r.services, service)
	} else {
		r.services[service] = kept
	}
	r.mu.Unlock()
	r.notify(service)
	return nil
}

// Discover falls back to the "*" entry when service has no instances of its own.
func (r *StaticRegistry) Discover(ctx context.Context, service string) ([]ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.services[service]
	if len(list) == 0 {
		list = r.services["*"]
	}
	if len(list) == 0 {
		return nil, ErrNoInstances
	}
	out := make([]ServiceInstance, len(list))
	copy(out, list)
	return out, nil
}

func (r *StaticRegistry) Watch(ctx context.Context, service string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	r.mu.Lock()
	r.watchers[service] = append(r.watchers[service], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[service]
		for i, w := range ws {
			if w == ch {
				r.watchers[service] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notify delivers the latest list; a watcher that has not drained the
// previous update gets it replaced.
func (r *StaticRegistry) notify(service string) {
	instances, _ := r.Discover(context.Background(), service)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.watchers[service] {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- instances:
		default:
		}
	}
}
