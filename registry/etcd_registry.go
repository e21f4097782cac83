package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// KeyPrefix roots every key the registry writes:
//
//	/grpcbridge/{service}/{addr} → JSON ServiceInstance
const KeyPrefix = "/grpcbridge/"

// EtcdRegistry implements Registry on etcd v3. Registrations are attached to
// a TTL lease that is kept alive in the background.
type EtcdRegistry struct {
	client *clientv3.Client
	logger *zap.Logger
}

// NewEtcdRegistry connects to the given endpoints. A nil logger disables logging.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	return &EtcdRegistry{client: c, logger: logger}, nil
}

func instanceKey(service, addr string) string {
	return KeyPrefix + service + "/" + addr
}

func servicePrefix(service string) string {
	return KeyPrefix + service + "/"
}

// Register stores instance under a lease of ttl seconds and keeps the lease
// alive until ctx is done or the client is closed.
func (r *EtcdRegistry) Register(ctx context.Context, service string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	if _, err := r.client.Put(ctx, instanceKey(service, instance.Addr), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", instance.Addr, err)
	}

	// the keepalive must outlive a request-scoped ctx
	ch, err := r.client.KeepAlive(context.WithoutCancel(ctx), lease.ID)
	if err != nil {
		return fmt.Errorf("registry: keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("service", service), zap.String("addr", instance.Addr))
	}()
	return nil
}

func (r *EtcdRegistry) Deregister(ctx context.Context, service string, addr string) error {
	if _, err := r.client.Delete(ctx, instanceKey(service, addr)); err != nil {
		return fmt.Errorf("registry: delete %s: %w", addr, err)
	}
	return nil
}

// Watch re-reads the instance list on every change under the service prefix.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, servicePrefix(service), clientv3.WithPrefix()) {
			instances, err := r.Discover(ctx, service)
			if err != nil && err != ErrNoInstances {
				r.logger.Warn("watch discover failed", zap.String("service", service), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: get %s: %w", service, err)
	}
	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	return instances, nil
}

func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
