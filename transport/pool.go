package transport

import (
	"errors"
	"sync"

	"go.uber.org/multierr"
	"google.golang.org/grpc"
)

var ErrTransportClosed = errors.New("transport: closed")

// connPool keeps one ClientConn per address. Conns are created lazily on the
// first call to an address and shared by every call after it; a ClientConn
// already multiplexes calls over its HTTP/2 connection.
type connPool struct {
	mu     sync.Mutex
	conns  map[string]*grpc.ClientConn
	dial   func(addr string) (*grpc.ClientConn, error)
	closed bool
}

func newConnPool(dial func(addr string) (*grpc.ClientConn, error)) *connPool {
	return &connPool{
		conns: make(map[string]*grpc.ClientConn),
		dial:  dial,
	}
}

// Get returns the conn for addr, creating it if needed.
func (p *connPool) Get(addr string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrTransportClosed
	}
	if cc, ok := p.conns[addr]; ok {
		return cc, nil
	}
	// grpc.NewClient does not connect, so holding the lock here is cheap
	cc, err := p.dial(addr)
	if err != nil {
		return nil, err
	}
	p.conns[addr] = cc
	return cc, nil
}

// Each calls fn for every cached conn.
func (p *connPool) Each(fn func(addr string, cc *grpc.ClientConn)) {
	p.mu.Lock()
	snapshot := make(map[string]*grpc.ClientConn, len(p.conns))
	for addr, cc := range p.conns {
		snapshot[addr] = cc
	}
	p.mu.Unlock()
	for addr, cc := range snapshot {
		fn(addr, cc)
	}
}

// Drain closes and forgets every cached conn. The pool stays usable and
// redials on the next Get.
func (p *connPool) Drain() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*grpc.ClientConn)
	p.mu.Unlock()

	var err error
	for _, cc := range conns {
		err = multierr.Append(err, cc.Close())
	}
	return err
}

// Close drains the pool and rejects further Gets. Calling it twice is fine.
func (p *connPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.Drain()
}

func (p *connPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
