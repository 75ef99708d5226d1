package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Instance is one sandboxed resolver guest (a single WASM linear memory
// and its exported guest_resolve/guest_resolve_with_sticky/
// guest_set_resolver_state/guest_flush_logs functions). Guests are
// single-threaded-cooperative: only one call may be in flight against a
// given Instance at a time.
type Instance interface {
	Resolve(ctx context.Context, req []byte) ([]byte, error)
	ResolveWithSticky(ctx context.Context, req []byte) ([]byte, error)
	InstallState(ctx context.Context, state []byte) error
	FlushLogs(ctx context.Context) ([]byte, error)
}

// ErrPoolClosed is returned by any InstancePool method called after Close.
var ErrPoolClosed = errors.New("instance pool is closed")

// slot pairs one Instance with the lock that serializes access to it. A
// resolve takes the slot's own lock; state
// install and log flush take every slot's lock, always in ascending slot
// index order, so a maintenance call can never deadlock against a
// concurrent resolve or another maintenance call racing to lock the same
// two slots in opposite orders.
type slot struct {
	mu       sync.Mutex
	instance Instance
}

// InstancePool round-robins resolves across a fixed set of guest
// instances and serializes maintenance operations (state install, log
// flush) across all of them at once. It is adapted from the
// connection-pool acquire/release/reaper shape: a resolve is an acquire
// immediately followed by a release, and there is no idle reaping because
// every instance lives for the pool's whole lifetime.
type InstancePool struct {
	slots  []*slot
	next   uint64
	closed atomic.Bool
}

// NewInstancePool wraps the given instances into a pool. Each Instance
// occupies exactly one slot for the pool's lifetime; the pool never
// creates or destroys instances itself, unlike a network connection pool,
// because a guest instance cannot be cheaply redialed.
func NewInstancePool(instances []Instance) *InstancePool {
	slots := make([]*slot, len(instances))
	for i, inst := range instances {
		slots[i] = &slot{instance: inst}
	}
	return &InstancePool{slots: slots}
}

// Len reports the number of instances in the pool.
func (p *InstancePool) Len() int { return len(p.slots) }

// acquire locks the first free slot, searching from the next slot in
// round-robin order; when every slot is busy it waits on that next slot.
func (p *InstancePool) acquire() (*slot, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if len(p.slots) == 0 {
		return nil, errors.New("instance pool has no instances")
	}
	n := uint64(len(p.slots))
	start := atomic.AddUint64(&p.next, 1)
	for k := uint64(0); k < n; k++ {
		if s := p.slots[(start+k)%n]; s.mu.TryLock() {
			return s, nil
		}
	}
	s := p.slots[start%n]
	s.mu.Lock()
	return s, nil
}

// Resolve dispatches req to the next available instance.
func (p *InstancePool) Resolve(ctx context.Context, req []byte) ([]byte, error) {
	s, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.instance.Resolve(ctx, req)
}

// ResolveWithSticky dispatches req to the next available instance.
func (p *InstancePool) ResolveWithSticky(ctx context.Context, req []byte) ([]byte, error) {
	s, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.instance.ResolveWithSticky(ctx, req)
}

// lockAll acquires every slot's lock in ascending index order and returns
// an unlock function that releases them in reverse order.
func (p *InstancePool) lockAll() func() {
	for _, s := range p.slots {
		s.mu.Lock()
	}
	return func() {
		for i := len(p.slots) - 1; i >= 0; i-- {
			p.slots[i].mu.Unlock()
		}
	}
}

// InstallState pushes a freshly compiled snapshot to every instance in
// the pool under the pool's exclusive maintenance lock. If any instance
// rejects the state, the remaining instances are still attempted so the
// pool does not end up with a mix of old and new state on a partial
// failure path that stops early; all errors are joined.
func (p *InstancePool) InstallState(ctx context.Context, state []byte) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	unlock := p.lockAll()
	defer unlock()

	var errs []error
	for _, s := range p.slots {
		if err := s.instance.InstallState(ctx, state); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FlushLogs drains every instance's log buffer under the pool's exclusive
// maintenance lock and returns each instance's raw flush payload in slot
// order. The host is responsible for decoding and re-chunking the
// combined payload if needed.
func (p *InstancePool) FlushLogs(ctx context.Context) ([][]byte, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	unlock := p.lockAll()
	defer unlock()

	out := make([][]byte, len(p.slots))
	var errs []error
	for i, s := range p.slots {
		payload, err := s.instance.FlushLogs(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[i] = payload
	}
	return out, errors.Join(errs...)
}

// Close marks the pool closed. Subsequent Resolve/ResolveWithSticky/
// InstallState/FlushLogs calls return ErrPoolClosed.
func (p *InstancePool) Close() {
	p.closed.Store(true)
}
