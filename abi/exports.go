// Package abi implements the guest side of the embedding ABI:
// the length-prefixed envelope calling convention a WASM guest exposes to
// its host, plus the panic-safety wrapper that guarantees an internal
// panic never crosses the boundary as anything but a Response.error.
package abi

import (
	"context"
	"sync"

	"confidence-resolver/core"
)

// Arena is a trivial bump allocator backing the guest's exported alloc/free
// pair. Real WASM guests cannot rely on a host-visible heap, so the
// host writes request bytes into an Arena-returned offset and the guest
// writes its response into another one; Free resets the arena rather than
// reclaiming individual allocations; a resolve's whole working set is
// thrown away at the end of the call.
type Arena struct {
	mu  sync.Mutex
	buf []byte
	off int
}

// NewArena returns an Arena with the given initial capacity.
func NewArena(capacity int) *Arena {
	return &Arena{buf: make([]byte, capacity)}
}

// Alloc reserves n bytes and returns a slice backed by the arena. It
// grows the underlying buffer if necessary.
func (a *Arena) Alloc(n int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.off+n > len(a.buf) {
		grown := make([]byte, max(len(a.buf)*2, a.off+n))
		copy(grown, a.buf[:a.off])
		a.buf = grown
	}
	out := a.buf[a.off : a.off+n]
	a.off += n
	return out
}

// Free resets the arena, invalidating every slice previously returned by
// Alloc. Guests call this once per resolve, after the response has been
// copied out to the host.
func (a *Arena) Free() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.off = 0
}

// Guest is the panic-safe entry point set a resolver instance exposes to
// the ABI boundary. The Guest* methods operate on bare message payloads;
// the Frame* methods in frame.go add the length-header and
// Request/Response envelope convention a sandboxed host speaks.
type Guest struct {
	resolver *core.Resolver
	arena    *Arena
}

// NewGuest wraps a core.Resolver as a Guest.
func NewGuest(r *core.Resolver) *Guest {
	return &Guest{resolver: r, arena: NewArena(64 << 10)}
}

// BindHost points the guest's clock at the host's current_time import:
// resolve-id timestamps must come from the host, never from a
// system clock the sandbox may not even expose.
func (g *Guest) BindHost(h HostImports) {
	if h != nil {
		g.resolver.SetTimeSource(h.HostCurrentTime)
	}
}

// GuestSetResolverState implements guest_set_resolver_state.
func (g *Guest) GuestSetResolverState(ctx context.Context, envelope []byte) error {
	return safely(func() error {
		return g.resolver.InstallState(ctx, envelope)
	})
}

// GuestResolve implements guest_resolve.
func (g *Guest) GuestResolve(ctx context.Context, envelope []byte) ([]byte, error) {
	var out []byte
	err := safely(func() error {
		resp, err := g.resolver.Resolve(ctx, envelope)
		out = resp
		return err
	})
	return out, err
}

// GuestResolveWithSticky implements guest_resolve_with_sticky.
func (g *Guest) GuestResolveWithSticky(ctx context.Context, envelope []byte) ([]byte, error) {
	var out []byte
	err := safely(func() error {
		resp, err := g.resolver.ResolveWithSticky(ctx, envelope)
		out = resp
		return err
	})
	return out, err
}

// GuestFlushLogs implements guest_flush_logs.
func (g *Guest) GuestFlushLogs(ctx context.Context) ([]byte, error) {
	var out []byte
	err := safely(func() error {
		resp, err := g.resolver.FlushLogs(ctx)
		out = resp
		return err
	})
	return out, err
}

// safely wraps core.SafeCall a second time at the ABI boundary so that
// even a bug in the envelope plumbing itself (as opposed to resolve logic,
// which core.SafeCall already guards) cannot panic across into the host.
func safely(fn func() error) error {
	return core.SafeCall(fn)
}
