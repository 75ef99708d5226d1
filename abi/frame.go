package abi

import (
	"context"

	"confidence-resolver/wire"
)

// The Frame* methods implement the sandbox calling convention exactly as
// a host sees it: every call passes one buffer whose little-endian u32
// total length sits just before the payload, the payload is a
// wire.Request envelope, and the return buffer is a wire.Response
// envelope framed the same way. No call ever returns a Go error: a bad
// frame or envelope, a failed state install or log flush, and a panic
// inside the resolver all become Response.error so the host can treat the
// instance as tainted and replace it. Request-level resolve failures (a
// resolve request that does not decode, an unknown client secret) are
// instead carried in the resolve response's own Error field.
//
// Returned buffers live in the guest's arena until Free is called,
// mirroring the exported free entry point.

// FrameSetResolverState implements guest_set_resolver_state.
func (g *Guest) FrameSetResolverState(ctx context.Context, frame []byte) []byte {
	return g.dispatch(frame, func(payload []byte) ([]byte, error) {
		return nil, g.GuestSetResolverState(ctx, payload)
	})
}

// FrameResolve implements guest_resolve.
func (g *Guest) FrameResolve(ctx context.Context, frame []byte) []byte {
	return g.dispatch(frame, func(payload []byte) ([]byte, error) {
		return g.GuestResolve(ctx, payload)
	})
}

// FrameResolveWithSticky implements guest_resolve_with_sticky.
func (g *Guest) FrameResolveWithSticky(ctx context.Context, frame []byte) []byte {
	return g.dispatch(frame, func(payload []byte) ([]byte, error) {
		return g.GuestResolveWithSticky(ctx, payload)
	})
}

// FrameFlushLogs implements guest_flush_logs. It takes no request; the
// response data is the raw concatenation of length-prefixed
// WriteFlagLogsRequest chunks, still wrapped in the Response envelope.
func (g *Guest) FrameFlushLogs(ctx context.Context) []byte {
	payload, err := g.GuestFlushLogs(ctx)
	return g.respond(payload, err)
}

// Free releases every buffer returned by the Frame* methods since the
// last Free, mirroring the exported free entry point.
func (g *Guest) Free() {
	g.arena.Free()
}

// dispatch unwraps one framed Request, runs op on its payload, and wraps
// the result into a framed Response.
func (g *Guest) dispatch(frame []byte, op func(payload []byte) ([]byte, error)) []byte {
	payload, err := wire.DecodeFrame(frame)
	if err != nil {
		return g.respond(nil, err)
	}
	var req wire.Request
	if err := req.Unmarshal(payload); err != nil {
		return g.respond(nil, wire.ErrMalformedEnvelope)
	}
	out, err := op(req.Data)
	return g.respond(out, err)
}

// respond wraps (data, err) into a framed Response held in the guest's
// arena.
func (g *Guest) respond(data []byte, err error) []byte {
	resp := wire.Response{Data: data}
	if err != nil {
		resp = wire.Response{Error: err.Error()}
	}
	encoded, merr := resp.Marshal()
	if merr != nil {
		encoded, _ = (&wire.Response{Error: merr.Error()}).Marshal()
	}
	frame := wire.EncodeFrame(encoded)
	out := g.arena.Alloc(len(frame))
	copy(out, frame)
	return out
}
