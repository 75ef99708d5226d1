// Package hostshim drives a compiled resolver guest module inside a
// wasmer-go sandbox, implementing core.Instance so it can sit in a
// core.InstancePool next to (or instead of) an in-process core.Resolver.
// The host/guest call convention: compile once, instantiate
// per slot, pass data through guest-owned linear memory via exported
// alloc/guest_* functions, read host_* imports back under the "env"
// namespace.
package hostshim

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"

	"confidence-resolver/abi"
	"confidence-resolver/wire"
)

// ErrInstanceClosed is returned by any Runtime method called after Close.
var ErrInstanceClosed = errors.New("WASM instance is closed or being replaced")

// Runtime is one sandboxed resolver guest instance. It satisfies core.Instance.
type Runtime struct {
	log    *logrus.Logger
	engine *wasmer.Engine
	store  *wasmer.Store
	module *wasmer.Module

	instance *wasmer.Instance
	mem      *wasmer.Memory
	closed   bool
}

// hostClock implements abi.HostImports with the wall-clock time; guests
// must never read a system clock themselves.
type hostClock struct{}

func (hostClock) HostCurrentTime() int64      { return time.Now().UnixMilli() }
func (hostClock) HostCurrentThreadID() uint64 { return 0 }

// Compile compiles wasmBytes once; the resulting Module is cheap to
// instantiate repeatedly, once per pool slot, via NewRuntime.
func Compile(wasmBytes []byte) (*wasmer.Module, *wasmer.Engine, *wasmer.Store, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	mod, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, nil, nil, err
	}
	return mod, engine, store, nil
}

// NewRuntime instantiates module into a fresh Runtime with its own linear
// memory, wiring host imports under the "env" namespace.
func NewRuntime(log *logrus.Logger, engine *wasmer.Engine, store *wasmer.Store, module *wasmer.Module, clock abi.HostImports) (*Runtime, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if clock == nil {
		clock = hostClock{}
	}

	imports := registerHost(store, clock)
	instance, err := wasmer.NewInstance(module, imports)
	if err != nil {
		return nil, err
	}
	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, errors.New("hostshim: wasm memory export missing")
	}

	return &Runtime{
		log:      log,
		engine:   engine,
		store:    store,
		module:   module,
		instance: instance,
		mem:      mem,
	}, nil
}

// registerHost converts abi.HostImports into the "env" module's
// host_current_time/host_current_thread_id exports.
func registerHost(store *wasmer.Store, clock abi.HostImports) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	hostCurrentTime := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I64)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			return []wasmer.Value{wasmer.NewI64(clock.HostCurrentTime())}, nil
		},
	)

	hostCurrentThreadID := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I64)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			return []wasmer.Value{wasmer.NewI64(int64(clock.HostCurrentThreadID()))}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_current_time":      hostCurrentTime,
		"host_current_thread_id": hostCurrentThreadID,
	})

	return imports
}

// read copies length bytes out of guest memory starting at ptr.
func (r *Runtime) read(ptr, length int32) []byte {
	data := r.mem.Data()[ptr : ptr+length]
	out := make([]byte, length)
	copy(out, data)
	return out
}

// write reserves room for a framed buffer via the guest's exported alloc
// function, copies the frame in, and returns the payload address: the
// pointer that crosses the boundary, with the length header just before
// it.
func (r *Runtime) write(frame []byte) (ptr int32, err error) {
	alloc, err := r.instance.Exports.GetFunction("alloc")
	if err != nil {
		return 0, err
	}
	raw, err := alloc(int32(len(frame)))
	if err != nil {
		return 0, err
	}
	base, ok := raw.(int32)
	if !ok || base < 0 {
		return 0, errors.New("hostshim: guest alloc returned malformed pointer")
	}
	copy(r.mem.Data()[base:], frame)
	return base + wire.FrameHeaderLen, nil
}

// free releases a boundary buffer via the guest's exported free
// function; the guest owns response buffers until this is called.
func (r *Runtime) free(ptr int32) {
	if fn, err := r.instance.Exports.GetFunction("free"); err == nil {
		_, _ = fn(ptr)
	}
}

// call wraps req into the framed Request envelope, writes it into guest
// memory, invokes the named guest export with the payload pointer, and
// unwraps the framed Response the guest returns: at the returned pointer
// minus four lies the little-endian total length; the payload decodes as
// a Response whose error branch becomes a Go error. A nil req with
// noArgs calls the export with no arguments (guest_flush_logs).
func (r *Runtime) call(name string, req []byte, noArgs bool) ([]byte, error) {
	if r.closed {
		return nil, ErrInstanceClosed
	}
	fn, err := r.instance.Exports.GetFunction(name)
	if err != nil {
		return nil, err
	}

	var result interface{}
	if noArgs {
		result, err = fn()
	} else {
		env, merr := (&wire.Request{Data: req}).Marshal()
		if merr != nil {
			return nil, merr
		}
		ptr, werr := r.write(wire.EncodeFrame(env))
		if werr != nil {
			return nil, werr
		}
		result, err = fn(ptr)
	}
	if err != nil {
		return nil, err
	}

	respPtr, ok := result.(int32)
	if !ok || respPtr < wire.FrameHeaderLen {
		return nil, errors.New("hostshim: guest export returned malformed pointer")
	}
	total := binary.LittleEndian.Uint32(r.read(respPtr-wire.FrameHeaderLen, wire.FrameHeaderLen))
	if total < wire.FrameHeaderLen {
		return nil, wire.ErrMalformedEnvelope
	}
	payload := r.read(respPtr, int32(total)-wire.FrameHeaderLen)
	r.free(respPtr)

	var resp wire.Response
	if err := resp.Unmarshal(payload); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.Data, nil
}

// Resolve implements core.Instance.
func (r *Runtime) Resolve(ctx context.Context, req []byte) ([]byte, error) {
	return r.call("guest_resolve", req, false)
}

// ResolveWithSticky implements core.Instance.
func (r *Runtime) ResolveWithSticky(ctx context.Context, req []byte) ([]byte, error) {
	return r.call("guest_resolve_with_sticky", req, false)
}

// InstallState implements core.Instance.
func (r *Runtime) InstallState(ctx context.Context, state []byte) error {
	_, err := r.call("guest_set_resolver_state", state, false)
	return err
}

// FlushLogs implements core.Instance.
func (r *Runtime) FlushLogs(ctx context.Context) ([]byte, error) {
	return r.call("guest_flush_logs", nil, true)
}

// Close marks the Runtime closed. Subsequent calls return
// ErrInstanceClosed rather than touching freed wasmer resources.
func (r *Runtime) Close() {
	r.closed = true
}
