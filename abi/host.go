package abi

// HostImports is the set of functions a guest requires its host to
// provide. A real WASM guest binds these to actual
// "env" module imports; an in-process embedding can satisfy the interface
// directly without going through wasmer-go at all.
type HostImports interface {
	// HostCurrentTime returns the current wall-clock time as Unix
	// milliseconds. Guests must not call a system clock directly: WASM
	// sandboxes commonly have no clock import at all, and determinism
	// requires every timestamp to come from the host.
	HostCurrentTime() int64

	// HostCurrentThreadID identifies the calling OS thread, used only for
	// diagnostics (log fields, panic reports); guests must not use it for
	// any evaluation decision.
	HostCurrentThreadID() uint64
}
