package wasm

import "errors"

var (
	// ErrSandboxLoad covers bad component bytes or missing host
	// linkage. Fatal at startup.
	ErrSandboxLoad = errors.New("wasm: component load failed")

	// ErrTrap is a sandbox-internal abort mid-call. Recovered at the
	// per-message boundary; state is never committed.
	ErrTrap = errors.New("wasm: sandbox trap")

	// ErrUnsupportedCapability is an HTTP invocation against a
	// component that did not declare the HTTP interface.
	ErrUnsupportedCapability = errors.New("wasm: capability not declared by component")
)
