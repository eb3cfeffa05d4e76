// Package wasm owns the component host: it loads a compiled component,
// wires the active capabilities' host functions into one engine, and
// exposes typed invocation entry points.
//
// Every invocation instantiates a fresh sandbox bound to the same
// compiled component; state is serialized in and out on each call, so
// the sandbox instance is disposable and the actor runtime remains the
// sole durability boundary.
package wasm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/danmuck/actorctl/internal/capability"
	"github.com/danmuck/actorctl/internal/observability"
	"github.com/danmuck/actorctl/internal/value"
)

// Host runs requests against the sandboxed component. Immutable after
// construction and safe for concurrent use: each invocation gets its
// own sandbox instance.
type Host struct {
	runtime      wazero.Runtime
	compiled     wazero.CompiledModule
	exports      map[string]map[string]string
	supportsHTTP bool
	logger       zerolog.Logger
}

// Config assembles a Host.
type Config struct {
	// Component is the compiled component binary.
	Component []byte

	// Capabilities are the active capability set, Base first.
	Capabilities []capability.Capability

	Logger zerolog.Logger
}

// NewHost compiles the component, registers every capability's host
// functions, and validates the required export surface. All failures
// here are startup failures.
func NewHost(ctx context.Context, cfg Config) (*Host, error) {
	runtime := wazero.NewRuntime(ctx)

	host := &Host{
		runtime: runtime,
		exports: make(map[string]map[string]string),
		logger:  observability.Component(cfg.Logger, "wasm"),
	}

	for _, c := range cfg.Capabilities {
		if err := c.SetupHostFunctions(ctx, runtime); err != nil {
			runtime.Close(ctx)
			return nil, fmt.Errorf("%w: host functions for %s: %v", ErrSandboxLoad, c.InterfaceName(), err)
		}
	}

	compiled, err := runtime.CompileModule(ctx, cfg.Component)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("%w: %v", ErrSandboxLoad, err)
	}
	host.compiled = compiled

	if err := validateMemoryABI(compiled); err != nil {
		runtime.Close(ctx)
		return nil, err
	}

	for _, c := range cfg.Capabilities {
		exports, err := c.Exports(compiled)
		if err != nil {
			runtime.Close(ctx)
			return nil, err
		}
		byField := make(map[string]string, len(exports))
		for _, export := range exports {
			byField[export.Field] = export.Name
		}
		host.exports[c.InterfaceName()] = byField
		if c.InterfaceName() == capability.HTTPInterface {
			host.supportsHTTP = true
		}
	}

	return host, nil
}

// validateMemoryABI checks the exports the byte-passing convention
// depends on: a linear memory named "memory" and an "alloc" function
// the host calls to place inputs.
func validateMemoryABI(compiled wazero.CompiledModule) error {
	if _, ok := compiled.ExportedMemories()["memory"]; !ok {
		return fmt.Errorf("%w: component does not export memory", ErrSandboxLoad)
	}
	alloc, ok := compiled.ExportedFunctions()["alloc"]
	if !ok {
		return fmt.Errorf("%w: component does not export alloc", ErrSandboxLoad)
	}
	params, results := alloc.ParamTypes(), alloc.ResultTypes()
	if len(params) != 1 || params[0] != api.ValueTypeI32 || len(results) != 1 || results[0] != api.ValueTypeI32 {
		return fmt.Errorf("%w: alloc has params %v results %v", capability.ErrSignatureMismatch, params, results)
	}
	return nil
}

// SupportsHTTP reports whether the HTTP capability is active.
func (h *Host) SupportsHTTP() bool {
	return h.supportsHTTP
}

// Close releases the engine. In-flight invocations must have finished.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// Init invokes the component's init export and decodes the returned
// payload as the actor's first state.
func (h *Host) Init(ctx context.Context) (value.Value, error) {
	data, err := h.invoke(ctx, capability.BaseInterface, "init", nil)
	if err != nil {
		return nil, err
	}
	state, err := value.Decode(data)
	if err != nil {
		return nil, err
	}
	h.logger.Debug().Msg("component initialized")
	return state, nil
}

// Handle encodes the message and current state, invokes the handle
// export in a fresh sandbox, and decodes the returned envelope into
// the component's computed output and the replacement state.
func (h *Host) Handle(ctx context.Context, msg, state value.Value) (value.Value, value.Value, error) {
	msgBytes, err := value.Encode(msg)
	if err != nil {
		return nil, nil, err
	}
	stateBytes, err := value.Encode(state)
	if err != nil {
		return nil, nil, err
	}
	data, err := h.invoke(ctx, capability.BaseInterface, "handle", [][]byte{msgBytes, stateBytes})
	if err != nil {
		return nil, nil, err
	}
	return decodeHandleEnvelope(data)
}

// HandleHTTP invokes the handle-http export. Fails with
// ErrUnsupportedCapability when the manifest did not declare the HTTP
// interface.
func (h *Host) HandleHTTP(ctx context.Context, request HTTPRequest, state value.Value) (HTTPResponse, value.Value, error) {
	if !h.supportsHTTP {
		return HTTPResponse{}, nil, ErrUnsupportedCapability
	}
	requestBytes, err := value.Encode(request)
	if err != nil {
		return HTTPResponse{}, nil, err
	}
	stateBytes, err := value.Encode(state)
	if err != nil {
		return HTTPResponse{}, nil, err
	}
	data, err := h.invoke(ctx, capability.HTTPInterface, "handle-http", [][]byte{requestBytes, stateBytes})
	if err != nil {
		return HTTPResponse{}, nil, err
	}
	return decodeHTTPEnvelope(data)
}

// Contracts invokes the component's contract exports: the declared
// shapes of its state, messages, and (when HTTP-capable) HTTP surface.
func (h *Host) Contracts(ctx context.Context) (map[string]value.Value, error) {
	contracts := map[string]struct{ iface, field string }{
		"state":   {capability.BaseInterface, "state-contract"},
		"message": {capability.BaseInterface, "message-contract"},
	}
	if h.supportsHTTP {
		contracts["http"] = struct{ iface, field string }{capability.HTTPInterface, "http-contract"}
	}

	out := make(map[string]value.Value, len(contracts))
	for name, export := range contracts {
		data, err := h.invoke(ctx, export.iface, export.field, nil)
		if err != nil {
			return nil, fmt.Errorf("%s contract: %w", name, err)
		}
		contract, err := value.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s contract: %w", name, err)
		}
		out[name] = contract
	}
	return out, nil
}

// invoke instantiates a fresh sandbox, writes each byte payload into it
// through alloc, calls the named export, and reads back the packed
// result. The instance is torn down before returning.
func (h *Host) invoke(ctx context.Context, iface, field string, payloads [][]byte) (_ []byte, err error) {
	name, err := h.exportName(iface, field)
	if err != nil {
		return nil, err
	}

	// Anonymous instance, no ambient start function: initialization
	// happens only through the init export.
	mod, err := h.runtime.InstantiateModule(ctx, h.compiled,
		wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return nil, fmt.Errorf("%w: instantiate: %v", ErrTrap, err)
	}
	defer mod.Close(ctx)

	params := make([]uint64, 0, len(payloads)*2)
	for _, payload := range payloads {
		ptr, err := writePayload(ctx, mod, payload)
		if err != nil {
			return nil, err
		}
		params = append(params, uint64(ptr), uint64(len(payload)))
	}

	fn := mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", capability.ErrExportNotFound, name)
	}
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTrap, field, err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d results", capability.ErrSignatureMismatch, field, len(results))
	}

	ptr, length := unpackResult(results[0])
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("%w: %s result %d+%d outside sandbox memory", ErrTrap, field, ptr, length)
	}
	// The memory view dies with the instance; copy out.
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (h *Host) exportName(iface, field string) (string, error) {
	byField, ok := h.exports[iface]
	if !ok {
		return "", fmt.Errorf("%w: interface %s", ErrUnsupportedCapability, iface)
	}
	name, ok := byField[field]
	if !ok {
		return "", fmt.Errorf("%w: %s#%s", capability.ErrExportNotFound, iface, field)
	}
	return name, nil
}

// writePayload allocates guest memory and copies the payload into it.
func writePayload(ctx context.Context, mod api.Module, payload []byte) (uint32, error) {
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		return 0, fmt.Errorf("%w: alloc", capability.ErrExportNotFound)
	}
	results, err := alloc.Call(ctx, uint64(len(payload)))
	if err != nil {
		return 0, fmt.Errorf("%w: alloc: %v", ErrTrap, err)
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, payload) {
		return 0, fmt.Errorf("%w: alloc returned %d outside sandbox memory", ErrTrap, ptr)
	}
	return ptr, nil
}

// unpackResult splits the packed i64 return convention:
// pointer in the high 32 bits, length in the low 32.
func unpackResult(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed)
}
