// Package capability owns the declarative binding between host
// functions a sandboxed component may call and the exports it must
// provide, per supported interface.
//
// Ownership boundary:
//   - host-function registration into the engine (log, send)
//   - required-export discovery and signature validation at startup
//   - interface-name matching against the manifest
//
// The set of capabilities is closed: Base is always active, HTTP is
// additive when the manifest declares its interface.
package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/danmuck/actorctl/internal/chain"
	"github.com/danmuck/actorctl/internal/manifest"
	"github.com/danmuck/actorctl/internal/observability"
	"github.com/danmuck/actorctl/internal/value"
)

var (
	ErrExportNotFound    = errors.New("capability: required export not found")
	ErrSignatureMismatch = errors.New("capability: export signature mismatch")
)

// Export is one guest function the component host must be able to call:
// the short field name plus the full export name carrying the interface
// namespace (component-model style, "<interface>#<field>").
type Export struct {
	Field string
	Name  string
}

// CompiledComponent is the slice of wazero.CompiledModule the registry
// needs for export discovery.
type CompiledComponent interface {
	ExportedFunctions() map[string]api.FunctionDefinition
}

// Capability describes one supported interface: the host functions it
// injects and the exports it requires.
type Capability interface {
	// InterfaceName is the canonical identifier matched against the
	// manifest and used to namespace the guest's exports.
	InterfaceName() string

	// SetupHostFunctions registers this capability's host namespace
	// into the runtime before any sandbox is instantiated.
	SetupHostFunctions(ctx context.Context, runtime wazero.Runtime) error

	// Exports resolves the ordered list of required guest exports,
	// validating presence and signatures. Failures here are startup
	// failures, not per-call failures.
	Exports(component CompiledComponent) ([]Export, error)
}

// Deliverer performs best-effort outbound delivery of a send payload.
type Deliverer interface {
	Deliver(ctx context.Context, address string, payload value.Value) error
}

// HostContext carries the shared collaborators host functions close
// over: the audit chain, the outbound deliverer, and the logger.
type HostContext struct {
	Chain   *chain.Emitter
	Deliver Deliverer
	Logger  zerolog.Logger
}

// Resolve returns the active capabilities for a manifest: Base
// unconditionally, HTTP iff its interface is declared.
func Resolve(m manifest.Manifest, hostCtx *HostContext) []Capability {
	caps := []Capability{NewBase(hostCtx)}
	httpCap := NewHTTP(hostCtx)
	if m.Supports(httpCap.InterfaceName()) {
		caps = append(caps, httpCap)
	}
	return caps
}

// expected signatures for the guest export surface. Byte payloads are
// returned as a packed i64 (pointer<<32 | length).
var (
	sigProducer = signature{params: nil, results: []api.ValueType{api.ValueTypeI64}}
	sigHandler  = signature{
		params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
		results: []api.ValueType{api.ValueTypeI64},
	}
)

type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

type requiredExport struct {
	field string
	sig   signature
}

// resolveExports validates each required export under the interface
// namespace and returns them in declaration order.
func resolveExports(component CompiledComponent, iface string, required []requiredExport) ([]Export, error) {
	defs := component.ExportedFunctions()
	exports := make([]Export, 0, len(required))
	for _, req := range required {
		name := iface + "#" + req.field
		def, ok := defs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrExportNotFound, name)
		}
		if !typesEqual(def.ParamTypes(), req.sig.params) || !typesEqual(def.ResultTypes(), req.sig.results) {
			return nil, fmt.Errorf("%w: %s has params %v results %v",
				ErrSignatureMismatch, name, def.ParamTypes(), def.ResultTypes())
		}
		exports = append(exports, Export{Field: req.field, Name: name})
	}
	return exports, nil
}

func typesEqual(got, want []api.ValueType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func componentLogger(hostCtx *HostContext, iface string) zerolog.Logger {
	return observability.Component(hostCtx.Logger, "capability").With().Str("interface", iface).Logger()
}
