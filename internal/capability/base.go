package capability

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/danmuck/actorctl/internal/chain"
	"github.com/danmuck/actorctl/internal/observability"
	"github.com/danmuck/actorctl/internal/value"
)

const (
	// BaseInterface is the export namespace every actor implements.
	BaseInterface = "ntwk:simple-actor/actor"

	// baseRuntimeNamespace is the host-function namespace injected for
	// the base interface.
	baseRuntimeNamespace = "ntwk:simple-actor/runtime"

	// EventActorMessage tags chain records produced by the base send.
	EventActorMessage = "actor-message"
)

// Base is the capability every actor gets: log and send host functions
// plus the core export surface.
type Base struct {
	hostCtx *HostContext
	logger  zerolog.Logger
}

func NewBase(hostCtx *HostContext) *Base {
	return &Base{hostCtx: hostCtx, logger: componentLogger(hostCtx, BaseInterface)}
}

func (b *Base) InterfaceName() string {
	return BaseInterface
}

func (b *Base) SetupHostFunctions(ctx context.Context, runtime wazero.Runtime) error {
	_, err := runtime.NewHostModuleBuilder(baseRuntimeNamespace).
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
			hostLog(b.logger, mod, ptr, length)
		}).
		Export("log").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, addrPtr, addrLen, msgPtr, msgLen uint32) {
			hostSend(b.hostCtx, b.logger, mod, sendOptions{
				eventType: EventActorMessage,
			}, addrPtr, addrLen, msgPtr, msgLen)
		}).
		Export("send").
		Instantiate(ctx)
	return err
}

func (b *Base) Exports(component CompiledComponent) ([]Export, error) {
	return resolveExports(component, BaseInterface, []requiredExport{
		{field: "init", sig: sigProducer},
		{field: "handle", sig: sigHandler},
		{field: "state-contract", sig: sigProducer},
		{field: "message-contract", sig: sigProducer},
	})
}

type sendOptions struct {
	// eventType tags the chain record for this capability's send.
	eventType string
	// auditFailures emits a delivery-failure chain record when the
	// outbound attempt fails.
	auditFailures bool
}

// hostLog writes one operator-visible line on behalf of the sandbox.
func hostLog(logger zerolog.Logger, mod api.Module, ptr, length uint32) {
	msg, ok := mod.Memory().Read(ptr, length)
	if !ok {
		logger.Warn().Msg("sandbox log call with out-of-range pointer")
		return
	}
	logger.Info().Str("origin", "sandbox").Msg(string(msg))
}

// hostSend reads the address and payload out of sandbox memory and
// hands them to performSend.
func hostSend(hostCtx *HostContext, logger zerolog.Logger, mod api.Module, opts sendOptions, addrPtr, addrLen, msgPtr, msgLen uint32) {
	mem := mod.Memory()
	addrBytes, ok := mem.Read(addrPtr, addrLen)
	if !ok {
		logger.Warn().Msg("sandbox send call with out-of-range address pointer")
		return
	}
	payloadBytes, ok := mem.Read(msgPtr, msgLen)
	if !ok {
		logger.Warn().Msg("sandbox send call with out-of-range payload pointer")
		return
	}
	performSend(hostCtx, logger, opts, string(addrBytes), payloadBytes)
}

// performSend records the outbound message in the chain, then performs
// best-effort asynchronous delivery. The chain record always precedes
// the delivery attempt; delivery failures never reach the sandbox call
// that triggered them.
func performSend(hostCtx *HostContext, logger zerolog.Logger, opts sendOptions, address string, payloadBytes []byte) {
	payload, err := value.Decode(payloadBytes)
	if err != nil {
		logger.Warn().Err(err).Str("address", address).Msg("send payload is not structured data, dropping")
		return
	}

	hostCtx.Chain.Emit(chain.Event{
		Type: opts.eventType,
		Data: map[string]value.Value{
			"address": address,
			"message": payload,
		},
	})

	go func() {
		err := hostCtx.Deliver.Deliver(context.Background(), address, payload)
		observability.RecordDelivery(err == nil)
		if err == nil {
			return
		}
		logger.Warn().Err(err).Str("address", address).Msg("outbound delivery failed")
		if opts.auditFailures {
			hostCtx.Chain.Emit(chain.Event{
				Type: EventDeliveryFailure,
				Data: map[string]value.Value{
					"address": address,
					"error":   err.Error(),
				},
			})
		}
	}()
}
