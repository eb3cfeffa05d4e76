package capability

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const (
	// HTTPInterface is the export namespace for HTTP-capable actors.
	HTTPInterface = "ntwk:simple-http-actor/http-actor"

	httpRuntimeNamespace = "ntwk:simple-http-actor/http-runtime"

	// EventHTTPActorMessage tags chain records for sends issued from
	// HTTP-originated sandbox calls, so HTTP traffic is distinguishable
	// in the audit trail.
	EventHTTPActorMessage = "http-actor-message"

	// EventDeliveryFailure tags the audit record an HTTP-originated
	// send emits when its outbound attempt fails.
	EventDeliveryFailure = "delivery-failure"
)

// HTTP is the additive capability for actors that serve HTTP. Its send
// shares the base pipeline but tags events with its own type and
// additionally audits delivery failures; delivery stays fire-and-forget.
type HTTP struct {
	hostCtx *HostContext
	logger  zerolog.Logger
}

func NewHTTP(hostCtx *HostContext) *HTTP {
	return &HTTP{hostCtx: hostCtx, logger: componentLogger(hostCtx, HTTPInterface)}
}

func (h *HTTP) InterfaceName() string {
	return HTTPInterface
}

func (h *HTTP) SetupHostFunctions(ctx context.Context, runtime wazero.Runtime) error {
	_, err := runtime.NewHostModuleBuilder(httpRuntimeNamespace).
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
			hostLog(h.logger, mod, ptr, length)
		}).
		Export("log").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, addrPtr, addrLen, msgPtr, msgLen uint32) {
			hostSend(h.hostCtx, h.logger, mod, sendOptions{
				eventType:     EventHTTPActorMessage,
				auditFailures: true,
			}, addrPtr, addrLen, msgPtr, msgLen)
		}).
		Export("send").
		Instantiate(ctx)
	return err
}

func (h *HTTP) Exports(component CompiledComponent) ([]Export, error) {
	return resolveExports(component, HTTPInterface, []requiredExport{
		{field: "init", sig: sigProducer},
		{field: "handle", sig: sigHandler},
		{field: "state-contract", sig: sigProducer},
		{field: "message-contract", sig: sigProducer},
		{field: "http-contract", sig: sigProducer},
		{field: "handle-http", sig: sigHandler},
	})
}
