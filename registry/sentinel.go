package registry

import (
	"context"

	"github.com/flowproxy/core/flow"
)

// rejectHandler closes a stream or session immediately. It is the
// sentinel used whenever a required StreamHandler/DatagramSessionHandler
// descriptor cannot be resolved: the graph still behaves correctly, it
// just refuses the flow instead of crashing the caller.
type rejectHandler struct{}

func (rejectHandler) OnStream(ctx context.Context, s flow.Stream, fctx *flow.FlowContext) {
	_ = s.PollCloseTx(ctx)
}

func (rejectHandler) OnSession(ctx context.Context, sess flow.DatagramSession, fctx *flow.FlowContext) {
	_ = sess.PollShutdown(ctx)
}

// nullStreamOutboundFactory fails every CreateOutbound call immediately.
type nullStreamOutboundFactory struct{}

func (nullStreamOutboundFactory) CreateOutbound(ctx context.Context, fctx *flow.FlowContext, initialData []byte) (flow.Stream, error) {
	return nil, errUnresolvedOutbound
}

// nullDatagramSessionFactory fails every Bind call immediately.
type nullDatagramSessionFactory struct{}

func (nullDatagramSessionFactory) Bind(ctx context.Context, fctx *flow.FlowContext) (flow.DatagramSession, error) {
	return nil, errUnresolvedOutbound
}

var errUnresolvedOutbound = errUnresolvedOutboundError{}

type errUnresolvedOutboundError struct{}

func (errUnresolvedOutboundError) Error() string {
	return "registry: outbound descriptor unresolved, refusing to create"
}

// Sentinel singletons are kept strongly alive for the module's lifetime by
// these package-level variables, so their weak handles always upgrade
// successfully and the sentinel behavior (reject / immediate failure)
// actually runs. This differs from the ytflow Rust source, which
// downgrades a freshly-allocated Arc and lets it drop — relying on the
// weak handle simply failing to upgrade for the same graceful no-op. We
// keep the sentinel alive instead because the spec requires the sentinel
// to actively reject/fail, not merely vanish; see DESIGN.md.
var (
	rejectStreamHandlerBox   = &streamHandlerBox{v: rejectHandler{}}
	rejectDatagramHandlerBox = &datagramHandlerBox{v: rejectHandler{}}
	nullStreamOutboundBox    = &streamOutboundBox{v: nullStreamOutboundFactory{}}
	nullDatagramOutboundBox  = &datagramOutboundBox{v: nullDatagramSessionFactory{}}
)
