package forward

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/flowproxy/core/flow"
	"github.com/flowproxy/core/registry"
)

// initialDataTimeout bounds how long handleStream waits for the inbound
// stream to produce its first chunk before creating the outbound anyway.
// It is a fixed constant; outbound creation itself has no timeout.
const initialDataTimeout = 100 * time.Millisecond

type initialReadResult struct {
	data      []byte
	committed bool
	err       error
}

// raceInitialData reads up to one chunk off lower, racing it against
// initialDataTimeout so a slow client can't stall outbound creation.
//
// If the read finishes first, err/data are its outcome and pending is
// nil. If the timeout wins, pending delivers the read's eventual result
// once it does finish (whether or not a buffer was already committed to
// lower when the timeout fired); the caller must drain pending before
// touching lower's rx side again.
func raceInitialData(ctx context.Context, lower flow.Stream) (data []byte, err error, pendingCommit bool, pending <-chan initialReadResult) {
	committed := make(chan struct{})
	resultCh := make(chan initialReadResult, 1)

	go func() {
		hint, err := lower.PollRequestSize(ctx)
		if err != nil {
			resultCh <- initialReadResult{err: err}
			return
		}
		size := hint.WithMinContent(1500)
		buf := make([]byte, size)
		if failed, err := lower.CommitRxBuffer(buf, 0); err != nil {
			_ = failed
			resultCh <- initialReadResult{err: err}
			return
		}
		close(committed)
		buf, err = lower.PollRxBuffer(ctx)
		resultCh <- initialReadResult{data: buf, committed: true, err: err}
	}()

	timer := time.NewTimer(initialDataTimeout)
	defer timer.Stop()
	select {
	case out := <-resultCh:
		return out.data, out.err, false, nil
	case <-timer.C:
		select {
		case <-committed:
			return nil, nil, true, resultCh
		default:
			return nil, nil, false, resultCh
		}
	}
}

// StreamForwardHandler hands an inbound stream to outbound, coalescing
// the first round trip when the client speaks first (single-RTT tunnel
// handshakes) and otherwise forwarding bidirectionally until either side
// closes.
type StreamForwardHandler struct {
	Outbound registry.StreamOutboundHandle
}

func (h *StreamForwardHandler) OnStream(ctx context.Context, lower flow.Stream, fctx *flow.FlowContext) {
	factory, ok := h.Outbound.Upgrade()
	if !ok {
		return
	}
	go h.handleStream(ctx, factory, lower, fctx)
}

func (h *StreamForwardHandler) handleStream(ctx context.Context, factory flow.StreamOutboundFactory, lower flow.Stream, fctx *flow.FlowContext) {
	activeStreams.Inc()
	defer activeStreams.Dec()

	initialData, err, _, pending := raceInitialData(ctx, lower)
	if pending == nil && err != nil {
		initialDataErrors.Inc()
		return
	}

	outbound, err := factory.CreateOutbound(ctx, fctx, initialData)
	if err != nil {
		log.Debug().Err(err).Str("remote", fctx.RemotePeer.String()).Msg("forward: outbound creation failed")
		_ = lower.PollCloseTx(ctx)
		return
	}

	if pending == nil {
		h.runForward(ctx, lower, outbound)
		return
	}

	// The initial read is still in flight. Start downlink (outbound ->
	// lower) immediately so a slow uplink never stalls it; only the
	// uplink half waits for the stale read to drain, since it is the
	// uplink that would otherwise race it for lower's rx side.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return forwardOneway(gctx, outbound, lower) })
	g.Go(func() error {
		out := <-pending
		if out.err != nil && !flow.IsEOF(out.err) {
			return out.err
		}
		// The stale bytes (if any) are discarded: by the time they
		// arrived we had already committed to proceeding without them.
		return forwardOneway(gctx, lower, outbound)
	})

	first := g.Wait()
	if first != nil && !flow.IsEOF(first) {
		forwardErrors.Inc()
		log.Debug().Err(first).Msg("forward: stream forwarding ended with error")
	}
}

func (h *StreamForwardHandler) runForward(ctx context.Context, lower, outbound flow.Stream) {
	if err := ForwardStreams(ctx, lower, outbound); err != nil && !flow.IsEOF(err) {
		forwardErrors.Inc()
		log.Debug().Err(err).Msg("forward: stream forwarding ended with error")
	}
}
