// Package datagramfwd implements the datagram forwarder: a symmetric
// packet pump between an inbound session and a resolved outbound session,
// guarded by an idle timeout so an abandoned session does not linger
// forever.
package datagramfwd

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowproxy/core/flow"
	"github.com/flowproxy/core/registry"
)

// defaultCloseIdleAfter mirrors cloudflared's datagramsession default: a
// session with no traffic in either direction for this long is torn down.
const defaultCloseIdleAfter = 210 * time.Second

// DatagramForwardHandler binds an outbound datagram session per inbound
// session and pumps packets in both directions until either side closes
// or the session goes idle.
type DatagramForwardHandler struct {
	Outbound registry.DatagramOutboundHandle

	// CloseAfterIdle overrides defaultCloseIdleAfter when non-zero.
	CloseAfterIdle time.Duration
}

func (h *DatagramForwardHandler) OnSession(ctx context.Context, session flow.DatagramSession, fctx *flow.FlowContext) {
	factory, ok := h.Outbound.Upgrade()
	if !ok {
		return
	}
	go h.pump(ctx, factory, session, fctx)
}

func (h *DatagramForwardHandler) pump(ctx context.Context, factory flow.DatagramSessionFactory, session flow.DatagramSession, fctx *flow.FlowContext) {
	activeSessions.Inc()
	defer activeSessions.Dec()

	lower, err := factory.Bind(ctx, fctx)
	if err != nil {
		log.Debug().Err(err).Str("remote", fctx.RemotePeer.String()).Msg("datagramfwd: bind failed")
		return
	}

	idleAfter := h.CloseAfterIdle
	if idleAfter == 0 {
		idleAfter = defaultCloseIdleAfter
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	activeAt := make(chan time.Time, 1)
	markActive := func() {
		select {
		case activeAt <- time.Now():
		default:
		}
	}

	uplinkDone := pumpDirection(ctx, session, lower, markActive)
	downlinkDone := pumpDirection(ctx, lower, session, markActive)

	idleDone := make(chan struct{})
	go func() {
		defer close(idleDone)
		waitForIdle(ctx, activeAt, idleAfter)
		cancel()
	}()

	select {
	case <-uplinkDone:
	case <-downlinkDone:
	}
	cancel()
	<-uplinkDone
	<-downlinkDone
	<-idleDone

	shutdownErr := make(chan error, 2)
	go func() { shutdownErr <- lower.PollShutdown(ctx) }()
	go func() { shutdownErr <- session.PollShutdown(ctx) }()
	for i := 0; i < 2; i++ {
		if err := <-shutdownErr; err != nil {
			log.Debug().Err(err).Msg("datagramfwd: shutdown error")
		}
	}
}

// waitForIdle blocks until ctx is cancelled or no packet has crossed in
// either direction for idleAfter, at which point it returns so the caller
// can cancel ctx and tear the session down. Modeled on cloudflared's
// waitForCloseCondition idle ticker.
func waitForIdle(ctx context.Context, activeAt <-chan time.Time, idleAfter time.Duration) {
	checkFreq := idleAfter / 8
	ticker := time.NewTicker(checkFreq)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.After(last.Add(idleAfter)) {
				idleCloses.Inc()
				return
			}
		case last = <-activeAt:
		}
	}
}

// pumpDirection relays packets from src to dst until src's PollRecvFrom
// reports the session closed, ctx is cancelled, or an error occurs. It
// returns a channel closed once the pump exits.
func pumpDirection(ctx context.Context, src, dst flow.DatagramSession, markActive func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			remote, buf, ok, err := src.PollRecvFrom(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Debug().Err(err).Msg("datagramfwd: recv error")
					forwardErrors.Inc()
				}
				return
			}
			if !ok {
				return
			}
			markActive()
			if err := dst.PollSendReady(ctx); err != nil {
				log.Debug().Err(err).Msg("datagramfwd: send-ready error")
				forwardErrors.Inc()
				return
			}
			dst.SendTo(remote, buf)
		}
	}()
	return done
}
