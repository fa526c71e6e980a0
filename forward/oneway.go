// Package forward implements the bidirectional stream forwarder: the core
// byte pump that moves a stream between its inbound side and a resolved
// outbound. The datagram forwarder lives in package datagramfwd.
package forward

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/flowproxy/core/flow"
)

const minTxBuffer = 4096

type onewayState int

const (
	stateAwaitingSizeHint onewayState = iota
	statePollingTxBuf
	statePollingRxBuf
	stateClosing
	stateDone
)

// forwardOneway moves bytes from rx to tx until rx EOFs (clean close,
// propagated as tx.PollCloseTx) or either side errors. Every buffer
// borrowed from tx via PollTxBuffer is returned to tx exactly once,
// either full (on a successful fill) or resized down to its reserved
// offset (on commit failure or rx EOF/error) — it is never dropped.
func forwardOneway(ctx context.Context, rx, tx flow.Stream) error {
	state := stateAwaitingSizeHint
	var sizeHint flow.SizeHint
	var txBuf *flow.TxBuffer

	for {
		switch state {
		case stateAwaitingSizeHint:
			// Unlike PollingRxBuf, an error here (including Eof) is not a
			// graceful close: nothing has been committed to rx yet, so
			// there is no half-filled buffer to account for.
			hint, err := rx.PollRequestSize(ctx)
			if err != nil {
				return err
			}
			sizeHint = hint
			state = statePollingTxBuf

		case statePollingTxBuf:
			buf, off, err := tx.PollTxBuffer(ctx, sizeHint.WithMinContent(minTxBuffer))
			if err != nil {
				return err
			}
			txBuf = flow.NewTxBuffer(buf, off)
			if failed, cerr := rx.CommitRxBuffer(buf, off); cerr != nil {
				txBuf.Replace(failed)
				_ = txBuf.Discard(tx)
				return cerr
			}
			state = statePollingRxBuf

		case statePollingRxBuf:
			buf, err := rx.PollRxBuffer(ctx)
			txBuf.Replace(buf)
			if err == nil {
				if cerr := txBuf.Commit(tx); cerr != nil {
					return cerr
				}
				state = stateAwaitingSizeHint
				continue
			}
			if flow.IsEOF(err) {
				if cerr := txBuf.Discard(tx); cerr != nil {
					return cerr
				}
				state = stateClosing
				continue
			}
			_ = txBuf.Discard(tx)
			return err

		case stateClosing:
			if err := tx.PollCloseTx(ctx); err != nil {
				return err
			}
			state = stateDone

		case stateDone:
			return nil
		}
	}
}

// ForwardStreams runs forwardOneway concurrently in both directions
// between local and remote, returning once both sides have finished. The
// first error from either direction, if any, is returned.
func ForwardStreams(ctx context.Context, local, remote flow.Stream) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return forwardOneway(ctx, remote, local) })
	g.Go(func() error { return forwardOneway(ctx, local, remote) })
	return g.Wait()
}
