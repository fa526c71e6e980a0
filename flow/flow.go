// Package flow defines the abstract transport primitives every other
// package in this module is built on: Stream, DatagramSession, their
// factories, and the per-connection FlowContext that carries peer
// addressing across a plugin graph.
package flow

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
)

// ErrEOF signals a clean end of the rx side of a stream. It is a normal
// termination condition, never a failure to be propagated upward.
var ErrEOF = errors.New("flow: eof")

// IsEOF reports whether err is, or wraps, ErrEOF.
func IsEOF(err error) bool {
	return errors.Is(err, ErrEOF)
}

// HostName is either a literal IP address or a domain name awaiting
// resolution by whatever outbound ends up handling the flow.
type HostName struct {
	IP     netip.Addr
	Domain string
}

// IsIP reports whether this HostName carries a literal address.
func (h HostName) IsIP() bool {
	return h.IP.IsValid()
}

func (h HostName) String() string {
	if h.IsIP() {
		return h.IP.String()
	}
	return h.Domain
}

// IPHostName builds a HostName wrapping a literal IP address.
func IPHostName(ip netip.Addr) HostName {
	return HostName{IP: ip}
}

// DomainHostName builds a HostName wrapping a domain awaiting resolution.
func DomainHostName(domain string) HostName {
	return HostName{Domain: domain}
}

// DestinationAddr is a remote peer's address: either a concrete IP or a
// hostname, plus a port. Only the outbound that eventually resolves a
// domain needs to know how; everything upstream just carries it along.
type DestinationAddr struct {
	Host HostName
	Port uint16
}

func (d DestinationAddr) String() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// FlowContext is the per-connection metadata threaded through a plugin
// graph: where the flow entered the engine, and where it is ultimately
// headed.
type FlowContext struct {
	LocalPeer  netip.AddrPort
	RemotePeer DestinationAddr
}

// SizeHint is an advisory upper bound on the next chunk a stream is
// willing to accept. A zero value means "no opinion".
type SizeHint struct {
	Upper *int
}

// WithMinContent returns the number of bytes a tx buffer should be sized
// to: the hint's upper bound if it is larger than min, otherwise min. This
// keeps small advisory hints from forcing pathologically tiny buffers.
func (h SizeHint) WithMinContent(min int) int {
	if h.Upper != nil && *h.Upper > min {
		return *h.Upper
	}
	return min
}

// Stream is an asynchronous, full-duplex byte channel exposing a
// buffer-handoff interface instead of plain io.Reader/Writer: the tx side
// lends a buffer (with a reserved prefix for framing), the rx side fills
// it, and the buffer is handed back. This is what lets a forwarder move
// bytes between two streams without an intermediate copy.
//
// Implementations follow the same convention as io.Reader: on PollRxBuffer
// and CommitRxBuffer, a returned buffer may be valid to use even when err
// is non-nil (e.g. on ErrEOF, the buffer is resized but still the
// caller's to hand back).
type Stream interface {
	// PollRequestSize asks the peer how much it wants to send next.
	PollRequestSize(ctx context.Context) (SizeHint, error)
	// PollTxBuffer borrows a writable buffer from the tx side. offset is
	// the prefix already reserved for framing and must be preserved by
	// any caller that resizes the buffer down.
	PollTxBuffer(ctx context.Context, size int) (buf []byte, offset int, err error)
	// CommitTxBuffer hands a filled (or resized-down) buffer back for
	// transmission.
	CommitTxBuffer(buf []byte) error
	// CommitRxBuffer submits a buffer to be filled by the rx side. On
	// failure the buffer is returned to the caller alongside the error so
	// it can be returned to whoever lent it.
	CommitRxBuffer(buf []byte, offset int) (failedBuf []byte, err error)
	// PollRxBuffer harvests the buffer previously submitted via
	// CommitRxBuffer once it has been filled.
	PollRxBuffer(ctx context.Context) (buf []byte, err error)
	// PollCloseTx closes the tx side of the stream.
	PollCloseTx(ctx context.Context) error
}

// DatagramSession is an asynchronous packet-oriented channel.
type DatagramSession interface {
	// PollRecvFrom waits for the next inbound packet. ok is false once the
	// session is closed and no more packets will arrive.
	PollRecvFrom(ctx context.Context) (dst DestinationAddr, buf []byte, ok bool, err error)
	// PollSendReady blocks until the session is ready to accept a SendTo.
	PollSendReady(ctx context.Context) error
	// SendTo is fire-and-forget at the API level: the session queues the
	// packet for delivery.
	SendTo(dst DestinationAddr, buf []byte)
	// PollShutdown tears the session down.
	PollShutdown(ctx context.Context) error
}

// StreamHandler consumes inbound streams.
type StreamHandler interface {
	OnStream(ctx context.Context, s Stream, fctx *FlowContext)
}

// DatagramSessionHandler consumes inbound datagram sessions.
type DatagramSessionHandler interface {
	OnSession(ctx context.Context, sess DatagramSession, fctx *FlowContext)
}

// StreamOutboundFactory creates an outbound stream for a flow, optionally
// seeded with initial bytes read off the inbound side (handshake
// coalescing, see package forward).
type StreamOutboundFactory interface {
	CreateOutbound(ctx context.Context, fctx *FlowContext, initialData []byte) (Stream, error)
}

// DatagramSessionFactory creates an outbound datagram session for a flow.
type DatagramSessionFactory interface {
	Bind(ctx context.Context, fctx *FlowContext) (DatagramSession, error)
}
