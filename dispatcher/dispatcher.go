// Package dispatcher implements the simple dispatcher: rule-matched
// routing of inbound streams and datagram sessions to the next handler in
// the plugin graph. Rules are scanned in input order; the first whose src
// and dst conditions both match wins, with no re-ordering.
package dispatcher

import (
	"context"
	"net/netip"

	"github.com/flowproxy/core/flow"
	"github.com/flowproxy/core/registry"
)

// Condition is an opaque predicate over a peer's address: address family,
// CIDR membership, port range, domain suffix, or some composition of
// those. The same Condition type is used for both a rule's src and dst
// sides; a condition that only cares about one attribute ignores the
// rest (e.g. a domain-suffix condition matches any IP, never matches an
// empty domain).
type Condition interface {
	Match(ip netip.Addr, port uint16, domain string) bool
}

// StreamRule is one entry of a SimpleStreamDispatcher's rule table.
type StreamRule struct {
	Src  Condition
	Dst  Condition
	Next registry.StreamHandlerHandle
}

// DatagramRule is one entry of a SimpleDatagramDispatcher's rule table.
type DatagramRule struct {
	Src  Condition
	Dst  Condition
	Next registry.DatagramHandlerHandle
}

// SimpleStreamDispatcher routes inbound streams by rule, falling back to
// Fallback when no rule matches.
type SimpleStreamDispatcher struct {
	Rules    []StreamRule
	Fallback registry.StreamHandlerHandle
}

func (d *SimpleStreamDispatcher) OnStream(ctx context.Context, s flow.Stream, fctx *flow.FlowContext) {
	dispatchedTotal.WithLabelValues("stream").Inc()
	for _, rule := range d.Rules {
		if matchSrcDst(rule.Src, rule.Dst, fctx) {
			if h, ok := rule.Next.Upgrade(); ok {
				matchedTotal.WithLabelValues("stream", "rule").Inc()
				h.OnStream(ctx, s, fctx)
			}
			return
		}
	}
	if h, ok := d.Fallback.Upgrade(); ok {
		matchedTotal.WithLabelValues("stream", "fallback").Inc()
		h.OnStream(ctx, s, fctx)
	}
}

// SimpleDatagramDispatcher routes inbound datagram sessions by rule,
// falling back to Fallback when no rule matches.
type SimpleDatagramDispatcher struct {
	Rules    []DatagramRule
	Fallback registry.DatagramHandlerHandle
}

func (d *SimpleDatagramDispatcher) OnSession(ctx context.Context, sess flow.DatagramSession, fctx *flow.FlowContext) {
	dispatchedTotal.WithLabelValues("datagram").Inc()
	for _, rule := range d.Rules {
		if matchSrcDst(rule.Src, rule.Dst, fctx) {
			if h, ok := rule.Next.Upgrade(); ok {
				matchedTotal.WithLabelValues("datagram", "rule").Inc()
				h.OnSession(ctx, sess, fctx)
			}
			return
		}
	}
	if h, ok := d.Fallback.Upgrade(); ok {
		matchedTotal.WithLabelValues("datagram", "fallback").Inc()
		h.OnSession(ctx, sess, fctx)
	}
}

func matchSrcDst(src, dst Condition, fctx *flow.FlowContext) bool {
	if !src.Match(fctx.LocalPeer.Addr(), fctx.LocalPeer.Port(), "") {
		return false
	}
	dstIP := fctx.RemotePeer.Host.IP
	return dst.Match(dstIP, fctx.RemotePeer.Port, fctx.RemotePeer.Host.Domain)
}
