// Package forward implements the "handler that is actually an outbound
// in disguise" pattern: a {outbound: ref} configuration names an existing
// outbound factory and wires it as a StreamHandler and/or
// DatagramSessionHandler — useful for a static forwarding rule that
// always sends inbound traffic to one preconfigured destination, as
// opposed to a dispatcher's per-connection routing decision.
//
// Both forwarding engines already exist as independently tested
// packages — stream joining in github.com/flowproxy/core/forward,
// datagram relaying in github.com/flowproxy/core/datagramfwd — so this
// package is pure composition: it gives the plugins factory one place to
// build whichever side(s) a given outbound reference provides.
package forward

import (
	"github.com/flowproxy/core/datagramfwd"
	"github.com/flowproxy/core/forward"
	"github.com/flowproxy/core/registry"
)

// NewStreamHandler wires outbound as a StreamHandler: every inbound
// stream is forwarded to whatever the reference currently resolves to.
func NewStreamHandler(outbound registry.StreamOutboundHandle) *forward.StreamForwardHandler {
	return &forward.StreamForwardHandler{Outbound: outbound}
}

// NewDatagramHandler wires outbound as a DatagramSessionHandler, using
// datagramfwd's default idle-close timeout.
func NewDatagramHandler(outbound registry.DatagramOutboundHandle) *datagramfwd.DatagramForwardHandler {
	return &datagramfwd.DatagramForwardHandler{Outbound: outbound}
}
