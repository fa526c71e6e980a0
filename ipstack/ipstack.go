// Package ipstack builds raw IPv4/IPv6+UDP packets for the egress side of
// a user-space IP stack: given a datagram destined for a resolved IP, it
// encodes a standards-compliant packet and hands it to a link-layer
// device's transmit token.
package ipstack

import (
	"context"
	"net/netip"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rs/zerolog/log"

	"github.com/flowproxy/core/flow"
)

// maxPayload is 1500 (a conservative default MTU) minus 48, the largest
// header this package ever writes (IPv6's 40-byte header + 8-byte UDP
// header); the spec keeps this single ceiling for both families rather
// than a tighter per-family one.
const maxPayload = 1500 - 48

// TxToken is a single-use transmit slot from a link-layer device,
// modeled on smoltcp's phy::TxToken: the device hands back a buffer of
// (at least) the requested size for the caller to fill in place.
type TxToken interface {
	Consume(size int, encode func(buf []byte) error) error
}

// Device is the link-layer device contract the egress path transmits
// through. No pack library defines a TX-token device abstraction — this
// is the Go rendition of smoltcp's Device trait, the minimal shape this
// package's callers need (see DESIGN.md).
type Device interface {
	Transmit() (TxToken, bool)
}

var serializeOpts = gopacket.SerializeOptions{
	FixLengths:       true,
	ComputeChecksums: true,
}

// Session represents one user-space UDP socket bound to local_endpoint
// and local_port on the egress side of the stack; SendTo is the only
// traffic-bearing operation it performs (see SPEC_FULL.md §2.H — this
// package covers UDP egress, not a full duplex socket).
type Session struct {
	mu sync.Mutex

	Device        Device
	LocalEndpoint netip.Addr
	LocalPort     uint16
	FlowLabel     uint32

	// OnClose, if set, is invoked by PollShutdown to release this
	// session's slot in whatever socket table owns it (e.g. by local
	// port), mirroring the source's on_close removing udp_sockets[port].
	OnClose func()
}

// SendTo builds and transmits a UDP datagram from src to the session's
// local endpoint/port. Oversized payloads, unresolved destinations, and
// mismatched address families are all dropped silently, matching the
// source's best-effort egress semantics.
func (s *Session) SendTo(src flow.DestinationAddr, buf []byte) {
	if len(buf) > maxPayload {
		oversizedDrops.Inc()
		return
	}
	if !src.Host.IsIP() {
		unresolvedDrops.Inc()
		return
	}
	srcIP := src.Host.IP
	if srcIP.Is4() != s.LocalEndpoint.Is4() {
		mismatchedFamilyDrops.Inc()
		return
	}

	encoded, err := encodeUDPDatagram(s.LocalEndpoint, s.LocalPort, s.FlowLabel, srcIP, src.Port, buf)
	if err != nil {
		log.Debug().Err(err).Msg("ipstack: failed to encode egress datagram")
		encodeErrors.Inc()
		return
	}

	s.mu.Lock()
	token, ok := s.Device.Transmit()
	s.mu.Unlock()
	if !ok {
		txTokenUnavailable.Inc()
		return
	}

	requestSize := len(buf) + 48
	if err := token.Consume(requestSize, func(out []byte) error {
		copy(out, encoded)
		return nil
	}); err != nil {
		log.Debug().Err(err).Msg("ipstack: tx token consume failed")
		encodeErrors.Inc()
	}
}

// PollSendReady is always immediately ready: egress never blocks on
// backpressure from the device.
func (s *Session) PollSendReady(ctx context.Context) error { return nil }

// PollRecvFrom has no ingress path to demultiplex in this package: the
// socket-table layer that would route an inbound packet back to a local
// port is out of this package's scope (SPEC_FULL.md §2.H covers egress
// only). It blocks until ctx is done so the type remains a usable, if
// send-only, flow.DatagramSession rather than one that lies about a
// capability it doesn't have.
func (s *Session) PollRecvFrom(ctx context.Context) (flow.DestinationAddr, []byte, bool, error) {
	<-ctx.Done()
	return flow.DestinationAddr{}, nil, false, ctx.Err()
}

// PollShutdown releases this session's slot via OnClose, if set.
func (s *Session) PollShutdown(ctx context.Context) error {
	if s.OnClose != nil {
		s.OnClose()
	}
	return nil
}

// encodeUDPDatagram renders one UDP-over-IPv4 or UDP-over-IPv6 packet
// with RFC 791/8200/768-compliant headers and filled-in checksums.
func encodeUDPDatagram(dstIP netip.Addr, dstPort uint16, flowLabel uint32, srcIP netip.Addr, srcPort uint16, payload []byte) ([]byte, error) {
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}

	var network gopacket.NetworkLayer
	if dstIP.Is4() {
		ip := &layers.IPv4{
			Version:    4,
			IHL:        5,
			TTL:        255,
			Id:         0,
			Flags:      layers.IPv4DontFragment,
			FragOffset: 0,
			Protocol:   layers.IPProtocolUDP,
			SrcIP:      srcIP.AsSlice(),
			DstIP:      dstIP.AsSlice(),
		}
		network = ip
	} else {
		ip := &layers.IPv6{
			Version:    6,
			HopLimit:   255,
			NextHeader: layers.IPProtocolUDP,
			FlowLabel:  flowLabel,
			SrcIP:      srcIP.AsSlice(),
			DstIP:      dstIP.AsSlice(),
		}
		network = ip
	}
	if err := udp.SetNetworkLayerForChecksum(network); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, network.(gopacket.SerializableLayer), udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
