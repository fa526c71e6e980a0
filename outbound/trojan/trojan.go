// Package trojan implements the Trojan protocol's client-side framing: a
// one-time header — hex(SHA224(password)) + CRLF + a SOCKS5-style request
// + CRLF — prepended to the first bytes written over an already-secured
// lower stream (conventionally TLS). After the header, traffic is a raw
// passthrough, so this package only ever wraps CreateOutbound; it never
// needs its own flow.Stream implementation.
package trojan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/flowproxy/core/flow"
	"github.com/flowproxy/core/registry"
)

// ErrNoNextHop is returned when the configured lower stream outbound
// (tls_next) is no longer reachable.
var ErrNoNextHop = errors.New("trojan: next-hop stream outbound is unavailable")

const (
	cmdConnect = 0x01
	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04
)

// StreamOutboundFactory produces Trojan-framed outbound streams over a
// lower StreamOutboundFactory, conventionally a TLS client. UDP
// associate (CMD 0x03) is not implemented; see DESIGN.md.
type StreamOutboundFactory struct {
	passwordHex string
	next        registry.StreamOutboundHandle
}

// NewStreamOutboundFactory hashes password once at construction time so
// CreateOutbound never repeats the SHA224 work per connection.
func NewStreamOutboundFactory(password []byte, next registry.StreamOutboundHandle) *StreamOutboundFactory {
	sum := sha256.Sum224(password)
	return &StreamOutboundFactory{
		passwordHex: hex.EncodeToString(sum[:]),
		next:        next,
	}
}

// CreateOutbound prepends the Trojan header to initialData and opens the
// lower stream with the combined buffer as its own initial data, so the
// header and any client-supplied first bytes go out in the same
// round trip.
func (f *StreamOutboundFactory) CreateOutbound(ctx context.Context, fctx *flow.FlowContext, initialData []byte) (flow.Stream, error) {
	next, ok := f.next.Upgrade()
	if !ok {
		return nil, ErrNoNextHop
	}

	header, err := buildHeader(f.passwordHex, fctx.RemotePeer)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, len(header)+len(initialData))
	payload = append(payload, header...)
	payload = append(payload, initialData...)

	outbound, err := next.CreateOutbound(ctx, fctx, payload)
	if err != nil {
		return nil, err
	}
	return outbound, nil
}

// buildHeader renders hex(SHA224(password)) CRLF CMD ATYP DST.ADDR
// DST.PORT CRLF.
func buildHeader(passwordHex string, dest flow.DestinationAddr) ([]byte, error) {
	addr, err := encodeAddr(dest)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(passwordHex)+2+1+len(addr)+2)
	buf = append(buf, passwordHex...)
	buf = append(buf, '\r', '\n')
	buf = append(buf, cmdConnect)
	buf = append(buf, addr...)
	buf = append(buf, '\r', '\n')
	return buf, nil
}

// encodeAddr renders ATYP DST.ADDR DST.PORT for dest.
func encodeAddr(dest flow.DestinationAddr) ([]byte, error) {
	var buf []byte
	switch {
	case dest.Host.IsIP() && dest.Host.IP.Is4():
		ip4 := dest.Host.IP.As4()
		buf = append(buf, atypIPv4)
		buf = append(buf, ip4[:]...)
	case dest.Host.IsIP() && dest.Host.IP.Is6():
		ip16 := dest.Host.IP.As16()
		buf = append(buf, atypIPv6)
		buf = append(buf, ip16[:]...)
	case !dest.Host.IsIP():
		domain := dest.Host.Domain
		if len(domain) > 255 {
			return nil, fmt.Errorf("trojan: domain name %q exceeds 255 bytes", domain)
		}
		buf = append(buf, atypDomain, byte(len(domain)))
		buf = append(buf, domain...)
	default:
		return nil, fmt.Errorf("trojan: unsupported destination address %v", dest)
	}
	buf = append(buf, byte(dest.Port>>8), byte(dest.Port))
	return buf, nil
}
