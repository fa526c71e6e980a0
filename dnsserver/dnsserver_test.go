package dnsserver

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowproxy/core/flow"
)

type staticResolver struct {
	v4 map[string][]netip.Addr
	v6 map[string][]netip.Addr
}

func (r *staticResolver) ResolveIPv4(ctx context.Context, name string) ([]netip.Addr, error) {
	if ips, ok := r.v4[name]; ok {
		return ips, nil
	}
	return nil, errNotFound
}

func (r *staticResolver) ResolveIPv6(ctx context.Context, name string) ([]netip.Addr, error) {
	if ips, ok := r.v6[name]; ok {
		return ips, nil
	}
	return nil, errNotFound
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

type fakeDatagramSession struct {
	mu       sync.Mutex
	inbound  []flow.DestinationAddr
	inboundB [][]byte
	sent     [][]byte
	shutdown bool
}

func (f *fakeDatagramSession) PollRecvFrom(ctx context.Context) (flow.DestinationAddr, []byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return flow.DestinationAddr{}, nil, false, nil
	}
	dst := f.inbound[0]
	buf := f.inboundB[0]
	f.inbound = f.inbound[1:]
	f.inboundB = f.inboundB[1:]
	return dst, buf, true, nil
}

func (f *fakeDatagramSession) PollSendReady(ctx context.Context) error { return nil }

func (f *fakeDatagramSession) SendTo(dst flow.DestinationAddr, buf []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, buf)
}

func (f *fakeDatagramSession) PollShutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	return nil
}

func TestDnsDatagramHandlerResolvesAAndPopulatesReverseCache(t *testing.T) {
	ip1 := netip.MustParseAddr("10.0.0.1")
	ip2 := netip.MustParseAddr("10.0.0.2")
	resolver := &staticResolver{
		v4: map[string][]netip.Addr{"example.com": {ip1, ip2}},
	}
	h := NewDnsDatagramHandler(resolver, 300, 0)

	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn("EXAMPLE.com"), dns.TypeA)
	raw, err := query.Pack()
	require.NoError(t, err)

	session := &fakeDatagramSession{
		inbound:  []flow.DestinationAddr{{Host: flow.IPHostName(netip.MustParseAddr("127.0.0.1")), Port: 53}},
		inboundB: [][]byte{raw},
	}

	h.OnSession(context.Background(), session, &flow.FlowContext{})

	require.Eventually(t, func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return len(session.sent) == 1
	}, time.Second, 5*time.Millisecond)

	session.mu.Lock()
	resp := new(dns.Msg)
	err = resp.Unpack(session.sent[0])
	session.mu.Unlock()
	require.NoError(t, err)

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 2)
	for _, rr := range resp.Answer {
		a, ok := rr.(*dns.A)
		require.True(t, ok)
		assert.EqualValues(t, 300, a.Hdr.Ttl)
	}

	name1, ok := h.LookupV4(ip1)
	require.True(t, ok)
	assert.Equal(t, "example.com", name1)

	name2, ok := h.LookupV4(ip2)
	require.True(t, ok)
	assert.Equal(t, "example.com", name2)
}

func TestDnsDatagramHandlerReverseCacheKeepsFirstNameSeen(t *testing.T) {
	ip := netip.MustParseAddr("10.0.0.9")
	resolver := &staticResolver{
		v4: map[string][]netip.Addr{
			"first.example.com":  {ip},
			"second.example.com": {ip},
		},
	}
	h := NewDnsDatagramHandler(resolver, 300, 0)

	queryFor := func(name string) []byte {
		query := new(dns.Msg)
		query.SetQuestion(dns.Fqdn(name), dns.TypeA)
		raw, err := query.Pack()
		require.NoError(t, err)
		return raw
	}

	dest := flow.DestinationAddr{Host: flow.IPHostName(netip.MustParseAddr("127.0.0.1")), Port: 53}
	session := &fakeDatagramSession{
		inbound:  []flow.DestinationAddr{dest, dest},
		inboundB: [][]byte{queryFor("first.example.com"), queryFor("second.example.com")},
	}

	h.OnSession(context.Background(), session, &flow.FlowContext{})

	require.Eventually(t, func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return len(session.sent) == 2
	}, time.Second, 5*time.Millisecond)

	name, ok := h.LookupV4(ip)
	require.True(t, ok)
	assert.Equal(t, "first.example.com", name, "the reverse cache must keep the first name resolved for an IP, not the last")
}

func TestDnsDatagramHandlerNXDomainOnResolveFailure(t *testing.T) {
	resolver := &staticResolver{v4: map[string][]netip.Addr{}}
	h := NewDnsDatagramHandler(resolver, 60, 0)

	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn("missing.test"), dns.TypeA)
	raw, err := query.Pack()
	require.NoError(t, err)

	session := &fakeDatagramSession{
		inbound:  []flow.DestinationAddr{{Host: flow.IPHostName(netip.MustParseAddr("127.0.0.1")), Port: 53}},
		inboundB: [][]byte{raw},
	}

	h.OnSession(context.Background(), session, &flow.FlowContext{})

	require.Eventually(t, func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return len(session.sent) == 1
	}, time.Second, 5*time.Millisecond)

	resp := new(dns.Msg)
	session.mu.Lock()
	err = resp.Unpack(session.sent[0])
	session.mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	assert.Empty(t, resp.Answer)
}

func TestDnsDatagramHandlerNotImplementedForUnsupportedType(t *testing.T) {
	resolver := &staticResolver{}
	h := NewDnsDatagramHandler(resolver, 60, 0)

	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn("example.com"), dns.TypeSRV)
	raw, err := query.Pack()
	require.NoError(t, err)

	session := &fakeDatagramSession{
		inbound:  []flow.DestinationAddr{{Host: flow.IPHostName(netip.MustParseAddr("127.0.0.1")), Port: 53}},
		inboundB: [][]byte{raw},
	}

	h.OnSession(context.Background(), session, &flow.FlowContext{})

	require.Eventually(t, func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return len(session.sent) == 1
	}, time.Second, 5*time.Millisecond)

	resp := new(dns.Msg)
	session.mu.Lock()
	err = resp.Unpack(session.sent[0])
	session.mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeNotImplemented, resp.Rcode)
}
