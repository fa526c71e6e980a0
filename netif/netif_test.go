package netif

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrimaryDNSServerReturnsFirstConfigured(t *testing.T) {
	iface := Interface{
		Name: "en0",
		DNSServers: []netip.Addr{
			netip.MustParseAddr("1.1.1.1"),
			netip.MustParseAddr("8.8.8.8"),
		},
	}

	addr, ok := iface.PrimaryDNSServer()
	assert.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("1.1.1.1"), addr)
}

func TestPrimaryDNSServerFalseWhenEmpty(t *testing.T) {
	_, ok := Interface{Name: "lo0"}.PrimaryDNSServer()
	assert.False(t, ok)
}
