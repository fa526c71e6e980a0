package flow

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeHintWithMinContent(t *testing.T) {
	upper := 10
	hint := SizeHint{Upper: &upper}
	assert.Equal(t, 10, hint.WithMinContent(4))
	assert.Equal(t, 20, hint.WithMinContent(20))
	assert.Equal(t, 4096, SizeHint{}.WithMinContent(4096))
}

func TestHostNameString(t *testing.T) {
	ip := netip.MustParseAddr("10.0.0.1")
	require.True(t, IPHostName(ip).IsIP())
	assert.Equal(t, "10.0.0.1", IPHostName(ip).String())

	domain := DomainHostName("example.com")
	require.False(t, domain.IsIP())
	assert.Equal(t, "example.com", domain.String())
}

func TestDestinationAddrString(t *testing.T) {
	d := DestinationAddr{Host: DomainHostName("example.com"), Port: 443}
	assert.Equal(t, "example.com:443", d.String())
}

func TestIsEOF(t *testing.T) {
	assert.True(t, IsEOF(ErrEOF))
	wrapped := errors.New("wrap")
	assert.False(t, IsEOF(wrapped))
}
