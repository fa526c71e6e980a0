package forward

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowproxy/core/flow"
	"github.com/flowproxy/core/registry"
)

type fakeStreamOutboundFactory struct{ called bool }

func (f *fakeStreamOutboundFactory) CreateOutbound(ctx context.Context, fctx *flow.FlowContext, initialData []byte) (flow.Stream, error) {
	f.called = true
	return nil, nil
}

type fakeDatagramSession struct{ flow.DatagramSession }

type fakeDatagramOutboundFactory struct{ called bool }

func (f *fakeDatagramOutboundFactory) Bind(ctx context.Context, fctx *flow.FlowContext) (flow.DatagramSession, error) {
	f.called = true
	return fakeDatagramSession{}, nil
}

func TestNewStreamHandlerWiresOutboundReference(t *testing.T) {
	factory := &fakeStreamOutboundFactory{}
	handle := registry.NewStreamOutboundHandleForTesting(factory)

	h := NewStreamHandler(handle)
	require.NotNil(t, h)

	upgraded, ok := h.Outbound.Upgrade()
	require.True(t, ok)
	assert.Same(t, factory, upgraded)
}

func TestNewDatagramHandlerWiresOutboundReference(t *testing.T) {
	factory := &fakeDatagramOutboundFactory{}
	handle := registry.NewDatagramOutboundHandleForTesting(factory)

	h := NewDatagramHandler(handle)
	require.NotNil(t, h)

	upgraded, ok := h.Outbound.Upgrade()
	require.True(t, ok)
	assert.Same(t, factory, upgraded)
}
