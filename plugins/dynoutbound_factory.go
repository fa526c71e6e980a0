package plugins

import (
	"context"
	"encoding/json"
	"errors"

	pkgerrors "github.com/pkg/errors"

	"github.com/flowproxy/core/flow"
	"github.com/flowproxy/core/registry"
)

// ErrOutboundUnavailable is returned by an indirection node's
// CreateOutbound/Bind when the outbound it currently points to is no
// longer reachable.
var ErrOutboundUnavailable = errors.New("plugins: dyn-outbound target is unavailable")

type dynOutboundParam struct {
	StreamOutbound   string `json:"stream_outbound,omitempty"`
	DatagramOutbound string `json:"datagram_outbound,omitempty"`
}

// DynOutboundFactory is the registry.Factory for plugin kind
// "dyn-outbound", supplementing spec.md per
// plugin/dyn_outbound/config/v1.rs: a minimal hot-swappable
// indirection node. It re-resolves its target's weak handle on every
// call instead of capturing a strong reference once, so it always
// forwards to whatever the configured reference currently resolves to.
type DynOutboundFactory struct{}

func (DynOutboundFactory) Parse(p *registry.Plugin) (registry.ParsedPlugin, error) {
	var cfg dynOutboundParam
	if err := json.Unmarshal(p.Param, &cfg); err != nil {
		return registry.ParsedPlugin{}, pkgerrors.Wrapf(err, "plugins: parsing dyn-outbound param for %q", p.Name)
	}

	var requires, provides []registry.Descriptor
	if cfg.StreamOutbound != "" {
		requires = append(requires, registry.Descriptor{Name: cfg.StreamOutbound, Type: registry.StreamOutboundFactoryType})
		provides = append(provides, registry.Descriptor{Name: p.Name + ".tcp", Type: registry.StreamOutboundFactoryType})
	}
	if cfg.DatagramOutbound != "" {
		requires = append(requires, registry.Descriptor{Name: cfg.DatagramOutbound, Type: registry.DatagramSessionFactoryType})
		provides = append(provides, registry.Descriptor{Name: p.Name + ".udp", Type: registry.DatagramSessionFactoryType})
	}

	return registry.ParsedPlugin{
		Requires: requires,
		Provides: provides,
		Build: func(pluginName string, set *registry.PartialPluginSet) error {
			if cfg.StreamOutbound != "" {
				commit := set.PublishStreamOutbound(pluginName + ".tcp")
				target := set.GetOrCreateStreamOutbound(pluginName, cfg.StreamOutbound)
				commit(&indirectStreamOutbound{target: target})
			}
			if cfg.DatagramOutbound != "" {
				commit := set.PublishDatagramOutbound(pluginName + ".udp")
				target := set.GetOrCreateDatagramOutbound(pluginName, cfg.DatagramOutbound)
				commit(&indirectDatagramOutbound{target: target})
			}
			return nil
		},
	}, nil
}

type indirectStreamOutbound struct {
	target registry.StreamOutboundHandle
}

func (o *indirectStreamOutbound) CreateOutbound(ctx context.Context, fctx *flow.FlowContext, initialData []byte) (flow.Stream, error) {
	factory, ok := o.target.Upgrade()
	if !ok {
		return nil, ErrOutboundUnavailable
	}
	return factory.CreateOutbound(ctx, fctx, initialData)
}

type indirectDatagramOutbound struct {
	target registry.DatagramOutboundHandle
}

func (o *indirectDatagramOutbound) Bind(ctx context.Context, fctx *flow.FlowContext) (flow.DatagramSession, error) {
	factory, ok := o.target.Upgrade()
	if !ok {
		return nil, ErrOutboundUnavailable
	}
	return factory.Bind(ctx, fctx)
}
