package plugins

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	outboundforward "github.com/flowproxy/core/outbound/forward"
	"github.com/flowproxy/core/registry"
)

type forwardParam struct {
	Outbound  string `json:"outbound"`
	Direction string `json:"direction"`
}

// ForwardFactory is the registry.Factory for plugin kind "forward": the
// "handler that is actually an outbound in disguise" pattern. direction
// picks which side of outbound/forward's adapter to build, since a
// Factory's requires/provides must be fixed at Parse time rather than
// discovered from whatever outbound later turns out to be.
type ForwardFactory struct{}

func (ForwardFactory) Parse(p *registry.Plugin) (registry.ParsedPlugin, error) {
	var cfg forwardParam
	if err := json.Unmarshal(p.Param, &cfg); err != nil {
		return registry.ParsedPlugin{}, errors.Wrapf(err, "plugins: parsing forward param for %q", p.Name)
	}

	name := p.Name
	switch cfg.Direction {
	case "stream":
		return registry.ParsedPlugin{
			Requires: []registry.Descriptor{{Name: cfg.Outbound, Type: registry.StreamOutboundFactoryType}},
			Provides: []registry.Descriptor{{Name: name + ".tcp", Type: registry.StreamHandlerType}},
			Build: func(pluginName string, set *registry.PartialPluginSet) error {
				commit := set.PublishStreamHandler(pluginName + ".tcp")
				outbound := set.GetOrCreateStreamOutbound(pluginName, cfg.Outbound)
				commit(outboundforward.NewStreamHandler(outbound))
				return nil
			},
		}, nil
	case "datagram":
		return registry.ParsedPlugin{
			Requires: []registry.Descriptor{{Name: cfg.Outbound, Type: registry.DatagramSessionFactoryType}},
			Provides: []registry.Descriptor{{Name: name + ".udp", Type: registry.DatagramSessionHandlerType}},
			Build: func(pluginName string, set *registry.PartialPluginSet) error {
				commit := set.PublishDatagramHandler(pluginName + ".udp")
				outbound := set.GetOrCreateDatagramOutbound(pluginName, cfg.Outbound)
				commit(outboundforward.NewDatagramHandler(outbound))
				return nil
			},
		}, nil
	default:
		return registry.ParsedPlugin{}, fmt.Errorf("plugins: forward %q: direction must be \"stream\" or \"datagram\", got %q", p.Name, cfg.Direction)
	}
}
