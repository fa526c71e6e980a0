package plugins

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/flowproxy/core/dispatcher"
	"github.com/flowproxy/core/registry"
)

// dispatcherRule is one entry of a simple-dispatcher's rule table.
type dispatcherRule struct {
	Src   conditionConfig `json:"src"`
	Dst   conditionConfig `json:"dst"`
	IsUDP bool            `json:"is_udp"`
	Next  string          `json:"next"`
}

type dispatcherParam struct {
	Rules       []dispatcherRule `json:"rules"`
	FallbackTCP string           `json:"fallback_tcp"`
	FallbackUDP string           `json:"fallback_udp"`
}

// DispatcherFactory is the registry.Factory for plugin kind
// "simple-dispatcher", grounded field for field on
// config/plugin/simple_dispatcher.rs: it requires fallback_tcp/
// fallback_udp plus every rule's next descriptor (at the rule's own
// is_udp type), and provides <name>.tcp / <name>.udp.
type DispatcherFactory struct{}

func (DispatcherFactory) Parse(p *registry.Plugin) (registry.ParsedPlugin, error) {
	var cfg dispatcherParam
	if err := json.Unmarshal(p.Param, &cfg); err != nil {
		return registry.ParsedPlugin{}, errors.Wrapf(err, "plugins: parsing simple-dispatcher param for %q", p.Name)
	}

	requires := make([]registry.Descriptor, 0, len(cfg.Rules)+2)
	requires = append(requires,
		registry.Descriptor{Name: cfg.FallbackTCP, Type: registry.StreamHandlerType},
		registry.Descriptor{Name: cfg.FallbackUDP, Type: registry.DatagramSessionHandlerType},
	)
	for _, r := range cfg.Rules {
		if r.IsUDP {
			requires = append(requires, registry.Descriptor{Name: r.Next, Type: registry.DatagramSessionHandlerType})
		} else {
			requires = append(requires, registry.Descriptor{Name: r.Next, Type: registry.StreamHandlerType})
		}
	}

	name := p.Name
	return registry.ParsedPlugin{
		Requires: requires,
		Provides: []registry.Descriptor{
			{Name: name + ".tcp", Type: registry.StreamHandlerType},
			{Name: name + ".udp", Type: registry.DatagramSessionHandlerType},
		},
		Build: func(pluginName string, set *registry.PartialPluginSet) error {
			return buildDispatcher(pluginName, cfg, set)
		},
	}, nil
}

func buildDispatcher(pluginName string, cfg dispatcherParam, set *registry.PartialPluginSet) error {
	commitTCP := set.PublishStreamHandler(pluginName + ".tcp")
	commitUDP := set.PublishDatagramHandler(pluginName + ".udp")

	streamDispatcher := &dispatcher.SimpleStreamDispatcher{
		Fallback: set.GetOrCreateStreamHandler(pluginName, cfg.FallbackTCP),
	}
	datagramDispatcher := &dispatcher.SimpleDatagramDispatcher{
		Fallback: set.GetOrCreateDatagramHandler(pluginName, cfg.FallbackUDP),
	}

	for _, r := range cfg.Rules {
		src, err := r.Src.build()
		if err != nil {
			return err
		}
		dst, err := r.Dst.build()
		if err != nil {
			return err
		}
		if r.IsUDP {
			datagramDispatcher.Rules = append(datagramDispatcher.Rules, dispatcher.DatagramRule{
				Src:  src,
				Dst:  dst,
				Next: set.GetOrCreateDatagramHandler(pluginName, r.Next),
			})
		} else {
			streamDispatcher.Rules = append(streamDispatcher.Rules, dispatcher.StreamRule{
				Src:  src,
				Dst:  dst,
				Next: set.GetOrCreateStreamHandler(pluginName, r.Next),
			})
		}
	}

	commitTCP(streamDispatcher)
	commitUDP(datagramDispatcher)
	return nil
}
