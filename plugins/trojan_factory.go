package plugins

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/flowproxy/core/outbound/trojan"
	"github.com/flowproxy/core/registry"
)

type trojanParam struct {
	Password string `json:"password"`
	TLSNext  string `json:"tls_next"`
}

// TrojanFactory is the registry.Factory for plugin kind "trojan",
// grounded on config/plugin/trojan.rs: requires tls_next as a
// StreamOutboundFactory, provides <name>.tcp as one. UDP is an explicit
// TODO in the source and stays unimplemented here too.
type TrojanFactory struct{}

func (TrojanFactory) Parse(p *registry.Plugin) (registry.ParsedPlugin, error) {
	var cfg trojanParam
	if err := json.Unmarshal(p.Param, &cfg); err != nil {
		return registry.ParsedPlugin{}, errors.Wrapf(err, "plugins: parsing trojan param for %q", p.Name)
	}

	name := p.Name
	return registry.ParsedPlugin{
		Requires: []registry.Descriptor{{Name: cfg.TLSNext, Type: registry.StreamOutboundFactoryType}},
		Provides: []registry.Descriptor{{Name: name + ".tcp", Type: registry.StreamOutboundFactoryType}},
		Build: func(pluginName string, set *registry.PartialPluginSet) error {
			commit := set.PublishStreamOutbound(pluginName + ".tcp")
			tlsNext := set.GetOrCreateStreamOutbound(pluginName, cfg.TLSNext)
			commit(trojan.NewStreamOutboundFactory([]byte(cfg.Password), tlsNext))
			return nil
		},
	}, nil
}
