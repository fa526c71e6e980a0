package plugins

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/flowproxy/core/dnsserver"
	"github.com/flowproxy/core/registry"
)

const (
	defaultDNSTTL             uint32 = 300
	defaultDNSConcurrentQuery int64  = 64
)

type dnsServerParam struct {
	Resolver         string `json:"resolver"`
	TTL              uint32 `json:"ttl"`
	ConcurrencyLimit int64  `json:"concurrency_limit"`
}

// DnsServerFactory is the registry.Factory for plugin kind "dns-server".
// resolver does not fit any of the four AccessPointTypes the registry's
// weak-handle graph wires (see DESIGN.md): it is looked up once, at
// Parse time, against a fixed table of named collaborators supplied by
// whoever calls plugins.Factories, rather than through
// GetOrCreate*/PublishStreamHandler-style lazy construction.
type DnsServerFactory struct {
	Resolvers map[string]dnsserver.Resolver
}

func (f DnsServerFactory) Parse(p *registry.Plugin) (registry.ParsedPlugin, error) {
	var cfg dnsServerParam
	if err := json.Unmarshal(p.Param, &cfg); err != nil {
		return registry.ParsedPlugin{}, errors.Wrapf(err, "plugins: parsing dns-server param for %q", p.Name)
	}

	resolver, ok := f.Resolvers[cfg.Resolver]
	if !ok {
		return registry.ParsedPlugin{}, fmt.Errorf("plugins: dns-server %q: unknown resolver %q", p.Name, cfg.Resolver)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultDNSTTL
	}
	concurrency := cfg.ConcurrencyLimit
	if concurrency == 0 {
		concurrency = defaultDNSConcurrentQuery
	}

	name := p.Name
	return registry.ParsedPlugin{
		Provides: []registry.Descriptor{{Name: name + ".udp", Type: registry.DatagramSessionHandlerType}},
		Build: func(pluginName string, set *registry.PartialPluginSet) error {
			commit := set.PublishDatagramHandler(pluginName + ".udp")
			commit(dnsserver.NewDnsDatagramHandler(resolver, ttl, concurrency))
			return nil
		},
	}, nil
}
