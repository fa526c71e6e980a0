// Package plugins provides the registry.Factory implementation for
// every plugin kind this module ships — simple-dispatcher, trojan,
// dns-server, forward, and dyn-outbound — plus LoadDocument, which turns
// a YAML configuration document into the registry.Plugin records
// registry.Load expects.
package plugins

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/flowproxy/core/dnsserver"
	"github.com/flowproxy/core/registry"
)

// pluginDocument is the on-disk shape of a configuration file: a flat,
// ordered list of named, typed plugin entries — the same structure the
// teacher's own config.yml uses for its top-level sections, rather than
// a schema bespoke to this module.
type pluginDocument struct {
	Plugins []pluginRecord `yaml:"plugins"`
}

type pluginRecord struct {
	Name    string    `yaml:"name"`
	Kind    string    `yaml:"kind"`
	Version int       `yaml:"version"`
	Param   yaml.Node `yaml:"param"`
}

// LoadDocument parses a YAML configuration document into
// registry.Plugin records. Each entry's param block is re-encoded as
// JSON so individual factories can decode it with encoding/json
// regardless of how the surrounding document was written.
func LoadDocument(data []byte) ([]*registry.Plugin, error) {
	buildID := uuid.New()

	var doc pluginDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "plugins: parsing configuration document")
	}

	out := make([]*registry.Plugin, 0, len(doc.Plugins))
	for _, rec := range doc.Plugins {
		param := []byte("null")
		if rec.Param.Kind != 0 {
			var generic interface{}
			if err := rec.Param.Decode(&generic); err != nil {
				return nil, errors.Wrapf(err, "plugins: decoding param for %q", rec.Name)
			}
			encoded, err := json.Marshal(generic)
			if err != nil {
				return nil, errors.Wrapf(err, "plugins: re-encoding param for %q", rec.Name)
			}
			param = encoded
		}
		out = append(out, &registry.Plugin{
			Name:    rec.Name,
			Kind:    rec.Kind,
			Version: rec.Version,
			Param:   param,
		})
	}

	log.Info().
		Str("build_id", buildID.String()).
		Int("plugin_count", len(out)).
		Msg("plugins: parsed configuration document")
	return out, nil
}

// Factories returns the standard set of registry.Factory implementations
// keyed by plugin kind, ready to pass to registry.Load. resolvers
// supplies the named dns-server Resolver collaborators (see
// DnsServerFactory).
func Factories(resolvers map[string]dnsserver.Resolver) map[string]registry.Factory {
	return map[string]registry.Factory{
		"simple-dispatcher": DispatcherFactory{},
		"trojan":            TrojanFactory{},
		"dns-server":        DnsServerFactory{Resolvers: resolvers},
		"forward":           ForwardFactory{},
		"dyn-outbound":      DynOutboundFactory{},
	}
}
