package plugins

import (
	"fmt"
	"net/netip"

	"github.com/flowproxy/core/dispatcher"
)

// conditionConfig is the JSON tagged-union shape a simple-dispatcher
// rule's src/dst fields decode from, mirroring the original source's
// sd::Condition enum (address family, CIDR, port range, domain suffix,
// or a conjunction of those) field for field.
type conditionConfig struct {
	Type   string            `json:"type"`
	Family string            `json:"family,omitempty"`
	Prefix string            `json:"prefix,omitempty"`
	Low    uint16            `json:"low,omitempty"`
	High   uint16            `json:"high,omitempty"`
	Suffix string            `json:"suffix,omitempty"`
	All    []conditionConfig `json:"all,omitempty"`
}

func (c conditionConfig) build() (dispatcher.Condition, error) {
	switch c.Type {
	case "", "any":
		return dispatcher.AnyCondition{}, nil
	case "family":
		switch c.Family {
		case "ipv4":
			return dispatcher.AddressFamilyCondition{Family: dispatcher.IPv4}, nil
		case "ipv6":
			return dispatcher.AddressFamilyCondition{Family: dispatcher.IPv6}, nil
		default:
			return nil, fmt.Errorf("plugins: condition family must be \"ipv4\" or \"ipv6\", got %q", c.Family)
		}
	case "cidr":
		prefix, err := netip.ParsePrefix(c.Prefix)
		if err != nil {
			return nil, fmt.Errorf("plugins: invalid cidr %q: %w", c.Prefix, err)
		}
		return dispatcher.CIDRCondition{Prefix: prefix}, nil
	case "port_range":
		return dispatcher.PortRangeCondition{Low: c.Low, High: c.High}, nil
	case "domain_suffix":
		return dispatcher.DomainSuffixCondition{Suffix: c.Suffix}, nil
	case "all":
		conds := make(dispatcher.AllCondition, 0, len(c.All))
		for _, sub := range c.All {
			built, err := sub.build()
			if err != nil {
				return nil, err
			}
			conds = append(conds, built)
		}
		return conds, nil
	default:
		return nil, fmt.Errorf("plugins: unknown condition type %q", c.Type)
	}
}
