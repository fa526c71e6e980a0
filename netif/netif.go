// Package netif names the network-interface contract a platform
// enumerator would populate: an interface's name plus the DNS servers
// configured on it. No platform enumerator lives in this module; callers
// that need real OS-level discovery construct Interface values from
// whatever platform API they target. No other package in this module
// consumes them.
package netif

import "net/netip"

// Interface describes one network interface as a source of DNS
// configuration: its name (as reported by the OS) and the resolver
// addresses configured on it, in the order the OS returned them.
type Interface struct {
	Name       string
	DNSServers []netip.Addr
}

// PrimaryDNSServer returns the first configured DNS server and true, or
// the zero value and false if the interface has none.
func (i Interface) PrimaryDNSServer() (netip.Addr, bool) {
	if len(i.DNSServers) == 0 {
		return netip.Addr{}, false
	}
	return i.DNSServers[0], true
}
