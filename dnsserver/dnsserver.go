// Package dnsserver implements a DNS datagram handler: it answers A/AAAA
// queries by delegating resolution to an injected Resolver, and remembers
// which name produced which address so later components can map a
// resolved IP back to the domain that asked for it.
package dnsserver

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/cloudflare/golibs/lrucache"

	"github.com/flowproxy/core/flow"
)

// reverseCacheCapacity mirrors the source's CACHE_CAPAICTY: a bounded
// reverse-lookup cache per address family.
const reverseCacheCapacity = 1024

// defaultConcurrencyLimit bounds how many queries a single handler
// resolves at once, so one session can't exhaust the resolver.
const defaultConcurrencyLimit = 64

// Resolver resolves a domain name to its A/AAAA records. Implementations
// are expected to apply their own timeout/retry policy.
type Resolver interface {
	ResolveIPv4(ctx context.Context, name string) ([]netip.Addr, error)
	ResolveIPv6(ctx context.Context, name string) ([]netip.Addr, error)
}

// DnsDatagramHandler answers DNS queries arriving over a datagram
// session, one spawned loop per session, bounded by a shared concurrency
// limit across all in-flight queries.
type DnsDatagramHandler struct {
	resolver Resolver
	ttl      uint32
	sem      *semaphore.Weighted

	reverseV4 *lrucache.LRUCache
	reverseV6 *lrucache.LRUCache
}

// NewDnsDatagramHandler builds a handler backed by resolver, answering
// with the given record TTL (seconds) and limiting concurrent
// in-flight resolutions to concurrencyLimit.
func NewDnsDatagramHandler(resolver Resolver, ttl uint32, concurrencyLimit int64) *DnsDatagramHandler {
	if concurrencyLimit <= 0 {
		concurrencyLimit = defaultConcurrencyLimit
	}
	return &DnsDatagramHandler{
		resolver:  resolver,
		ttl:       ttl,
		sem:       semaphore.NewWeighted(concurrencyLimit),
		reverseV4: lrucache.NewLRUCache(reverseCacheCapacity),
		reverseV6: lrucache.NewLRUCache(reverseCacheCapacity),
	}
}

// LookupV4 reports the first domain name seen to resolve to ip, if any;
// a later name resolving to the same ip does not replace it.
func (h *DnsDatagramHandler) LookupV4(ip netip.Addr) (string, bool) {
	v, ok := h.reverseV4.Get(ip.String())
	if !ok {
		return "", false
	}
	return v.(string), true
}

// LookupV6 reports the first domain name seen to resolve to ip, if any;
// a later name resolving to the same ip does not replace it.
func (h *DnsDatagramHandler) LookupV6(ip netip.Addr) (string, bool) {
	v, ok := h.reverseV6.Get(ip.String())
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (h *DnsDatagramHandler) OnSession(ctx context.Context, session flow.DatagramSession, fctx *flow.FlowContext) {
	go h.serve(ctx, session)
}

func (h *DnsDatagramHandler) serve(ctx context.Context, session flow.DatagramSession) {
	for {
		dest, buf, ok, err := session.PollRecvFrom(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("dnsserver: recv error")
			break
		}
		if !ok {
			break
		}
		if err := h.sem.Acquire(ctx, 1); err != nil {
			break
		}
		response, build := h.answer(ctx, buf)
		h.sem.Release(1)
		if !build {
			continue
		}
		if err := session.PollSendReady(ctx); err != nil {
			log.Debug().Err(err).Msg("dnsserver: send-ready error")
			break
		}
		session.SendTo(dest, response)
	}
	if err := session.PollShutdown(ctx); err != nil {
		log.Debug().Err(err).Msg("dnsserver: shutdown error")
	}
}

// answer decodes a raw query, resolves every question it can, and
// encodes the response. build is false when the query could not even be
// decoded, in which case nothing should be sent back.
func (h *DnsDatagramHandler) answer(ctx context.Context, raw []byte) (response []byte, build bool) {
	msg := new(dns.Msg)
	if err := msg.Unpack(raw); err != nil {
		queryErrors.Inc()
		return nil, false
	}

	rcode := dns.RcodeSuccess
	answers := make([]dns.RR, 0, len(msg.Question))
	for _, q := range msg.Question {
		name := strings.ToLower(q.Name)
		switch q.Qtype {
		case dns.TypeA:
			ips, err := h.resolver.ResolveIPv4(ctx, strings.TrimSuffix(name, "."))
			if err != nil {
				rcode = dns.RcodeNameError
				resolveFailures.Inc()
				continue
			}
			for _, ip := range ips {
				key := ip.String()
				if _, found := h.reverseV4.Get(key); !found {
					h.reverseV4.Set(key, strings.TrimSuffix(name, "."), time.Time{})
				}
				answers = append(answers, &dns.A{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: h.ttl},
					A:   ip.AsSlice(),
				})
			}
		case dns.TypeAAAA:
			ips, err := h.resolver.ResolveIPv6(ctx, strings.TrimSuffix(name, "."))
			if err != nil {
				rcode = dns.RcodeNameError
				resolveFailures.Inc()
				continue
			}
			for _, ip := range ips {
				key := ip.String()
				if _, found := h.reverseV6.Get(key); !found {
					h.reverseV6.Set(key, strings.TrimSuffix(name, "."), time.Time{})
				}
				answers = append(answers, &dns.AAAA{
					Hdr:  dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: h.ttl},
					AAAA: ip.AsSlice(),
				})
			}
		default:
			// TODO: SRV
			rcode = dns.RcodeNotImplemented
		}
	}

	resp := new(dns.Msg)
	resp.SetReply(msg)
	resp.Rcode = rcode
	resp.Answer = answers

	out, err := resp.Pack()
	if err != nil {
		queryErrors.Inc()
		return nil, false
	}
	return out, true
}
