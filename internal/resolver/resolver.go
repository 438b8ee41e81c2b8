// Package resolver implements the MX-then-A/AAAA lookup spec.md §4.12's
// remote-SMTP transport needs, via github.com/miekg/dns rather than
// net.LookupMX, so the resolver's timeout and nameserver are configurable
// instead of delegating to the OS stub resolver.
//
// Grounded on LLRHook-mailit/internal/engine/dns.go's DNSResolver: a
// dns.Client wrapping one configured nameserver, an MX query sorted by
// preference, falling back to the domain's own A/AAAA per RFC 5321 §5.1
// when no MX records exist.
package resolver

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Host is one resolved mail-exchange candidate, in priority order.
type Host struct {
	Name     string
	Priority uint16
}

// Resolver performs MX/A/AAAA lookups against one configured nameserver.
type Resolver struct {
	nameserver string
	timeout    time.Duration
}

// New builds a Resolver. If nameserver is empty, the system's
// /etc/resolv.conf is consulted, falling back to a public resolver.
func New(nameserver string, timeout time.Duration) *Resolver {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if nameserver == "" {
		nameserver = systemNameserver()
	}
	if !strings.Contains(nameserver, ":") {
		nameserver += ":53"
	}
	return &Resolver{nameserver: nameserver, timeout: timeout}
}

func systemNameserver() string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err == nil && len(cfg.Servers) > 0 {
		return cfg.Servers[0] + ":53"
	}
	return "8.8.8.8:53"
}

func (r *Resolver) exchange(name string, qtype uint16) (*dns.Msg, error) {
	c := &dns.Client{Timeout: r.timeout}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	reply, _, err := c.Exchange(m, r.nameserver)
	if err != nil {
		return nil, fmt.Errorf("resolver: query %s %s: %w", name, dns.TypeToString[qtype], err)
	}
	if reply.Rcode != dns.RcodeSuccess && reply.Rcode != dns.RcodeNameError {
		return reply, fmt.Errorf("resolver: query %s %s: %s", name, dns.TypeToString[qtype], dns.RcodeToString[reply.Rcode])
	}
	return reply, nil
}

// LookupMX resolves the mail-exchange hosts for domain, sorted by
// preference ascending (spec.md §4.12). If no MX records exist, it falls
// back to a single Host naming domain itself (an A/AAAA lookup target),
// per RFC 5321 §5.1.
func (r *Resolver) LookupMX(domain string) ([]Host, error) {
	reply, err := r.exchange(domain, dns.TypeMX)
	if err != nil {
		return nil, err
	}

	var hosts []Host
	for _, ans := range reply.Answer {
		if mx, ok := ans.(*dns.MX); ok {
			hosts = append(hosts, Host{
				Name:     strings.TrimSuffix(mx.Mx, "."),
				Priority: mx.Preference,
			})
		}
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Priority < hosts[j].Priority })

	if len(hosts) == 0 {
		if _, err := r.LookupAddrs(domain); err != nil {
			return nil, fmt.Errorf("resolver: no MX for %s and fallback A/AAAA failed: %w", domain, err)
		}
		hosts = []Host{{Name: domain, Priority: 0}}
	}
	return hosts, nil
}

// LookupAddrs resolves A then AAAA records for host, returning every
// address found. Used by the remote transport to verify a candidate MX
// host actually resolves before dialing it.
func (r *Resolver) LookupAddrs(host string) ([]string, error) {
	var addrs []string

	if reply, err := r.exchange(host, dns.TypeA); err == nil {
		for _, ans := range reply.Answer {
			if a, ok := ans.(*dns.A); ok {
				addrs = append(addrs, a.A.String())
			}
		}
	}
	if reply, err := r.exchange(host, dns.TypeAAAA); err == nil {
		for _, ans := range reply.Answer {
			if aaaa, ok := ans.(*dns.AAAA); ok {
				addrs = append(addrs, aaaa.AAAA.String())
			}
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolver: no A/AAAA records for %s", host)
	}
	return addrs, nil
}
