package discovery

import (
	"fmt"
	"log/slog"

	"github.com/miekg/dns"
)

// defaultResolver is the local stub resolver.
const defaultResolver = "127.0.0.53:53"

// ResolveSRV expands a discovery domain into candidate server addresses via
// DNS SRV records. The SRV target and port become an https address. Intended
// for self-hosted deployments that publish their anisette servers in DNS;
// resolution failure just means no extra candidates.
func ResolveSRV(domain, resolverAddr string, log *slog.Logger) ([]string, error) {
	if resolverAddr == "" {
		resolverAddr = defaultResolver
	}

	m := new(dns.Msg)
	m.Id = dns.Id()
	m.RecursionDesired = true
	m.Question = []dns.Question{{
		Name:   dns.Fqdn(domain),
		Qtype:  dns.TypeSRV,
		Qclass: dns.ClassINET,
	}}

	c := new(dns.Client)
	in, _, err := c.Exchange(m, resolverAddr)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup for %s failed: %w", domain, err)
	}

	addresses := make([]string, 0, len(in.Answer))
	for _, answer := range in.Answer {
		srv, ok := answer.(*dns.SRV)
		if !ok {
			continue
		}
		target := srv.Target
		if len(target) > 0 && target[len(target)-1] == '.' {
			target = target[:len(target)-1]
		}
		addresses = append(addresses, fmt.Sprintf("https://%s:%d", target, srv.Port))
	}

	log.Debug("Resolved SRV candidates",
		slog.String("domain", domain),
		slog.Int("count", len(addresses)))
	return addresses, nil
}
