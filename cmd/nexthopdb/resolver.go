package main

import (
	nhdb "github.com/folbricht/nexthopdb"
	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// refresh resolves one hostname against the upstream server and applies the
// result to the registry. A and AAAA answers are combined into one response
// so the registry sees the complete address set in a single update.
func refresh(registry *nhdb.Registry, client *dns.Client, server, host string) error {
	combined := new(dns.Msg)
	combined.SetQuestion(dns.Fqdn(host), dns.TypeA)

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		q := new(dns.Msg)
		q.SetQuestion(dns.Fqdn(host), qtype)
		in, _, err := client.Exchange(q, server)
		if err != nil {
			return errors.Wrapf(err, "failed to query %s for %s", server, host)
		}
		if in.Rcode != dns.RcodeSuccess {
			return errors.Errorf("query for %s answered %s", host, dns.RcodeToString[in.Rcode])
		}
		combined.Answer = append(combined.Answer, in.Answer...)
	}
	return registry.UpdateFromResponse(host, combined)
}
