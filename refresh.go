package nhdb

import (
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// answerAddr extracts the terminal address of an answer record. CNAMEs and
// other record types don't carry one.
func answerAddr(rr dns.RR) (netip.Addr, bool) {
	var ip []byte
	switch a := rr.(type) {
	case *dns.A:
		ip = a.A
	case *dns.AAAA:
		ip = a.AAAA
	default:
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(ip)
	return addr.Unmap(), ok
}

// AnswerAddrs extracts the A and AAAA records from a response's answer
// section. CNAMEs and other record types are skipped; only terminal
// addresses count.
func AnswerAddrs(msg *dns.Msg) []netip.Addr {
	var addrs []netip.Addr
	for _, rr := range msg.Answer {
		if addr, ok := answerAddr(rr); ok {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// UpdateFromResponse feeds a resolver response for the given hostname into
// the registry: the answer's A/AAAA set becomes the host's address list via
// Update, and each address record's expire time is set from its record TTL.
// This is the seam between the registry and whatever does the actual DNS
// resolution; only the public registry surface is used.
func (r *Registry) UpdateFromResponse(name string, msg *dns.Msg) error {
	if msg.Rcode != dns.RcodeSuccess {
		return errors.Errorf("refresh for %q answered %s", name, dns.RcodeToString[msg.Rcode])
	}
	r.Update(name, AnswerAddrs(msg))

	now := time.Now().Unix()
	for _, rr := range msg.Answer {
		addr, ok := answerAddr(rr)
		if !ok {
			continue
		}
		if rec, found := r.FindAddr(addr); found {
			r.fldExpire.Store(rec.Ext(), now+int64(rr.Header().Ttl))
		}
	}
	return nil
}
