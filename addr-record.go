package nhdb

import "net/netip"

// AddrRecord keeps everything the proxy tracks about one next-hop address.
// The address is the record's fixed header. The owning hostname is a
// write-once field set when the record is created; an address belongs to at
// most one host at a time, reassignment destroys the record and creates a
// new one (see Registry.Update).
type AddrRecord struct {
	Extendible
	addr netip.Addr
}

// Addr returns the address this record is keyed by.
func (a *AddrRecord) Addr() netip.Addr {
	return a.addr
}

// FindOrAllocateAddr returns the record for the address, creating it owned
// by the given host if absent. On creation the address is also appended to
// the owner's published address list. If the record already exists it is
// returned as-is, existing ownership included; callers that need to move an
// address between hosts go through Update. Returns true if the record
// already existed.
func (r *Registry) FindOrAllocateAddr(addr netip.Addr, owner string) (*AddrRecord, bool) {
	host, _ := r.FindOrAllocateHost(owner)
	rec, existed := r.allocAddr(addr, owner)
	if !existed {
		r.fldAddrList.Update(host.Ext(), func(list []netip.Addr) []netip.Addr {
			return insertAddr(list, addr)
		})
	}
	return rec, existed
}

// allocAddr creates the bare address record without touching any host's
// address list. Update batches list changes into its one final publish, so
// it links addresses itself.
func (r *Registry) allocAddr(addr netip.Addr, owner string) (*AddrRecord, bool) {
	rec, existed := r.addrs.FindOrAllocate(addr, func() *AddrRecord {
		a := &AddrRecord{addr: addr}
		a.construct(r.addrSchema)
		return a
	})
	if !existed {
		r.fldOwner.Init(rec.Ext(), owner)
		r.metrics.addrsCreated.Add(1)
	}
	return rec, existed
}

// FindAddr returns the record for the address, if one exists.
func (r *Registry) FindAddr(addr netip.Addr) (*AddrRecord, bool) {
	return r.addrs.Find(addr)
}

// DestroyAddr removes the address record and unlinks the address from its
// owner's published list. Reports whether a record was removed.
func (r *Registry) DestroyAddr(addr netip.Addr) bool {
	rec, ok := r.addrs.Pop(addr)
	if !ok {
		return false
	}
	if host, ok := r.FindHost(r.fldOwner.Get(rec.Ext())); ok {
		r.fldAddrList.Update(host.Ext(), func(list []netip.Addr) []netip.Addr {
			return removeAddr(list, addr)
		})
	}
	rec.release()
	r.metrics.addrsDestroyed.Add(1)
	return true
}

// VisitAddrs calls fn for every address record, one map shard at a time.
// Returning true stops the iteration. Weakly consistent, see ShardedMap.Visit.
func (r *Registry) VisitAddrs(fn func(*AddrRecord) bool) {
	r.addrs.Visit(func(_ netip.Addr, a *AddrRecord) bool {
		return fn(a)
	})
}

// Addrs returns the number of address records.
func (r *Registry) Addrs() int {
	return r.addrs.Len()
}
