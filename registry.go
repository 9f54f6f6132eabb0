package nhdb

import (
	"expvar"
	"net/netip"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
)

// Registry is the next-hop host/address database: which addresses belong to
// which hostname. It composes two sharded maps (hostname → HostRecord,
// address → AddrRecord) over schema-driven records. There is no global lock;
// map structure is guarded per shard, record fields carry their own access
// discipline.
type Registry struct {
	RegistryOptions
	id string

	hostSchema *Schema
	addrSchema *Schema
	hosts      *ShardedMap[string, *HostRecord]
	addrs      *ShardedMap[netip.Addr, *AddrRecord]

	// Built-in host fields
	fldAddrList    COWFieldId[[]netip.Addr]
	fldLastRefresh AtomicFieldId[int64]
	fldResolving   BitFieldId

	// Built-in address fields
	fldOwner     ConstFieldId[string]
	fldExpire    AtomicFieldId[int64]
	fldFailCount AtomicFieldId[uint32]
	fldUp        BitFieldId

	metrics *RegistryMetrics
}

type RegistryMetrics struct {
	// Refresh operations performed.
	updates *expvar.Int
	// Records created and destroyed, per kind.
	hostsCreated   *expvar.Int
	hostsDestroyed *expvar.Int
	addrsCreated   *expvar.Int
	addrsDestroyed *expvar.Int
	// Addresses taken over from another host during a refresh.
	evictions *expvar.Int
}

type RegistryOptions struct {
	// Number of independently locked partitions per map. Defaults to 64
	// if set to 0.
	Partitions int

	// Size of the lock pools serializing copy-on-write writers per record
	// type. Defaults to 64 if set to 0.
	LockPoolSize int
}

// NewRegistry returns an empty registry. The id is used in logs and metric
// names. The built-in fields are declared here; callers can register
// additional fields on HostSchema and AddrSchema until the first record is
// created.
func NewRegistry(id string, opt RegistryOptions) *Registry {
	if opt.Partitions == 0 {
		opt.Partitions = 64
	}
	if opt.LockPoolSize == 0 {
		opt.LockPoolSize = DefaultLockPoolSize
	}
	hostSchema := NewSchema("host", opt.LockPoolSize)
	addrSchema := NewSchema("addr", opt.LockPoolSize)
	r := &Registry{
		RegistryOptions: opt,
		id:              id,
		hostSchema:      hostSchema,
		addrSchema:      addrSchema,
		hosts:           NewShardedMap[string, *HostRecord](NewLockPool(opt.Partitions), StringHasher()),
		addrs:           NewShardedMap[netip.Addr, *AddrRecord](NewLockPool(opt.Partitions), AddrHasher()),

		fldAddrList: AddCopyOnWrite(hostSchema, "addr_list", func(list []netip.Addr) []netip.Addr {
			return slices.Clone(list)
		}),
		fldLastRefresh: AddAtomic[int64](hostSchema, "last_refresh"),
		fldResolving:   hostSchema.AddBit("resolving"),

		fldOwner:     AddConst[string](addrSchema, "host_name"),
		fldExpire:    AddAtomic[int64](addrSchema, "expire"),
		fldFailCount: AddAtomic[uint32](addrSchema, "fail_count"),
		fldUp:        addrSchema.AddBit("up"),

		metrics: &RegistryMetrics{
			updates:        getVarInt("registry", id, "updates"),
			hostsCreated:   getVarInt("registry", id, "hosts-created"),
			hostsDestroyed: getVarInt("registry", id, "hosts-destroyed"),
			addrsCreated:   getVarInt("registry", id, "addrs-created"),
			addrsDestroyed: getVarInt("registry", id, "addrs-destroyed"),
			evictions:      getVarInt("registry", id, "evictions"),
		},
	}
	return r
}

// HostSchema returns the schema of host records, for declaring extension
// fields before the registry is used.
func (r *Registry) HostSchema() *Schema { return r.hostSchema }

// AddrSchema returns the schema of address records, for declaring extension
// fields before the registry is used.
func (r *Registry) AddrSchema() *Schema { return r.addrSchema }

// Built-in field ids. Obtained once and reused for the process lifetime.

// AddrListField is the host's published address list (sorted, no duplicates).
func (r *Registry) AddrListField() COWFieldId[[]netip.Addr] { return r.fldAddrList }

// LastRefreshField is the unix time of the host's last completed refresh.
func (r *Registry) LastRefreshField() AtomicFieldId[int64] { return r.fldLastRefresh }

// ResolvingField is set while a refresh for the host is in progress.
func (r *Registry) ResolvingField() BitFieldId { return r.fldResolving }

// OwnerField is the hostname an address belongs to, set once at creation.
func (r *Registry) OwnerField() ConstFieldId[string] { return r.fldOwner }

// ExpireField is the unix time the address's resolution expires.
func (r *Registry) ExpireField() AtomicFieldId[int64] { return r.fldExpire }

// FailCountField counts consecutive connection failures to the address.
func (r *Registry) FailCountField() AtomicFieldId[uint32] { return r.fldFailCount }

// UpField reports whether the address is believed reachable.
func (r *Registry) UpField() BitFieldId { return r.fldUp }

// Update applies a freshly resolved address set to a host. Addresses the
// host no longer resolves to are retired, addresses still held by another
// host are taken over (the newer resolution wins), missing records are
// created, and the complete new list is published in one snapshot swap.
//
// Updates for different hostnames run concurrently without interference.
// The steps for a single hostname are not one atomic transaction: a reader
// racing an ownership takeover can catch the address in the old host's list
// and not yet in the new one, or in neither. This is accepted eventual
// consistency; readers converge on the published end state.
func (r *Registry) Update(name string, addrs []netip.Addr) {
	next := normalizeAddrs(addrs)
	host, _ := r.FindOrAllocateHost(name)
	log := logger(r.id, name)

	host.SetBit(r.fldResolving, true)
	defer host.SetBit(r.fldResolving, false)

	// Retire records of addresses that dropped out of the resolution. Only
	// records this host still owns; a list entry can be stale after another
	// host took the address over. The ownership check happens inside the
	// shard lock so a record another host pops and recreates in the same
	// instant is never destroyed here. The published list keeps the dropped
	// addresses until the final publish below.
	var removed int
	for _, a := range r.fldAddrList.Get(host.Ext()) {
		if containsAddr(next, a) {
			continue
		}
		owned := func(rec *AddrRecord) bool {
			return r.fldOwner.Get(rec.Ext()) == name
		}
		if rec, ok := r.addrs.PopIf(a, owned); ok {
			rec.release()
			r.metrics.addrsDestroyed.Add(1)
			removed++
		}
	}

	var created, evicted int
	for _, a := range next {
		if rec, ok := r.addrs.Find(a); ok {
			owner := r.fldOwner.Get(rec.Ext())
			if owner == name {
				continue
			}
			// Another host still claims this address. Unlink it
			// there and retire the record; a fresh one owned by
			// this host is created below. Each side is its own
			// publish, see the consistency note above. The pop is
			// conditional on finding the same record: if a third
			// host replaced it meanwhile, the replacement stays.
			if prev, ok := r.FindHost(owner); ok {
				r.fldAddrList.Update(prev.Ext(), func(list []netip.Addr) []netip.Addr {
					return removeAddr(list, a)
				})
			}
			if old, ok := r.addrs.PopIf(a, func(old *AddrRecord) bool { return old == rec }); ok {
				old.release()
				r.metrics.addrsDestroyed.Add(1)
			}
			r.metrics.evictions.Add(1)
			evicted++
		}
		if _, existed := r.allocAddr(a, name); !existed {
			created++
		}
	}

	// One swap publishes the complete new list.
	w := r.fldAddrList.Write(host.Ext())
	w.Value = next
	w.Commit()

	r.fldLastRefresh.Store(host.Ext(), time.Now().Unix())
	r.metrics.updates.Add(1)
	log.WithFields(logrus.Fields{
		"addrs":   len(next),
		"created": created,
		"removed": removed,
		"evicted": evicted,
	}).Debug("host refresh")
}

// normalizeAddrs sorts the set, drops duplicates and invalid addresses, and
// unmaps 4-in-6 forms so an address always has one representation.
func normalizeAddrs(addrs []netip.Addr) []netip.Addr {
	list := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if a.IsValid() {
			list = append(list, a.Unmap())
		}
	}
	slices.SortFunc(list, netip.Addr.Compare)
	return slices.Compact(list)
}

// The address lists published by host records are kept sorted, so membership
// is a binary search and insert/remove preserve the order.

func containsAddr(list []netip.Addr, a netip.Addr) bool {
	_, ok := slices.BinarySearchFunc(list, a, netip.Addr.Compare)
	return ok
}

func insertAddr(list []netip.Addr, a netip.Addr) []netip.Addr {
	i, ok := slices.BinarySearchFunc(list, a, netip.Addr.Compare)
	if ok {
		return list
	}
	return slices.Insert(list, i, a)
}

func removeAddr(list []netip.Addr, a netip.Addr) []netip.Addr {
	i, ok := slices.BinarySearchFunc(list, a, netip.Addr.Compare)
	if !ok {
		return list
	}
	return slices.Delete(list, i, i+1)
}
