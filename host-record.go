package nhdb

// HostRecord keeps everything the proxy tracks about one hostname. The name
// is the record's fixed header; all other state lives in schema-declared
// fields, most importantly the copy-on-write list of addresses the name
// currently resolves to. Records are shared between goroutines, use the
// typed field ids from the owning Registry to access them.
type HostRecord struct {
	Extendible
	name string
}

// Name returns the hostname this record is keyed by.
func (h *HostRecord) Name() string {
	return h.name
}

// FindOrAllocateHost returns the record for the hostname, creating it if
// absent. All concurrent callers for the same new name receive the same
// record; exactly one allocation happens. Returns true if the record already
// existed.
func (r *Registry) FindOrAllocateHost(name string) (*HostRecord, bool) {
	rec, existed := r.hosts.FindOrAllocate(name, func() *HostRecord {
		h := &HostRecord{name: name}
		h.construct(r.hostSchema)
		return h
	})
	if !existed {
		r.metrics.hostsCreated.Add(1)
	}
	return rec, existed
}

// FindHost returns the record for the hostname, if one exists.
func (r *Registry) FindHost(name string) (*HostRecord, bool) {
	return r.hosts.Find(name)
}

// DestroyHost removes the hostname's record from the registry. Goroutines
// still holding the record keep a valid object, and address-list snapshots
// they obtained stay readable. Address records owned by the host are not
// touched; run Update(name, nil) first to retire them. Reports whether a
// record was removed.
func (r *Registry) DestroyHost(name string) bool {
	rec, ok := r.hosts.Pop(name)
	if !ok {
		return false
	}
	rec.release()
	r.metrics.hostsDestroyed.Add(1)
	return true
}

// VisitHosts calls fn for every host record, one map shard at a time.
// Returning true stops the iteration. Weakly consistent, see ShardedMap.Visit.
func (r *Registry) VisitHosts(fn func(*HostRecord) bool) {
	r.hosts.Visit(func(_ string, h *HostRecord) bool {
		return fn(h)
	})
}

// Hosts returns the number of host records.
func (r *Registry) Hosts() int {
	return r.hosts.Len()
}
