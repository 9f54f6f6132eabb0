package nhdb

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// AccessMode selects the concurrency discipline of a registered field. All
// modes permit reads that never block behind a writer.
type AccessMode uint8

const (
	// AccessBit packs booleans into shared words, read and written with
	// lock-free bit operations.
	AccessBit AccessMode = iota
	// AccessAtomic stores an integer in a lock-free atomic cell.
	AccessAtomic
	// AccessConst is written exactly once when the record is created and
	// read without synchronization after that.
	AccessConst
	// AccessCopyOnWrite holds an immutable snapshot that is replaced
	// wholesale by a Writer, never mutated in place.
	AccessCopyOnWrite
)

func (m AccessMode) String() string {
	switch m {
	case AccessBit:
		return "bit"
	case AccessAtomic:
		return "atomic"
	case AccessConst:
		return "const"
	case AccessCopyOnWrite:
		return "copy-on-write"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

type fieldSchema struct {
	name      string
	access    AccessMode
	offset    int        // bit index or slot index within the mode's region
	construct func() any // initial snapshot, copy-on-write fields only
}

// Schema is the runtime field registry for one record type. Fields are
// declared at startup, before the first record is allocated; once records are
// live the layout is frozen. Each schema owns the lock pools used by writers
// of its records, so record types don't contend with each other.
type Schema struct {
	name string

	mu          sync.Mutex
	fields      map[string]*fieldSchema
	bitCount    int
	atomicCount int
	constCount  int
	cowCount    int

	live atomic.Int64 // records currently allocated from this schema

	writeLocks *LockPool // serializes writers per (record, field)
	swapLocks  *LockPool // guards the snapshot publish per field slot
}

// NewSchema returns an empty schema for a record type. The name is used in
// panic messages and metrics. lockPoolSize sets the size of the write and
// swap lock pools, 0 for the default.
func NewSchema(name string, lockPoolSize int) *Schema {
	return &Schema{
		name:       name,
		fields:     make(map[string]*fieldSchema),
		writeLocks: NewLockPool(lockPoolSize),
		swapLocks:  NewLockPool(lockPoolSize),
	}
}

// register validates the common declaration rules and stores the field.
// Called with s.mu held by the typed Add functions.
func (s *Schema) register(name string, access AccessMode, offset int, construct func() any) *fieldSchema {
	if n := s.live.Load(); n > 0 {
		panic(fmt.Sprintf("nhdb: schema %q: field %q declared while %d records are live", s.name, name, n))
	}
	if _, ok := s.fields[name]; ok {
		panic(fmt.Sprintf("nhdb: schema %q: field %q declared twice", s.name, name))
	}
	f := &fieldSchema{
		name:      name,
		access:    access,
		offset:    offset,
		construct: construct,
	}
	s.fields[name] = f
	return f
}

// AddBit declares a packed boolean field and returns its id. Panics if any
// record of this schema is live.
func (s *Schema) AddBit(name string) BitFieldId {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.register(name, AccessBit, s.bitCount, nil)
	s.bitCount++
	return BitFieldId{schema: s, bit: f.offset}
}

// AddAtomic declares an integer field stored in an atomic cell and returns
// its typed id. Booleans belong in the bit region, use AddBit. Panics if any
// record of the schema is live.
func AddAtomic[T Integer](s *Schema, name string) AtomicFieldId[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.register(name, AccessAtomic, s.atomicCount, nil)
	s.atomicCount++
	return AtomicFieldId[T]{schema: s, slot: f.offset}
}

// AddConst declares a field that is initialized exactly once when the record
// is created and read-only after that. Panics if any record of the schema is
// live.
func AddConst[T any](s *Schema, name string) ConstFieldId[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.register(name, AccessConst, s.constCount, nil)
	s.constCount++
	return ConstFieldId[T]{schema: s, slot: f.offset}
}

// AddCopyOnWrite declares a field whose value is an immutable snapshot,
// replaced as a whole by each committed Writer. copyFn produces the owned
// clone a Writer starts from; for slices that's usually slices.Clone. New
// records publish the zero value of T as their first snapshot. Panics if any
// record of the schema is live.
func AddCopyOnWrite[T any](s *Schema, name string, copyFn func(T) T) COWFieldId[T] {
	if copyFn == nil {
		panic(fmt.Sprintf("nhdb: schema %q: copy-on-write field %q needs a copy function", s.name, name))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	construct := func() any {
		var zero T
		return zero
	}
	f := s.register(name, AccessCopyOnWrite, s.cowCount, construct)
	s.cowCount++
	return COWFieldId[T]{schema: s, slot: f.offset, copyFn: copyFn}
}

// Reset drops all field declarations so the schema can be rebuilt. It fails
// while records created from it are still live.
func (s *Schema) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.live.Load(); n > 0 {
		return fmt.Errorf("schema %q has %d live records", s.name, n)
	}
	s.fields = make(map[string]*fieldSchema)
	s.bitCount = 0
	s.atomicCount = 0
	s.constCount = 0
	s.cowCount = 0
	return nil
}

// Lookup reports the access mode of a declared field.
func (s *Schema) Lookup(name string) (AccessMode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fields[name]
	if !ok {
		return 0, false
	}
	return f.access, true
}

// Fields returns the names of all declared fields, in no particular order.
func (s *Schema) Fields() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	return names
}

// Live returns the number of records currently allocated from this schema.
func (s *Schema) Live() int {
	return int(s.live.Load())
}
