package nhdb

import (
	"fmt"
	"sync/atomic"
)

// Integer is the set of types an atomic field can hold. Booleans are packed
// into the bit region instead, use AddBit.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// recordIDs hands out a process-unique identity per record, used to key the
// writer lock pools. Identity, not the record's address, so lock assignment
// survives anything the runtime does with the memory.
var recordIDs atomic.Uint64

// Extendible is the schema-driven part of a record. Concrete record types
// embed it next to their fixed members; all schema-declared fields live in
// the regions below and are reached through typed field ids. A record cannot
// be copied, the embedded noCopy trips vet if someone tries.
type Extendible struct {
	noCopy noCopy

	schema   *Schema
	id       uint64
	released atomic.Bool

	bits    []atomic.Uint32 // packed booleans
	atomics []atomic.Int64  // one cell per atomic field
	consts  []constSlot     // one slot per const field
	cows    []cowSlot       // one snapshot cell per copy-on-write field
}

type constSlot struct {
	set atomic.Bool
	v   atomic.Value
}

type cowSlot struct {
	v atomic.Value // current published snapshot, boxed in cowBox
}

// cowBox wraps a snapshot before it enters an atomic.Value, which rejects
// nil and requires every store to carry the same concrete type. The box
// keeps both legal for interface-typed fields and their zero value.
type cowBox struct {
	v any
}

// construct allocates the field regions of a freshly allocated record and
// publishes the initial snapshot of every copy-on-write field. This freezes
// the schema: declaring fields fails while the live count is above zero.
func (e *Extendible) construct(s *Schema) {
	s.mu.Lock()
	e.schema = s
	e.id = recordIDs.Add(1)
	e.bits = make([]atomic.Uint32, (s.bitCount+31)/32)
	e.atomics = make([]atomic.Int64, s.atomicCount)
	e.consts = make([]constSlot, s.constCount)
	e.cows = make([]cowSlot, s.cowCount)
	for _, f := range s.fields {
		if f.access == AccessCopyOnWrite {
			e.cows[f.offset].v.Store(cowBox{f.construct()})
		}
	}
	s.live.Add(1)
	s.mu.Unlock()
}

// release returns the record to the schema's live count. Called by the
// registry after the record is removed from its map; snapshots already
// handed to readers stay valid because they are immutable. Releasing twice
// is a caller bug.
func (e *Extendible) release() {
	if !e.released.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("nhdb: record %d of schema %q released twice", e.id, e.schema.name))
	}
	e.schema.live.Add(-1)
}

// Schema returns the schema this record was allocated from.
func (e *Extendible) Schema() *Schema {
	return e.schema
}

// Ext returns the record's extendible block. It is promoted through
// embedding, so field accessors can be handed any concrete record type:
//
//	fld.Load(rec.Ext())
func (e *Extendible) Ext() *Extendible {
	return e
}

// check traps field ids used against a record of a different type.
func (e *Extendible) check(s *Schema, field string) {
	if e.schema != s {
		panic(fmt.Sprintf("nhdb: field %q of schema %q used on a record of schema %q", field, s.name, e.schema.name))
	}
}

// BitFieldId identifies a packed boolean field of one schema.
type BitFieldId struct {
	schema *Schema
	bit    int
}

// Bit atomically reads a packed boolean field.
func (e *Extendible) Bit(id BitFieldId) bool {
	e.check(id.schema, "bit")
	return e.bits[id.bit/32].Load()&(uint32(1)<<(id.bit%32)) != 0
}

// SetBit atomically writes a packed boolean field. Neighboring bits in the
// shared word are not disturbed.
func (e *Extendible) SetBit(id BitFieldId, val bool) {
	e.check(id.schema, "bit")
	mask := uint32(1) << (id.bit % 32)
	word := &e.bits[id.bit/32]
	for {
		old := word.Load()
		new := old | mask
		if !val {
			new = old &^ mask
		}
		if word.CompareAndSwap(old, new) {
			return
		}
	}
}

// AtomicFieldId identifies an integer field stored in an atomic cell.
type AtomicFieldId[T Integer] struct {
	schema *Schema
	slot   int
}

// Load atomically reads the field.
func (id AtomicFieldId[T]) Load(e *Extendible) T {
	e.check(id.schema, "atomic")
	return T(e.atomics[id.slot].Load())
}

// Store atomically writes the field.
func (id AtomicFieldId[T]) Store(e *Extendible, v T) {
	e.check(id.schema, "atomic")
	e.atomics[id.slot].Store(int64(v))
}

// Add atomically adds delta to the field and returns the new value.
func (id AtomicFieldId[T]) Add(e *Extendible, delta T) T {
	e.check(id.schema, "atomic")
	return T(e.atomics[id.slot].Add(int64(delta)))
}

// CompareAndSwap atomically replaces old with new and reports whether it did.
func (id AtomicFieldId[T]) CompareAndSwap(e *Extendible, old, new T) bool {
	e.check(id.schema, "atomic")
	return e.atomics[id.slot].CompareAndSwap(int64(old), int64(new))
}

// ConstFieldId identifies a write-once field of one schema.
type ConstFieldId[T any] struct {
	schema *Schema
	slot   int
}

// Init sets the field's value. It must be called exactly once, at record
// creation time; a second call panics.
func (id ConstFieldId[T]) Init(e *Extendible, v T) {
	e.check(id.schema, "const")
	slot := &e.consts[id.slot]
	if !slot.set.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("nhdb: const field of schema %q initialized twice on record %d", id.schema.name, e.id))
	}
	slot.v.Store(v)
}

// Get reads the field. Reading before Init returns the zero value.
func (id ConstFieldId[T]) Get(e *Extendible) T {
	e.check(id.schema, "const")
	v := e.consts[id.slot].v.Load()
	if v == nil {
		var zero T
		return zero
	}
	return v.(T)
}

// COWFieldId identifies a copy-on-write field of one schema.
type COWFieldId[T any] struct {
	schema *Schema
	slot   int
	copyFn func(T) T
}

// Get returns the current published snapshot. It never blocks, not even
// while a writer is preparing the next snapshot; the value is immutable and
// stays valid after later publishes.
func (id COWFieldId[T]) Get(e *Extendible) T {
	e.check(id.schema, "copy-on-write")
	v, _ := e.cows[id.slot].v.Load().(cowBox).v.(T)
	return v
}

// noCopy triggers `go vet -copylocks` when a struct containing it is copied
// by value.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
