package nhdb

import "sync"

// fibHash mixes a record identity and field slot into the key used to pick
// writer locks from the schema's pools.
const fibHash = 0x9e3779b97f4a7c15

// Writer owns a private clone of a copy-on-write field's snapshot. Mutate
// Value freely, then Commit to publish it as the field's next snapshot, or
// Abort to throw it away. The writer holds the field's write lock from
// creation until Commit or Abort, so at most one writer per (record, field)
// exists at a time. Readers are never blocked by an open writer.
//
// Exactly one publish happens per committed writer. Commit and Abort are
// idempotent; whichever runs first wins. The usual shape is
//
//	w := fld.Write(rec)
//	defer w.Commit()
//	w.Value = append(w.Value, x)
type Writer[T any] struct {
	// Value is the owned clone. No reader can observe it before Commit.
	Value T

	slot      *cowSlot
	writeLock *sync.Mutex
	swapLock  *sync.Mutex
	done      bool
}

// Write clones the field's current snapshot into a new Writer and takes the
// field's write lock. Concurrent writers of the same field on the same
// record serialize here; writers of other fields or records only collide if
// their hash lands on the same pool slot. The caller must not open a second
// writer for the same field on the same record before finishing this one,
// the locks are not reentrant.
func (id COWFieldId[T]) Write(e *Extendible) *Writer[T] {
	e.check(id.schema, "copy-on-write")
	hash := e.id*fibHash + uint64(id.slot)
	wl := id.schema.writeLocks.MutexForHash(hash)
	wl.Lock()

	slot := &e.cows[id.slot]
	cur, _ := slot.v.Load().(cowBox).v.(T)
	return &Writer[T]{
		Value:     id.copyFn(cur),
		slot:      slot,
		writeLock: wl,
		swapLock:  id.schema.swapLocks.MutexForHash(hash),
	}
}

// Commit publishes Value as the field's snapshot and releases the write
// lock. The swap lock is held only for the store itself. After Commit the
// value belongs to the readers and must not be mutated anymore.
func (w *Writer[T]) Commit() {
	if w.done {
		return
	}
	w.done = true
	w.swapLock.Lock()
	w.slot.v.Store(cowBox{w.Value})
	w.swapLock.Unlock()
	w.writeLock.Unlock()
}

// Abort releases the write lock without publishing. The clone is discarded;
// no reader ever saw it.
func (w *Writer[T]) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.writeLock.Unlock()
}

// Update is a convenience wrapper around Write/Commit for callers that don't
// need the abort path: it opens a writer, applies fn to the clone, and
// publishes the result.
func (id COWFieldId[T]) Update(e *Extendible, fn func(T) T) {
	w := id.Write(e)
	w.Value = fn(w.Value)
	w.Commit()
}
