package nhdb

import "sync"

// DefaultLockPoolSize is the number of mutexes allocated when no size is given.
const DefaultLockPoolSize = 64

// LockPool assigns a fixed set of mutexes to stripes of data. Callers hash
// whatever they need to protect and take the mutex the hash lands on. Unrelated
// keys can collide on the same mutex, that's the tradeoff for a bounded number
// of locks.
type LockPool struct {
	mutexes []sync.Mutex
}

// NewLockPool returns a pool with the given number of mutexes. Sizes < 1 use
// DefaultLockPoolSize.
func NewLockPool(size int) *LockPool {
	if size < 1 {
		size = DefaultLockPoolSize
	}
	return &LockPool{mutexes: make([]sync.Mutex, size)}
}

// Size returns the number of mutexes in the pool.
func (p *LockPool) Size() int {
	return len(p.mutexes)
}

// Index maps a hash to a slot in the pool.
func (p *LockPool) Index(hash uint64) int {
	return int(hash % uint64(len(p.mutexes)))
}

// Mutex returns the mutex in the given slot.
func (p *LockPool) Mutex(i int) *sync.Mutex {
	return &p.mutexes[i]
}

// MutexForHash returns the mutex the hash maps to.
func (p *LockPool) MutexForHash(hash uint64) *sync.Mutex {
	return &p.mutexes[p.Index(hash)]
}

// LockAll acquires every mutex in the pool, in slot order so concurrent
// LockAll callers can't deadlock each other. Used for whole-structure
// operations like Clear. Release with UnlockAll.
func (p *LockPool) LockAll() {
	for i := range p.mutexes {
		p.mutexes[i].Lock()
	}
}

// UnlockAll releases every mutex in the pool.
func (p *LockPool) UnlockAll() {
	for i := range p.mutexes {
		p.mutexes[i].Unlock()
	}
}
