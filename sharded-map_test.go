package nhdb

import (
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShardedMapBasics(t *testing.T) {
	m := NewShardedMap[string, int](NewLockPool(8), StringHasher())

	_, ok := m.Find("a")
	require.False(t, ok)

	m.Put("a", 1)
	m.Put("b", 2)
	v, ok := m.Find("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.Equal(t, 2, m.Len())

	// Put overwrites
	m.Put("a", 3)
	v, _ = m.Find("a")
	require.Equal(t, 3, v)
	require.Equal(t, 2, m.Len())

	v, ok = m.Pop("a")
	require.True(t, ok)
	require.Equal(t, 3, v)
	_, ok = m.Find("a")
	require.False(t, ok)
	_, ok = m.Pop("a")
	require.False(t, ok)

	m.Clear()
	require.Equal(t, 0, m.Len())
	_, ok = m.Find("b")
	require.False(t, ok)
}

func TestShardedMapPopIf(t *testing.T) {
	m := NewShardedMap[string, *int](NewLockPool(8), StringHasher())

	v1 := new(int)
	m.Put("k", v1)

	// Rejected by the condition, the entry stays
	_, ok := m.PopIf("k", func(*int) bool { return false })
	require.False(t, ok)
	got, ok := m.Find("k")
	require.True(t, ok)
	require.Same(t, v1, got)

	// A replaced entry no longer matches an identity condition
	v2 := new(int)
	m.Put("k", v2)
	_, ok = m.PopIf("k", func(v *int) bool { return v == v1 })
	require.False(t, ok)
	got, ok = m.Find("k")
	require.True(t, ok)
	require.Same(t, v2, got)

	got, ok = m.PopIf("k", func(v *int) bool { return v == v2 })
	require.True(t, ok)
	require.Same(t, v2, got)
	_, ok = m.Find("k")
	require.False(t, ok)

	// Absent key
	_, ok = m.PopIf("k", func(*int) bool { return true })
	require.False(t, ok)
}

func TestShardedMapFindOrAllocate(t *testing.T) {
	m := NewShardedMap[string, *int](NewLockPool(8), StringHasher())

	v1, existed := m.FindOrAllocate("k", func() *int { return new(int) })
	require.False(t, existed)
	require.NotNil(t, v1)

	// Every subsequent call returns the identical value
	for i := 0; i < 3; i++ {
		v2, existed := m.FindOrAllocate("k", func() *int { return new(int) })
		require.True(t, existed)
		require.Same(t, v1, v2)
	}
}

// N goroutines racing to create the same new key must end up with exactly one
// allocation, and all of them must observe that one value.
func TestShardedMapConcurrentCreate(t *testing.T) {
	m := NewShardedMap[string, *int](NewLockPool(8), StringHasher())

	const workers = 32
	var allocs atomic.Int32
	results := make([]*int, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			v, _ := m.FindOrAllocate("contested", func() *int {
				allocs.Add(1)
				return new(int)
			})
			results[i] = v
		}(i)
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, allocs.Load())
	for i := 1; i < workers; i++ {
		require.Same(t, results[0], results[i])
	}
}

func TestShardedMapVisit(t *testing.T) {
	m := NewShardedMap[string, int](NewLockPool(8), StringHasher())
	for i := 0; i < 20; i++ {
		m.Put(fmt.Sprintf("key%d", i), i)
	}

	seen := make(map[string]int)
	m.Visit(func(k string, v int) bool {
		seen[k] = v
		return false
	})
	require.Len(t, seen, 20)

	// Early termination stops after the first callback returning true
	var calls int
	m.Visit(func(string, int) bool {
		calls++
		return true
	})
	require.Equal(t, 1, calls)
}

func TestAddrHasher(t *testing.T) {
	hash := AddrHasher()
	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")
	require.Equal(t, hash(a), hash(a))
	// Not a guarantee in general, but these two must stay usable as
	// distinct keys
	m := NewShardedMap[netip.Addr, int](NewLockPool(4), hash)
	m.Put(a, 1)
	m.Put(b, 2)
	v, _ := m.Find(a)
	require.Equal(t, 1, v)
	v, _ = m.Find(b)
	require.Equal(t, 2, v)
}
