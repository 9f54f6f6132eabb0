package nhdb

import (
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Setting one bit must leave every other declared bit alone, across word
// boundaries of the packed region.
func TestBitIndependence(t *testing.T) {
	s := NewSchema("test", 0)
	const bits = 40 // spans two words
	ids := make([]BitFieldId, bits)
	for i := range ids {
		ids[i] = s.AddBit(string(rune('a'+i%26)) + string(rune('0'+i/26)))
	}
	rec := newTestRecord(s)

	// All bits start cleared
	for _, id := range ids {
		require.False(t, rec.Bit(id))
	}

	for i, id := range ids {
		rec.SetBit(id, true)
		for j, other := range ids {
			require.Equal(t, j <= i, rec.Bit(other), "bit %d after setting %d", j, i)
		}
	}
	for i, id := range ids {
		rec.SetBit(id, false)
		for j, other := range ids {
			require.Equal(t, j > i, rec.Bit(other), "bit %d after clearing %d", j, i)
		}
	}
}

func TestBitConcurrent(t *testing.T) {
	s := NewSchema("test", 0)
	a := s.AddBit("a")
	b := s.AddBit("b") // shares a word with a
	rec := newTestRecord(s)
	rec.SetBit(a, true)

	// Hammering b must never disturb a
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			rec.SetBit(b, i%2 == 0)
		}
	}()
	for i := 0; i < 10000; i++ {
		require.True(t, rec.Bit(a))
	}
	wg.Wait()
}

func TestAtomicField(t *testing.T) {
	s := NewSchema("test", 0)
	count := AddAtomic[int64](s, "count")
	fails := AddAtomic[uint32](s, "fails")
	rec := newTestRecord(s)

	require.EqualValues(t, 0, count.Load(rec.Ext()))
	count.Store(rec.Ext(), 42)
	require.EqualValues(t, 42, count.Load(rec.Ext()))
	require.EqualValues(t, 45, count.Add(rec.Ext(), 3))

	require.True(t, count.CompareAndSwap(rec.Ext(), 45, 50))
	require.False(t, count.CompareAndSwap(rec.Ext(), 45, 60))
	require.EqualValues(t, 50, count.Load(rec.Ext()))

	// Distinct fields get distinct cells
	fails.Store(rec.Ext(), 7)
	require.EqualValues(t, 7, fails.Load(rec.Ext()))
	require.EqualValues(t, 50, count.Load(rec.Ext()))
}

func TestConstField(t *testing.T) {
	s := NewSchema("test", 0)
	owner := AddConst[string](s, "owner")
	rec := newTestRecord(s)

	// Zero value before init
	require.Equal(t, "", owner.Get(rec.Ext()))

	owner.Init(rec.Ext(), "x.example.com")
	require.Equal(t, "x.example.com", owner.Get(rec.Ext()))

	// Initializing twice is a contract violation
	require.Panics(t, func() { owner.Init(rec.Ext(), "y.example.com") })
	require.Equal(t, "x.example.com", owner.Get(rec.Ext()))

	// Per record, not per schema
	rec2 := newTestRecord(s)
	owner.Init(rec2.Ext(), "y.example.com")
	require.Equal(t, "y.example.com", owner.Get(rec2.Ext()))
	require.Equal(t, "x.example.com", owner.Get(rec.Ext()))
}

// A field id of one schema must not work on records of another.
func TestForeignFieldId(t *testing.T) {
	s1 := NewSchema("one", 0)
	s2 := NewSchema("two", 0)
	bit := s1.AddBit("flag")
	num := AddAtomic[int64](s1, "num")
	str := AddConst[string](s1, "str")
	list := AddCopyOnWrite(s1, "list", func(l []int) []int { return slices.Clone(l) })
	s2.AddBit("flag")

	rec := newTestRecord(s2)
	require.Panics(t, func() { rec.Bit(bit) })
	require.Panics(t, func() { rec.SetBit(bit, true) })
	require.Panics(t, func() { num.Load(rec.Ext()) })
	require.Panics(t, func() { str.Get(rec.Ext()) })
	require.Panics(t, func() { list.Get(rec.Ext()) })
	require.Panics(t, func() { list.Write(rec.Ext()) })
}
