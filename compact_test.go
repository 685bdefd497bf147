// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package hashstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newCompactMap(t *testing.T, hasher Hasher[int], capacity int) (*Map[int, int], *compactStore[int, int]) {
	m := New[int, int](hasher, WithInitialCapacity[int, int](capacity))
	s, ok := m.store.(*compactStore[int, int])
	require.True(t, ok, "store is %T", m.store)
	return m, s
}

// probeLengthOf returns the number of pairs a lookup of key inspects.
func probeLengthOf(m *Map[int, int], key int) int {
	s := m.store.(*compactStore[int, int])
	pos, found := s.probe(m, m.hash(key), key, m.byIdentity)
	if !found {
		return -1
	}
	return s.probeLength(pos)
}

func TestCompactConstruction(t *testing.T) {
	testCases := []struct {
		capacity, kvLen, indexLen int
	}{
		{1, 1, 4},
		{5, 8, 32},
		{8, 8, 32},
		{9, 16, 64},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			m := NewComparable[int, int]()
			s := newCompactStore[int, int](m, c.capacity)
			require.Len(t, s.kv, c.kvLen)
			require.Len(t, s.index, c.indexLen)
			require.Equal(t, compactThreshold(c.indexLen), s.threshold)
		})
	}

	m := NewComparable[int, int]()
	for _, c := range []int{-1, 0, maxCompactCapacity} {
		requireAssertionPanic(t, func() {
			newCompactStore[int, int](m, c)
		})
	}
}

func TestCompactTombstones(t *testing.T) {
	m, _ := newCompactMap(t, MakeComparableHasher[int](), defaultCompactCapacity)
	for i := 0; i < 5; i++ {
		m.Set(i, i)
	}
	_, ok := m.Delete(2)
	require.True(t, ok)

	for i := 100; i < 200; i++ {
		m.Set(i, i)
	}
	var total int
	for i := 100; i < 200; i++ {
		v, ok := m.Get(i)
		require.True(t, ok)
		require.Equal(t, i, v)
		n := probeLengthOf(m, i)
		require.Greater(t, n, 0)
		require.LessOrEqual(t, n, 32)
		total += n
	}
	require.LessOrEqual(t, total, 400)
	require.NoError(t, m.verify())
}

func TestCompactRelocation(t *testing.T) {
	m, s := newCompactMap(t, constHasher(0), defaultCompactCapacity)
	for i := 1; i <= 5; i++ {
		m.Set(i, i*10)
	}
	require.Equal(t, 5, probeLengthOf(m, 5))

	m.Delete(1)
	require.Equal(t, offsetDeleted, s.index[1])
	require.Equal(t, 1, s.deleted)

	// The lookup walks past the tombstone at the home pair and moves 5 into
	// it, leaving a tombstone where 5 used to be.
	v, ok := m.Get(5)
	require.True(t, ok)
	require.Equal(t, 50, v)
	require.Equal(t, 5, s.index[1])
	require.Equal(t, offsetDeleted, s.index[9])
	require.Equal(t, 1, s.deleted)
	require.Equal(t, 1, probeLengthOf(m, 5))

	// Relocation does not affect the order.
	require.Equal(t, []int{2, 3, 4, 5}, m.Keys())
	require.NoError(t, m.verify())

	// A new key is written into the first tombstone on its probe sequence.
	m.Set(6, 60)
	require.Equal(t, 0, s.deleted)
	require.Equal(t, 6, s.index[9])
	require.NoError(t, m.verify())
}

func TestCompactGrowIndex(t *testing.T) {
	t.Run("rebuild", func(t *testing.T) {
		m, s := newCompactMap(t, MakeComparableHasher[int](), 64)
		for i := 0; i < 60; i++ {
			m.Set(i, i)
		}
		for i := 0; i < 50; i++ {
			m.Delete(i)
		}
		require.Equal(t, 50, s.deleted)
		s.growIndex(m)
		require.Len(t, s.index, 256)
		require.Equal(t, 0, s.deleted)
		require.Equal(t, 10, s.usedSlots)
		require.NoError(t, m.verify())
	})

	t.Run("double", func(t *testing.T) {
		m, s := newCompactMap(t, MakeComparableHasher[int](), 64)
		for i := 0; i < 60; i++ {
			m.Set(i, i)
		}
		for i := 0; i < 10; i++ {
			m.Delete(i)
		}
		s.growIndex(m)
		require.Len(t, s.index, 512)
		require.Equal(t, 0, s.deleted)
		require.Equal(t, 50, s.usedSlots)
		require.Equal(t, compactThreshold(512), s.threshold)
		require.NoError(t, m.verify())
	})
}

func TestCompactGrowKV(t *testing.T) {
	m, s := newCompactMap(t, MakeComparableHasher[int](), 8)
	for i := 0; i < 8; i++ {
		m.Set(i, i)
	}
	for i := 0; i < 6; i++ {
		m.Delete(i)
	}
	require.Equal(t, 8, s.cursor)
	require.Equal(t, 6, s.head)

	// At most half of the full array is live, so it is compacted into a new
	// array of the same length.
	old := s.kv
	m.Set(100, 100)
	require.Len(t, s.kv, 8)
	require.NotSame(t, &old[0], &s.kv[0])
	require.Equal(t, 3, s.cursor)
	require.Equal(t, 0, s.head)
	require.Equal(t, []int{6, 7, 100}, m.Keys())

	for i := 200; i < 206; i++ {
		m.Set(i, i)
	}
	require.Len(t, s.kv, 16)
	require.Equal(t, 9, m.Len())
	require.NoError(t, m.verify())
}

func TestCompactChurn(t *testing.T) {
	for _, size := range []int{10, 40, 50} {
		t.Run("", func(t *testing.T) {
			m := NewComparable[int, int]()
			for i := 0; i < size; i++ {
				m.Set(i, i)
			}
			for i := size; i < 10000; i++ {
				m.Set(i, i)
				k, _, ok := m.Shift()
				require.True(t, ok)
				require.Equal(t, i-size, k)
			}
			st := m.Stats()
			require.Equal(t, size, st.Len)
			require.LessOrEqual(t, st.Capacity, 128)
			require.LessOrEqual(t, st.IndexSlots, 256)
			require.NoError(t, m.verify())
		})
	}
}

func TestCompactSnapshotAcrossGrowth(t *testing.T) {
	m := NewComparable[int, int]()
	for i := 0; i < 8; i++ {
		m.Set(i, i)
	}
	var visited []int
	m.EachSafe(func(i, k, v int) bool {
		visited = append(visited, k)
		if k == 3 {
			// Force the kv array to be replaced mid-iteration.
			for j := 100; j < 200; j++ {
				m.Set(j, j)
			}
			m.Delete(6)
		}
		return true
	})
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, visited)
	require.NoError(t, m.verify())
}
