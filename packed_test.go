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

func TestPackedPromotion(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Strategy) {
		m := New[int, int](constHasher(3), WithStrategy[int, int](s))
		for i := 0; i < packedCapacity; i++ {
			m.Set(i, i)
			p, ok := m.store.(*packedStore[int, int])
			require.True(t, ok)
			require.Equal(t, i, p.entries[i].key)
			require.Equal(t, 3, p.entries[i].hash)
		}
		// Updating a full packed store does not promote it.
		m.Set(1, 10)
		require.Equal(t, KindPacked, m.Kind())

		m.Set(packedCapacity, packedCapacity)
		require.Equal(t, kindOf(s), m.Kind())
		require.Equal(t, []int{0, 1, 2, 3}, m.Keys())
		require.Equal(t, []int{0, 10, 2, 3}, m.Values())
		require.NoError(t, m.verify())
	})
}

func TestPackedRemove(t *testing.T) {
	m := NewComparable[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)

	v, ok := m.Delete("b")
	require.True(t, ok)
	require.Equal(t, 2, v)
	require.Equal(t, []string{"a", "c"}, m.Keys())

	p := m.store.(*packedStore[string, int])
	require.Equal(t, packedEntry[string, int]{}, p.entries[2])

	m.Set("d", 4)
	require.Equal(t, KindPacked, m.Kind())
	require.Equal(t, []string{"a", "c", "d"}, m.Keys())
	require.NoError(t, m.verify())
}

func TestPackedEachSafe(t *testing.T) {
	m := NewComparable[int, int]()
	for i := 0; i < packedCapacity; i++ {
		m.Set(i, i)
	}
	var visited []int
	m.EachSafe(func(i, k, v int) bool {
		visited = append(visited, k)
		// Shifting the entries down must not cause one to be skipped, nor
		// must promotion cause one to be revisited.
		m.Delete(k)
		m.Set(k+10, v)
		m.Set(k+20, v)
		return true
	})
	require.Equal(t, []int{0, 1, 2}, visited)
	require.Equal(t, 6, m.Len())
}

func TestPackedRehash(t *testing.T) {
	boxes := makeBoxes(3)
	m := New[*box, int](boxHasher())
	for i, b := range boxes {
		m.Set(b, i)
	}
	boxes[0].v, boxes[1].v = boxes[2].v, boxes[2].v
	m.Rehash()
	require.Equal(t, 1, m.Len())
	require.Equal(t, []*box{boxes[2]}, m.Keys())
	require.NoError(t, m.verify())
}
