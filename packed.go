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
	"github.com/cockroachdb/errors"
)

// packedEntry is a single (hash, key, value) triple of a packed store.
type packedEntry[K, V any] struct {
	hash  int
	key   K
	value V
}

// packedStore holds up to packedCapacity entries in a flat array. The live
// entries occupy entries[:m.size] contiguously and that prefix is the
// insertion order. Every operation is a linear scan.
type packedStore[K, V any] struct {
	entries [packedCapacity]packedEntry[K, V]
}

// find returns the index of the entry for key, or -1.
func (p *packedStore[K, V]) find(m *Map[K, V], h int, key K, byIdentity bool) int {
	for i := 0; i < m.size; i++ {
		e := &p.entries[i]
		if e.hash == h && m.hasher.Equal(byIdentity, key, h, e.key, e.hash) {
			return i
		}
	}
	return -1
}

// remove removes entry i, shifting the following entries down to keep the
// live entries contiguous.
func (p *packedStore[K, V]) remove(m *Map[K, V], i int) {
	copy(p.entries[i:m.size], p.entries[i+1:m.size])
	p.entries[m.size-1] = packedEntry[K, V]{}
	m.size--
}

func (p *packedStore[K, V]) kind() Kind { return KindPacked }

func (p *packedStore[K, V]) get(m *Map[K, V], key K) (value V, ok bool) {
	if i := p.find(m, m.hash(key), key, m.byIdentity); i >= 0 {
		return p.entries[i].value, true
	}
	return value, false
}

func (p *packedStore[K, V]) lookupOrDefault(m *Map[K, V], key K, miss MissFunc[K, V]) V {
	if i := p.find(m, m.hash(key), key, m.byIdentity); i >= 0 {
		return p.entries[i].value
	}
	return miss(m, key)
}

func (p *packedStore[K, V]) set(m *Map[K, V], key K, value V, byIdentity bool) bool {
	h := m.hasher.Hash(key, byIdentity)
	if i := p.find(m, h, key, byIdentity); i >= 0 {
		p.entries[i].value = value
		return false
	}

	if m.size < packedCapacity {
		p.entries[m.size] = packedEntry[K, V]{hash: h, key: key, value: value}
		m.size++
		return true
	}

	// Full: copy the entries in slot order into the next representation,
	// install it and retry.
	big := m.newBigStore(defaultCompactCapacity)
	for i := 0; i < m.size; i++ {
		e := &p.entries[i]
		big.appendHashed(m, e.hash, e.key, e.value)
	}
	m.promote(big)
	return big.set(m, key, value, byIdentity)
}

func (p *packedStore[K, V]) delete(m *Map[K, V], key K) (value V, ok bool) {
	i := p.find(m, m.hash(key), key, m.byIdentity)
	if i < 0 {
		return value, false
	}
	value = p.entries[i].value
	p.remove(m, i)
	return value, true
}

func (p *packedStore[K, V]) deleteLast(m *Map[K, V], key K) V {
	if m.size == 0 {
		assertionFailedf("deleteLast on an empty map")
	}
	i := m.size - 1
	last := &p.entries[i]
	if h := m.hash(key); last.hash != h || !m.hasher.Equal(m.byIdentity, key, h, last.key, last.hash) {
		assertionFailedf("the last key was not %v as expected but was %v", key, last.key)
	}
	value := last.value
	p.remove(m, i)
	return value
}

func (p *packedStore[K, V]) eachEntry(m *Map[K, V], fn EachFunc[K, V]) {
	for i := 0; i < m.size; i++ {
		if !fn(i, p.entries[i].key, p.entries[i].value) {
			return
		}
	}
}

func (p *packedStore[K, V]) eachEntrySafe(m *Map[K, V], fn EachFunc[K, V]) {
	// The array is small enough to snapshot by value.
	entries, n := p.entries, m.size
	for i := 0; i < n; i++ {
		if !fn(i, entries[i].key, entries[i].value) {
			return
		}
	}
}

func (p *packedStore[K, V]) replace(m *Map[K, V], dest *Map[K, V]) {
	c := *p
	dest.store = &c
	dest.size = m.size
}

func (p *packedStore[K, V]) shift(m *Map[K, V]) (K, V) {
	if m.size == 0 {
		assertionFailedf("shift on an empty map")
	}
	key, value := p.entries[0].key, p.entries[0].value
	p.remove(m, 0)
	return key, value
}

func (p *packedStore[K, V]) rehash(m *Map[K, V]) {
	for i := 0; i < m.size; i++ {
		e := &p.entries[i]
		e.hash = m.hash(e.key)
		// If an earlier entry is now equivalent, the later entry wins and
		// the earlier one is removed.
		for j := 0; j < i; j++ {
			o := &p.entries[j]
			if o.hash == e.hash && m.hasher.Equal(m.byIdentity, e.key, e.hash, o.key, o.hash) {
				p.remove(m, j)
				i--
				break
			}
		}
	}
}

func (p *packedStore[K, V]) verify(m *Map[K, V]) error {
	if m.size > packedCapacity {
		return errors.Newf("size %d exceeds packed capacity %d", m.size, packedCapacity)
	}
	for i := 0; i < m.size; i++ {
		for j := 0; j < i; j++ {
			a, b := &p.entries[i], &p.entries[j]
			if a.hash == b.hash && m.hasher.Equal(m.byIdentity, a.key, a.hash, b.key, b.hash) {
				return errors.Newf("entries %d and %d have equivalent keys", j, i)
			}
		}
	}
	return nil
}

func (p *packedStore[K, V]) stats(m *Map[K, V]) Stats {
	return Stats{
		Kind:     KindPacked,
		Len:      m.size,
		Capacity: packedCapacity,
		MaxProbe: m.size,
	}
}

func (p *packedStore[K, V]) release(m *Map[K, V]) {}
