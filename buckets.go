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
	"fmt"
	"slices"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// nilRef is the absent entry reference. References are 1-based indexes into
// bucketsStore.entries so that a freshly allocated (zeroed) bucket array is
// empty without being filled.
const nilRef = 0

// bucketEntry is an entry of a buckets store. It is linked into two lists: the
// singly linked lookup chain of its bucket, and the doubly linked sequence
// list that defines the insertion order.
type bucketEntry[K, V any] struct {
	hash           int
	key            K
	value          V
	nextInLookup   int
	prevInSequence int
	nextInSequence int
}

// bucketsStore is a separate-chaining hash table. The entries live in an
// arena and refer to each other by index, so copying the store is a copy of
// two slices. The sequence list visits exactly the entries reachable from the
// buckets array. Insertion order is a property of the sequence list only and
// is unaffected by resizing.
type bucketsStore[K, V any] struct {
	// buckets holds the reference of the first entry of each lookup chain.
	buckets []int
	entries []bucketEntry[K, V]
	// free is the head of the list of arena entries released by deletion,
	// linked through nextInLookup.
	free            int
	firstInSequence int
	lastInSequence  int
}

func newBucketsStore[K, V any](bucketCount int) *bucketsStore[K, V] {
	return &bucketsStore[K, V]{buckets: make([]int, bucketCount)}
}

func (s *bucketsStore[K, V]) at(r int) *bucketEntry[K, V] {
	return &s.entries[r-1]
}

// lookup returns the bucket of hash h, and the reference of the entry for key
// along with its predecessor in the lookup chain. If key is absent, ref is
// nilRef and prev is the tail of the chain.
func (s *bucketsStore[K, V]) lookup(
	m *Map[K, V], h int, key K, byIdentity bool,
) (idx, prev, ref int) {
	idx = bucketIndex(h, len(s.buckets))
	for r := s.buckets[idx]; r != nilRef; r = s.at(r).nextInLookup {
		e := s.at(r)
		if e.hash == h && m.hasher.Equal(byIdentity, key, h, e.key, e.hash) {
			return idx, prev, r
		}
		prev = r
	}
	return idx, prev, nilRef
}

// alloc returns a reference to a new entry, reusing a released one if
// possible.
func (s *bucketsStore[K, V]) alloc(h int, key K, value V) int {
	e := bucketEntry[K, V]{hash: h, key: key, value: value}
	if r := s.free; r != nilRef {
		s.free = s.at(r).nextInLookup
		*s.at(r) = e
		return r
	}
	s.entries = append(s.entries, e)
	return len(s.entries)
}

// dealloc releases entry r, which must already be unlinked from both lists.
func (s *bucketsStore[K, V]) dealloc(r int) {
	*s.at(r) = bucketEntry[K, V]{nextInLookup: s.free}
	s.free = r
}

// linkLookup links entry r into bucket idx after prev, or at the head of the
// chain if prev is nilRef.
func (s *bucketsStore[K, V]) linkLookup(idx, prev, r int) {
	if prev == nilRef {
		s.buckets[idx] = r
	} else {
		s.at(prev).nextInLookup = r
	}
}

func (s *bucketsStore[K, V]) unlinkLookup(idx, prev, r int) {
	next := s.at(r).nextInLookup
	if prev == nilRef {
		s.buckets[idx] = next
	} else {
		s.at(prev).nextInLookup = next
	}
}

// prevInLookup returns the predecessor of entry r in bucket idx.
func (s *bucketsStore[K, V]) prevInLookup(idx, r int) int {
	var prev int
	for c := s.buckets[idx]; c != r; c = s.at(c).nextInLookup {
		if c == nilRef {
			assertionFailedf("entry %d is not in bucket %d", r, idx)
		}
		prev = c
	}
	return prev
}

func (s *bucketsStore[K, V]) appendSequence(r int) {
	e := s.at(r)
	e.prevInSequence = s.lastInSequence
	e.nextInSequence = nilRef
	if s.lastInSequence == nilRef {
		s.firstInSequence = r
	} else {
		s.at(s.lastInSequence).nextInSequence = r
	}
	s.lastInSequence = r
}

func (s *bucketsStore[K, V]) unlinkSequence(r int) {
	e := s.at(r)
	if e.prevInSequence == nilRef {
		s.firstInSequence = e.nextInSequence
	} else {
		s.at(e.prevInSequence).nextInSequence = e.nextInSequence
	}
	if e.nextInSequence == nilRef {
		s.lastInSequence = e.prevInSequence
	} else {
		s.at(e.nextInSequence).prevInSequence = e.prevInSequence
	}
}

// removeEntry splices entry r out of both lists and releases it. The stored
// hash locates the bucket, so the key need not hash to the same value any
// more.
func (s *bucketsStore[K, V]) removeEntry(m *Map[K, V], r int) {
	idx := bucketIndex(s.at(r).hash, len(s.buckets))
	s.unlinkLookup(idx, s.prevInLookup(idx, r), r)
	s.unlinkSequence(r)
	s.dealloc(r)
	m.size--
}

// resize reallocates the buckets for the current size and relinks every
// entry. The sequence list is not touched.
func (s *bucketsStore[K, V]) resize(m *Map[K, V]) {
	n := capacityGreaterThan(m.size) * bucketsOverallocate
	if debug {
		fmt.Printf("resize: buckets=%d->%d size=%d\n", len(s.buckets), n, m.size)
	}
	m.logger.Debug("resized buckets",
		zap.Int("from", len(s.buckets)),
		zap.Int("to", n),
		zap.Int("size", m.size))

	buckets := make([]int, n)
	for r := s.firstInSequence; r != nilRef; {
		e := s.at(r)
		idx := bucketIndex(e.hash, n)
		e.nextInLookup = buckets[idx]
		buckets[idx] = r
		r = e.nextInSequence
	}
	s.buckets = buckets
}

func (s *bucketsStore[K, V]) kind() Kind { return KindBuckets }

func (s *bucketsStore[K, V]) get(m *Map[K, V], key K) (value V, ok bool) {
	if _, _, r := s.lookup(m, m.hash(key), key, m.byIdentity); r != nilRef {
		return s.at(r).value, true
	}
	return value, false
}

func (s *bucketsStore[K, V]) lookupOrDefault(m *Map[K, V], key K, miss MissFunc[K, V]) V {
	if _, _, r := s.lookup(m, m.hash(key), key, m.byIdentity); r != nilRef {
		return s.at(r).value
	}
	return miss(m, key)
}

func (s *bucketsStore[K, V]) appendHashed(m *Map[K, V], h int, key K, value V) {
	idx := bucketIndex(h, len(s.buckets))
	var tail int
	for r := s.buckets[idx]; r != nilRef; r = s.at(r).nextInLookup {
		tail = r
	}
	r := s.alloc(h, key, value)
	s.linkLookup(idx, tail, r)
	s.appendSequence(r)
}

func (s *bucketsStore[K, V]) set(m *Map[K, V], key K, value V, byIdentity bool) bool {
	h := m.hasher.Hash(key, byIdentity)
	idx, prev, r := s.lookup(m, h, key, byIdentity)
	if r != nilRef {
		s.at(r).value = value
		return false
	}

	if m.size >= maxBucketsEntries {
		capacityExceededf("buckets store with %d entries", m.size)
	}
	r = s.alloc(h, key, value)
	s.linkLookup(idx, prev, r)
	s.appendSequence(r)
	m.size++

	if float64(m.size)/float64(len(s.buckets)) > bucketsLoadFactor {
		s.resize(m)
	}
	return true
}

func (s *bucketsStore[K, V]) delete(m *Map[K, V], key K) (value V, ok bool) {
	idx, prev, r := s.lookup(m, m.hash(key), key, m.byIdentity)
	if r == nilRef {
		return value, false
	}
	value = s.at(r).value
	s.unlinkLookup(idx, prev, r)
	s.unlinkSequence(r)
	s.dealloc(r)
	m.size--
	return value, true
}

func (s *bucketsStore[K, V]) deleteLast(m *Map[K, V], key K) V {
	if m.size == 0 {
		assertionFailedf("deleteLast on an empty map")
	}
	r := s.lastInSequence
	last := s.at(r)
	if h := m.hash(key); last.hash != h || !m.hasher.Equal(m.byIdentity, key, h, last.key, last.hash) {
		assertionFailedf("the last key was not %v as expected but was %v", key, last.key)
	}
	value := last.value
	s.removeEntry(m, r)
	return value
}

func (s *bucketsStore[K, V]) eachEntry(m *Map[K, V], fn EachFunc[K, V]) {
	i := 0
	for r := s.firstInSequence; r != nilRef; r = s.at(r).nextInSequence {
		e := s.at(r)
		if !fn(i, e.key, e.value) {
			return
		}
		i++
	}
}

func (s *bucketsStore[K, V]) eachEntrySafe(m *Map[K, V], fn EachFunc[K, V]) {
	// Released entries are reused by later insertions, so the sequence list
	// cannot be followed across a mutation. Iterate over a copy instead.
	snapshot := make([]Slot[K, V], 0, m.size)
	for r := s.firstInSequence; r != nilRef; r = s.at(r).nextInSequence {
		e := s.at(r)
		snapshot = append(snapshot, Slot[K, V]{key: e.key, value: e.value, used: true})
	}
	for i := range snapshot {
		if !fn(i, snapshot[i].key, snapshot[i].value) {
			return
		}
	}
}

func (s *bucketsStore[K, V]) replace(m *Map[K, V], dest *Map[K, V]) {
	dest.store = &bucketsStore[K, V]{
		buckets:         slices.Clone(s.buckets),
		entries:         slices.Clone(s.entries),
		free:            s.free,
		firstInSequence: s.firstInSequence,
		lastInSequence:  s.lastInSequence,
	}
	dest.size = m.size
}

func (s *bucketsStore[K, V]) shift(m *Map[K, V]) (K, V) {
	if m.size == 0 {
		assertionFailedf("shift on an empty map")
	}
	r := s.firstInSequence
	key, value := s.at(r).key, s.at(r).value
	s.removeEntry(m, r)
	return key, value
}

func (s *bucketsStore[K, V]) rehash(m *Map[K, V]) {
	clear(s.buckets)
	for r := s.firstInSequence; r != nilRef; {
		e := s.at(r)
		next := e.nextInSequence
		e.hash = m.hash(e.key)
		e.nextInLookup = nilRef

		idx := bucketIndex(e.hash, len(s.buckets))
		var prev int
		for o := s.buckets[idx]; o != nilRef; {
			oe := s.at(o)
			onext := oe.nextInLookup
			if oe.hash == e.hash && m.hasher.Equal(m.byIdentity, e.key, e.hash, oe.key, oe.hash) {
				// The later entry wins; splice out the earlier one.
				s.unlinkLookup(idx, prev, o)
				s.unlinkSequence(o)
				s.dealloc(o)
				m.size--
			} else {
				prev = o
			}
			o = onext
		}
		s.linkLookup(idx, prev, r)
		r = next
	}
}

func (s *bucketsStore[K, V]) verify(m *Map[K, V]) error {
	var foundFirst, foundLast bool
	var inBuckets int
	for idx, r := range s.buckets {
		for ; r != nilRef; r = s.at(r).nextInLookup {
			if r < 0 || r > len(s.entries) {
				return errors.Newf("bucket %d references entry %d of %d", idx, r, len(s.entries))
			}
			e := s.at(r)
			if want := bucketIndex(e.hash, len(s.buckets)); want != idx {
				return errors.Newf("entry %d with hash %x is in bucket %d, expected %d", r, e.hash, idx, want)
			}
			for o := e.nextInLookup; o != nilRef; o = s.at(o).nextInLookup {
				oe := s.at(o)
				if oe.hash == e.hash && m.hasher.Equal(m.byIdentity, e.key, e.hash, oe.key, oe.hash) {
					return errors.Newf("entries %d and %d have equivalent keys", r, o)
				}
			}
			foundFirst = foundFirst || r == s.firstInSequence
			foundLast = foundLast || r == s.lastInSequence
			inBuckets++
			if inBuckets > len(s.entries) {
				return errors.New("cycle in lookup chains")
			}
		}
	}
	if inBuckets != m.size {
		return errors.Newf("found %d entries in buckets, but size is %d", inBuckets, m.size)
	}
	if m.size > 0 && (!foundFirst || !foundLast) {
		return errors.Newf("sequence ends %d/%d are not reachable from the buckets",
			s.firstInSequence, s.lastInSequence)
	}

	var inSequence int
	prev := nilRef
	for r := s.firstInSequence; r != nilRef; r = s.at(r).nextInSequence {
		if s.at(r).prevInSequence != prev {
			return errors.Newf("entry %d has prev %d, expected %d", r, s.at(r).prevInSequence, prev)
		}
		prev = r
		inSequence++
		if inSequence > m.size {
			return errors.Newf("sequence list is longer than size %d", m.size)
		}
	}
	if prev != s.lastInSequence {
		return errors.Newf("sequence list ends at %d, but last is %d", prev, s.lastInSequence)
	}
	if inSequence != m.size {
		return errors.Newf("found %d entries in sequence, but size is %d", inSequence, m.size)
	}

	var free int
	for r := s.free; r != nilRef; r = s.at(r).nextInLookup {
		free++
		if free > len(s.entries) {
			return errors.New("cycle in free list")
		}
	}
	if free+m.size != len(s.entries) {
		return errors.Newf("%d free + %d live entries != %d arena entries", free, m.size, len(s.entries))
	}
	return nil
}

func (s *bucketsStore[K, V]) stats(m *Map[K, V]) Stats {
	var maxChain int
	for _, r := range s.buckets {
		var n int
		for ; r != nilRef; r = s.at(r).nextInLookup {
			n++
		}
		maxChain = max(maxChain, n)
	}
	return Stats{
		Kind:       KindBuckets,
		Len:        m.size,
		Capacity:   int(float64(len(s.buckets)) * bucketsLoadFactor),
		IndexSlots: len(s.buckets),
		Tombstones: len(s.entries) - m.size,
		MaxProbe:   maxChain,
	}
}

func (s *bucketsStore[K, V]) release(m *Map[K, V]) {
	s.buckets = nil
	s.entries = nil
}
