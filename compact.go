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

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Index offsets with special meaning. Any other offset is the 1-based
// position of a slot in the kv array.
const (
	offsetUnused  = 0
	offsetDeleted = -1
)

// Slot is an element of the key/value array of a compact store. It is
// exported only so that an Allocator can allocate arrays of it.
type Slot[K, V any] struct {
	hash  int
	key   K
	value V
	used  bool
}

// compactStore is an open-addressing index of [hash, offset] pairs over an
// append-only array of key/value slots.
//
// The kv array is written strictly in insertion order at cursor, so its
// used slots are the iteration order. Deleting an entry clears its slot in
// place and turns its index pair into a tombstone. Neither is reused until
// the store is rebuilt. head is the position of the oldest used slot, which
// keeps shift from rescanning a cleared prefix.
//
// The index length is a power of two and starts out with 2 pairs per kv
// slot. The number of used pairs (live and tombstoned) is kept at or below
// threshold, which guarantees that every probe sequence ends at an unused
// pair. The index and the kv array grow independently.
type compactStore[K, V any] struct {
	index []int
	kv    []Slot[K, V]
	// cursor is the position of the next kv slot to be written.
	cursor int
	head   int
	// usedSlots is the number of index pairs that are live or tombstoned.
	usedSlots int
	deleted   int
	threshold int
}

func newCompactStore[K, V any](m *Map[K, V], capacity int) *compactStore[K, V] {
	if capacity < 1 || capacity >= maxCompactCapacity {
		assertionFailedf("compact store capacity %d out of range [1, %d)", capacity, maxCompactCapacity)
	}
	kvLen := roundUpPow2(capacity)
	s := &compactStore[K, V]{
		kv:    m.allocator.AllocSlots(kvLen),
		index: m.allocator.AllocIndex(4 * kvLen),
	}
	s.threshold = compactThreshold(len(s.index))
	return s
}

// compactThreshold returns the number of used pairs an index of length n may
// hold.
func compactThreshold(n int) int {
	return int(float64(n/2) * compactLoadFactor)
}

// probe searches the index for key. If key is present, pos is the position
// of its pair. When the probe walks past a tombstone on its way to key, the
// pair is moved into the first such tombstone and pos is the new position.
// If key is absent, pos is the position a new pair for key should be written
// to: the first tombstone on the probe sequence or else the terminating
// unused pair.
func (s *compactStore[K, V]) probe(
	m *Map[K, V], h int, key K, byIdentity bool,
) (pos int, found bool) {
	n := len(s.index)
	tomb := -1
	for pos = indexPosFromHash(h, n); ; pos = nextIndexPos(pos, n) {
		switch off := s.index[pos+1]; off {
		case offsetUnused:
			if tomb >= 0 {
				return tomb, false
			}
			return pos, false
		case offsetDeleted:
			if tomb < 0 {
				tomb = pos
			}
		default:
			if s.index[pos] != h {
				continue
			}
			slot := &s.kv[off-1]
			if !m.hasher.Equal(byIdentity, key, h, slot.key, slot.hash) {
				continue
			}
			if tomb >= 0 {
				s.index[tomb], s.index[tomb+1] = h, off
				s.index[pos+1] = offsetDeleted
				return tomb, true
			}
			return pos, true
		}
	}
}

// writePair writes a pair into pos, which must be unused or tombstoned.
func (s *compactStore[K, V]) writePair(pos, h, off int) {
	if s.index[pos+1] == offsetDeleted {
		s.deleted--
	} else {
		s.usedSlots++
	}
	s.index[pos], s.index[pos+1] = h, off
}

// insertPair writes a pair for a key known not to be in the index.
func (s *compactStore[K, V]) insertPair(h, off int) {
	n := len(s.index)
	pos := indexPosFromHash(h, n)
	for s.index[pos+1] > 0 {
		pos = nextIndexPos(pos, n)
	}
	s.writePair(pos, h, off)
}

// pairOf returns the index position of the pair referencing kv slot i.
func (s *compactStore[K, V]) pairOf(i int) int {
	n := len(s.index)
	for pos := indexPosFromHash(s.kv[i].hash, n); ; pos = nextIndexPos(pos, n) {
		switch off := s.index[pos+1]; off {
		case i + 1:
			return pos
		case offsetUnused:
			assertionFailedf("kv slot %d is not referenced by the index", i)
		}
	}
}

// removeSlot deletes the entry in kv slot i, whose index pair is at pos.
func (s *compactStore[K, V]) removeSlot(m *Map[K, V], i, pos int) {
	s.index[pos+1] = offsetDeleted
	s.deleted++
	s.kv[i] = Slot[K, V]{}
	m.size--
	for s.head < s.cursor && !s.kv[s.head].used {
		s.head++
	}
}

// growKV makes room in a full kv array. The live entries are compacted into a
// new array, which is twice as long unless at most half of the old one is
// live. The old array is never written again, which keeps an in-progress
// eachEntrySafe over it valid.
func (s *compactStore[K, V]) growKV(m *Map[K, V]) {
	kvLen := len(s.kv)
	if m.size > kvLen/2 {
		kvLen *= 2
	}
	if kvLen > maxCompactIndexSlots {
		capacityExceededf("compact store with %d entries", m.size)
	}
	if debug {
		fmt.Printf("grow kv: %d->%d size=%d\n", len(s.kv), kvLen, m.size)
	}
	m.logger.Debug("resized compact kv array",
		zap.Int("from", len(s.kv)),
		zap.Int("to", kvLen),
		zap.Int("size", m.size))

	oldKV := s.kv
	kv := m.allocator.AllocSlots(kvLen)
	var n int
	for i := s.head; i < s.cursor; i++ {
		if oldKV[i].used {
			kv[n] = oldKV[i]
			n++
		}
	}
	s.kv, s.cursor, s.head = kv, n, 0
	clear(s.index)
	s.reindex()
	m.allocator.FreeSlots(oldKV)
}

// growIndex makes room for a new pair in an index at its threshold. If at
// least a third of the pairs are tombstones the index is rebuilt in place,
// otherwise it is doubled.
func (s *compactStore[K, V]) growIndex(m *Map[K, V]) {
	pairs := len(s.index) / 2
	if s.deleted > 0 && s.deleted >= pairs/3 {
		if debug {
			fmt.Printf("rebuild index: pairs=%d size=%d deleted=%d\n", pairs, m.size, s.deleted)
		}
		clear(s.index)
		s.reindex()
		return
	}
	if 2*pairs > maxCompactIndexSlots {
		capacityExceededf("compact index with %d pairs", pairs)
	}
	if debug {
		fmt.Printf("grow index: pairs=%d->%d size=%d deleted=%d\n", pairs, 2*pairs, m.size, s.deleted)
	}
	m.logger.Debug("resized compact index",
		zap.Int("from", pairs),
		zap.Int("to", 2*pairs),
		zap.Int("size", m.size),
		zap.Int("tombstones", s.deleted))

	oldIndex := s.index
	s.index = m.allocator.AllocIndex(2 * len(oldIndex))
	s.threshold = compactThreshold(len(s.index))
	s.reindex()
	m.allocator.FreeIndex(oldIndex)
}

// reindex fills a cleared index from the used kv slots.
func (s *compactStore[K, V]) reindex() {
	s.usedSlots, s.deleted = 0, 0
	for i := s.head; i < s.cursor; i++ {
		if s.kv[i].used {
			s.insertPair(s.kv[i].hash, i+1)
		}
	}
}

func (s *compactStore[K, V]) kind() Kind { return KindCompact }

func (s *compactStore[K, V]) get(m *Map[K, V], key K) (value V, ok bool) {
	if pos, found := s.probe(m, m.hash(key), key, m.byIdentity); found {
		return s.kv[s.index[pos+1]-1].value, true
	}
	return value, false
}

func (s *compactStore[K, V]) lookupOrDefault(m *Map[K, V], key K, miss MissFunc[K, V]) V {
	if pos, found := s.probe(m, m.hash(key), key, m.byIdentity); found {
		return s.kv[s.index[pos+1]-1].value
	}
	return miss(m, key)
}

func (s *compactStore[K, V]) appendHashed(m *Map[K, V], h int, key K, value V) {
	if s.cursor == len(s.kv) {
		assertionFailedf("appendHashed on a full compact store")
	}
	s.kv[s.cursor] = Slot[K, V]{hash: h, key: key, value: value, used: true}
	s.cursor++
	s.insertPair(h, s.cursor)
}

func (s *compactStore[K, V]) set(m *Map[K, V], key K, value V, byIdentity bool) bool {
	h := m.hasher.Hash(key, byIdentity)
	pos, found := s.probe(m, h, key, byIdentity)
	if found {
		s.kv[s.index[pos+1]-1].value = value
		return false
	}

	if s.cursor == len(s.kv) {
		s.growKV(m)
		return s.set(m, key, value, byIdentity)
	}
	if s.index[pos+1] == offsetUnused && s.usedSlots >= s.threshold {
		s.growIndex(m)
		return s.set(m, key, value, byIdentity)
	}

	s.kv[s.cursor] = Slot[K, V]{hash: h, key: key, value: value, used: true}
	s.cursor++
	s.writePair(pos, h, s.cursor)
	m.size++
	return true
}

func (s *compactStore[K, V]) delete(m *Map[K, V], key K) (value V, ok bool) {
	pos, found := s.probe(m, m.hash(key), key, m.byIdentity)
	if !found {
		return value, false
	}
	i := s.index[pos+1] - 1
	value = s.kv[i].value
	s.removeSlot(m, i, pos)
	return value, true
}

func (s *compactStore[K, V]) deleteLast(m *Map[K, V], key K) V {
	if m.size == 0 {
		assertionFailedf("deleteLast on an empty map")
	}
	i := s.cursor - 1
	for !s.kv[i].used {
		i--
	}
	last := &s.kv[i]
	if h := m.hash(key); last.hash != h || !m.hasher.Equal(m.byIdentity, key, h, last.key, last.hash) {
		assertionFailedf("the last key was not %v as expected but was %v", key, last.key)
	}
	value := last.value
	s.removeSlot(m, i, s.pairOf(i))
	return value
}

func (s *compactStore[K, V]) eachEntry(m *Map[K, V], fn EachFunc[K, V]) {
	var n int
	for i := s.head; i < s.cursor; i++ {
		if slot := &s.kv[i]; slot.used {
			if !fn(n, slot.key, slot.value) {
				return
			}
			n++
		}
	}
}

func (s *compactStore[K, V]) eachEntrySafe(m *Map[K, V], fn EachFunc[K, V]) {
	// Slots below the cursor are never moved within an array, and growth
	// moves entries into a new array, so the current array and cursor are a
	// stable view of the entries present when the iteration started. A slot
	// cleared by fn is skipped.
	kv, lo, hi := s.kv, s.head, s.cursor
	var n int
	for i := lo; i < hi; i++ {
		if slot := &kv[i]; slot.used {
			if !fn(n, slot.key, slot.value) {
				return
			}
			n++
		}
	}
}

func (s *compactStore[K, V]) replace(m *Map[K, V], dest *Map[K, V]) {
	c := &compactStore[K, V]{
		kv:        dest.allocator.AllocSlots(len(s.kv)),
		index:     dest.allocator.AllocIndex(len(s.index)),
		cursor:    s.cursor,
		head:      s.head,
		usedSlots: s.usedSlots,
		deleted:   s.deleted,
		threshold: s.threshold,
	}
	copy(c.kv, s.kv)
	copy(c.index, s.index)
	dest.store = c
	dest.size = m.size
}

func (s *compactStore[K, V]) shift(m *Map[K, V]) (K, V) {
	if m.size == 0 {
		assertionFailedf("shift on an empty map")
	}
	i := s.head
	key, value := s.kv[i].key, s.kv[i].value
	s.removeSlot(m, i, s.pairOf(i))
	return key, value
}

func (s *compactStore[K, V]) rehash(m *Map[K, V]) {
	clear(s.index)
	s.usedSlots, s.deleted = 0, 0
	n := len(s.index)
	for i := s.head; i < s.cursor; i++ {
		slot := &s.kv[i]
		if !slot.used {
			continue
		}
		slot.hash = m.hash(slot.key)
		for pos := indexPosFromHash(slot.hash, n); ; pos = nextIndexPos(pos, n) {
			off := s.index[pos+1]
			if off == offsetUnused {
				s.writePair(pos, slot.hash, i+1)
				break
			}
			if o := &s.kv[off-1]; s.index[pos] == slot.hash &&
				m.hasher.Equal(m.byIdentity, slot.key, slot.hash, o.key, o.hash) {
				// The later entry wins and takes over the earlier entry's pair.
				*o = Slot[K, V]{}
				s.index[pos+1] = i + 1
				m.size--
				break
			}
		}
	}
	for s.head < s.cursor && !s.kv[s.head].used {
		s.head++
	}
}

func (s *compactStore[K, V]) verify(m *Map[K, V]) error {
	n := len(s.index)
	if n < 4 || n&(n-1) != 0 {
		return errors.Newf("index length %d is not a power of two", n)
	}
	if s.threshold != compactThreshold(n) {
		return errors.Newf("threshold %d for index length %d", s.threshold, n)
	}
	if s.head < 0 || s.head > s.cursor || s.cursor > len(s.kv) {
		return errors.Newf("head %d, cursor %d, kv length %d", s.head, s.cursor, len(s.kv))
	}
	if m.size > 0 && !s.kv[s.head].used {
		return errors.Newf("head slot %d is unused", s.head)
	}

	var used int
	for i := range s.kv {
		if !s.kv[i].used {
			continue
		}
		if i < s.head || i >= s.cursor {
			return errors.Newf("used slot %d outside [%d, %d)", i, s.head, s.cursor)
		}
		used++
	}
	if used != m.size {
		return errors.Newf("found %d used kv slots, but size is %d", used, m.size)
	}

	referenced := make([]bool, len(s.kv))
	var live, deleted int
	for pos := 0; pos < n; pos += 2 {
		h, off := s.index[pos], s.index[pos+1]
		switch {
		case off == offsetUnused:
			continue
		case off == offsetDeleted:
			deleted++
			continue
		case off < 0 || off > s.cursor:
			return errors.Newf("pair %d has offset %d, cursor is %d", pos, off, s.cursor)
		}
		slot := &s.kv[off-1]
		if !slot.used || referenced[off-1] {
			return errors.Newf("pair %d references slot %d (used=%t, referenced=%t)",
				pos, off-1, slot.used, referenced[off-1])
		}
		referenced[off-1] = true
		if slot.hash != h {
			return errors.Newf("pair %d has hash %x, slot %d has %x", pos, h, off-1, slot.hash)
		}
		for p := indexPosFromHash(h, n); p != pos; p = nextIndexPos(p, n) {
			o := s.index[p+1]
			if o == offsetUnused {
				return errors.Newf("pair %d is unreachable from %d", pos, indexPosFromHash(h, n))
			}
			if o > 0 && o <= s.cursor && s.index[p] == h &&
				m.hasher.Equal(m.byIdentity, slot.key, h, s.kv[o-1].key, s.kv[o-1].hash) {
				return errors.Newf("pairs %d and %d have equivalent keys", p, pos)
			}
		}
		live++
	}
	if live != m.size {
		return errors.Newf("found %d live pairs, but size is %d", live, m.size)
	}
	if deleted != s.deleted || live+deleted != s.usedSlots {
		return errors.Newf("found %d live and %d deleted pairs, expected %d deleted and %d used",
			live, deleted, s.deleted, s.usedSlots)
	}
	if s.usedSlots > s.threshold || s.usedSlots >= n/2 {
		return errors.Newf("%d used pairs exceed threshold %d", s.usedSlots, s.threshold)
	}
	return nil
}

// probeLength returns the number of pairs inspected to reach the pair at pos.
func (s *compactStore[K, V]) probeLength(pos int) int {
	n := len(s.index)
	home := indexPosFromHash(s.index[pos], n)
	return ((pos-home)&(n-1))/2 + 1
}

func (s *compactStore[K, V]) stats(m *Map[K, V]) Stats {
	var maxProbe int
	for pos := 0; pos < len(s.index); pos += 2 {
		if s.index[pos+1] > 0 {
			maxProbe = max(maxProbe, s.probeLength(pos))
		}
	}
	return Stats{
		Kind:       KindCompact,
		Len:        m.size,
		Capacity:   len(s.kv),
		IndexSlots: len(s.index) / 2,
		Tombstones: s.deleted,
		KVCursor:   s.cursor,
		MaxProbe:   maxProbe,
	}
}

func (s *compactStore[K, V]) release(m *Map[K, V]) {
	if s.kv != nil {
		m.allocator.FreeSlots(s.kv)
		m.allocator.FreeIndex(s.index)
	}
	s.kv, s.index = nil, nil
}
