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
	"strings"

	"github.com/cockroachdb/errors"
)

// store is the storage strategy behind a Map. Every representation
// implements the full set of operations, so a Map never needs to know which
// representation it holds. A store may replace itself inside its Map when it
// outgrows its capacity (promotion), after which the request is re-issued to
// the new store.
//
// The implementations are closed: emptyStore, *packedStore, *bucketsStore
// and *compactStore.
type store[K, V any] interface {
	kind() Kind

	// get returns the value stored for key without consulting the miss
	// policy.
	get(m *Map[K, V], key K) (V, bool)
	// lookupOrDefault returns the value stored for key, or miss(m, key) if
	// there is none.
	lookupOrDefault(m *Map[K, V], key K, miss MissFunc[K, V]) V
	// set inserts or updates key, returning true if a new entry was created.
	set(m *Map[K, V], key K, value V, byIdentity bool) bool
	// delete removes key, returning its value.
	delete(m *Map[K, V], key K) (V, bool)
	// deleteLast removes the most recently inserted entry, which must have
	// the given key.
	deleteLast(m *Map[K, V], key K) V
	// eachEntry visits the live entries in insertion order. The Map must not
	// be mutated by fn.
	eachEntry(m *Map[K, V], fn EachFunc[K, V])
	// eachEntrySafe is eachEntry over a snapshot; fn may mutate the Map.
	eachEntrySafe(m *Map[K, V], fn EachFunc[K, V])
	// replace installs a copy of m's entries into dest.
	replace(m *Map[K, V], dest *Map[K, V])
	// shift removes the oldest entry. The Map must not be empty.
	shift(m *Map[K, V]) (K, V)
	// rehash recomputes every hash code and rebuilds the structures that
	// depend on them.
	rehash(m *Map[K, V])
	// verify checks the internal consistency of the store.
	verify(m *Map[K, V]) error
	stats(m *Map[K, V]) Stats
	// release returns any allocator-provided memory.
	release(m *Map[K, V])
}

// bigStore is a store that a packed store can promote into.
type bigStore[K, V any] interface {
	store[K, V]
	// appendHashed appends an entry known not to be present, with a
	// precomputed hash code. The Map's size is not changed.
	appendHashed(m *Map[K, V], h int, key K, value V)
}

// Kind identifies the representation currently backing a Map.
type Kind uint8

const (
	// KindEmpty is the representation of a Map with no entries.
	KindEmpty Kind = iota
	// KindPacked is a flat array of up to 3 entries scanned linearly.
	KindPacked
	// KindBuckets is a separate-chaining hash table threaded by an
	// insertion-order list.
	KindBuckets
	// KindCompact is an open-addressing index over an append-only
	// key/value array.
	KindCompact
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindPacked:
		return "packed"
	case KindBuckets:
		return "buckets"
	case KindCompact:
		return "compact"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Strategy selects the representation a packed store promotes into.
type Strategy uint8

const (
	// StrategyCompact promotes into a compact store. This is the default.
	StrategyCompact Strategy = iota
	// StrategyBuckets promotes into a buckets store.
	StrategyBuckets
)

func (s Strategy) String() string {
	switch s {
	case StrategyCompact:
		return "compact"
	case StrategyBuckets:
		return "buckets"
	default:
		return fmt.Sprintf("Strategy(%d)", uint8(s))
	}
}

// ParseStrategy parses the String form of a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "", "compact":
		return StrategyCompact, nil
	case "buckets":
		return StrategyBuckets, nil
	default:
		return 0, errors.Newf("unknown strategy %q", s)
	}
}

// Stats describes the shape of the store backing a Map.
type Stats struct {
	Kind Kind
	// Len is the number of live entries.
	Len int
	// Capacity is the number of entries the store can hold before it needs
	// to grow or promote.
	Capacity int
	// IndexSlots is the number of bucket heads (buckets) or index slots
	// (compact).
	IndexSlots int
	// Tombstones is the number of deleted index slots (compact) or unused
	// kv positions below the insertion cursor.
	Tombstones int
	// KVCursor is the compact insertion cursor.
	KVCursor int
	// MaxProbe is the longest lookup chain: bucket chain length (buckets) or
	// probe sequence length (compact).
	MaxProbe int
}

func (s Stats) String() string {
	return fmt.Sprintf("kind=%s len=%d capacity=%d index-slots=%d tombstones=%d kv-cursor=%d max-probe=%d",
		s.Kind, s.Len, s.Capacity, s.IndexSlots, s.Tombstones, s.KVCursor, s.MaxProbe)
}

// emptyStore is the store of a Map with no entries. It holds no state, so a
// new Map allocates nothing for its store.
type emptyStore[K, V any] struct{}

func (emptyStore[K, V]) kind() Kind { return KindEmpty }

func (emptyStore[K, V]) get(m *Map[K, V], key K) (value V, ok bool) {
	return value, false
}

func (emptyStore[K, V]) lookupOrDefault(m *Map[K, V], key K, miss MissFunc[K, V]) V {
	return miss(m, key)
}

func (emptyStore[K, V]) set(m *Map[K, V], key K, value V, byIdentity bool) bool {
	p := &packedStore[K, V]{}
	m.promote(p)
	return p.set(m, key, value, byIdentity)
}

func (emptyStore[K, V]) delete(m *Map[K, V], key K) (value V, ok bool) {
	return value, false
}

func (emptyStore[K, V]) deleteLast(m *Map[K, V], key K) V {
	assertionFailedf("deleteLast on an empty map")
	panic("unreachable")
}

func (emptyStore[K, V]) eachEntry(m *Map[K, V], fn EachFunc[K, V]) {}

func (emptyStore[K, V]) eachEntrySafe(m *Map[K, V], fn EachFunc[K, V]) {}

func (emptyStore[K, V]) replace(m *Map[K, V], dest *Map[K, V]) {
	dest.store = emptyStore[K, V]{}
	dest.size = 0
}

func (emptyStore[K, V]) shift(m *Map[K, V]) (K, V) {
	assertionFailedf("shift on an empty map")
	panic("unreachable")
}

func (emptyStore[K, V]) rehash(m *Map[K, V]) {}

func (emptyStore[K, V]) verify(m *Map[K, V]) error {
	if m.size != 0 {
		return errors.Newf("empty store with size %d", m.size)
	}
	return nil
}

func (emptyStore[K, V]) stats(m *Map[K, V]) Stats {
	return Stats{Kind: KindEmpty}
}

func (emptyStore[K, V]) release(m *Map[K, V]) {}
