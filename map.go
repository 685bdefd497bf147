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


// Package hashstore implements an insertion-ordered hash map whose internal
// representation adapts to the number of entries it holds.
//
// # Representations
//
// A Map starts out empty and allocates nothing. The first insertion installs
// a packed store: a flat array of 3 (hash, key, value) entries that is
// scanned linearly. Small maps are common and a linear scan over 3 entries is
// cheaper than any hash table bookkeeping. The 4th insertion promotes the
// packed store into one of two big stores, selected by WithStrategy:
//
//   - buckets: a classic separate-chaining hash table. Entries live in an
//     arena and are threaded by a doubly linked insertion-order list (the
//     sequence list), so lookup order and iteration order are independent.
//     Bucket counts come from MRI's table of primes and grow when the load
//     factor exceeds 0.75.
//
//   - compact: an open-addressing index of [hash, offset] pairs over an
//     append-only array of key/value slots. The slot array is naturally in
//     insertion order. Deletion nulls the slot in place and leaves a
//     tombstone in the index. Lookups that walk past a tombstone to reach
//     their key move the key into the tombstone so that the next lookup is
//     shorter. See https://blog.toit.io/hash-maps-that-dont-hate-you-1a96150b492a.
//
// Promotion is one-way: a Map never returns to a smaller representation
// except through Clear.
//
// # Ordering
//
// Iteration visits entries in insertion order. Overwriting the value of an
// existing key keeps its position; deleting a key and inserting it again
// moves it to the end.
//
// # Hashing
//
// A Map never computes hash codes itself. Hash codes and key equivalence are
// provided by a Hasher, which is also told whether the Map is comparing by
// identity (see CompareByIdentity). If keys are mutated in a way that
// changes their hash codes, Rehash rebuilds the index and coalesces keys that
// have become equivalent.
//
// # Concurrency
//
// A Map is NOT goroutine-safe. Mutations must not run concurrently with any
// other operation. A Map may be marked shared with Share, after which every
// key and value passes through the configured SharingPolicy before it
// becomes reachable from the Map. That is the only concurrency-related work
// the Map performs.
package hashstore

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const debug = false

// MissFunc computes the result of Map.Lookup for a key that is absent. It
// must not assume the key has been inserted.
type MissFunc[K, V any] func(m *Map[K, V], key K) V

// EachFunc is called for each entry visited by an iteration, with the
// zero-based position of the entry in the iteration. Returning false stops
// the iteration.
type EachFunc[K, V any] func(i int, key K, value V) bool

// SharingPolicy makes keys and values safe to publish to other goroutines
// before they are stored into a shared Map (for example by freezing them).
type SharingPolicy[K, V any] interface {
	ShareKey(key K)
	ShareValue(value V)
}

// SharingVerifier is optionally implemented by a SharingPolicy so that the
// invariant checks can assert that every entry of a shared Map was shared.
type SharingVerifier[K, V any] interface {
	KeyShared(key K) bool
	ValueShared(value V) bool
}

// Map is an insertion-ordered map from keys to values with Set, Get, Delete,
// Shift and All operations. See the package documentation for the
// representations it moves through as it grows.
//
// The zero value for a Map is not usable.
type Map[K, V any] struct {
	// store is the current representation. It is replaced, never mutated
	// into a different kind, when the Map is promoted.
	store store[K, V]
	// The number of live entries reachable from store.
	size int
	// The hashing protocol, consulted for every hash code and key
	// comparison.
	hasher     Hasher[K]
	byIdentity bool
	shared     bool
	// miss is consulted by Lookup when a key is absent.
	miss      MissFunc[K, V]
	sharing   SharingPolicy[K, V]
	strategy  Strategy
	allocator Allocator[K, V]
	logger    *zap.Logger
	// initialCapacity is only used by New.
	initialCapacity int
}

// New constructs a new empty Map that uses hasher for hash codes and key
// comparisons.
func New[K, V any](hasher Hasher[K], options ...option[K, V]) *Map[K, V] {
	m := &Map[K, V]{
		store:     emptyStore[K, V]{},
		hasher:    hasher,
		miss:      defaultValue[K, V](*new(V)),
		allocator: defaultAllocator[K, V]{},
		logger:    zap.NewNop(),
	}

	for _, op := range options {
		op.apply(m)
	}

	switch n := m.initialCapacity; {
	case n < 0:
		assertionFailedf("negative initial capacity %d", n)
	case n == 0:
	case n <= packedCapacity:
		m.store = &packedStore[K, V]{}
	default:
		m.store = m.newBigStore(n)
	}

	m.checkInvariants()
	return m
}

// NewComparable constructs a new empty Map for comparable keys, hashed with a
// randomly seeded ComparableHasher.
func NewComparable[K comparable, V any](options ...option[K, V]) *Map[K, V] {
	return New[K, V](MakeComparableHasher[K](), options...)
}

func defaultValue[K, V any](value V) MissFunc[K, V] {
	return func(*Map[K, V], K) V {
		return value
	}
}

// Close releases the memory of the Map back to its configured allocator. It
// is unnecessary to close a Map using the default allocator. It is invalid to
// use a Map after it has been closed, though Close itself is idempotent.
func (m *Map[K, V]) Close() {
	if m.store == nil {
		return
	}
	m.store.release(m)
	m.store = nil
	m.size = 0
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.size
}

// Kind returns the representation currently backing the map.
func (m *Map[K, V]) Kind() Kind {
	return m.store.kind()
}

// Stats returns a description of the representation backing the map.
func (m *Map[K, V]) Stats() Stats {
	return m.store.stats(m)
}

// Get retrieves the value from the map for the specified key, returning
// ok=false if the key is not present. The miss policy is not consulted.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	return m.store.get(m, key)
}

// Has returns true if the key is present.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.store.get(m, key)
	return ok
}

// Lookup retrieves the value for the specified key, calling the miss policy
// if the key is not present. A miss does not modify the map.
func (m *Map[K, V]) Lookup(key K) V {
	return m.store.lookupOrDefault(m, key, m.miss)
}

// Set inserts an entry into the map, overwriting the value of an existing
// entry with an equivalent key. Overwriting does not change the position of
// the entry in the iteration order. Set returns true if a new entry was
// created.
func (m *Map[K, V]) Set(key K, value V) bool {
	m.propagateSharing(key, value)
	added := m.store.set(m, key, value, m.byIdentity)
	m.checkInvariants()
	return added
}

// Delete deletes the entry corresponding to the specified key from the map,
// returning its value. It is a noop to delete a non-existent key.
func (m *Map[K, V]) Delete(key K) (value V, ok bool) {
	value, ok = m.store.delete(m, key)
	m.checkInvariants()
	return value, ok
}

// DeleteLast deletes the most recently inserted entry, which must have the
// specified key. It supports stack-like use of a map, such as recursion
// guards. Calling DeleteLast on an empty map or with any other key panics
// with an assertion failure.
func (m *Map[K, V]) DeleteLast(key K) V {
	value := m.store.deleteLast(m, key)
	m.checkInvariants()
	return value
}

// Shift deletes and returns the oldest entry, returning ok=false if the map
// is empty.
func (m *Map[K, V]) Shift() (key K, value V, ok bool) {
	if m.size == 0 {
		return key, value, false
	}
	key, value = m.store.shift(m)
	m.checkInvariants()
	return key, value, true
}

// Each calls fn sequentially for each entry in insertion order. If fn returns
// false, the iteration stops. The map must not be mutated by fn; use EachSafe
// for that.
func (m *Map[K, V]) Each(fn EachFunc[K, V]) {
	m.store.eachEntry(m, fn)
}

// EachSafe calls fn sequentially for each entry in insertion order. The map
// can be mutated during iteration: the iteration visits the entries present
// when it started, never visits an entry twice, and does not skip entries
// because of deletions made by fn. Mutations are not necessarily visible to
// the iteration.
func (m *Map[K, V]) EachSafe(fn EachFunc[K, V]) {
	m.store.eachEntrySafe(m, fn)
}

// All calls yield sequentially for each key and value in insertion order. If
// yield returns false, the iteration stops. The map can be mutated during
// iteration with the same guarantees as EachSafe.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	m.store.eachEntrySafe(m, func(_ int, k K, v V) bool {
		return yield(k, v)
	})
}

// Keys returns the keys of the map in insertion order.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.size)
	m.store.eachEntry(m, func(_ int, k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Values returns the values of the map in insertion order.
func (m *Map[K, V]) Values() []V {
	values := make([]V, 0, m.size)
	m.store.eachEntry(m, func(_ int, _ K, v V) bool {
		values = append(values, v)
		return true
	})
	return values
}

// Fold calls fn for each entry of m in insertion order, threading state
// through the calls, and returns the final state. m must not be mutated by
// fn.
func Fold[K, V, S any](m *Map[K, V], state S, fn func(state S, i int, key K, value V) S) S {
	m.store.eachEntry(m, func(i int, k K, v V) bool {
		state = fn(state, i, k, v)
		return true
	})
	return state
}

// FoldSafe is Fold with the iteration guarantees of EachSafe.
func FoldSafe[K, V, S any](m *Map[K, V], state S, fn func(state S, i int, key K, value V) S) S {
	m.store.eachEntrySafe(m, func(i int, k K, v V) bool {
		state = fn(state, i, k, v)
		return true
	})
	return state
}

// Replace replaces the contents of m with a copy of the contents of src,
// along with its hashing protocol, comparison mode and miss policy. Later
// mutations of either map do not affect the other.
func (m *Map[K, V]) Replace(src *Map[K, V]) {
	if m == src {
		return
	}
	if m.shared {
		src.store.eachEntry(src, func(_ int, k K, v V) bool {
			m.propagateSharing(k, v)
			return true
		})
	}
	m.store.release(m)
	src.store.replace(src, m)
	m.hasher = src.hasher
	m.byIdentity = src.byIdentity
	m.miss = src.miss
	m.checkInvariants()
}

// Clone returns a new unshared map with the configuration and a copy of the
// contents of m.
func (m *Map[K, V]) Clone() *Map[K, V] {
	c := &Map[K, V]{
		store:     emptyStore[K, V]{},
		sharing:   m.sharing,
		strategy:  m.strategy,
		allocator: m.allocator,
		logger:    m.logger,
	}
	c.Replace(m)
	return c
}

// Rehash recomputes the hash code of every key and rebuilds the index. Keys
// that have become equivalent are coalesced: the entry inserted later wins
// and the earlier entry is removed.
func (m *Map[K, V]) Rehash() {
	m.store.rehash(m)
	m.checkInvariants()
}

// Clear removes all entries, returning the map to the empty representation.
func (m *Map[K, V]) Clear() {
	m.store.release(m)
	m.store = emptyStore[K, V]{}
	m.size = 0
}

// CompareByIdentity switches the map to identity comparison of keys and
// rehashes it.
func (m *Map[K, V]) CompareByIdentity() {
	if m.byIdentity {
		return
	}
	m.byIdentity = true
	m.Rehash()
}

// IsCompareByIdentity returns true if the map compares keys by identity.
func (m *Map[K, V]) IsCompareByIdentity() bool {
	return m.byIdentity
}

// SetDefault sets the value Lookup returns for absent keys.
func (m *Map[K, V]) SetDefault(value V) {
	m.miss = defaultValue[K](value)
}

// SetMissFunc sets the function Lookup calls for absent keys.
func (m *Map[K, V]) SetMissFunc(miss MissFunc[K, V]) {
	m.miss = miss
}

// Share marks the map as shared between goroutines. Every existing key and
// value, and every key and value stored afterwards, is passed through the
// SharingPolicy.
func (m *Map[K, V]) Share() {
	if m.shared {
		return
	}
	m.shared = true
	m.store.eachEntry(m, func(_ int, k K, v V) bool {
		m.propagateSharing(k, v)
		return true
	})
}

// IsShared returns true if Share has been called.
func (m *Map[K, V]) IsShared() bool {
	return m.shared
}

// propagateSharing is invoked before a key and value are written into any
// structure reachable from the map.
func (m *Map[K, V]) propagateSharing(key K, value V) {
	if !m.shared || m.sharing == nil {
		return
	}
	m.sharing.ShareKey(key)
	m.sharing.ShareValue(value)
}

// hash returns the hash code of key under the map's comparison mode.
func (m *Map[K, V]) hash(key K) int {
	return m.hasher.Hash(key, m.byIdentity)
}

// newBigStore returns an empty store of the configured strategy sized for
// capacity entries.
func (m *Map[K, V]) newBigStore(capacity int) bigStore[K, V] {
	switch m.strategy {
	case StrategyBuckets:
		return newBucketsStore[K, V](capacityGreaterThan(capacity))
	default:
		return newCompactStore[K, V](m, capacity)
	}
}

// promote installs s as the map's store.
func (m *Map[K, V]) promote(s store[K, V]) {
	if debug {
		fmt.Printf("promote: %s -> %s size=%d\n", m.store.kind(), s.kind(), m.size)
	}
	m.logger.Debug("promoted",
		zap.Stringer("from", m.store.kind()),
		zap.Stringer("to", s.kind()),
		zap.Int("size", m.size))
	m.store = s
}

// verify checks the internal consistency of the map. It is intended for
// tests and for builds with the invariants tag.
func (m *Map[K, V]) verify() error {
	if m.size < 0 {
		return errors.Newf("negative size %d", m.size)
	}
	if err := m.store.verify(m); err != nil {
		return errors.Wrapf(err, "%s store", m.store.kind())
	}
	var n int
	var err error
	m.store.eachEntry(m, func(i int, k K, v V) bool {
		if i != n {
			err = errors.Newf("entry %d visited at position %d", n, i)
			return false
		}
		n++
		if sv, ok := m.sharing.(SharingVerifier[K, V]); ok && m.shared {
			if !sv.KeyShared(k) || !sv.ValueShared(v) {
				err = errors.Newf("unshared entry in shared map: %s", debugEntry(k, v))
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	if n != m.size {
		return errors.Newf("iterated %d entries, but size is %d", n, m.size)
	}
	return nil
}

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		if err := m.verify(); err != nil {
			panic(errors.NewAssertionErrorWithWrappedErrf(err, "invariant failed\n%s", m.debugString()))
		}
	}
}
