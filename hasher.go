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
	"hash/maphash"

	"github.com/cespare/xxhash/v2"
)

// Hasher supplies hash codes and key equivalence to a Map. The Map never
// computes hashes itself.
//
// The following requirements are the implementer's responsibility:
//   - Equal(byIdentity, a, ha, b, hb) => ha == hb when ha and hb were computed
//     with the same byIdentity flag.
//   - Equal must be reflexive.
//   - If a key is mutated in a way that changes its hash, Map.Rehash must be
//     called before the key is looked up again.
//
// When byIdentity is true the Map is comparing by identity (see
// Map.CompareByIdentity). For value types identity and equality coincide;
// pointer-like keys may choose to compare the pointers instead of the
// pointees.
type Hasher[K any] interface {
	Hash(key K, byIdentity bool) int
	Equal(byIdentity bool, a K, ha int, b K, hb int) bool
}

// ComparableHasher is a Hasher for comparable keys. Its Equal is consistent
// with ==, so identity and equality comparison are the same.
type ComparableHasher[K comparable] struct {
	seed maphash.Seed
}

// MakeComparableHasher returns a ComparableHasher with a random seed.
func MakeComparableHasher[K comparable]() ComparableHasher[K] {
	return ComparableHasher[K]{seed: maphash.MakeSeed()}
}

// Hash implements Hasher.
func (h ComparableHasher[K]) Hash(key K, _ bool) int {
	return int(maphash.Comparable(h.seed, key))
}

// Equal implements Hasher.
func (ComparableHasher[K]) Equal(_ bool, a K, ha int, b K, hb int) bool {
	return ha == hb && a == b
}

// StringHasher hashes string keys with xxhash. Unlike ComparableHasher it is
// unseeded, so hash codes are stable across processes.
type StringHasher struct{}

// Hash implements Hasher.
func (StringHasher) Hash(key string, _ bool) int {
	return int(xxhash.Sum64String(key))
}

// Equal implements Hasher.
func (StringHasher) Equal(_ bool, a string, ha int, b string, hb int) bool {
	return ha == hb && a == b
}

// HasherFuncs adapts a pair of functions to the Hasher interface. When
// IdentityHash or IdentityEqual are nil, identity comparison falls back to
// HashFn and EqualFn.
type HasherFuncs[K any] struct {
	HashFn        func(key K) int
	EqualFn       func(a, b K) bool
	IdentityHash  func(key K) int
	IdentityEqual func(a, b K) bool
}

// Hash implements Hasher.
func (f HasherFuncs[K]) Hash(key K, byIdentity bool) int {
	if byIdentity && f.IdentityHash != nil {
		return f.IdentityHash(key)
	}
	return f.HashFn(key)
}

// Equal implements Hasher.
func (f HasherFuncs[K]) Equal(byIdentity bool, a K, ha int, b K, hb int) bool {
	if ha != hb {
		return false
	}
	if byIdentity && f.IdentityEqual != nil {
		return f.IdentityEqual(a, b)
	}
	return f.EqualFn(a, b)
}
