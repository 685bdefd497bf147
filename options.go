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

import "go.uber.org/zap"

// option provide an interface to do work on Map while it is being created.
type option[K, V any] interface {
	apply(m *Map[K, V])
}

type strategyOption[K, V any] struct {
	strategy Strategy
}

func (op strategyOption[K, V]) apply(m *Map[K, V]) {
	m.strategy = op.strategy
}

// WithStrategy is an option to specify which representation a Map[K,V]
// promotes into once it outgrows the packed representation.
func WithStrategy[K, V any](strategy Strategy) option[K, V] {
	return strategyOption[K, V]{strategy}
}

type initialCapacityOption[K, V any] struct {
	capacity int
}

func (op initialCapacityOption[K, V]) apply(m *Map[K, V]) {
	m.initialCapacity = op.capacity
}

// WithInitialCapacity is an option to size a Map[K,V] for the specified
// number of entries up front. A capacity of 0 leaves the Map empty, a
// capacity that fits the packed representation starts the Map packed, and
// anything larger starts it in the configured big representation.
func WithInitialCapacity[K, V any](capacity int) option[K, V] {
	return initialCapacityOption[K, V]{capacity}
}

type missOption[K, V any] struct {
	miss MissFunc[K, V]
}

func (op missOption[K, V]) apply(m *Map[K, V]) {
	m.miss = op.miss
}

// WithMissFunc is an option to specify the function Map.Lookup calls when a
// key is absent.
func WithMissFunc[K, V any](miss MissFunc[K, V]) option[K, V] {
	return missOption[K, V]{miss}
}

// WithDefault is an option to specify the value Map.Lookup returns when a key
// is absent.
func WithDefault[K, V any](value V) option[K, V] {
	return missOption[K, V]{defaultValue[K](value)}
}

type sharingOption[K, V any] struct {
	policy SharingPolicy[K, V]
}

func (op sharingOption[K, V]) apply(m *Map[K, V]) {
	m.sharing = op.policy
}

// WithSharingPolicy is an option to specify the SharingPolicy invoked before
// keys and values are stored into a shared Map[K,V].
func WithSharingPolicy[K, V any](policy SharingPolicy[K, V]) option[K, V] {
	return sharingOption[K, V]{policy}
}

type identityOption[K, V any] struct{}

func (identityOption[K, V]) apply(m *Map[K, V]) {
	m.byIdentity = true
}

// WithCompareByIdentity is an option to create a Map[K,V] that compares keys
// by identity.
func WithCompareByIdentity[K, V any]() option[K, V] {
	return identityOption[K, V]{}
}

type loggerOption[K, V any] struct {
	logger *zap.Logger
}

func (op loggerOption[K, V]) apply(m *Map[K, V]) {
	m.logger = op.logger
}

// WithLogger is an option to specify the logger that receives debug events
// about promotions and growth.
func WithLogger[K, V any](logger *zap.Logger) option[K, V] {
	return loggerOption[K, V]{logger}
}

// Allocator specifies an interface for allocating and releasing memory used
// by the compact representation of a Map. The default allocator utilizes
// Go's builtin make() and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slots and
// index arrays be freed then Map.Close must be called in order to ensure
// FreeSlots and FreeIndex are called. Memory released on growth may still be
// referenced by an in-progress EachSafe, so a manual allocator must not reuse
// it while an iteration is running.
type Allocator[K, V any] interface {
	// AllocSlots should return a slice equivalent to make([]Slot[K,V], n).
	AllocSlots(n int) []Slot[K, V]

	// AllocIndex should return a slice equivalent to make([]int, n).
	AllocIndex(n int) []int

	// FreeSlots can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocSlots.
	FreeSlots(v []Slot[K, V])

	// FreeIndex can optional release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocIndex.
	FreeIndex(v []int)
}

type defaultAllocator[K, V any] struct{}

func (defaultAllocator[K, V]) AllocSlots(n int) []Slot[K, V] {
	return make([]Slot[K, V], n)
}

func (defaultAllocator[K, V]) AllocIndex(n int) []int {
	return make([]int, n)
}

func (defaultAllocator[K, V]) FreeSlots(v []Slot[K, V]) {
}

func (defaultAllocator[K, V]) FreeIndex(v []int) {
}

type allocatorOption[K, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Map[K,V].
func WithAllocator[K, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}
