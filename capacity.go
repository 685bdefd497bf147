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
	"math"
	"math/bits"
)

const (
	// packedCapacity is the number of entries a packed store holds before it
	// promotes itself to the configured big store.
	packedCapacity = 3

	// bucketsLoadFactor is the size/bucket-count ratio above which the
	// buckets store grows.
	bucketsLoadFactor = 0.75
	// bucketsOverallocate is the number of buckets allocated per entry of the
	// capacity table when growing.
	bucketsOverallocate = 4

	// compactLoadFactor is the fraction of index slots (live or tombstoned)
	// above which the compact index is rebuilt.
	compactLoadFactor = 0.7
	// defaultCompactCapacity is the kv capacity of a compact store created
	// without a size hint.
	defaultCompactCapacity = 8
	// maxCompactCapacity bounds the capacity requested when constructing a
	// compact store directly.
	maxCompactCapacity = 1 << 28
	// maxCompactIndexSlots bounds the compact index after growth.
	maxCompactIndexSlots = 1 << 30

	signMask = math.MaxInt
)

// bucketCapacities are the sizes MRI uses for its st_table bins: powers of two
// nudged up to a nearby prime.
var bucketCapacities = [...]int{
	8 + 3,
	16 + 3,
	32 + 5,
	64 + 3,
	128 + 3,
	256 + 27,
	512 + 9,
	1024 + 9,
	2048 + 5,
	4096 + 3,
	8192 + 27,
	16384 + 43,
	32768 + 3,
	65536 + 45,
	131072 + 29,
	262144 + 3,
	524288 + 21,
	1048576 + 7,
	2097152 + 17,
	4194304 + 15,
	8388608 + 9,
	16777216 + 43,
	33554432 + 35,
	67108864 + 15,
	134217728 + 29,
	268435456 + 3,
	536870912 + 11,
	1073741824 + 85,
}

// maxBucketsEntries is the largest number of entries a buckets store may hold.
var maxBucketsEntries = bucketCapacities[len(bucketCapacities)-1]

// capacityGreaterThan returns the first entry of bucketCapacities that is
// strictly greater than size, or the last entry if there is none.
func capacityGreaterThan(size int) int {
	for _, c := range bucketCapacities {
		if c > size {
			return c
		}
	}
	return bucketCapacities[len(bucketCapacities)-1]
}

// bucketIndex maps a hash code to a bucket. Negative hash codes are folded
// by clearing the sign bit.
func bucketIndex(h int, buckets int) int {
	return (h & signMask) % buckets
}

// roundUpPow2 returns the smallest power of two >= n, for n >= 1.
func roundUpPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// indexPosFromHash returns the home position of hash h in an index array of
// length n. n is a power of two so h&(n-1) is h%n; also clearing the low bit
// yields the even position of a [hash, offset] pair.
func indexPosFromHash(h int, n int) int {
	return h & (n - 2)
}

// nextIndexPos returns the position of the pair following pos, wrapping.
func nextIndexPos(pos int, n int) int {
	return (pos + 2) & (n - 1)
}
