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
	"io"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

func BenchmarkMapIter(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapIter[int64], genKeys[int64]))
	})
	forEachStrategyBench(b, func(b *testing.B, s Strategy) {
		b.Run("t=Int64", benchSizes(benchmarkHashMapIter[int64](s), genKeys[int64]))
	})
}

func BenchmarkMapGetHit(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapGetHit[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapGetHit[string], genKeys[string]))
	})
	forEachStrategyBench(b, func(b *testing.B, s Strategy) {
		b.Run("t=Int64", benchSizes(benchmarkHashMapGetHit[int64](s), genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkHashMapGetHit[string](s), genKeys[string]))
	})
}

func BenchmarkMapGetMiss(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapGetMiss[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapGetMiss[string], genKeys[string]))
	})
	forEachStrategyBench(b, func(b *testing.B, s Strategy) {
		b.Run("t=Int64", benchSizes(benchmarkHashMapGetMiss[int64](s), genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkHashMapGetMiss[string](s), genKeys[string]))
	})
}

func BenchmarkMapSetGrow(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapSetGrow[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapSetGrow[string], genKeys[string]))
	})
	forEachStrategyBench(b, func(b *testing.B, s Strategy) {
		b.Run("t=Int64", benchSizes(benchmarkHashMapSetGrow[int64](s), genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkHashMapSetGrow[string](s), genKeys[string]))
	})
}

func BenchmarkMapSetDelete(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapSetDelete[int64], genKeys[int64]))
	})
	forEachStrategyBench(b, func(b *testing.B, s Strategy) {
		b.Run("t=Int64", benchSizes(benchmarkHashMapSetDelete[int64](s), genKeys[int64]))
	})
}

func BenchmarkMapSetShift(b *testing.B) {
	forEachStrategyBench(b, func(b *testing.B, s Strategy) {
		b.Run("t=Int64", benchSizes(benchmarkHashMapSetShift[int64](s), genKeys[int64]))
	})
}

func forEachStrategyBench(b *testing.B, fn func(b *testing.B, s Strategy)) {
	for _, s := range strategies {
		b.Run("impl="+s.String(), func(b *testing.B) {
			fn(b, s)
		})
	}
}

type benchTypes interface {
	int64 | string
}

func benchSizes[T benchTypes](
	f func(b *testing.B, n int, genKeys func(start, end int) []T), genKeys func(start, end int) []T,
) func(*testing.B) {
	var cases = []int{
		1, 2, 3, 4,
		8,
		16,
		64,
		256,
		1024,
		4096,
		1 << 16,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n, genKeys) })
		}
	}
}

func genKeys[T benchTypes](start, end int) []T {
	var t T
	switch any(t).(type) {
	case int64:
		keys := make([]int64, end-start)
		for i := range keys {
			keys[i] = int64(start + i)
		}
		return any(keys).([]T)
	case string:
		keys := make([]string, end-start)
		for i := range keys {
			keys[i] = strconv.Itoa(start + i)
		}
		return any(keys).([]T)
	default:
		panic("not reached")
	}
}

func newBenchMap[T comparable](s Strategy, n int) *Map[T, T] {
	return NewComparable[T, T](WithStrategy[T, T](s), WithInitialCapacity[T, T](n))
}

func benchmarkRuntimeMapIter[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	var tmp T
	for i := 0; i < b.N; i++ {
		for k, v := range m {
			tmp += k + v
		}
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, tmp)
}

func benchmarkHashMapIter[T benchTypes](s Strategy) func(*testing.B, int, func(int, int) []T) {
	return func(b *testing.B, n int, genKeys func(start, end int) []T) {
		m := newBenchMap[T](s, n)
		keys := genKeys(0, n)
		for _, k := range keys {
			m.Set(k, k)
		}
		cs := perfbench.Open(b)
		b.ResetTimer()
		cs.Reset()
		var tmp T
		for i := 0; i < b.N; i++ {
			m.Each(func(_ int, k, v T) bool {
				tmp += k + v
				return true
			})
		}
		b.StopTimer()
		fmt.Fprint(io.Discard, tmp)
	}
}

func benchmarkRuntimeMapGetMiss[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T)
	keys := genKeys(0, n)
	miss := genKeys(-n, 0)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m[miss[i%len(miss)]]
	}
}

func benchmarkHashMapGetMiss[T benchTypes](s Strategy) func(*testing.B, int, func(int, int) []T) {
	return func(b *testing.B, n int, genKeys func(start, end int) []T) {
		m := newBenchMap[T](s, 0)
		keys := genKeys(0, n)
		miss := genKeys(-n, 0)
		for j := range keys {
			m.Set(keys[j], keys[j])
		}
		cs := perfbench.Open(b)
		b.ResetTimer()
		cs.Reset()
		var ok bool
		for i := 0; i < b.N; i++ {
			_, ok = m.Get(miss[i%len(miss)])
		}
		b.StopTimer()
		fmt.Fprint(io.Discard, ok)
	}
}

func benchmarkRuntimeMapGetHit[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}

	// Go's builtin map has an optimization to avoid string comparisons if
	// there is pointer equality. Defeat this optimization to get a better
	// apples-to-apples comparison.
	keys = genKeys(0, n)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m[keys[i%n]]
	}
}

func benchmarkHashMapGetHit[T benchTypes](s Strategy) func(*testing.B, int, func(int, int) []T) {
	return func(b *testing.B, n int, genKeys func(start, end int) []T) {
		m := newBenchMap[T](s, n)
		keys := genKeys(0, n)
		for _, k := range keys {
			m.Set(k, k)
		}
		keys = genKeys(0, n)
		cs := perfbench.Open(b)
		b.ResetTimer()
		cs.Reset()
		var ok bool
		for i := 0; i < b.N; i++ {
			_, ok = m.Get(keys[i%n])
		}
		b.StopTimer()
		fmt.Fprint(io.Discard, ok)
	}
}

func benchmarkRuntimeMapSetGrow[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	keys := genKeys(0, n)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := make(map[T]T)
		for _, k := range keys {
			m[k] = k
		}
	}
}

func benchmarkHashMapSetGrow[T benchTypes](s Strategy) func(*testing.B, int, func(int, int) []T) {
	return func(b *testing.B, n int, genKeys func(start, end int) []T) {
		hasher := MakeComparableHasher[T]()
		options := []option[T, T]{WithStrategy[T, T](s)}
		keys := genKeys(0, n)
		cs := perfbench.Open(b)
		b.ResetTimer()
		cs.Reset()
		for i := 0; i < b.N; i++ {
			m := New[T, T](hasher, options...)
			for _, k := range keys {
				m.Set(k, k)
			}
		}
	}
}

func benchmarkRuntimeMapSetDelete[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % n
		delete(m, keys[j])
		m[keys[j]] = keys[j]
	}
}

func benchmarkHashMapSetDelete[T benchTypes](s Strategy) func(*testing.B, int, func(int, int) []T) {
	return func(b *testing.B, n int, genKeys func(start, end int) []T) {
		m := newBenchMap[T](s, n)
		keys := genKeys(0, n)
		for _, k := range keys {
			m.Set(k, k)
		}
		cs := perfbench.Open(b)
		b.ResetTimer()
		cs.Reset()
		for i := 0; i < b.N; i++ {
			j := i % n
			m.Delete(keys[j])
			m.Set(keys[j], keys[j])
		}
	}
}

func benchmarkHashMapSetShift[T benchTypes](s Strategy) func(*testing.B, int, func(int, int) []T) {
	return func(b *testing.B, n int, genKeys func(start, end int) []T) {
		m := newBenchMap[T](s, n)
		keys := genKeys(0, n)
		for _, k := range keys {
			m.Set(k, k)
		}
		cs := perfbench.Open(b)
		b.ResetTimer()
		cs.Reset()
		for i := 0; i < b.N; i++ {
			k, v, _ := m.Shift()
			m.Set(k, v)
		}
	}
}
