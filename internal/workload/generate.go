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


package workload

import (
	"strconv"

	"golang.org/x/exp/rand"
)

// Mix is the relative frequency of each kind of generated op. The weights
// need not sum to 1.
type Mix struct {
	Set        float64 `koanf:"set" yaml:"set"`
	Get        float64 `koanf:"get" yaml:"get"`
	Lookup     float64 `koanf:"lookup" yaml:"lookup"`
	Delete     float64 `koanf:"delete" yaml:"delete"`
	DeleteLast float64 `koanf:"delete-last" yaml:"delete-last"`
	Shift      float64 `koanf:"shift" yaml:"shift"`
	Rehash     float64 `koanf:"rehash" yaml:"rehash"`
	Each       float64 `koanf:"each" yaml:"each"`
}

// DefaultMix is an insert-heavy mix with enough deletions to exercise
// tombstones and free lists.
var DefaultMix = Mix{
	Set:        0.45,
	Get:        0.25,
	Lookup:     0.05,
	Delete:     0.12,
	DeleteLast: 0.04,
	Shift:      0.07,
	Rehash:     0.01,
	Each:       0.01,
}

type weightedKind struct {
	kind   OpKind
	weight float64
}

func (m Mix) weights() []weightedKind {
	return []weightedKind{
		{OpSet, m.Set},
		{OpGet, m.Get},
		{OpLookup, m.Lookup},
		{OpDelete, m.Delete},
		{OpDeleteLast, m.DeleteLast},
		{OpShift, m.Shift},
		{OpRehash, m.Rehash},
		{OpEach, m.Each},
	}
}

func totalWeight(weights []weightedKind) float64 {
	var total float64
	for _, w := range weights {
		total += max(w.weight, 0)
	}
	return total
}

// Generate returns count ops drawn from mix by a generator seeded with seed.
// The same arguments always produce the same ops. Keys are drawn from a key
// space of about count/2 keys so that sets overwrite and deletes hit. A
// delete-last op always names the most recently inserted live key; when the
// map would be empty a set is generated instead.
func Generate(mix Mix, count int, seed uint64) []Op {
	weights := mix.weights()
	total := totalWeight(weights)
	if total == 0 {
		weights = DefaultMix.weights()
		total = totalWeight(weights)
	}

	rng := rand.New(rand.NewSource(seed))
	keySpace := count/2 + 1
	randKey := func() string {
		return "k" + strconv.Itoa(rng.Intn(keySpace))
	}

	live := newModel()
	ops := make([]Op, 0, count)
	for len(ops) < count {
		kind := OpSet
		r := rng.Float64() * total
		for _, w := range weights {
			if r < max(w.weight, 0) {
				kind = w.kind
				break
			}
			r -= max(w.weight, 0)
		}

		op := Op{Kind: kind}
		switch kind {
		case OpSet:
			op.Key, op.Value = randKey(), rng.Int63()
			live.set(op.Key, op.Value)
		case OpGet, OpLookup:
			op.Key = randKey()
		case OpDelete:
			op.Key = randKey()
			live.delete(op.Key)
		case OpDeleteLast:
			key, ok := live.last()
			if !ok {
				op = Op{Kind: OpSet, Key: randKey(), Value: rng.Int63()}
				live.set(op.Key, op.Value)
				break
			}
			op.Key = key
			live.delete(key)
		case OpShift:
			live.shift()
		}
		ops = append(ops, op)
	}
	return ops
}
