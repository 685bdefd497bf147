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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hashstore"
)

// checkCancelEvery is the number of ops applied between checks of the
// context.
const checkCancelEvery = 1024

// Result summarizes a Run.
type Result struct {
	// Ops counts the applied ops by kind.
	Ops    [numOpKinds]int
	Hits   int
	Misses int
	// Visited counts the entries visited by each ops in total.
	Visited int
	Elapsed time.Duration
	Len     int
	Stats   hashstore.Stats
}

// Total returns the number of applied ops.
func (r Result) Total() int {
	var n int
	for _, c := range r.Ops {
		n += c
	}
	return n
}

func (r Result) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "ops=%d elapsed=%s", r.Total(), r.Elapsed)
	if n := r.Total(); n > 0 {
		fmt.Fprintf(&buf, " (%.1fns/op)", float64(r.Elapsed.Nanoseconds())/float64(n))
	}
	for k, c := range r.Ops {
		if c > 0 {
			fmt.Fprintf(&buf, " %s=%d", OpKind(k), c)
		}
	}
	fmt.Fprintf(&buf, " hits=%d misses=%d visited=%d len=%d\n%s", r.Hits, r.Misses, r.Visited, r.Len, r.Stats)
	return buf.String()
}

// runner applies ops to a map and, if model is non-nil, checks each result
// against it.
type runner struct {
	m     *hashstore.Map[string, int64]
	model *model
	res   Result
}

// Run applies ops to m in order. The context is checked between ops. If check
// is true, every result and the final iteration order are compared against a
// reference model seeded with the current contents of m, and the first
// discrepancy is returned as an error.
//
// A delete-last op that does not name the most recently inserted key is a
// contract violation of the map. Run reports it as an error wrapping the
// assertion failure rather than panicking.
func Run(
	ctx context.Context, m *hashstore.Map[string, int64], ops []Op, check bool,
) (Result, error) {
	r := &runner{m: m}
	if check {
		r.model = newModel()
		m.Each(func(_ int, k string, v int64) bool {
			r.model.set(k, v)
			return true
		})
	}

	start := time.Now()
	for i, op := range ops {
		if i%checkCancelEvery == 0 {
			if err := ctx.Err(); err != nil {
				return r.finish(start), errors.Wrapf(err, "canceled after %d ops", i)
			}
		}
		if err := r.apply(op); err != nil {
			return r.finish(start), errors.Wrapf(err, "op %d (%s)", i, op)
		}
	}
	res := r.finish(start)

	if check {
		if err := r.checkOrder(); err != nil {
			return res, errors.Wrap(err, "final contents")
		}
	}
	return res, nil
}

func (r *runner) finish(start time.Time) Result {
	r.res.Elapsed = time.Since(start)
	r.res.Len = r.m.Len()
	r.res.Stats = r.m.Stats()
	return r.res
}

func (r *runner) apply(op Op) (err error) {
	defer func() {
		if p := recover(); p != nil {
			perr, ok := p.(error)
			if !ok || !errors.HasAssertionFailure(perr) {
				panic(p)
			}
			err = perr
		}
	}()

	m, model := r.m, r.model
	switch op.Kind {
	case OpSet:
		added := m.Set(op.Key, op.Value)
		if model != nil {
			if want := model.set(op.Key, op.Value); added != want {
				return errors.Newf("added=%t, expected %t", added, want)
			}
		}

	case OpGet:
		v, ok := m.Get(op.Key)
		r.count(ok)
		if model != nil {
			if wv, wok := model.get(op.Key); v != wv || ok != wok {
				return errors.Newf("got (%d, %t), expected (%d, %t)", v, ok, wv, wok)
			}
		}

	case OpLookup:
		v := m.Lookup(op.Key)
		ok := m.Has(op.Key)
		r.count(ok)
		if model != nil {
			if wv, wok := model.get(op.Key); ok != wok || (ok && v != wv) {
				return errors.Newf("got (%d, %t), expected (%d, %t)", v, ok, wv, wok)
			}
		}

	case OpDelete:
		v, ok := m.Delete(op.Key)
		r.count(ok)
		if model != nil {
			if wv, wok := model.delete(op.Key); v != wv || ok != wok {
				return errors.Newf("deleted (%d, %t), expected (%d, %t)", v, ok, wv, wok)
			}
		}

	case OpDeleteLast:
		v := m.DeleteLast(op.Key)
		if model != nil {
			last, _ := model.last()
			if last != op.Key {
				return errors.Newf("deleted %s, but the last key is %s", op.Key, last)
			}
			if wv, _ := model.delete(op.Key); v != wv {
				return errors.Newf("deleted %d, expected %d", v, wv)
			}
		}

	case OpShift:
		k, v, ok := m.Shift()
		r.count(ok)
		if model != nil {
			if wk, wv, wok := model.shift(); k != wk || v != wv || ok != wok {
				return errors.Newf("shifted (%s, %d, %t), expected (%s, %d, %t)", k, v, ok, wk, wv, wok)
			}
		}

	case OpRehash:
		m.Rehash()

	case OpClear:
		m.Clear()
		if model != nil {
			model.clear()
		}

	case OpEach:
		m.Each(func(int, string, int64) bool {
			r.res.Visited++
			return true
		})
		if model != nil {
			if err := r.checkOrder(); err != nil {
				return err
			}
		}

	default:
		return errors.Newf("unknown op kind %d", op.Kind)
	}

	r.res.Ops[op.Kind]++
	if model != nil && m.Len() != model.len() {
		return errors.Newf("len=%d, expected %d", m.Len(), model.len())
	}
	return nil
}

func (r *runner) count(hit bool) {
	if hit {
		r.res.Hits++
	} else {
		r.res.Misses++
	}
}

// checkOrder compares the iteration order of the map with the model.
func (r *runner) checkOrder() error {
	type kv struct {
		key   string
		value int64
	}
	var want []kv
	r.model.each(func(_ int, k string, v int64) bool {
		want = append(want, kv{k, v})
		return true
	})

	var err error
	r.m.Each(func(i int, k string, v int64) bool {
		switch {
		case i >= len(want):
			err = errors.Newf("unexpected entry %d: %s=%d", i, k, v)
		case want[i] != (kv{k, v}):
			err = errors.Newf("entry %d is %s=%d, expected %s=%d", i, k, v, want[i].key, want[i].value)
		}
		return err == nil
	})
	if err == nil && r.m.Len() != len(want) {
		err = errors.Newf("%d entries, expected %d", r.m.Len(), len(want))
	}
	return err
}
