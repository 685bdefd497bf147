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

import "container/list"

type modelEntry struct {
	key   string
	value int64
}

// model is the reference behavior of an insertion-ordered map.
type model struct {
	order *list.List
	index map[string]*list.Element
}

func newModel() *model {
	return &model{order: list.New(), index: make(map[string]*list.Element)}
}

func (m *model) len() int {
	return m.order.Len()
}

func (m *model) set(key string, value int64) bool {
	if e, ok := m.index[key]; ok {
		e.Value.(*modelEntry).value = value
		return false
	}
	m.index[key] = m.order.PushBack(&modelEntry{key: key, value: value})
	return true
}

func (m *model) get(key string) (int64, bool) {
	if e, ok := m.index[key]; ok {
		return e.Value.(*modelEntry).value, true
	}
	return 0, false
}

func (m *model) delete(key string) (int64, bool) {
	e, ok := m.index[key]
	if !ok {
		return 0, false
	}
	delete(m.index, key)
	return m.order.Remove(e).(*modelEntry).value, true
}

// last returns the most recently inserted live key.
func (m *model) last() (string, bool) {
	if e := m.order.Back(); e != nil {
		return e.Value.(*modelEntry).key, true
	}
	return "", false
}

func (m *model) shift() (string, int64, bool) {
	e := m.order.Front()
	if e == nil {
		return "", 0, false
	}
	me := e.Value.(*modelEntry)
	m.delete(me.key)
	return me.key, me.value, true
}

func (m *model) clear() {
	m.order.Init()
	clear(m.index)
}

func (m *model) each(fn func(i int, key string, value int64) bool) {
	i := 0
	for e := m.order.Front(); e != nil; e = e.Next() {
		me := e.Value.(*modelEntry)
		if !fn(i, me.key, me.value) {
			return
		}
		i++
	}
}
