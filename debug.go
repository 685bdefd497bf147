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

	"github.com/davecgh/go-spew/spew"
)

var debugConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
	MaxDepth:                3,
}

// debugEntry formats a key/value pair for invariant failures.
func debugEntry[K, V any](key K, value V) string {
	return debugConfig.Sprintf("%v => %v", key, value)
}

// debugString returns a dump of the entries of m in iteration order along
// with its stats.
func (m *Map[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s\n", m.Stats())
	m.store.eachEntry(m, func(i int, k K, v V) bool {
		fmt.Fprintf(&buf, "  %4d: %s [hash=%x]\n", i, debugEntry(k, v), m.hash(k))
		return true
	})
	return buf.String()
}
