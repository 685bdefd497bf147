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

import "github.com/cockroachdb/errors"

// ErrCapacityExceeded is the panic value (possibly wrapped) raised when a
// store is asked to grow beyond the largest array it can represent.
var ErrCapacityExceeded = errors.New("hashstore: capacity exceeded")

// assertionFailedf panics with an assertion failure. It is used for
// violations of the caller's contract, such as DeleteLast with a key that was
// not the most recently inserted one, which indicate that the caller's own
// bookkeeping is already inconsistent.
func assertionFailedf(format string, args ...interface{}) {
	panic(errors.AssertionFailedf(format, args...))
}

// capacityExceededf panics with an error wrapping ErrCapacityExceeded.
func capacityExceededf(format string, args ...interface{}) {
	panic(errors.Wrapf(ErrCapacityExceeded, format, args...))
}
