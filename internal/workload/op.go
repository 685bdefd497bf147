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


// Package workload drives a hashstore.Map with a sequence of operations,
// either read from a YAML script or generated from a seeded random mix, and
// optionally cross-checks every result against a reference model.
package workload

import (
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// OpKind is the kind of an Op.
type OpKind uint8

const (
	OpSet OpKind = iota
	OpGet
	OpLookup
	OpDelete
	OpDeleteLast
	OpShift
	OpRehash
	OpClear
	OpEach
	numOpKinds
)

var opNames = [numOpKinds]string{
	OpSet:        "set",
	OpGet:        "get",
	OpLookup:     "lookup",
	OpDelete:     "delete",
	OpDeleteLast: "delete-last",
	OpShift:      "shift",
	OpRehash:     "rehash",
	OpClear:      "clear",
	OpEach:       "each",
}

func (k OpKind) String() string {
	if k < numOpKinds {
		return opNames[k]
	}
	return fmt.Sprintf("OpKind(%d)", uint8(k))
}

// needsKey returns true if ops of kind k operate on a specific key.
func (k OpKind) needsKey() bool {
	switch k {
	case OpSet, OpGet, OpLookup, OpDelete, OpDeleteLast:
		return true
	}
	return false
}

// ParseOpKind parses the String form of an OpKind.
func ParseOpKind(s string) (OpKind, error) {
	for k, name := range opNames {
		if strings.EqualFold(s, name) {
			return OpKind(k), nil
		}
	}
	return 0, errors.Newf("unknown op %q", s)
}

// MarshalYAML implements yaml.Marshaler.
func (k OpKind) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *OpKind) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	kind, err := ParseOpKind(s)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*k = kind
	return nil
}

// Op is a single operation applied to a map. Key is ignored by shift,
// rehash, clear and each; Value is only used by set.
type Op struct {
	Kind  OpKind `yaml:"op"`
	Key   string `yaml:"key,omitempty"`
	Value int64  `yaml:"value,omitempty"`
}

func (op Op) String() string {
	switch {
	case op.Kind == OpSet:
		return fmt.Sprintf("set %s=%d", op.Key, op.Value)
	case op.Kind.needsKey():
		return fmt.Sprintf("%s %s", op.Kind, op.Key)
	default:
		return op.Kind.String()
	}
}

// script is the document form of a list of ops.
type script struct {
	Ops []Op `yaml:"ops"`
}

// ParseScript reads a YAML script of the form
//
//	ops:
//	  - {op: set, key: a, value: 1}
//	  - {op: delete, key: a}
//	  - {op: shift}
func ParseScript(r io.Reader) ([]Op, error) {
	var s script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "parsing script")
	}
	for i, op := range s.Ops {
		if op.Kind.needsKey() && op.Key == "" {
			return nil, errors.Newf("op %d (%s): missing key", i, op.Kind)
		}
	}
	return s.Ops, nil
}

// WriteScript writes ops in the format read by ParseScript.
func WriteScript(w io.Writer, ops []Op) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(script{Ops: ops}); err != nil {
		return errors.Wrap(err, "writing script")
	}
	return enc.Close()
}
