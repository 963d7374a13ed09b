/*
	Copyright 2024 Google Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

		https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

// Package suffixtree builds suffix trees over sequences of opaque 64-bit
// symbols and enumerates the repeated substrings they contain.
//
// # Sequences
//
// A Sequence is a slice of Symbols whose final element is Sentinel.  The
// sentinel appears exactly once; it forces every suffix to end at an explicit
// leaf.  Use Terminate to append it to a raw trace.  The builder only reads
// the sequence and the resulting Tree keeps a reference to it, so callers must
// not modify a Sequence after passing it to Build.
//
// # Trees
//
// Trees are stored in an arena: nodes are referenced by NodeID, edge labels
// are half-open index ranges into the Sequence, and no substring is ever
// copied.  A Tree is immutable once Build returns and may be read from any
// number of goroutines.  A Builder is not safe for concurrent use, but
// distinct Builders share nothing.
//
// # Traversal
//
// A Traverser walks a Tree depth-first in pre-order, visiting children in
// ascending order of their first symbol, and yields one Candidate per
// repeated substring.
package suffixtree

import (
	"fmt"
	"math"
	"strings"
)

// Symbol is a single element of a Sequence, typically a program counter.
type Symbol uint64

// Sentinel terminates every Sequence.  It is distinct from every address a
// trace can contain and sorts after all other symbols.
const Sentinel Symbol = math.MaxUint64

// MaxLen is the longest Sequence a Builder accepts, sentinel included.  Node
// ids and positions are stored as int32 and a tree holds at most 2N nodes.
const MaxLen = math.MaxInt32 / 2

func (s Symbol) String() string {
	if s == Sentinel {
		return "$"
	}
	return fmt.Sprintf("%#x", uint64(s))
}

// Sequence is an ordered list of Symbols ending in Sentinel.
type Sequence []Symbol

// Terminate returns a new Sequence holding pcs followed by Sentinel.
func Terminate(pcs []uint64) Sequence {
	seq := make(Sequence, len(pcs)+1)
	for i, pc := range pcs {
		seq[i] = Symbol(pc)
	}
	seq[len(pcs)] = Sentinel
	return seq
}

// Validate reports whether seq may be passed to Build.
func (seq Sequence) Validate() error {
	if len(seq) == 0 {
		return &InvalidInputError{Reason: "empty sequence", Index: -1}
	}
	if len(seq) > MaxLen {
		return &InvalidInputError{
			Reason: fmt.Sprintf("sequence of %d symbols exceeds the %d symbol limit", len(seq), MaxLen),
			Index:  -1,
		}
	}
	last := len(seq) - 1
	if seq[last] != Sentinel {
		return &InvalidInputError{Reason: "sequence does not end with the sentinel", Index: last}
	}
	for i, s := range seq[:last] {
		if s == Sentinel {
			return &InvalidInputError{Reason: "sentinel before the end of the sequence", Index: i}
		}
	}
	return nil
}

func (seq Sequence) String() string {
	parts := make([]string, len(seq))
	for i, s := range seq {
		parts[i] = s.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
