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

package suffixtree

import (
	"fmt"
)

// Candidate describes a repeated substring of a Sequence: a candidate loop
// body.
type Candidate struct {
	// Node is the internal node whose path label is the repeated substring.
	Node NodeID
	// PathStart and PathLength locate one occurrence of the substring.
	PathStart, PathLength int
	// Occurrences is the number of offsets at which the substring occurs.
	Occurrences int
	// First is the smallest of those offsets.
	First int

	tree *Tree
}

// Offsets returns the offsets at which the substring occurs, in ascending
// order.  The zero Candidate has none.
func (c Candidate) Offsets() []int {
	if c.tree == nil {
		return nil
	}
	return c.tree.LeafOffsets(c.Node)
}

// Label returns the repeated substring.  It is a view into the Sequence and
// must not be modified.  The zero Candidate's label is nil.
func (c Candidate) Label() Sequence {
	if c.tree == nil {
		return nil
	}
	end := c.PathStart + c.PathLength
	return c.tree.seq[c.PathStart:end:end]
}

// TraverserOptionFn configures a Traverser.
type TraverserOptionFn func(tr *Traverser)

// AllRepeats makes a Traverser yield every internal node, including repeats
// that are always preceded by the same symbol and so are contained in a
// longer repeat with the same occurrence count.
func AllRepeats() TraverserOptionFn {
	return func(tr *Traverser) {
		tr.all = true
	}
}

// Traverser lazily enumerates the repeated substrings of a Tree.  By default
// only maximal repeats are yielded: internal nodes whose path label cannot be
// extended to the left without losing an occurrence.
//
//	tr := suffixtree.NewTraverser(tree)
//	for tr.Next() {
//		c := tr.Candidate()
//		...
//	}
//	if err := tr.Err(); err != nil {
//		...
//	}
type Traverser struct {
	tree  *Tree
	all   bool
	stack []NodeID
	cur   Candidate
	err   error
}

// NewTraverser returns a Traverser positioned before the first candidate of
// t.  It yields maximal repeats only; pass AllRepeats() to yield a candidate
// at every internal node.
func NewTraverser(t *Tree, optFns ...TraverserOptionFn) *Traverser {
	tr := &Traverser{tree: t}
	for _, fn := range optFns {
		fn(tr)
	}
	tr.Reset()
	return tr
}

// Reset restarts the traversal from the root.
func (tr *Traverser) Reset() {
	tr.stack = append(tr.stack[:0], Root)
	tr.cur = Candidate{}
	tr.err = nil
}

// Next advances to the next candidate in depth-first pre-order and reports
// whether there is one.  It returns false at the end of the traversal or when
// the tree is found to be malformed; Err distinguishes the two.
func (tr *Traverser) Next() bool {
	t := tr.tree
	for len(tr.stack) > 0 {
		id := tr.stack[len(tr.stack)-1]
		tr.stack = tr.stack[:len(tr.stack)-1]
		if t.IsLeaf(id) {
			continue
		}
		if err := tr.check(id); err != nil {
			tr.err = err
			tr.stack = tr.stack[:0]
			return false
		}
		kids := t.childrenOf(id)
		for i := len(kids) - 1; i >= 0; i-- {
			tr.stack = append(tr.stack, kids[i])
		}
		if id == Root || (!tr.all && t.nodes[id].flags&leftDiverse == 0) {
			continue
		}
		start, length := t.PathLabel(id)
		tr.cur = Candidate{
			Node:        id,
			PathStart:   start,
			PathLength:  length,
			Occurrences: t.LeafCount(id),
			First:       t.FirstOffset(id),
			tree:        t,
		}
		return true
	}
	return false
}

// Candidate returns the candidate found by the last call to Next.
func (tr *Traverser) Candidate() Candidate {
	return tr.cur
}

// Err returns the error that stopped the traversal, if any.
func (tr *Traverser) Err() error {
	return tr.err
}

// check verifies the branching invariants of internal node id.
func (tr *Traverser) check(id NodeID) error {
	t := tr.tree
	kids := t.childrenOf(id)
	want := 2
	if id == Root && t.Len() == 1 {
		want = 1
	}
	if len(kids) < want {
		return &MalformedTreeError{
			Node:   id,
			Reason: "internal node does not branch",
			Want:   want,
			Got:    len(kids),
		}
	}
	for i := 1; i < len(kids); i++ {
		if prev, cur := t.firstSymbol(kids[i-1]), t.firstSymbol(kids[i]); prev >= cur {
			return &MalformedTreeError{
				Node:   id,
				Reason: fmt.Sprintf("children %d and %d are out of order at first symbols %v, %v", kids[i-1], kids[i], prev, cur),
				Want:   want,
				Got:    len(kids),
			}
		}
	}
	return nil
}

// Walk calls fn for each candidate of t, in traversal order, stopping at the
// first error.
func Walk(t *Tree, fn func(Candidate) error, optFns ...TraverserOptionFn) error {
	tr := NewTraverser(t, optFns...)
	for tr.Next() {
		if err := fn(tr.Candidate()); err != nil {
			return err
		}
	}
	return tr.Err()
}

// Collect returns all candidates of t in traversal order.
func Collect(t *Tree, optFns ...TraverserOptionFn) ([]Candidate, error) {
	var ret []Candidate
	err := Walk(t, func(c Candidate) error {
		ret = append(ret, c)
		return nil
	}, optFns...)
	if err != nil {
		return nil, err
	}
	return ret, nil
}
