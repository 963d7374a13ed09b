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
	"math"
	"slices"
)

// Tree is a suffix tree built over a Sequence.  It holds a reference to the
// Sequence and is read-only.
type Tree struct {
	seq      Sequence
	nodes    []node
	children []NodeID
	// order lists the suffix starts of all leaves in lexicographic order of
	// their suffixes; it is the sequence's suffix array.
	order []int32
}

// Len returns the length of the indexed Sequence, sentinel included.
func (t *Tree) Len() int {
	return len(t.seq)
}

// Sequence returns the indexed Sequence.  It must not be modified.
func (t *Tree) Sequence() Sequence {
	return t.seq
}

// NumNodes returns the number of nodes in the tree, root and leaves included.
func (t *Tree) NumNodes() int {
	return len(t.nodes)
}

// NumLeaves returns the number of leaves, which always equals Len.
func (t *Tree) NumLeaves() int {
	return len(t.order)
}

// Children returns the children of id in ascending order of the first
// symbol of their edge labels.  The returned slice must not be modified.
func (t *Tree) Children(id NodeID) []NodeID {
	kids := t.childrenOf(id)
	return kids[:len(kids):len(kids)]
}

// IsLeaf returns true if id is a leaf.
func (t *Tree) IsLeaf(id NodeID) bool {
	return t.nodes[id].isLeaf()
}

// EdgeLabel returns the half-open range of the Sequence labelling the edge
// that enters id.  The root's edge label is empty.
func (t *Tree) EdgeLabel(id NodeID) (start, end int) {
	n := &t.nodes[id]
	return int(n.start), int(n.end)
}

// PathLabel returns the position and length of one occurrence of the string
// spelled from the root to id.
func (t *Tree) PathLabel(id NodeID) (start, length int) {
	n := &t.nodes[id]
	return int(n.end - n.depth), int(n.depth)
}

// StringDepth returns the length of the path label of id.
func (t *Tree) StringDepth(id NodeID) int {
	return int(t.nodes[id].depth)
}

// SuffixStart returns the offset of the suffix a leaf terminates.  ok is
// false for internal nodes.
func (t *Tree) SuffixStart(id NodeID) (start int, ok bool) {
	n := &t.nodes[id]
	if !n.isLeaf() {
		return 0, false
	}
	return int(n.suffix), true
}

// LeafCount returns the number of leaves below id, which is the number of
// times its path label occurs in the Sequence.
func (t *Tree) LeafCount(id NodeID) int {
	n := &t.nodes[id]
	return int(n.hi - n.lo)
}

// FirstOffset returns the smallest offset at which the path label of id
// occurs.
func (t *Tree) FirstOffset(id NodeID) int {
	return int(t.nodes[id].leftmost)
}

// LeafOffsets returns the suffix starts of the leaves below id in ascending
// order.  These are the offsets at which the path label of id occurs.
func (t *Tree) LeafOffsets(id NodeID) []int {
	n := &t.nodes[id]
	ret := make([]int, 0, n.hi-n.lo)
	for _, off := range t.order[n.lo:n.hi] {
		ret = append(ret, int(off))
	}
	slices.Sort(ret)
	return ret
}

// SuffixArray returns the suffix starts of the Sequence in lexicographic
// order of their suffixes.
func (t *Tree) SuffixArray() []int {
	ret := make([]int, len(t.order))
	for i, off := range t.order {
		ret[i] = int(off)
	}
	return ret
}

// Occurrences returns the ascending offsets at which pattern occurs in the
// Sequence, or nil if it does not occur.  The empty pattern occurs at every
// offset.
func (t *Tree) Occurrences(pattern []Symbol) []int {
	cur, i := Root, 0
	for i < len(pattern) {
		child, ok := t.child(cur, pattern[i])
		if !ok {
			return nil
		}
		n := &t.nodes[child]
		for pos := n.start; pos < n.end && i < len(pattern); pos++ {
			if t.seq[pos] != pattern[i] {
				return nil
			}
			i++
		}
		cur = child
	}
	return t.LeafOffsets(cur)
}

func (t *Tree) childrenOf(id NodeID) []NodeID {
	n := &t.nodes[id]
	return t.children[n.first : n.first+n.count]
}

func (t *Tree) firstSymbol(id NodeID) Symbol {
	return t.seq[t.nodes[id].start]
}

// child returns the child of id whose edge label starts with sym.
func (t *Tree) child(id NodeID, sym Symbol) (NodeID, bool) {
	kids := t.childrenOf(id)
	idx, found := slices.BinarySearchFunc(kids, sym, func(kid NodeID, sym Symbol) int {
		switch s := t.firstSymbol(kid); {
		case s < sym:
			return -1
		case s > sym:
			return 1
		}
		return 0
	})
	if !found {
		return noNode, false
	}
	return kids[idx], true
}

// leftSymbol returns the symbol preceding every occurrence of the path label
// of a node that is not left-diverse.
func (t *Tree) leftSymbol(id NodeID) Symbol {
	return t.seq[t.order[t.nodes[id].lo]-1]
}

// number walks the tree depth-first with an explicit stack, filling the
// suffix array, the leaf range of every node and the left-diversity flags.
func (t *Tree) number() {
	type frame struct {
		id   NodeID
		next int32
	}
	stack := []frame{{id: Root}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		n := &t.nodes[f.id]
		if n.isLeaf() {
			n.lo = int32(len(t.order))
			t.order = append(t.order, n.suffix)
			n.hi = n.lo + 1
			n.leftmost = n.suffix
			if n.suffix == 0 {
				n.flags |= leftDiverse
			}
			stack = stack[:len(stack)-1]
			continue
		}
		if f.next == 0 {
			n.lo = int32(len(t.order))
		}
		if f.next < n.count {
			child := t.children[n.first+f.next]
			f.next++
			stack = append(stack, frame{id: child})
			continue
		}
		n.hi = int32(len(t.order))
		n.leftmost = math.MaxInt32
		for _, kid := range t.childrenOf(f.id) {
			n.leftmost = min(n.leftmost, t.nodes[kid].leftmost)
		}
		t.markLeftDiverse(f.id)
		stack = stack[:len(stack)-1]
	}
}

func (t *Tree) markLeftDiverse(id NodeID) {
	kids := t.childrenOf(id)
	for i, kid := range kids {
		if t.nodes[kid].flags&leftDiverse != 0 ||
			(i > 0 && t.leftSymbol(kid) != t.leftSymbol(kids[0])) {
			t.nodes[id].flags |= leftDiverse
			return
		}
	}
}
