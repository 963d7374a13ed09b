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
	"slices"
)

// NodeID identifies a node within a Tree.
type NodeID int32

// Root is the id of every tree's root node.
const Root NodeID = 0

const (
	noNode NodeID = -1
	// open marks a leaf edge that grows with every phase of the build.
	open int32 = -1
)

// node flags
const (
	// leftDiverse is set when the node's path label occurs at offset 0 or is
	// preceded by at least two different symbols.
	leftDiverse uint8 = 1 << iota
)

// node is an explicit state of the tree.  The edge entering it is labelled
// seq[start:end].
type node struct {
	start, end int32
	depth      int32 // string depth
	suffix     int32 // leaf: suffix start; internal: -1
	// children occupy Tree.children[first : first+count], sorted by the
	// first symbol of their edge labels.
	first, count int32
	// leaves occupy Tree.order[lo:hi].
	lo, hi int32
	// leftmost is the smallest suffix start among the leaves.
	leftmost int32
	flags    uint8
}

func (n *node) isLeaf() bool {
	return n.suffix >= 0
}

// edgeKey addresses a transition during construction.
type edgeKey struct {
	parent NodeID
	sym    Symbol
}

// Builder constructs suffix trees.  Its arena and transition table are kept
// between builds, so one Builder can construct many trees without
// reallocating.  A Builder must not be used from more than one goroutine at a
// time.
type Builder struct {
	seq   Sequence
	nodes []node
	// links holds the suffix link of each node.  It only exists while a
	// tree is being built.
	links []NodeID
	edges map[edgeKey]NodeID
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		edges: map[edgeKey]NodeID{},
	}
}

// Build constructs the suffix tree of seq with a fresh Builder.
func Build(seq Sequence) (*Tree, error) {
	return NewBuilder().Build(seq)
}

// BuildNaive constructs the suffix tree of seq with a fresh Builder, using
// the quadratic algorithm.
func BuildNaive(seq Sequence) (*Tree, error) {
	return NewBuilder().BuildNaive(seq)
}

// Build constructs the suffix tree of seq using Ukkonen's online algorithm.
// seq must end with Sentinel; see Sequence.Validate.
func (b *Builder) Build(seq Sequence) (*Tree, error) {
	if err := seq.Validate(); err != nil {
		return nil, err
	}
	b.reset(seq)
	b.ukkonen()
	return b.finalize(), nil
}

// BuildNaive constructs the same tree as Build by inserting every suffix
// from the root.  It takes O(N^2) time and is meant for small inputs and for
// checking Build.
func (b *Builder) BuildNaive(seq Sequence) (*Tree, error) {
	if err := seq.Validate(); err != nil {
		return nil, err
	}
	b.reset(seq)
	b.insertSuffixes()
	return b.finalize(), nil
}

func (b *Builder) reset(seq Sequence) {
	b.seq = seq
	if b.nodes == nil {
		b.nodes = make([]node, 0, 2*len(seq))
		b.links = make([]NodeID, 0, 2*len(seq))
	}
	b.nodes = b.nodes[:0]
	b.links = b.links[:0]
	if b.edges == nil {
		b.edges = make(map[edgeKey]NodeID, 2*len(seq))
	}
	clear(b.edges)
}

func (b *Builder) newNode(start, end, depth, suffix int32) NodeID {
	b.nodes = append(b.nodes, node{
		start:  start,
		end:    end,
		depth:  depth,
		suffix: suffix,
	})
	b.links = append(b.links, Root)
	return NodeID(len(b.nodes) - 1)
}

// edgeLen returns the length of the edge entering id during phase i.
func (b *Builder) edgeLen(id NodeID, i int32) int32 {
	n := &b.nodes[id]
	if n.end == open {
		return i + 1 - n.start
	}
	return n.end - n.start
}

// ukkonen runs one phase per symbol.  Phase i extends every suffix still
// implicit in the tree by seq[i].  The active point (activeNode, activeEdge,
// activeLen) names the place where the next extension happens and remaining
// counts the suffixes not yet made explicit.
func (b *Builder) ukkonen() {
	n := int32(len(b.seq))
	b.newNode(0, 0, 0, -1)

	var (
		activeNode NodeID = Root
		activeEdge int32
		activeLen  int32
		remaining  int32
	)
	for i := int32(0); i < n; i++ {
		remaining++
		lastInternal := noNode
		for remaining > 0 {
			if activeLen == 0 {
				activeEdge = i
			}
			key := edgeKey{activeNode, b.seq[activeEdge]}
			next, ok := b.edges[key]
			if !ok {
				suffix := i - remaining + 1
				b.edges[key] = b.newNode(i, open, n-suffix, suffix)
				if lastInternal != noNode {
					b.links[lastInternal] = activeNode
					lastInternal = noNode
				}
			} else {
				// Walk down until the active point lies inside an edge.
				if l := b.edgeLen(next, i); activeLen >= l {
					activeEdge += l
					activeLen -= l
					activeNode = next
					continue
				}
				if b.seq[b.nodes[next].start+activeLen] == b.seq[i] {
					// seq[i] is already present, and so is every shorter
					// suffix: the phase ends here.
					if lastInternal != noNode && activeNode != Root {
						b.links[lastInternal] = activeNode
						lastInternal = noNode
					}
					activeLen++
					break
				}
				start := b.nodes[next].start
				split := b.newNode(start, start+activeLen, b.nodes[activeNode].depth+activeLen, -1)
				b.edges[key] = split
				b.nodes[next].start += activeLen
				b.edges[edgeKey{split, b.seq[b.nodes[next].start]}] = next
				suffix := i - remaining + 1
				b.edges[edgeKey{split, b.seq[i]}] = b.newNode(i, open, n-suffix, suffix)
				if lastInternal != noNode {
					b.links[lastInternal] = split
				}
				lastInternal = split
			}
			remaining--
			if activeNode == Root && activeLen > 0 {
				activeLen--
				activeEdge = i - remaining + 1
			} else if activeNode != Root {
				activeNode = b.links[activeNode]
			}
		}
	}
}

// insertSuffixes builds the tree one suffix at a time, longest first.  The
// sentinel guarantees each suffix diverges from the tree before it ends.
func (b *Builder) insertSuffixes() {
	n := int32(len(b.seq))
	b.newNode(0, 0, 0, -1)
	for j := int32(0); j < n; j++ {
		cur, pos := Root, j
		for {
			key := edgeKey{cur, b.seq[pos]}
			child, ok := b.edges[key]
			if !ok {
				b.edges[key] = b.newNode(pos, n, n-j, j)
				break
			}
			edge := b.nodes[child]
			k := int32(0)
			for edge.start+k < edge.end && b.seq[edge.start+k] == b.seq[pos+k] {
				k++
			}
			if edge.start+k == edge.end {
				cur, pos = child, pos+k
				continue
			}
			split := b.newNode(edge.start, edge.start+k, b.nodes[cur].depth+k, -1)
			b.edges[key] = split
			b.nodes[child].start += k
			b.edges[edgeKey{split, b.seq[edge.start+k]}] = child
			b.edges[edgeKey{split, b.seq[pos+k]}] = b.newNode(pos+k, n, n-j, j)
			break
		}
	}
}

// finalize turns the builder's arena into a read-only Tree: leaf edges are
// closed, children are laid out contiguously in first-symbol order, and the
// leaves are numbered in lexicographic order.  Suffix links and the
// transition table are not carried over.
func (b *Builder) finalize() *Tree {
	n := int32(len(b.seq))
	t := &Tree{
		seq:      b.seq,
		nodes:    slices.Clone(b.nodes),
		children: make([]NodeID, 0, len(b.nodes)-1),
		order:    make([]int32, 0, n),
	}
	for i := range t.nodes {
		if t.nodes[i].end == open {
			t.nodes[i].end = n
		}
	}

	// Bucket the transitions by parent.
	for key := range b.edges {
		t.nodes[key.parent].count++
	}
	var next int32
	for i := range t.nodes {
		t.nodes[i].first = next
		next += t.nodes[i].count
	}
	t.children = t.children[:next]
	fill := make([]int32, len(t.nodes))
	for key, child := range b.edges {
		p := &t.nodes[key.parent]
		t.children[p.first+fill[key.parent]] = child
		fill[key.parent]++
	}
	for i := range t.nodes {
		kids := t.childrenOf(NodeID(i))
		slices.SortFunc(kids, func(x, y NodeID) int {
			sx, sy := t.firstSymbol(x), t.firstSymbol(y)
			switch {
			case sx < sy:
				return -1
			case sx > sy:
				return 1
			}
			return 0
		})
	}

	t.number()
	b.seq = nil
	return t
}
