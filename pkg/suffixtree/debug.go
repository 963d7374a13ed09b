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
	"io"
	"strings"
)

// String renders the tree in a directory tree format.  Use it only for
// development and debugging; the output grows with the square of the
// sequence length.
func (t *Tree) String() string {
	var sb strings.Builder
	t.Fprint(&sb)
	return sb.String()
}

// Fprint writes the String form of the tree to w.
func (t *Tree) Fprint(w io.Writer) {
	fmt.Fprintln(w, ".")
	t.printNode(w, Root, "")
}

func (t *Tree) printNode(w io.Writer, id NodeID, prefix string) {
	kids := t.childrenOf(id)
	for i, kid := range kids {
		branch, indent := "├─ ", "│  "
		if i == len(kids)-1 {
			branch, indent = "└─ ", "   "
		}
		start, end := t.EdgeLabel(kid)
		label := t.seq[start:end].String()
		if off, ok := t.SuffixStart(kid); ok {
			fmt.Fprintf(w, "%s%s%s leaf %d\n", prefix, branch, label, off)
			continue
		}
		fmt.Fprintf(w, "%s%s%s depth %d\n", prefix, branch, label, t.StringDepth(kid))
		t.printNode(w, kid, prefix+indent)
	}
}
