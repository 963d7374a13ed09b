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
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput matches every *InvalidInputError.  The sequence was
	// empty, too long, or carried a missing or misplaced sentinel.
	ErrInvalidInput = errors.New("invalid input sequence")

	// ErrMalformedTree matches every *MalformedTreeError.  It indicates a
	// builder defect and is never expected from a tree returned by Build.
	ErrMalformedTree = errors.New("malformed suffix tree")
)

// InvalidInputError is returned by Build when the Sequence cannot be used.
type InvalidInputError struct {
	Reason string
	// Index is the offending position, or -1 if the sequence as a whole is
	// at fault.
	Index int
}

func (e *InvalidInputError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("suffixtree: invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("suffixtree: invalid input: %s (index %d)", e.Reason, e.Index)
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// MalformedTreeError is returned by a Traverser that finds a node violating
// the tree's structural invariants.
type MalformedTreeError struct {
	Node   NodeID
	Reason string
	// Want and Got are the minimum and actual number of children of Node.
	// Error reports them only when Got falls short of Want.
	Want, Got int
}

func (e *MalformedTreeError) Error() string {
	if e.Got >= e.Want {
		return fmt.Sprintf("suffixtree: malformed tree at node %d: %s", e.Node, e.Reason)
	}
	return fmt.Sprintf("suffixtree: malformed tree at node %d: %s (want at least %d children, got %d)",
		e.Node, e.Reason, e.Want, e.Got)
}

func (e *MalformedTreeError) Is(target error) bool {
	return target == ErrMalformedTree
}
