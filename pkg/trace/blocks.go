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

package trace

// InstructionSize is the width of one instruction on the traced
// architecture.
const InstructionSize = 4

// BasicBlock is a run of consecutively executed, contiguous instructions.
type BasicBlock struct {
	PC uint64
	// Size is the block's length in bytes.
	Size uint32
}

// BasicBlocks collapses pcs into basic blocks.  A block ends wherever the next
// executed pc is not the instruction immediately following the previous one.
// The final block is always emitted.
func BasicBlocks(pcs []uint64) []BasicBlock {
	if len(pcs) == 0 {
		return nil
	}
	var ret []BasicBlock
	cur := BasicBlock{PC: pcs[0], Size: InstructionSize}
	for _, pc := range pcs[1:] {
		if pc == cur.PC+uint64(cur.Size) {
			cur.Size += InstructionSize
			continue
		}
		ret = append(ret, cur)
		cur = BasicBlock{PC: pc, Size: InstructionSize}
	}
	return append(ret, cur)
}

// BlockStarts returns the starting pc of each block.
func BlockStarts(blocks []BasicBlock) []uint64 {
	ret := make([]uint64, len(blocks))
	for i, b := range blocks {
		ret[i] = b.PC
	}
	return ret
}
