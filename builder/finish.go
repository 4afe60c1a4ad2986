// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

package builder

import "github.com/probechain/irvm/ir"

// termWords is how many instruction words a block's terminator lowers to,
// given the id of the lexically next reachable block (-1 for the last one):
// a jump or trailing branch arm that would land exactly there is elided and
// execution falls through.
func termWords(blk *Block, nextID int) int {
	switch blk.term {
	case TermReturn, TermReturnFree, TermPanic, TermExit:
		return 1
	case TermJump:
		if blk.targets[0].id == nextID {
			return 0
		}
		return 1
	case TermBranch2:
		var trail *Block
		if blk.branchCC != CCNone {
			_, _, trail = branch2Op(blk.branchCC, blk.targets[0], blk.targets[1])
		} else {
			trail = blk.targets[0]
		}
		if trail.id == nextID {
			return 1
		}
		return 2
	case TermBranch3:
		if _, _, trail, ok := branch3Merge(blk); ok {
			if trail.id == nextID {
				return 1
			}
			return 2
		}
		if blk.targets[2].id == nextID {
			return 2
		}
		return 3 // branch_eq, branch_lt, jump to the greater-than target
	default:
		return 0
	}
}

// branch2Op picks the single-operand opcode and target order that lowers a
// cc-folded branch2. Always one
// of the always-pop opcodes (branch_ne/lt/le/ge/gt), never branch_eq: the
// not-taken target is reached by falling through (into the next block or
// onto a trailing jump), and branch_eq's fall-through-without-popping
// contract would leak the tested value onto that target.
func branch2Op(code CCCode, trueBlk, falseBlk *Block) (op ir.Op, jumpBlk, trailBlk *Block) {
	switch code {
	case CCEq:
		return ir.OpBranchNe, falseBlk, trueBlk
	case CCNe:
		return ir.OpBranchNe, trueBlk, falseBlk
	case CCLt:
		return ir.OpBranchLt, trueBlk, falseBlk
	case CCLe:
		return ir.OpBranchLe, trueBlk, falseBlk
	case CCGe:
		return ir.OpBranchGe, trueBlk, falseBlk
	case CCGt:
		return ir.OpBranchGt, trueBlk, falseBlk
	default:
		return ir.OpNop, nil, nil
	}
}

// branch3Merge reports which single always-pop opcode can lower a branch3
// whose targets share two of three arms, or ok=false if all three targets
// are distinct and a chain of two binary branches is required.
func branch3Merge(blk *Block) (op ir.Op, jumpBlk, trailBlk *Block, ok bool) {
	lt, eq, gt := blk.targets[0], blk.targets[1], blk.targets[2]
	switch {
	case lt == gt && lt != eq:
		return ir.OpBranchNe, lt, eq, true // taken (v!=0) goes to the merged lt-or-gt target; else falls through to eq
	case eq == gt && eq != lt:
		return ir.OpBranchLt, lt, eq, true // taken (v<0) goes to the sole lt target; else falls through to merged eq-or-gt
	case lt == eq && lt != gt:
		return ir.OpBranchGt, gt, lt, true // taken (v>0) goes to the sole gt target; else falls through to merged lt-or-eq
	default:
		return ir.OpNop, nil, nil, false
	}
}

// reachableOrder returns the function's blocks in declaration order,
// filtered to those reachable from the entry block.
func (b *Builder) reachableOrder() []*Block {
	if len(b.blocks) == 0 {
		return nil
	}
	seen := make(map[int]bool)
	var walk func(*Block)
	walk = func(blk *Block) {
		if blk == nil || seen[blk.id] {
			return
		}
		seen[blk.id] = true
		switch blk.term {
		case TermJump:
			walk(blk.targets[0])
		case TermBranch2:
			walk(blk.targets[0])
			walk(blk.targets[1])
		case TermBranch3:
			walk(blk.targets[0])
			walk(blk.targets[1])
			walk(blk.targets[2])
		}
	}
	walk(b.blocks[0])
	out := make([]*Block, 0, len(b.blocks))
	for _, blk := range b.blocks {
		if seen[blk.id] {
			blk.reachable = true
			out = append(out, blk)
		}
	}
	return out
}

// prologue returns the instructions that establish the function's local
// storage area, run once before the entry block's own body. Escaped locals
// each get their own aligned allocation whose address is immediately
// stashed into their pointer slot.
func (b *Builder) prologue() []ir.Instruction {
	var out []ir.Instruction
	if b.localBytes > 0 {
		alignLog2 := ir.Layout{Alignment: b.localAlign}.AlignLog2()
		out = append(out, ir.EncodeA8B16(ir.OpSetupLocalAlloc, alignLog2, 0))
		out = append(out, ir.EncodeImm24(ir.OpLocalAlloc, b.localBytes))
	}
	for _, loc := range b.locals {
		if !loc.Escaped {
			continue
		}
		slotOffset := b.localBytes + uint32(loc.PtrSlot)*8
		out = append(out, ir.EncodeA8B16(ir.OpLocalAllocAligned, loc.Layout.AlignLog2(), uint16(loc.Layout.Size)))
		out = append(out, ir.EncodeImm24(ir.OpLocalStorage, slotOffset))
	}
	return out
}

// Finish lowers every reachable block into the function's final linear
// instruction array, patches relative jump/branch offsets, shifts debug
// locations to final indices, and computes max_vstack_size/max_cstack_size
//. It returns false (and leaves fn undefined) if any build error
// was recorded.
func (b *Builder) Finish() bool {
	if b.errored {
		return false
	}

	order := b.reachableOrder()
	for _, blk := range order {
		if !blk.Terminated() {
			b.fail(ErrUnterminatedBlock, "block %d has no terminator", blk.id)
			return false
		}
	}

	localStorageSize := b.localBytes + uint32(b.escapedNext)*8
	b.fn.LocalStorageSize = localStorageSize

	prologue := b.prologue()

	// Single-block shortcut: only applies when the sole reachable
	// block terminates without any successor of its own, so no offset
	// patching is needed at all.
	isTerminal := func(k TermKind) bool {
		return k == TermReturn || k == TermReturnFree || k == TermPanic || k == TermExit
	}
	if len(order) == 1 && isTerminal(order[0].term) {
		blk := order[0]
		insts := append(append([]ir.Instruction(nil), prologue...), blockMarker(blk))
		insts = append(insts, blk.insts...)
		insts = append(insts, lowerSimpleTerm(blk)...)
		b.commit(insts, shiftDebugLocs(b, map[int]int64{blk.id: int64(len(prologue))}))
		maxV, maxC := b.computeMaxDepths(order)
		b.fn.MaxVstackSize, b.fn.MaxCstackSize = maxV, maxC
		return true
	}

	// Each block occupies one marker word plus its body plus its lowered
	// terminator; jump/branch offsets target the marker, which dispatches as
	// a nop.
	nextOf := func(i int) int {
		if i+1 < len(order) {
			return order[i+1].id
		}
		return -1
	}
	blockStart := make(map[int]int64, len(order))
	cursor := int64(len(prologue))
	for i, blk := range order {
		blockStart[blk.id] = cursor
		cursor += 1 + int64(len(blk.insts)) + int64(termWords(blk, nextOf(i)))
	}
	total := int(cursor)

	insts := make([]ir.Instruction, 0, total)
	insts = append(insts, prologue...)
	for i, blk := range order {
		insts = append(insts, blockMarker(blk))
		insts = append(insts, blk.insts...)
		thisTermAt := int64(len(insts))
		insts = append(insts, lowerTerm(blk, blockStart, thisTermAt, nextOf(i))...)
	}

	b.commit(insts, shiftDebugLocs(b, blockStart))
	maxV, maxC := b.computeMaxDepths(order)
	b.fn.MaxVstackSize, b.fn.MaxCstackSize = maxV, maxC
	return true
}

func (b *Builder) commit(insts []ir.Instruction, locs []ir.DebugLocation) {
	b.fn.Insts = insts
	b.fn.Anchor = b.module.ClaimAnchor(len(insts))
	if len(locs) > 0 {
		b.module.AppendDebugLocations(locs)
	}
}

// blockMarker encodes the block(in, out) word preceding each lowered block
//. The output count is the shadow-stack height the block's
// terminator fixed; the marker dispatches as a nop.
func blockMarker(blk *Block) ir.Instruction {
	return ir.EncodeA8B8C8(ir.OpBlock, blk.inCount, uint8(len(blk.vstack)), 0)
}

func lowerSimpleTerm(blk *Block) []ir.Instruction {
	switch blk.term {
	case TermReturn:
		return []ir.Instruction{ir.EncodeImm24(ir.OpReturn, 0)}
	case TermReturnFree:
		return []ir.Instruction{ir.EncodeImm24(ir.OpReturnFree, 0)}
	case TermPanic:
		return []ir.Instruction{ir.EncodeImm24(ir.OpPanic, 0)}
	case TermExit:
		return []ir.Instruction{ir.EncodeImm24(ir.OpExit, 0)}
	default:
		return nil
	}
}

// lowerTerm encodes blk's terminator at word position thisTermAt, resolving
// relative offsets against the already-assigned blockStart table. Because
// both the instruction's own position and its target's position are
// expressed relative to the same function anchor, the anchor itself cancels
// out of the subtraction and need not be known yet. A trailing jump
// that would target the lexically next reachable block (nextID) is elided.
func lowerTerm(blk *Block, blockStart map[int]int64, thisTermAt int64, nextID int) []ir.Instruction {
	rel := func(target *Block) int32 {
		return int32(blockStart[target.id] - thisTermAt)
	}
	switch blk.term {
	case TermReturn, TermReturnFree, TermPanic, TermExit:
		return lowerSimpleTerm(blk)
	case TermJump:
		if blk.targets[0].id == nextID {
			return nil
		}
		inst, _ := ir.EncodeOffset24(ir.OpJump, rel(blk.targets[0]))
		return []ir.Instruction{inst}
	case TermBranch2:
		trueBlk, falseBlk := blk.targets[0], blk.targets[1]
		if blk.branchCC != CCNone {
			op, jumpBlk, trailBlk := branch2Op(blk.branchCC, trueBlk, falseBlk)
			inst, _ := ir.EncodeOffset24(op, rel(jumpBlk))
			if trailBlk.id == nextID {
				return []ir.Instruction{inst}
			}
			jmp, _ := ir.EncodeOffset24(ir.OpJump, rel(trailBlk)-1)
			return []ir.Instruction{inst, jmp}
		}
		// No cc folded: pops the plain condition word and branches to the
		// false target; the true path falls through when it is next in
		// layout order and gets an explicit jump otherwise.
		inst, _ := ir.EncodeOffset24(ir.OpBranchFalse, rel(falseBlk))
		if trueBlk.id == nextID {
			return []ir.Instruction{inst}
		}
		jmp, _ := ir.EncodeOffset24(ir.OpJump, rel(trueBlk)-1)
		return []ir.Instruction{inst, jmp}
	case TermBranch3:
		if op, jumpBlk, trailBlk, ok := branch3Merge(blk); ok {
			inst, _ := ir.EncodeOffset24(op, rel(jumpBlk))
			if trailBlk.id == nextID {
				return []ir.Instruction{inst}
			}
			jmp, _ := ir.EncodeOffset24(ir.OpJump, rel(trailBlk)-1)
			return []ir.Instruction{inst, jmp}
		}
		// Three distinct targets: branch_eq leaves its operand live on the
		// fall-through path so the following branch_lt, which
		// always pops, can still test it; branch_lt's own fall-through
		// lands on an unconditional jump to the greater-than target unless
		// that target is next in layout order anyway.
		eqInst, _ := ir.EncodeOffset24(ir.OpBranchEq, rel(blk.targets[1]))
		ltInst, _ := ir.EncodeOffset24(ir.OpBranchLt, rel(blk.targets[0])-1)
		if blk.targets[2].id == nextID {
			return []ir.Instruction{eqInst, ltInst}
		}
		gtJump, _ := ir.EncodeOffset24(ir.OpJump, rel(blk.targets[2])-2)
		return []ir.Instruction{eqInst, ltInst, gtJump}
	default:
		return nil
	}
}

func shiftDebugLocs(b *Builder, blockStart map[int]int64) []ir.DebugLocation {
	var out []ir.DebugLocation
	for _, blk := range b.blocks {
		start, ok := blockStart[blk.id]
		if !ok {
			continue
		}
		for _, d := range blk.debugLoc {
			// +1 skips the block marker word the body sits behind.
			out = append(out, ir.DebugLocation{
				FuncIndex: b.fn.FunctionIndex,
				InstIndex: uint32(start) + 1 + d.instIdx,
				File:      d.file,
				Line:      d.line,
				Col:       d.col,
			})
		}
	}
	return out
}

// FrameHeaderBytes is the nominal byte cost of one StackFrame header
// (function, return_ip, first_local_alloc, local_generation, next_offset,
// prev) charged against max_cstack_size in addition to a
// function's own local storage, so a host sizing call-stack pages from
// max_cstack_size alone budgets enough room for both.
const FrameHeaderBytes = 32

func (b *Builder) computeMaxDepths(order []*Block) (uint32, uint32) {
	var maxV int
	for _, blk := range order {
		if blk.maxDepth > maxV {
			maxV = blk.maxDepth
		}
	}
	maxC := FrameHeaderBytes + b.localBytes + uint32(b.escapedNext)*8
	return uint32(maxV), maxC
}
