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

// ShadowKind classifies what a builder knows about a value still sitting on
// a block's shadow value stack, enabling the constant-folding and
// dead-producer-elision peepholes without a full SSA graph.
type ShadowKind uint8

const (
	ShadowOpaque ShadowKind = iota
	ShadowConst
	ShadowLocalAddr
)

// CCCode names the comparison category a cc instruction's input carries, so
// that a following branch2 can fold the two into a merged comparison
// terminator instead of materializing an intermediate boolean.
type CCCode uint8

const (
	CCNone CCCode = iota
	CCEq
	CCNe
	CCLt
	CCLe
	CCGe
	CCGt
)

// ShadowValue is one entry of a block's compile-time value stack: either an
// opaque runtime value, a known constant, or a known local address, plus
// enough provenance to let a later pop elide its producing instruction when
// it turns out to be dead.
type ShadowValue struct {
	Kind        ShadowKind
	Const       ir.Value
	LocalIdx    uint8
	CC          CCCode
	ProducerIdx int   // index into the owning block's insts, or -1
	ProducerLen uint8 // instruction words the producer spans (0 reads as 1); >1 only for push chains
	Removable   bool  // true if the producer has no side effect
}

func opaque() ShadowValue { return ShadowValue{Kind: ShadowOpaque, ProducerIdx: -1} }

// TermKind is the terminator installed on a block once it is closed.
type TermKind uint8

const (
	TermNone TermKind = iota
	TermReturn
	TermReturnFree
	TermJump
	TermBranch2
	TermBranch3
	TermPanic
	TermExit
)

// Block is one basic block under construction: a shadow-stack-checked
// instruction buffer that is either still open (term == TermNone) or
// closed with a terminator and up to three successors.
type Block struct {
	id       int
	inCount  uint8
	insts    []ir.Instruction
	debugLoc []blockDebugLoc

	vstack   []ShadowValue
	maxDepth int

	term     TermKind
	branchCC CCCode
	// targets holds the terminator's successors: jump uses [0]; branch2 uses
	// [true=0,false=1]; branch3 uses [lt=0,eq=1,gt=2], collapsed to a single
	// merged two-way branch by Finish when two of the three coincide.
	targets   [3]*Block
	reachable bool
	offset      int64 // word offset from the function anchor, assigned by Finish
	instWordOff []int64

	lastStoredValue storedLocal
}

type blockDebugLoc struct {
	instIdx uint32
	file    string
	line    uint32
	col     uint32
}

// storedLocal remembers the shadow value most recently written by a
// store_local_value in this block, letting an immediately following
// load_local_value of the same local fold away instead of re-reading it.
type storedLocal struct {
	localIdx uint8
	value    ShadowValue
	ok       bool
}

// ID returns the block's builder-local identifier (stable for the lifetime
// of one Builder, used only for diagnostics).
func (b *Block) ID() int { return b.id }

// Terminated reports whether a terminator has been installed.
func (b *Block) Terminated() bool { return b.term != TermNone }

// Depth returns the current shadow-stack height.
func (b *Block) Depth() int { return len(b.vstack) }
