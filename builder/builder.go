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

import (
	"fmt"

	"github.com/probechain/irvm/ir"
)

// ConstFolder lets a host fold a builtin call whose inputs are all known
// constants at build time, without the builder package depending on the vm
// package (the same interface-inversion the memory package uses for GC
// roots). A nil ConstFolder simply disables that one peephole.
type ConstFolder interface {
	FoldBuiltin(builtinID uint32, args []ir.Value) (result ir.Value, ok bool)
}

// Local is one function-local storage slot declared via BuildLocal. Locals
// whose natural byte offset would not fit the 16-bit field local_addr packs
// it into are "escaped": their bytes live in a separately allocated,
// pointer-aligned region, and local_addr instead reads an indirection
// pointer stored in a small, always-in-range pointer slot.
type Local struct {
	Layout   ir.Layout
	Offset   uint32
	Escaped  bool
	PtrSlot  uint8
}

// Builder assembles one function body at a time: a set of blocks each with
// their own shadow value stack, a local variable table, and pending debug
// locations, culminating in Finish producing the function's linear
// instruction array.
type Builder struct {
	module *ir.Module
	fn     *ir.Function
	folder ConstFolder

	blocks      []*Block
	cur         *Block
	nextBlockID int

	locals      []Local
	localBytes  uint32
	localAlign  uint32
	escapedNext uint8

	errs    []error
	errored bool
}

// New starts building the body of fn, which must belong to module and not
// yet be defined. The entry block is created with input arity
// fn.InputCount; its formal arguments are already on the shadow stack as
// opaque values when building starts.
func New(module *ir.Module, fn *ir.Function, folder ConstFolder) *Builder {
	b := &Builder{module: module, fn: fn, folder: folder}
	entry := b.CreateBlock(fn.InputCount)
	b.SetCurrent(entry)
	return b
}

// Errored reports whether any build error has been recorded so far.
func (b *Builder) Errored() bool { return b.errored }

// Errors returns every build error recorded so far, in emission order.
func (b *Builder) Errors() []error { return b.errs }

func (b *Builder) fail(kind ErrorKind, format string, args ...any) {
	b.errored = true
	blk := -1
	if b.cur != nil {
		blk = b.cur.id
	}
	b.errs = append(b.errs, &BuildError{Kind: kind, Function: b.fn.Name, Block: blk, Detail: fmt.Sprintf(format, args...)})
}

// CreateBlock allocates a new, open block with the given input arity and
// pre-populates its shadow stack with inCount opaque values representing
// the block's formal parameters.
func (b *Builder) CreateBlock(inCount uint8) *Block {
	blk := &Block{id: b.nextBlockID, inCount: inCount}
	b.nextBlockID++
	for i := uint8(0); i < inCount; i++ {
		blk.vstack = append(blk.vstack, opaque())
	}
	blk.maxDepth = len(blk.vstack)
	b.blocks = append(b.blocks, blk)
	return blk
}

// SetCurrent switches the block subsequent append calls target. It does not
// require the previous current block to be terminated, so callers can build
// blocks out of order; Finish rejects any reachable block left unterminated.
func (b *Builder) SetCurrent(blk *Block) { b.cur = blk }

// Current returns the block subsequent append calls target.
func (b *Builder) Current() *Block { return b.cur }

func (b *Builder) requireOpen() bool {
	if b.cur == nil {
		b.fail(ErrUnterminatedBlock, "no current block")
		return false
	}
	if b.cur.term != TermNone {
		b.fail(ErrUnterminatedBlock, "block %d already terminated", b.cur.id)
		return false
	}
	return true
}

func (b *Builder) pop(n int) ([]ShadowValue, bool) {
	if len(b.cur.vstack) < n {
		b.fail(ErrStackUnderflow, "need %d operand(s), have %d", n, len(b.cur.vstack))
		return nil, false
	}
	s := len(b.cur.vstack) - n
	vs := append([]ShadowValue(nil), b.cur.vstack[s:]...)
	b.cur.vstack = b.cur.vstack[:s]
	return vs, true
}

func (b *Builder) push(vs ...ShadowValue) {
	b.cur.vstack = append(b.cur.vstack, vs...)
	if len(b.cur.vstack) > b.cur.maxDepth {
		b.cur.maxDepth = len(b.cur.vstack)
	}
}

// emit appends inst to the current block and returns its index, without any
// shadow-stack bookkeeping (callers do that themselves so peephole rules can
// inspect/mutate the stack before emitting).
func (b *Builder) emit(inst ir.Instruction) int {
	b.cur.insts = append(b.cur.insts, inst)
	return len(b.cur.insts) - 1
}

// AttachDebugLoc records a source location for the instruction most
// recently appended to the current block.
func (b *Builder) AttachDebugLoc(file string, line, col uint32) {
	if b.cur == nil || len(b.cur.insts) == 0 {
		return
	}
	b.cur.debugLoc = append(b.cur.debugLoc, blockDebugLoc{
		instIdx: uint32(len(b.cur.insts) - 1), file: file, line: line, col: col,
	})
}

// ---- value-producing instructions --------------------------------

// BuildPushConst pushes a 64-bit constant, using the shortest push chain
// encoding.
func (b *Builder) BuildPushConst(v ir.Value) {
	if !b.requireOpen() {
		return
	}
	chain := ir.EncodeConstChain(v)
	start := -1
	for _, inst := range chain {
		idx := b.emit(inst)
		if start < 0 {
			start = idx
		}
	}
	b.push(ShadowValue{Kind: ShadowConst, Const: v, ProducerIdx: start, ProducerLen: uint8(len(chain)), Removable: true})
}

// BuildGlobalAddr pushes the address of the allocIdx'th global.
func (b *Builder) BuildGlobalAddr(allocIdx uint32) {
	if !b.requireOpen() {
		return
	}
	idx := b.emit(ir.EncodeImm24(ir.OpGlobalAddr, allocIdx))
	b.push(ShadowValue{ProducerIdx: idx, Removable: true})
}

// BuildLocalAddr pushes the address of localIdx, handling the escaped-local
// indirection transparently.
func (b *Builder) BuildLocalAddr(localIdx uint8) {
	if !b.requireOpen() {
		return
	}
	if int(localIdx) >= len(b.locals) {
		b.fail(ErrInvalidField, "local %d not declared", localIdx)
		return
	}
	loc := b.locals[localIdx]
	if loc.Escaped {
		// The prologue already stashed this local's real address into its
		// pointer slot via local_storage; reading it back is just a value
		// load, not a fresh local_addr. The slot lives right after the
		// combined non-escaped locals region, at a byte offset that is only
		// final once every BuildLocal call for this function has run.
		slotOffset := b.localBytes + uint32(loc.PtrSlot)*8
		idx := b.emit(ir.EncodeA8B16(ir.OpLoadLocalValue, localIdx, uint16(slotOffset)))
		b.push(ShadowValue{Kind: ShadowLocalAddr, LocalIdx: localIdx, ProducerIdx: idx, Removable: false})
		return
	}
	idx := b.emit(ir.EncodeA8B16(ir.OpLocalAddr, localIdx, uint16(loc.Offset)))
	b.push(ShadowValue{Kind: ShadowLocalAddr, LocalIdx: localIdx, ProducerIdx: idx, Removable: true})
}

// BuildFunctionAddr pushes a FunctionAddress referring to fn. Unlike
// jump/branch targets, this does not need anchor-relative pointer
// compression: fn's signature is fixed at build time, so function_addr's
// payload is simply fn's function_index and the VM fills in the arity
// fields from the module at dispatch time. The shadow value is the packed
// FunctionAddress constant, so a following BuildCallIndirect can fold the
// pair into a direct call.
func (b *Builder) BuildFunctionAddr(fn *ir.Function) {
	if !b.requireOpen() {
		return
	}
	fa := ir.FunctionAddress{Index: fn.FunctionIndex, InputCount: fn.InputCount, OutputCount: fn.OutputCount}
	idx := b.emit(ir.EncodeImm24(ir.OpFunctionAddr, fn.FunctionIndex))
	b.push(ShadowValue{Kind: ShadowConst, Const: fa.Pack(), ProducerIdx: idx, Removable: true})
}

// BuildCC converts a previously pushed builtin condition word into a
// 0/1 boolean value tagged with its comparison category, so a following
// BuildBranch2 can fold the pair.
func (b *Builder) BuildCC(code CCCode) {
	if !b.requireOpen() {
		return
	}
	operands, ok := b.pop(1)
	if !ok {
		return
	}
	if operands[0].Kind == ShadowConst && b.foldCC(code, operands[0]) {
		return
	}
	idx := b.emit(ir.EncodeImm24(ir.OpCC, uint32(code)))
	b.push(ShadowValue{CC: code, ProducerIdx: idx, Removable: true})
}

// foldCC replaces a cc on a known constant with a push of its 0/1 result
//: the constant's own producer is elided (or popped, if something
// was emitted since) and the folded boolean is pushed in its place.
func (b *Builder) foldCC(code CCCode, cond ShadowValue) bool {
	var taken bool
	switch code {
	case CCEq:
		taken = cond.Const.I64() == 0
	case CCNe:
		taken = cond.Const.I64() != 0
	case CCLt:
		taken = cond.Const.I64() < 0
	case CCLe:
		taken = cond.Const.I64() <= 0
	case CCGe:
		taken = cond.Const.I64() >= 0
	case CCGt:
		taken = cond.Const.I64() > 0
	default:
		return false
	}
	if !b.elideProducer(cond) {
		b.emit(ir.EncodeImm24(ir.OpPopTop, 0))
	}
	v := ir.ValueFromI64(0)
	if taken {
		v = ir.ValueFromI64(1)
	}
	chain := ir.EncodeConstChain(v)
	start := b.emit(chain[0])
	b.push(ShadowValue{Kind: ShadowConst, Const: v, CC: code, ProducerIdx: start, ProducerLen: 1, Removable: true})
	return true
}

// ---- stack manipulation ------------------------------------------

// BuildPopTop discards the top value, eliding its producer instead of
// emitting pop_top when that producer has no side effect.
func (b *Builder) BuildPopTop() {
	if !b.requireOpen() {
		return
	}
	vs, ok := b.pop(1)
	if !ok {
		return
	}
	if idx := vs[0].ProducerIdx; idx >= 0 && idx == len(b.cur.insts)-1 && b.cur.insts[idx].Op() == ir.OpArrayElement {
		// Removing an array_element leaves both its inputs live on the
		// runtime stack, so the requested pop becomes two.
		b.cur.insts = b.cur.insts[:idx]
		b.emit(ir.EncodeImm24(ir.OpPopTop, 0))
		b.emit(ir.EncodeImm24(ir.OpPopTop, 0))
		return
	}
	if b.elideProducer(vs[0]) {
		return
	}
	b.emit(ir.EncodeImm24(ir.OpPopTop, 0))
}

// BuildPop discards the single value idxFromTop-from-top; the values above
// it each move down one slot. idxFromTop == 0 is handled by BuildPopTop.
func (b *Builder) BuildPop(idxFromTop uint8) {
	if !b.requireOpen() {
		return
	}
	depth := len(b.cur.vstack)
	if int(idxFromTop) >= depth {
		b.fail(ErrInvalidStackIndex, "pop index %d exceeds depth %d", idxFromTop, depth)
		return
	}
	if idxFromTop == 0 {
		b.BuildPopTop()
		return
	}
	pos := depth - 1 - int(idxFromTop)
	removed := b.cur.vstack[pos]
	b.cur.vstack = append(b.cur.vstack[:pos], b.cur.vstack[pos+1:]...)
	_ = removed
	b.emit(ir.EncodeImm24(ir.OpPop, uint32(idxFromTop)))
}

// elideProducer removes v's producing instruction(s) from the current block
// instead of emitting an explicit pop, when they are the block's most
// recently emitted instructions and have no side effect. Multi-word push
// chains are removed whole.
func (b *Builder) elideProducer(v ShadowValue) bool {
	if !v.Removable || v.ProducerIdx < 0 {
		return false
	}
	n := int(v.ProducerLen)
	if n == 0 {
		n = 1
	}
	if v.ProducerIdx+n != len(b.cur.insts) {
		return false
	}
	b.cur.insts = b.cur.insts[:v.ProducerIdx]
	return true
}

// BuildPick duplicates the value idxFromTop-from-top onto the top of stack.
func (b *Builder) BuildPick(idxFromTop uint8) {
	if !b.requireOpen() {
		return
	}
	depth := len(b.cur.vstack)
	if int(idxFromTop) >= depth {
		b.fail(ErrInvalidStackIndex, "pick index %d exceeds depth %d", idxFromTop, depth)
		return
	}
	v := b.cur.vstack[depth-1-int(idxFromTop)]
	idx := b.emit(ir.EncodeImm24(ir.OpPick, uint32(idxFromTop)))
	v.ProducerIdx = idx
	v.Removable = true
	b.push(v)
}

// BuildDup duplicates the top value.
func (b *Builder) BuildDup() {
	if !b.requireOpen() {
		return
	}
	if len(b.cur.vstack) < 1 {
		b.fail(ErrStackUnderflow, "dup requires one operand")
		return
	}
	v := b.cur.vstack[len(b.cur.vstack)-1]
	idx := b.emit(ir.EncodeImm24(ir.OpDup, 0))
	v.ProducerIdx = idx
	v.Removable = true
	b.push(v)
}

// BuildRoll rotates the top idxFromTop+1 values so the idxFromTop'th value
// becomes the new top.
func (b *Builder) BuildRoll(idxFromTop uint8) {
	if !b.requireOpen() {
		return
	}
	depth := len(b.cur.vstack)
	if int(idxFromTop) >= depth {
		b.fail(ErrInvalidStackIndex, "roll index %d exceeds depth %d", idxFromTop, depth)
		return
	}
	pos := depth - 1 - int(idxFromTop)
	v := b.cur.vstack[pos]
	b.cur.vstack = append(b.cur.vstack[:pos], b.cur.vstack[pos+1:]...)
	v.ProducerIdx = -1
	b.emit(ir.EncodeImm24(ir.OpRoll, uint32(idxFromTop)))
	b.push(v)
}

// BuildSwap exchanges the top two values.
func (b *Builder) BuildSwap() {
	if !b.requireOpen() {
		return
	}
	vs, ok := b.pop(2)
	if !ok {
		return
	}
	b.emit(ir.EncodeImm24(ir.OpSwap, 0))
	vs[0].ProducerIdx, vs[1].ProducerIdx = -1, -1
	b.push(vs[1], vs[0])
}

// BuildSelect pops an index and replaces the n values beneath it with the
// one the index picks, counting from the top. An index known to be
// out of range at build time is rejected here instead of panicking at run
// time.
func (b *Builder) BuildSelect(n uint8) {
	if !b.requireOpen() {
		return
	}
	if n == 0 {
		b.fail(ErrInvalidField, "select of zero values")
		return
	}
	vs, ok := b.pop(int(n) + 1)
	if !ok {
		return
	}
	index := vs[n]
	if index.Kind == ShadowConst && index.Const.U64() > uint64(n-1) {
		b.fail(ErrInvalidStackIndex, "select index %d out of range for %d values", index.Const.U64(), n)
		return
	}
	idx := b.emit(ir.EncodeImm24(ir.OpSelect, uint32(n)))
	b.push(ShadowValue{ProducerIdx: idx})
}

// ---- memory instructions -----------------------------------------

// BuildDerefConst pops an address and pushes the layout-sized value read
// through it without asserting mutability.
func (b *Builder) BuildDerefConst(layout ir.Layout) {
	b.buildDeref(ir.OpDerefConst, layout)
}

// BuildDerefMut pops an address and pushes the layout-sized value read
// through it, asserting the allocation is mutable.
func (b *Builder) BuildDerefMut(layout ir.Layout) {
	b.buildDeref(ir.OpDerefMut, layout)
}

func (b *Builder) buildDeref(op ir.Op, layout ir.Layout) {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(1); !ok {
		return
	}
	idx := b.emit(ir.EncodeA8B16(op, layout.AlignLog2(), uint16(layout.Size)))
	b.push(ShadowValue{ProducerIdx: idx, Removable: true})
}

// BuildArrayElement pops a base address and an index, pushing the element
// address at base + index*stride. A constant zero index is removed entirely
// (the base address is simply left on the stack); a constant nonzero index
// folds into an aggregate_member at the precomputed byte offset; either way
// the index's own producer is elided and its pop absorbed.
func (b *Builder) BuildArrayElement(stride uint32) {
	if !b.requireOpen() {
		return
	}
	vs, ok := b.pop(2)
	if !ok {
		return
	}
	base, index := vs[0], vs[1]
	if index.Kind == ShadowConst {
		if !b.elideProducer(index) {
			// The constant's producer wasn't the immediately preceding
			// instruction, so it is still live on the runtime stack; an
			// explicit pop absorbs it now that array_element itself is gone.
			b.emit(ir.EncodeImm24(ir.OpPopTop, 0))
		}
		offset := uint32(index.Const.U64()) * stride
		if offset == 0 {
			b.push(base)
			return
		}
		idx := b.emit(ir.EncodeImm24(ir.OpAggregateMember, offset))
		b.push(ShadowValue{ProducerIdx: idx, Removable: true})
		return
	}
	idx := b.emit(ir.EncodeImm24(ir.OpArrayElement, stride))
	b.push(ShadowValue{ProducerIdx: idx})
}

// BuildAggregateMember pops a base address and pushes the member address at
// the fixed byteOffset.
func (b *Builder) BuildAggregateMember(byteOffset uint32) {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(1); !ok {
		return
	}
	idx := b.emit(ir.EncodeImm24(ir.OpAggregateMember, byteOffset))
	b.push(ShadowValue{ProducerIdx: idx, Removable: true})
}

// BuildLocal declares a new local of the given layout and returns its
// index. Offsets are assigned greedily in declaration order; a local whose
// offset would not fit local_addr's 16-bit field is marked escaped and
// given a synthetic pointer slot instead.
func (b *Builder) BuildLocal(layout ir.Layout) uint8 {
	off := (b.localBytes + layout.Alignment - 1) &^ (layout.Alignment - 1)
	idx := uint8(len(b.locals))
	if off > 0xFFFF {
		b.locals = append(b.locals, Local{Layout: layout, Escaped: true, PtrSlot: b.escapedNext})
		b.escapedNext++
		return idx
	}
	if layout.Alignment > b.localAlign {
		b.localAlign = layout.Alignment
	}
	b.locals = append(b.locals, Local{Layout: layout, Offset: off})
	b.localBytes = off + layout.Size
	return idx
}

// BuildLoadLocalValue pushes the in-frame value word of local localIdx,
// encoded as (index, frame_offset) so the instruction is self-contained at
// dispatch time. If the immediately preceding instruction in this
// block was a store_local_value to the same local, the load is folded away
// and the stored shadow value is reused directly. Locals must be
// declared (via BuildLocal) before any instruction referencing them is
// built, since an escaped local's indirection slot is only placed once all
// non-escaped locals' byte region is known to be final.
func (b *Builder) BuildLoadLocalValue(localIdx uint8) {
	if !b.requireOpen() {
		return
	}
	loc, ok := b.localOffset(localIdx)
	if !ok {
		return
	}
	if n := len(b.cur.insts); n > 0 {
		last := b.cur.insts[n-1]
		if last.Op() == ir.OpStoreLocalValue {
			a, _ := last.FieldA8B16()
			if a == localIdx {
				if sv := b.cur.lastStoredValue; sv.ok && sv.localIdx == localIdx {
					// Rewrite the store into dup+store so the stored value
					// stays live on the runtime stack instead of reloading it.
					b.cur.insts = append(b.cur.insts[:n-1], ir.EncodeImm24(ir.OpDup, 0), last)
					// Between the dup and the store the value is on the
					// runtime stack twice.
					if d := len(b.cur.vstack) + 2; d > b.cur.maxDepth {
						b.cur.maxDepth = d
					}
					v := sv.value
					v.ProducerIdx = -1
					b.push(v)
					return
				}
			}
		}
	}
	idx := b.emit(ir.EncodeA8B16(ir.OpLoadLocalValue, localIdx, uint16(loc)))
	b.push(ShadowValue{ProducerIdx: idx, Removable: true})
}

// BuildStoreLocalValue pops a value and stores it into local localIdx.
func (b *Builder) BuildStoreLocalValue(localIdx uint8) {
	if !b.requireOpen() {
		return
	}
	loc, ok := b.localOffset(localIdx)
	if !ok {
		return
	}
	vs, ok := b.pop(1)
	if !ok {
		return
	}
	b.emit(ir.EncodeA8B16(ir.OpStoreLocalValue, localIdx, uint16(loc)))
	v := vs[0]
	v.ProducerIdx = -1
	b.cur.lastStoredValue = storedLocal{localIdx: localIdx, value: v, ok: true}
}

// localOffset resolves localIdx to its in-frame byte offset, failing if the
// local is unknown or is an escaped (over-large) local that cannot be
// promoted to the scalar load/store path (an over-aligned local must not
// be reachable by this optimization).
func (b *Builder) localOffset(localIdx uint8) (uint32, bool) {
	if int(localIdx) >= len(b.locals) {
		b.fail(ErrInvalidField, "local %d not declared", localIdx)
		return 0, false
	}
	loc := b.locals[localIdx]
	if loc.Escaped {
		b.fail(ErrInvalidField, "local %d is escaped and cannot use load/store_local_value", localIdx)
		return 0, false
	}
	if loc.Layout.Alignment > 8 {
		b.fail(ErrInvalidField, "local %d is over-aligned and cannot use load/store_local_value", localIdx)
		return 0, false
	}
	return loc.Offset, true
}

// BuildLoadGlobalValue pushes the value word of global allocIdx.
func (b *Builder) BuildLoadGlobalValue(allocIdx uint32) {
	if !b.requireOpen() {
		return
	}
	idx := b.emit(ir.EncodeImm24(ir.OpLoadGlobalValue, allocIdx))
	b.push(ShadowValue{ProducerIdx: idx, Removable: true})
}

// BuildStoreGlobalValue pops a value and stores it into global allocIdx.
func (b *Builder) BuildStoreGlobalValue(allocIdx uint32) {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(1); !ok {
		return
	}
	b.emit(ir.EncodeImm24(ir.OpStoreGlobalValue, allocIdx))
}

// ---- address instructions ------------------------------------------

// BuildAddrAdd pops an address and a signed delta, pushing address+delta.
func (b *Builder) BuildAddrAdd() { b.buildAddrArith(ir.OpAddrAdd) }

// BuildAddrSub pops an address and a signed delta, pushing address-delta.
func (b *Builder) BuildAddrSub() { b.buildAddrArith(ir.OpAddrSub) }

func (b *Builder) buildAddrArith(op ir.Op) {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(2); !ok {
		return
	}
	idx := b.emit(ir.EncodeImm24(op, 0))
	b.push(ShadowValue{ProducerIdx: idx})
}

// BuildAddrDistance pops two addresses and pushes their signed byte delta.
func (b *Builder) BuildAddrDistance() {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(2); !ok {
		return
	}
	idx := b.emit(ir.EncodeImm24(ir.OpAddrDistance, 0))
	b.push(ShadowValue{ProducerIdx: idx})
}

// BuildAddrToInt pops an address, pushing a provenance address and its
// plain integer offset.
func (b *Builder) BuildAddrToInt() {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(1); !ok {
		return
	}
	idx := b.emit(ir.EncodeImm24(ir.OpAddrToInt, 0))
	b.push(ShadowValue{ProducerIdx: idx}, ShadowValue{ProducerIdx: -1})
}

// BuildIntToAddr pops a provenance address and an integer offset, pushing a
// readable address.
func (b *Builder) BuildIntToAddr() {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(2); !ok {
		return
	}
	idx := b.emit(ir.EncodeImm24(ir.OpIntToAddr, 0))
	b.push(ShadowValue{ProducerIdx: idx})
}

// BuildSplit pops an address, pushing the two halves of the split chain.
func (b *Builder) BuildSplit() {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(1); !ok {
		return
	}
	idx := b.emit(ir.EncodeImm24(ir.OpSplit, 0))
	b.push(ShadowValue{ProducerIdx: idx}, ShadowValue{ProducerIdx: -1})
}

// BuildMerge pops the two addresses of a split pair, pushing the merged
// address.
func (b *Builder) BuildMerge() {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(2); !ok {
		return
	}
	idx := b.emit(ir.EncodeImm24(ir.OpMerge, 0))
	b.push(ShadowValue{ProducerIdx: idx})
}

// BuildPoison pops an address and marks its allocation poisoned.
func (b *Builder) BuildPoison() {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(1); !ok {
		return
	}
	b.emit(ir.EncodeImm24(ir.OpPoison, 0))
}

// BuildUnpoison pops an address and clears its allocation's poison.
func (b *Builder) BuildUnpoison() {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(1); !ok {
		return
	}
	b.emit(ir.EncodeImm24(ir.OpUnpoison, 0))
}

// ---- calls --------------------------------------------------------

// BuildCall pops callee.InputCount arguments and calls callee directly,
// pushing callee.OutputCount results.
func (b *Builder) BuildCall(callee *ir.Function) {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(int(callee.InputCount)); !ok {
		return
	}
	idx := b.emit(ir.EncodeImm24(ir.OpCall, callee.FunctionIndex))
	for i := uint8(0); i < callee.OutputCount; i++ {
		v := opaque()
		v.ProducerIdx = idx
		b.push(v)
	}
}

// BuildCallIndirect pops a function address and inCount arguments, calling
// through it and pushing outCount results. A constant function address with
// a matching module function is folded into a direct call.
func (b *Builder) BuildCallIndirect(inCount, outCount uint8) {
	if !b.requireOpen() {
		return
	}
	args, ok := b.pop(int(inCount))
	if !ok {
		return
	}
	target, ok := b.pop(1)
	if !ok {
		return
	}
	if target[0].Kind == ShadowConst {
		fa := ir.UnpackFunctionAddress(target[0].Const)
		if fa.InputCount == inCount && fa.OutputCount == outCount {
			if callee := b.module.FunctionByIndex(fa.Index); callee != nil {
				if !b.elideProducer(target[0]) {
					// The address sits beneath the already-pushed arguments;
					// pop it out from under them.
					b.emit(ir.EncodeImm24(ir.OpPop, uint32(inCount)))
				}
				_ = args
				idx := b.emit(ir.EncodeImm24(ir.OpCall, callee.FunctionIndex))
				for i := uint8(0); i < callee.OutputCount; i++ {
					v := opaque()
					v.ProducerIdx = idx
					b.push(v)
				}
				return
			}
		}
	}
	idx := b.emit(ir.EncodeA8B8C8(ir.OpCallIndirect, inCount, outCount, 0))
	for i := uint8(0); i < outCount; i++ {
		v := opaque()
		v.ProducerIdx = idx
		b.push(v)
	}
}

// BuiltinRef identifies a host builtin for call_builtin/call_builtin_no_frame.
type BuiltinRef struct {
	ID         uint32
	InputCount uint8
	OutputCount uint8
	// ConstantFold marks builtins whose output depends only on their
	// inputs and may be evaluated at build time via the Builder's
	// ConstFolder (flag CONSTANT_FOLD).
	ConstantFold bool
	// NoFrame marks builtins the VM may invoke without pushing a call
	// frame (flag NO_PROCESS); BuildCallBuiltin selects
	// call_builtin_no_frame automatically when set.
	NoFrame bool
}

// BuildCallBuiltin pops builtin.InputCount arguments and invokes builtin,
// pushing builtin.OutputCount results. When builtin.ConstantFold is set, the
// builtin has exactly one output, and every argument is a known constant, the
// call is evaluated immediately via the Builder's ConstFolder instead of
// emitted; with no ConstFolder, or when the folder declines, the call is
// emitted as usual.
func (b *Builder) BuildCallBuiltin(builtin BuiltinRef) {
	if !b.requireOpen() {
		return
	}
	args, ok := b.pop(int(builtin.InputCount))
	if !ok {
		return
	}
	if builtin.ConstantFold && b.folder != nil && builtin.OutputCount == 1 {
		allConst := true
		vals := make([]ir.Value, len(args))
		for i, a := range args {
			if a.Kind != ShadowConst {
				allConst = false
				break
			}
			vals[i] = a.Const
		}
		if allConst {
			if result, ok := b.folder.FoldBuiltin(builtin.ID, vals); ok {
				for i := len(args) - 1; i >= 0; i-- {
					if !b.elideProducer(args[i]) {
						b.emit(ir.EncodeImm24(ir.OpPopTop, 0))
					}
				}
				b.BuildPushConst(result)
				return
			}
		}
	}
	op := ir.OpCallBuiltin
	if builtin.NoFrame {
		op = ir.OpCallBuiltinNoFrame
	}
	idx := b.emit(ir.EncodeImm24(op, builtin.ID))
	for i := uint8(0); i < builtin.OutputCount; i++ {
		v := opaque()
		v.ProducerIdx = idx
		b.push(v)
	}
}

// ---- fibers -------------------------------------------------------

// BuildFiberCreate pops target's captured arguments and pushes a new
// suspended fiber handle wrapping target.
func (b *Builder) BuildFiberCreate(target *ir.Function) {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(int(target.InputCount)); !ok {
		return
	}
	idx := b.emit(ir.EncodeImm24(ir.OpFiberCreate, target.FunctionIndex))
	b.push(ShadowValue{ProducerIdx: idx})
}

// BuildFiberResume pops a fiber handle and inCount resume arguments,
// transferring control into it and pushing outCount values yielded back
// by its next suspend or return.
func (b *Builder) BuildFiberResume(inCount, outCount uint8) {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(int(inCount) + 1); !ok {
		return
	}
	idx := b.emit(ir.EncodeA8B8C8(ir.OpFiberResume, inCount, outCount, 0))
	for i := uint8(0); i < outCount; i++ {
		v := opaque()
		v.ProducerIdx = idx
		b.push(v)
	}
}

// BuildFiberSuspend pops outCount values to hand back to the resumer and
// pushes inCount values supplied by the next resume.
func (b *Builder) BuildFiberSuspend(outCount, inCount uint8) {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(int(outCount)); !ok {
		return
	}
	idx := b.emit(ir.EncodeA8B8C8(ir.OpFiberSuspend, outCount, inCount, 0))
	for i := uint8(0); i < inCount; i++ {
		v := opaque()
		v.ProducerIdx = idx
		b.push(v)
	}
}

// ---- terminators --------------------------------------------------

// BuildReturn closes the current block, popping exactly fn.OutputCount
// values and returning them to the caller.
func (b *Builder) BuildReturn() {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(int(b.fn.OutputCount)); !ok {
		return
	}
	b.cur.term = TermReturn
}

// BuildReturnFree behaves like BuildReturn but also frees the function's
// local allocation before returning.
func (b *Builder) BuildReturnFree() {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(int(b.fn.OutputCount)); !ok {
		return
	}
	b.cur.term = TermReturnFree
}

// BuildPanic pops a panic message address and closes the block, unwinding
// the call stack.
func (b *Builder) BuildPanic() {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(1); !ok {
		return
	}
	b.cur.term = TermPanic
}

// BuildExit closes the block, halting the process with the popped exit
// code.
func (b *Builder) BuildExit() {
	if !b.requireOpen() {
		return
	}
	if _, ok := b.pop(1); !ok {
		return
	}
	b.cur.term = TermExit
}

// checkOutputArity enforces the 255-value bound a terminator fixes on its
// block's output arity.
func (b *Builder) checkOutputArity() bool {
	if len(b.cur.vstack) > 255 {
		b.fail(ErrOutputArityTooLarge, "%d values on stack at terminator", len(b.cur.vstack))
		return false
	}
	return true
}

// BuildJump closes the block with an unconditional jump to target. The
// values still on the shadow stack become the block's outputs; neither the
// builder nor VerifyFunction checks that their count equals target's input
// arity.
func (b *Builder) BuildJump(target *Block) {
	if !b.requireOpen() {
		return
	}
	if !b.checkOutputArity() {
		return
	}
	b.cur.term = TermJump
	b.cur.targets[0] = target
}

// BuildBranch2 pops a condition and closes the block with a two-way branch
// to trueBlk/falseBlk. If the condition's producer was an immediately
// preceding BuildCC call on this same block, the cc instruction is folded
// directly into the branch; a constant condition instead becomes
// an unconditional jump.
func (b *Builder) BuildBranch2(trueBlk, falseBlk *Block) {
	if !b.requireOpen() {
		return
	}
	vs, ok := b.pop(1)
	if !ok {
		return
	}
	if !b.checkOutputArity() {
		return
	}
	cond := vs[0]
	if cond.Kind == ShadowConst {
		if !b.elideProducer(cond) {
			b.emit(ir.EncodeImm24(ir.OpPopTop, 0))
		}
		b.cur.term = TermJump
		if cond.Const.U64() != 0 {
			b.cur.targets[0] = trueBlk
		} else {
			b.cur.targets[0] = falseBlk
		}
		return
	}
	if cond.CC != CCNone && cond.ProducerIdx == len(b.cur.insts)-1 {
		b.cur.insts = b.cur.insts[:cond.ProducerIdx]
		b.cur.term = TermBranch2
		b.cur.branchCC = cond.CC
		b.cur.targets[0], b.cur.targets[1] = trueBlk, falseBlk
		return
	}
	b.cur.term = TermBranch2
	b.cur.branchCC = CCNone
	b.cur.targets[0], b.cur.targets[1] = trueBlk, falseBlk
}

// BuildBranch3 pops a single signed value and closes the block with a
// three-way branch: ltBlk if it is negative, eqBlk if zero, gtBlk if
// positive. When two of the
// three targets coincide this lowers to one merged always-pop branch
// instead of a two-instruction chain.
func (b *Builder) BuildBranch3(ltBlk, eqBlk, gtBlk *Block) {
	if !b.requireOpen() {
		return
	}
	vs, ok := b.pop(1)
	if !ok {
		return
	}
	if !b.checkOutputArity() {
		return
	}
	cond := vs[0]
	if ltBlk == eqBlk && eqBlk == gtBlk {
		if !b.elideProducer(cond) {
			b.emit(ir.EncodeImm24(ir.OpPopTop, 0))
		}
		b.cur.term = TermJump
		b.cur.targets[0] = ltBlk
		return
	}
	if cond.Kind == ShadowConst {
		if !b.elideProducer(cond) {
			b.emit(ir.EncodeImm24(ir.OpPopTop, 0))
		}
		b.cur.term = TermJump
		switch {
		case cond.Const.I64() < 0:
			b.cur.targets[0] = ltBlk
		case cond.Const.I64() > 0:
			b.cur.targets[0] = gtBlk
		default:
			b.cur.targets[0] = eqBlk
		}
		return
	}
	b.cur.term = TermBranch3
	b.cur.targets[0], b.cur.targets[1], b.cur.targets[2] = ltBlk, eqBlk, gtBlk
}
