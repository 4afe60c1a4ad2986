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

package builder_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probechain/irvm/builder"
	"github.com/probechain/irvm/ir"
)

func ops(fn *ir.Function) []ir.Op {
	out := make([]ir.Op, len(fn.Insts))
	for i, inst := range fn.Insts {
		out[i] = inst.Op()
	}
	return out
}

func countOp(fn *ir.Function, op ir.Op) int {
	n := 0
	for _, inst := range fn.Insts {
		if inst.Op() == op {
			n++
		}
	}
	return n
}

func failKind(t *testing.T, b *builder.Builder, kind builder.ErrorKind) {
	t.Helper()
	require.True(t, b.Errored())
	require.NotEmpty(t, b.Errors())
	be, ok := b.Errors()[0].(*builder.BuildError)
	require.True(t, ok, "expected *BuildError, got %T", b.Errors()[0])
	require.Equal(t, kind, be.Kind)
}

func TestPopFromEmptyBlockIsBuildError(t *testing.T) {
	m := ir.CreateModule("t")
	fn := m.AddFunction("f", 0, 0)
	b := builder.New(m, fn, nil)

	b.BuildPopTop()
	failKind(t, b, builder.ErrStackUnderflow)
	require.False(t, b.Finish())
	require.False(t, fn.Defined())
}

func TestUnterminatedReachableBlockFailsFinish(t *testing.T) {
	m := ir.CreateModule("t")
	fn := m.AddFunction("f", 0, 0)
	b := builder.New(m, fn, nil)

	b.BuildPushConst(ir.ValueFromI64(1))
	b.BuildPopTop()
	require.False(t, b.Finish())
	failKind(t, b, builder.ErrUnterminatedBlock)
}

func TestPopElidesDeadProducer(t *testing.T) {
	m := ir.CreateModule("t")
	fn := m.AddFunction("f", 0, 1)
	b := builder.New(m, fn, nil)

	b.BuildPushConst(ir.ValueFromI64(1))
	b.BuildPopTop()
	b.BuildPushConst(ir.ValueFromI64(7))
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	require.Equal(t, []ir.Op{ir.OpBlock, ir.OpPush, ir.OpReturn}, ops(fn))
	require.EqualValues(t, 7, fn.Insts[1].Imm24())
}

func TestPopElidesWholePushChain(t *testing.T) {
	m := ir.CreateModule("t")
	fn := m.AddFunction("f", 0, 1)
	b := builder.New(m, fn, nil)

	// A three-word push chain must be removed whole, not just its tail word.
	b.BuildPushConst(ir.ValueFromU64(0x1234_5678_9ABC_DEF0))
	b.BuildPopTop()
	b.BuildPushConst(ir.ValueFromI64(0))
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	require.Equal(t, []ir.Op{ir.OpBlock, ir.OpPush, ir.OpReturn}, ops(fn))
}

func TestPopKeepsSideEffectingProducer(t *testing.T) {
	m := ir.CreateModule("t")
	callee := m.AddFunction("callee", 0, 1)
	{
		cb := builder.New(m, callee, nil)
		cb.BuildPushConst(ir.ValueFromI64(9))
		cb.BuildReturn()
		require.True(t, cb.Finish())
	}

	fn := m.AddFunction("f", 0, 0)
	b := builder.New(m, fn, nil)
	b.BuildCall(callee)
	b.BuildPopTop()
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	require.Equal(t, 1, countOp(fn, ir.OpCall))
	require.Equal(t, 1, countOp(fn, ir.OpPopTop))
}

func TestArrayElementConstZeroIndexRemoved(t *testing.T) {
	m := ir.CreateModule("t")
	fn := m.AddFunction("f", 1, 1)
	b := builder.New(m, fn, nil)

	b.BuildPushConst(ir.ValueFromI64(0))
	b.BuildArrayElement(8)
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	require.Zero(t, countOp(fn, ir.OpArrayElement))
	require.Zero(t, countOp(fn, ir.OpAggregateMember))
	require.Zero(t, countOp(fn, ir.OpPush))
}

func TestArrayElementConstIndexBecomesAggregateMember(t *testing.T) {
	m := ir.CreateModule("t")
	fn := m.AddFunction("f", 1, 1)
	b := builder.New(m, fn, nil)

	b.BuildPushConst(ir.ValueFromI64(3))
	b.BuildArrayElement(8)
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	require.Zero(t, countOp(fn, ir.OpArrayElement))
	require.Zero(t, countOp(fn, ir.OpPush))
	require.Equal(t, 1, countOp(fn, ir.OpAggregateMember))
	for _, inst := range fn.Insts {
		if inst.Op() == ir.OpAggregateMember {
			require.EqualValues(t, 24, inst.Imm24())
		}
	}
}

func TestPopOfArrayElementAbsorbsBothInputs(t *testing.T) {
	m := ir.CreateModule("t")
	fn := m.AddFunction("f", 2, 1)
	b := builder.New(m, fn, nil)

	b.BuildArrayElement(8)
	b.BuildPopTop()
	b.BuildPushConst(ir.ValueFromI64(0))
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	require.Zero(t, countOp(fn, ir.OpArrayElement))
	require.Equal(t, 2, countOp(fn, ir.OpPopTop))
}

func TestCCConstantInputFoldsToPush(t *testing.T) {
	m := ir.CreateModule("t")
	fn := m.AddFunction("f", 0, 1)
	b := builder.New(m, fn, nil)

	b.BuildPushConst(ir.ValueFromI64(-5))
	b.BuildCC(builder.CCLt)
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	require.Zero(t, countOp(fn, ir.OpCC))
	require.Equal(t, []ir.Op{ir.OpBlock, ir.OpPush, ir.OpReturn}, ops(fn))
	require.EqualValues(t, 1, fn.Insts[1].Imm24())
}

func TestBranch2ConstantConditionBecomesJump(t *testing.T) {
	m := ir.CreateModule("t")
	fn := m.AddFunction("f", 0, 1)
	b := builder.New(m, fn, nil)
	takenBlk := b.CreateBlock(0)
	deadBlk := b.CreateBlock(0)

	b.BuildPushConst(ir.ValueFromI64(1))
	b.BuildBranch2(takenBlk, deadBlk)

	b.SetCurrent(takenBlk)
	b.BuildPushConst(ir.ValueFromI64(42))
	b.BuildReturn()

	b.SetCurrent(deadBlk)
	b.BuildPushConst(ir.ValueFromI64(13))
	b.BuildReturn()

	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	// The condition push is elided, no branch survives, and the dead block
	// is never emitted; the jump to the next-lexical block is elided too.
	require.Zero(t, countOp(fn, ir.OpBranchFalse))
	require.Zero(t, countOp(fn, ir.OpJump))
	require.Equal(t, 1, countOp(fn, ir.OpPush))
	require.Equal(t, 2, countOp(fn, ir.OpBlock))
}

func TestCallIndirectConstantTargetBecomesDirectCall(t *testing.T) {
	m := ir.CreateModule("t")
	callee := m.AddFunction("callee", 0, 1)
	{
		cb := builder.New(m, callee, nil)
		cb.BuildPushConst(ir.ValueFromI64(5))
		cb.BuildReturn()
		require.True(t, cb.Finish())
	}

	fn := m.AddFunction("f", 0, 1)
	b := builder.New(m, fn, nil)
	b.BuildFunctionAddr(callee)
	b.BuildCallIndirect(0, 1)
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	require.Zero(t, countOp(fn, ir.OpCallIndirect))
	require.Zero(t, countOp(fn, ir.OpFunctionAddr))
	require.Equal(t, 1, countOp(fn, ir.OpCall))
}

func TestCallIndirectArityMismatchIsNotFolded(t *testing.T) {
	m := ir.CreateModule("t")
	callee := m.AddFunction("callee", 0, 1)
	{
		cb := builder.New(m, callee, nil)
		cb.BuildPushConst(ir.ValueFromI64(5))
		cb.BuildReturn()
		require.True(t, cb.Finish())
	}

	fn := m.AddFunction("f", 1, 1)
	b := builder.New(m, fn, nil)
	b.BuildFunctionAddr(callee)
	b.BuildSwap()
	b.BuildCallIndirect(1, 1)
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	require.Equal(t, 1, countOp(fn, ir.OpCallIndirect))
	require.Zero(t, countOp(fn, ir.OpCall))
}

func TestLoadAfterStoreToSameLocalFolds(t *testing.T) {
	m := ir.CreateModule("t")
	fn := m.AddFunction("f", 1, 1)
	b := builder.New(m, fn, nil)

	loc := b.BuildLocal(ir.Layout{Size: 8, Alignment: 8})
	b.BuildStoreLocalValue(loc)
	b.BuildLoadLocalValue(loc)
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	require.Equal(t, 1, countOp(fn, ir.OpStoreLocalValue))
	require.Zero(t, countOp(fn, ir.OpLoadLocalValue))
}

func TestTerminatorOutputArityBound(t *testing.T) {
	m := ir.CreateModule("t")
	fn := m.AddFunction("f", 0, 0)
	b := builder.New(m, fn, nil)
	loop := b.Current()

	for i := 0; i < 256; i++ {
		b.BuildPushConst(ir.ValueFromI64(int64(i)))
	}
	b.BuildJump(loop)
	failKind(t, b, builder.ErrOutputArityTooLarge)
	require.False(t, b.Finish())
}

func TestInvalidStackIndexIsBuildError(t *testing.T) {
	m := ir.CreateModule("t")
	fn := m.AddFunction("f", 1, 1)
	b := builder.New(m, fn, nil)

	b.BuildPick(3)
	failKind(t, b, builder.ErrInvalidStackIndex)
}

func TestBlockMarkerArities(t *testing.T) {
	m := ir.CreateModule("t")
	fn := m.AddFunction("f", 1, 1)
	b := builder.New(m, fn, nil)
	next := b.CreateBlock(1)

	b.BuildJump(next)
	b.SetCurrent(next)
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	var markers []ir.Instruction
	for _, inst := range fn.Insts {
		if inst.Op() == ir.OpBlock {
			markers = append(markers, inst)
		}
	}
	require.Len(t, markers, 2)
	in0, out0, _ := markers[0].FieldA8B8C8()
	require.EqualValues(t, 1, in0)
	require.EqualValues(t, 1, out0)
	in1, out1, _ := markers[1].FieldA8B8C8()
	require.EqualValues(t, 1, in1)
	require.EqualValues(t, 0, out1)
}

func TestVerifyFunctionAcceptsFinishedBody(t *testing.T) {
	m := ir.CreateModule("t")
	fn := m.AddFunction("f", 1, 1)
	b := builder.New(m, fn, nil)
	neg := b.CreateBlock(0)
	other := b.CreateBlock(0)

	b.BuildCC(builder.CCLt)
	b.BuildBranch2(neg, other)

	b.SetCurrent(neg)
	b.BuildPushConst(ir.ValueFromI64(-1))
	b.BuildReturn()

	b.SetCurrent(other)
	b.BuildPushConst(ir.ValueFromI64(1))
	b.BuildReturn()

	require.True(t, b.Finish(), "build errors: %v", b.Errors())
	require.Empty(t, builder.VerifyFunction(m, fn, nil))
}

func TestMaxVstackSizeTracksDeepestBlock(t *testing.T) {
	m := ir.CreateModule("t")
	fn := m.AddFunction("f", 0, 1)
	b := builder.New(m, fn, nil)

	for i := 0; i < 5; i++ {
		b.BuildPushConst(ir.ValueFromI64(int64(i)))
	}
	for i := 0; i < 4; i++ {
		b.BuildPopTop()
	}
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())
	require.EqualValues(t, 5, fn.MaxVstackSize)
}
