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

package vm_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probechain/irvm/builder"
	"github.com/probechain/irvm/builtins/intlib"
	"github.com/probechain/irvm/builtins/memlib"
	"github.com/probechain/irvm/builtins/testlib"
	"github.com/probechain/irvm/ir"
	"github.com/probechain/irvm/vm"
)

func newLibRegistry() *vm.Registry {
	reg := vm.NewRegistry(0)
	intlib.Register(reg)
	memlib.Register(reg)
	testlib.Register(reg)
	return reg
}

func libRef(reg *vm.Registry, id uint32) builder.BuiltinRef {
	b, ok := reg.Lookup(id)
	if !ok {
		panic("unknown builtin id")
	}
	return b.Ref()
}

func runFn(t *testing.T, reg *vm.Registry, m *ir.Module, fn *ir.Function, args []ir.Value) ([]ir.Value, error) {
	t.Helper()
	v := vm.NewVM(vm.DefaultConfig(), reg)
	p, err := vm.NewProcess(v, m)
	require.NoError(t, err)
	return p.Execute(fn, args)
}

func TestMainReturnsFortyTwo(t *testing.T) {
	reg := newLibRegistry()
	m := ir.CreateModule("t")
	fn := m.AddFunction("main", 0, 1)
	m.ExportFunction(fn)

	b := vm.NewBuilder(m, fn, reg)
	b.BuildPushConst(ir.ValueFromI64(42))
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	out, err := runFn(t, reg, m, fn, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.EqualValues(t, 42, out[0].I64())
}

func TestWideConstantRoundTrips(t *testing.T) {
	reg := newLibRegistry()
	m := ir.CreateModule("t")
	fn := m.AddFunction("main", 0, 1)
	m.ExportFunction(fn)

	const wide = 0x1234_5678_9ABC_DEF0
	b := vm.NewBuilder(m, fn, reg)
	b.BuildPushConst(ir.ValueFromU64(wide))
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	out, err := runFn(t, reg, m, fn, nil)
	require.NoError(t, err)
	require.EqualValues(t, uint64(wide), out[0].U64())
}

// buildFib emits the classic doubly recursive fib(n), branching three ways on
// int.cmp(n, 2) so both the builder's branch3 lowering and the direct-call
// path get end-to-end coverage.
func buildFib(t *testing.T, m *ir.Module, reg *vm.Registry) *ir.Function {
	t.Helper()
	fn := m.AddFunction("fib", 1, 1)
	m.ExportFunction(fn)

	b := vm.NewBuilder(m, fn, reg)
	baseBlk := b.CreateBlock(1)
	recBlk := b.CreateBlock(1)

	b.BuildDup()
	b.BuildPushConst(ir.ValueFromI64(2))
	b.BuildCallBuiltin(libRef(reg, intlib.IDCmp))
	b.BuildBranch3(baseBlk, recBlk, recBlk)

	// n < 2: fib(n) == n
	b.SetCurrent(baseBlk)
	b.BuildReturn()

	b.SetCurrent(recBlk)
	b.BuildDup()
	b.BuildPushConst(ir.ValueFromI64(1))
	b.BuildCallBuiltin(libRef(reg, intlib.IDSub))
	b.BuildCall(fn)
	b.BuildSwap()
	b.BuildPushConst(ir.ValueFromI64(2))
	b.BuildCallBuiltin(libRef(reg, intlib.IDSub))
	b.BuildCall(fn)
	b.BuildCallBuiltin(libRef(reg, intlib.IDAdd))
	b.BuildReturn()

	require.True(t, b.Finish(), "build errors: %v", b.Errors())
	return fn
}

func TestRecursiveFibonacci(t *testing.T) {
	reg := newLibRegistry()
	m := ir.CreateModule("t")
	fn := buildFib(t, m, reg)

	for _, tc := range []struct{ n, want int64 }{
		{0, 0}, {1, 1}, {2, 1}, {10, 55}, {20, 6765},
	} {
		out, err := runFn(t, reg, m, fn, []ir.Value{ir.ValueFromI64(tc.n)})
		require.NoError(t, err, "fib(%d)", tc.n)
		require.EqualValues(t, tc.want, out[0].I64(), "fib(%d)", tc.n)
	}
}

func TestRecursiveFibonacciDeep(t *testing.T) {
	if testing.Short() {
		t.Skip("fib(35) is ~30M recursive calls")
	}
	reg := newLibRegistry()
	m := ir.CreateModule("t")
	fn := buildFib(t, m, reg)

	out, err := runFn(t, reg, m, fn, []ir.Value{ir.ValueFromI64(35)})
	require.NoError(t, err)
	require.EqualValues(t, 9227465, out[0].I64())
}

// TestFiberPingPong is a two-fiber exchange: the driver
// creates a fiber seeded with 1, receives 2 from its suspend, resumes it
// with 3, and receives 4 from its completion, observing [2, 4] in order.
func TestFiberPingPong(t *testing.T) {
	reg := newLibRegistry()
	m := ir.CreateModule("t")

	pong := m.AddFunction("pong", 1, 1)
	m.ExportFunction(pong)
	{
		b := vm.NewBuilder(m, pong, reg)
		b.BuildPushConst(ir.ValueFromI64(1))
		b.BuildCallBuiltin(libRef(reg, intlib.IDAdd))
		b.BuildFiberSuspend(1, 1)
		b.BuildPushConst(ir.ValueFromI64(1))
		b.BuildCallBuiltin(libRef(reg, intlib.IDAdd))
		b.BuildReturn()
		require.True(t, b.Finish(), "build errors: %v", b.Errors())
	}

	ping := m.AddFunction("ping", 0, 2)
	m.ExportFunction(ping)
	{
		b := vm.NewBuilder(m, ping, reg)
		b.BuildPushConst(ir.ValueFromI64(1))
		b.BuildFiberCreate(pong)
		b.BuildDup()
		b.BuildFiberResume(0, 1)
		b.BuildSwap()
		b.BuildPushConst(ir.ValueFromI64(3))
		b.BuildFiberResume(1, 1)
		b.BuildReturn()
		require.True(t, b.Finish(), "build errors: %v", b.Errors())
	}

	out, err := runFn(t, reg, m, ping, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.EqualValues(t, 2, out[0].I64())
	require.EqualValues(t, 4, out[1].I64())
}

// TestFiberArgumentTransferOrder pins down the transfer direction: values a
// resumer supplies arrive on the fiber's stack in the same deepest-first
// order the resumer pushed them.
func TestFiberArgumentTransferOrder(t *testing.T) {
	reg := newLibRegistry()
	m := ir.CreateModule("t")

	taker := m.AddFunction("taker", 0, 1)
	m.ExportFunction(taker)
	{
		b := vm.NewBuilder(m, taker, reg)
		b.BuildFiberSuspend(0, 2)
		b.BuildCallBuiltin(libRef(reg, intlib.IDSub))
		b.BuildReturn()
		require.True(t, b.Finish(), "build errors: %v", b.Errors())
	}

	driver := m.AddFunction("driver", 0, 1)
	m.ExportFunction(driver)
	{
		b := vm.NewBuilder(m, driver, reg)
		b.BuildFiberCreate(taker)
		b.BuildDup()
		b.BuildFiberResume(0, 0)
		b.BuildPushConst(ir.ValueFromI64(10))
		b.BuildPushConst(ir.ValueFromI64(3))
		b.BuildFiberResume(2, 1)
		b.BuildReturn()
		require.True(t, b.Finish(), "build errors: %v", b.Errors())
	}

	out, err := runFn(t, reg, m, driver, nil)
	require.NoError(t, err)
	// 10 - 3, not 3 - 10: transfer preserves push order.
	require.EqualValues(t, 7, out[0].I64())
}

func TestFiberResumeWrongArityPanics(t *testing.T) {
	reg := newLibRegistry()
	m := ir.CreateModule("t")

	waiter := m.AddFunction("waiter", 0, 1)
	m.ExportFunction(waiter)
	{
		b := vm.NewBuilder(m, waiter, reg)
		b.BuildFiberSuspend(0, 1)
		b.BuildReturn()
		require.True(t, b.Finish(), "build errors: %v", b.Errors())
	}

	driver := m.AddFunction("driver", 0, 1)
	m.ExportFunction(driver)
	{
		b := vm.NewBuilder(m, driver, reg)
		b.BuildFiberCreate(waiter)
		b.BuildDup()
		b.BuildFiberResume(0, 0)
		// The fiber recorded that its suspend expects one value; resume it
		// with none.
		b.BuildFiberResume(0, 1)
		b.BuildReturn()
		require.True(t, b.Finish(), "build errors: %v", b.Errors())
	}

	var caught *vm.Panic
	cfg := vm.DefaultConfig()
	cfg.PanicHandler = func(p *vm.Process, pnc *vm.Panic) { caught = pnc }
	v := vm.NewVM(cfg, reg)
	p, err := vm.NewProcess(v, m)
	require.NoError(t, err)

	_, err = p.Execute(driver, nil)
	require.Error(t, err)
	require.NotNil(t, caught)
	require.Equal(t, "mismatched signature for fiber resume", caught.Message)
}

// TestOutOfBoundsDerefPanics checks that indexing one element past a
// single-slot local and dereferencing it must panic with "invalid address".
func TestOutOfBoundsDerefPanics(t *testing.T) {
	reg := newLibRegistry()
	m := ir.CreateModule("t")
	fn := m.AddFunction("main", 0, 1)
	m.ExportFunction(fn)

	b := vm.NewBuilder(m, fn, reg)
	loc := b.BuildLocal(ir.Layout{Size: 8, Alignment: 8})
	b.BuildLocalAddr(loc)
	b.BuildPushConst(ir.ValueFromI64(1))
	b.BuildArrayElement(8)
	b.BuildDerefConst(ir.Layout{Size: 8, Alignment: 8})
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	_, err := runFn(t, reg, m, fn, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid address")
}

// TestHeapLeakCollected drives a leak-and-collect cycle entirely from bytecode:
// allocate 1 KiB, drop the only reference, and observe memory.gc report
// exactly those bytes.
func TestHeapLeakCollected(t *testing.T) {
	reg := newLibRegistry()
	m := ir.CreateModule("t")
	fn := m.AddFunction("main", 0, 1)
	m.ExportFunction(fn)

	b := vm.NewBuilder(m, fn, reg)
	b.BuildPushConst(ir.ValueFromI64(1024))
	b.BuildCallBuiltin(libRef(reg, memlib.IDHeapAlloc))
	b.BuildPopTop()
	b.BuildCallBuiltin(libRef(reg, memlib.IDGC))
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	out, err := runFn(t, reg, m, fn, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1024, out[0].U64())
}

func TestHeapReferenceOnStackSurvivesGC(t *testing.T) {
	reg := newLibRegistry()
	m := ir.CreateModule("t")
	fn := m.AddFunction("main", 0, 1)
	m.ExportFunction(fn)

	b := vm.NewBuilder(m, fn, reg)
	b.BuildPushConst(ir.ValueFromI64(1024))
	b.BuildCallBuiltin(libRef(reg, memlib.IDHeapAlloc))
	b.BuildCallBuiltin(libRef(reg, memlib.IDGC))
	b.BuildSwap()
	b.BuildPopTop()
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	out, err := runFn(t, reg, m, fn, nil)
	require.NoError(t, err)
	require.Zero(t, out[0].U64())
}

// TestAssertPanic checks both arms: assert_panic around a panicking function
// consumes the panic; around a quiet one it fails with the fixed message.
func TestAssertPanic(t *testing.T) {
	reg := newLibRegistry()
	m := ir.CreateModule("t")

	g := m.AddGlobal(ir.PermImmutable)
	msg := []byte("hello\x00")
	m.DefineDataGlobal(g, ir.Layout{Size: uint32(len(msg)), Alignment: 1}, msg)

	boom := m.AddFunction("boom", 0, 0)
	{
		b := vm.NewBuilder(m, boom, reg)
		b.BuildGlobalAddr(g.AllocationIdx)
		b.BuildPanic()
		require.True(t, b.Finish(), "build errors: %v", b.Errors())
	}

	quiet := m.AddFunction("quiet", 0, 0)
	{
		b := vm.NewBuilder(m, quiet, reg)
		b.BuildReturn()
		require.True(t, b.Finish(), "build errors: %v", b.Errors())
	}

	checkBoom := m.AddFunction("check_boom", 0, 0)
	{
		b := vm.NewBuilder(m, checkBoom, reg)
		b.BuildFunctionAddr(boom)
		b.BuildCallBuiltin(libRef(reg, testlib.IDAssertPanic))
		b.BuildReturn()
		require.True(t, b.Finish(), "build errors: %v", b.Errors())
	}

	checkQuiet := m.AddFunction("check_quiet", 0, 0)
	{
		b := vm.NewBuilder(m, checkQuiet, reg)
		b.BuildFunctionAddr(quiet)
		b.BuildCallBuiltin(libRef(reg, testlib.IDAssertPanic))
		b.BuildReturn()
		require.True(t, b.Finish(), "build errors: %v", b.Errors())
	}

	var handlerCalls int
	cfg := vm.DefaultConfig()
	cfg.PanicHandler = func(p *vm.Process, pnc *vm.Panic) { handlerCalls++ }
	v := vm.NewVM(cfg, reg)

	p, err := vm.NewProcess(v, m)
	require.NoError(t, err)
	_, err = p.Execute(checkBoom, nil)
	require.NoError(t, err)
	// The consumed panic must not have reached the host handler.
	require.Zero(t, handlerCalls)

	p2, err := vm.NewProcess(v, m)
	require.NoError(t, err)
	_, err = p2.Execute(checkQuiet, nil)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "assert_panic failed: no panic"), "got: %v", err)
}

func TestDivisionEdgeCases(t *testing.T) {
	reg := newLibRegistry()
	m := ir.CreateModule("t")

	build := func(name string, id uint32) *ir.Function {
		fn := m.AddFunction(name, 2, 1)
		m.ExportFunction(fn)
		b := vm.NewBuilder(m, fn, reg)
		b.BuildCallBuiltin(libRef(reg, id))
		b.BuildReturn()
		require.True(t, b.Finish(), "build errors: %v", b.Errors())
		return fn
	}
	div := build("div", intlib.IDDiv)
	divChecked := build("div_checked", intlib.IDDivPanic)

	minInt := int64(-1 << 63)

	// Wrapping mode: INT_MIN / -1 wraps back to INT_MIN.
	out, err := runFn(t, reg, m, div, []ir.Value{ir.ValueFromI64(minInt), ir.ValueFromI64(-1)})
	require.NoError(t, err)
	require.EqualValues(t, minInt, out[0].I64())

	// Checked mode: the same division panics.
	_, err = runFn(t, reg, m, divChecked, []ir.Value{ir.ValueFromI64(minInt), ir.ValueFromI64(-1)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "integer overflow")

	_, err = runFn(t, reg, m, div, []ir.Value{ir.ValueFromI64(1), ir.ValueFromI64(0)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "division by zero")
}

func TestConstantFoldedBuiltinCall(t *testing.T) {
	reg := newLibRegistry()
	m := ir.CreateModule("t")
	fn := m.AddFunction("main", 0, 1)
	m.ExportFunction(fn)

	b := vm.NewBuilder(m, fn, reg)
	b.BuildPushConst(ir.ValueFromI64(20))
	b.BuildPushConst(ir.ValueFromI64(22))
	b.BuildCallBuiltin(libRef(reg, intlib.IDAdd))
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	// Both operand pushes and the call fold into one push of the result.
	var calls, pushes int
	for _, inst := range fn.Insts {
		switch inst.Op() {
		case ir.OpCallBuiltin, ir.OpCallBuiltinNoFrame:
			calls++
		case ir.OpPush:
			pushes++
		}
	}
	require.Zero(t, calls)
	require.Equal(t, 1, pushes)

	out, err := runFn(t, reg, m, fn, nil)
	require.NoError(t, err)
	require.EqualValues(t, 42, out[0].I64())
}

func TestSelectPicksByIndexFromTop(t *testing.T) {
	reg := newLibRegistry()
	m := ir.CreateModule("t")
	fn := m.AddFunction("pick3", 1, 1)
	m.ExportFunction(fn)

	b := vm.NewBuilder(m, fn, reg)
	b.BuildPushConst(ir.ValueFromI64(10))
	b.BuildPushConst(ir.ValueFromI64(20))
	b.BuildPushConst(ir.ValueFromI64(30))
	b.BuildRoll(3)
	b.BuildSelect(3)
	b.BuildReturn()
	require.True(t, b.Finish(), "build errors: %v", b.Errors())

	for _, tc := range []struct{ k, want int64 }{
		{0, 30}, {1, 20}, {2, 10},
	} {
		out, err := runFn(t, reg, m, fn, []ir.Value{ir.ValueFromI64(tc.k)})
		require.NoError(t, err, "select index %d", tc.k)
		require.EqualValues(t, tc.want, out[0].I64(), "select index %d", tc.k)
	}

	_, err := runFn(t, reg, m, fn, []ir.Value{ir.ValueFromI64(3)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "select index 3 out of range")
}
