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

package vm

import (
	"fmt"

	"github.com/probechain/irvm/builder"
	"github.com/probechain/irvm/ir"
	"github.com/probechain/irvm/memory"
)

// ExitSignal is returned (never wrapped in Panic) when the exit instruction
// runs, halting the whole process rather than just the current fiber.
type ExitSignal struct{ Code int64 }

func (e *ExitSignal) Error() string { return fmt.Sprintf("vm: process exited with code %d", e.Code) }

func (p *Process) runFiberFromReady(f *Fiber) ([]ir.Value, error) {
	if err := f.Vstack.PushN(f.capturedArgs); err != nil {
		return nil, err
	}
	return p.runLoop(f)
}

func (p *Process) runFiberFromSuspended(f *Fiber, args []ir.Value) ([]ir.Value, error) {
	// The fiber recorded at its suspension point how many values the resumer
	// must supply; anything else is a signature-mismatch panic.
	if len(args) != int(f.ExpectedArgumentCount) {
		return nil, p.dispatchPanic(f, f.susp.ip, "mismatched signature for fiber resume")
	}
	if err := f.Vstack.PushN(args); err != nil {
		return nil, err
	}
	return p.runLoop(f)
}

// transfer switches the currently scheduled fiber to f and drives it until
// it yields (suspend, completion, step-limit, or panic), then restores
// whichever fiber was current before the call.
func (p *Process) transfer(f *Fiber, args []ir.Value) ([]ir.Value, error) {
	prev := p.curFiber
	var out []ir.Value
	var err error
	switch f.Status {
	case FiberReady:
		if len(args) != 0 {
			return nil, fmt.Errorf("vm: fiber has not started; resume arguments must be empty")
		}
		out, err = p.runFiberFromReady(f)
	case FiberSuspended:
		out, err = p.runFiberFromSuspended(f, args)
	case FiberDone:
		return nil, fmt.Errorf("vm: resume of a done fiber")
	default:
		return nil, fmt.Errorf("vm: fiber is already running")
	}
	p.curFiber = prev
	return out, err
}

func (p *Process) resumeWithArity(f *Fiber, args []ir.Value, expectedOut int) ([]ir.Value, error) {
	out, err := p.transfer(f, args)
	if err != nil {
		return nil, err
	}
	if len(out) != expectedOut {
		return nil, p.dispatchPanic(f, f.susp.ip, "mismatched signature for fiber resume")
	}
	return out, nil
}

// runLoop is the tail-dispatch interpreter: a switch-in-a-loop over the
// current fiber's instruction stream. Between any two instructions the
// authoritative state is exactly (ip, frame, stacks, process).
func (p *Process) runLoop(f *Fiber) ([]ir.Value, error) {
	p.curFiber = f
	f.Status = FiberRunning

	ip := f.susp.ip
	fr := f.susp.frame
	vs := f.Vstack
	cs := f.Cstack
	mem := p.Memory

	limit := p.VM.Config.StepLimit
	var steps uint64

	fault := func(format string, args ...any) error {
		f.susp.ip, f.susp.frame = ip, fr
		f.Status = FiberSuspended
		return p.dispatchPanic(f, ip, fmt.Sprintf(format, args...))
	}

	for {
		if limit > 0 {
			steps++
			if steps > limit {
				f.susp.ip, f.susp.frame = ip, fr
				f.Status = FiberSuspended
				return nil, ErrStepLimitExceeded
			}
		}
		if !ip.valid() {
			return nil, fault("invalid instruction pointer in %s", ip.Fn.Name)
		}
		inst := ip.inst()
		advance := true

		switch inst.Op() {
		case ir.OpNop, ir.OpBlock:

		case ir.OpReturn, ir.OpReturnFree:
			if inst.Op() == ir.OpReturnFree {
				for _, idx := range fr.localAllocs {
					_ = mem.Free(idx)
				}
				mem.RemoveFreed()
			}
			if _, err := cs.Pop(); err != nil {
				return nil, fault("call stack underflow on return: %v", err)
			}
			if cs.Depth() == 0 {
				out, err := vs.PopN(int(f.trampFn.OutputCount))
				if err != nil {
					return nil, fault("fiber completion arity: %v", err)
				}
				f.Status = FiberDone
				p.maybeAutoCollect()
				return out, nil
			}
			caller := cs.Top()
			ip = fr.ReturnIP
			fr = caller
			advance = false

		case ir.OpJump:
			ip.Idx += int(inst.Offset24())
			advance = false

		case ir.OpBranchEq:
			// branch_eq pops and jumps only when the tested value is zero;
			// otherwise falls through leaving it live, so a following
			// always-pop branch in the same chain can still see it.
			v, err := vs.PeekFromTop(0)
			if err != nil {
				return nil, fault("%v", err)
			}
			if branchTakenSingle(inst.Op(), v.I64()) {
				if _, err := vs.Pop(); err != nil {
					return nil, fault("%v", err)
				}
				ip.Idx += int(inst.Offset24())
			} else {
				ip.Idx++
			}
			advance = false

		case ir.OpBranchNe, ir.OpBranchLt, ir.OpBranchLe, ir.OpBranchGe, ir.OpBranchGt:
			v, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			if branchTakenSingle(inst.Op(), v.I64()) {
				ip.Idx += int(inst.Offset24())
			} else {
				ip.Idx++
			}
			advance = false

		case ir.OpBranchFalse:
			cond, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			if cond.U64() == 0 {
				ip.Idx += int(inst.Offset24())
			} else {
				ip.Idx++
			}
			advance = false

		case ir.OpPanic:
			addr, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			msg, merr := p.readCString(ir.UnpackAddress(addr))
			if merr != nil {
				msg = fmt.Sprintf("<unreadable panic message: %v>", merr)
			}
			f.susp.ip, f.susp.frame = ip, fr
			f.Status = FiberSuspended
			return nil, p.dispatchPanic(f, ip, msg)

		case ir.OpExit:
			code, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			return nil, &ExitSignal{Code: code.I64()}

		case ir.OpCall:
			callee := p.Module.FunctionByIndex(inst.Imm24())
			if callee == nil || !callee.Defined() {
				return nil, fault("call to undefined function_index %d", inst.Imm24())
			}
			nf := &Frame{Function: callee, ReturnIP: IP{Fn: fr.Function, Idx: ip.Idx + 1}, Prev: fr}
			if err := cs.Push(nf); err != nil {
				return nil, fault("%v", err)
			}
			fr = nf
			ip = IP{Fn: callee, Idx: 0}
			advance = false

		case ir.OpCallIndirect:
			in, out, _ := inst.FieldA8B8C8()
			faVal, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			fa := ir.UnpackFunctionAddress(faVal)
			if fa.InputCount != in || fa.OutputCount != out {
				return nil, fault("call_indirect arity mismatch: target wants (%d,%d), call site declares (%d,%d)",
					fa.InputCount, fa.OutputCount, in, out)
			}
			callee := p.Module.FunctionByIndex(fa.Index)
			if callee == nil || !callee.Defined() {
				return nil, fault("call_indirect target function_index %d undefined", fa.Index)
			}
			nf := &Frame{Function: callee, ReturnIP: IP{Fn: fr.Function, Idx: ip.Idx + 1}, Prev: fr}
			if err := cs.Push(nf); err != nil {
				return nil, fault("%v", err)
			}
			fr = nf
			ip = IP{Fn: callee, Idx: 0}
			advance = false

		case ir.OpCallBuiltin, ir.OpCallBuiltinNoFrame, ir.OpCallBuiltinSig:
			bi, ok := p.VM.Builtins.Lookup(inst.Imm24())
			if !ok {
				return nil, fault("unknown builtin id %d", inst.Imm24())
			}
			args, err := vs.PopN(int(bi.InputCount))
			if err != nil {
				return nil, fault("%v", err)
			}
			out, ierr := p.VM.Builtins.invoke(p, bi, args)
			if ierr != nil {
				if bi.Flags.Has(FlagNoPanic) {
					return nil, fault("builtin %q faulted despite NO_PANIC: %v", bi.Name, ierr)
				}
				f.susp.ip, f.susp.frame = ip, fr
				f.Status = FiberSuspended
				return nil, p.dispatchPanic(f, ip, fmt.Sprintf("builtin %q: %v", bi.Name, ierr))
			}
			if err := vs.PushN(out); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpFiberCreate:
			target := p.Module.FunctionByIndex(inst.Imm24())
			if target == nil || !target.Defined() {
				return nil, fault("fiber_create target function_index %d undefined", inst.Imm24())
			}
			args, err := vs.PopN(int(target.InputCount))
			if err != nil {
				return nil, fault("%v", err)
			}
			nf, nerr := p.newFiber(target)
			if nerr != nil {
				return nil, fault("%v", nerr)
			}
			nf.capturedArgs = args
			nf.Parent = f
			if err := vs.Push(nf.HandleAddress().Pack()); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpFiberResume:
			in, out, _ := inst.FieldA8B8C8()
			all, err := vs.PopN(int(in) + 1)
			if err != nil {
				return nil, fault("%v", err)
			}
			handleAddr := ir.UnpackAddress(all[0])
			if ha, ok := mem.At(handleAddr.Allocation); !ok || ha.Generation&0x3 != handleAddr.Generation {
				return nil, fault("fiber_resume: stale fiber handle %s", handleAddr)
			}
			target := p.fiberByHandle(handleAddr.Allocation)
			if target == nil {
				return nil, fault("fiber_resume: unknown fiber handle %s", handleAddr)
			}
			f.susp.ip, f.susp.frame = ip, fr
			results, rerr := p.resumeWithArity(target, all[1:], int(out))
			p.curFiber = f
			f.Status = FiberRunning
			if rerr != nil {
				// ExitSignal, Panic, and step-limit all propagate unmodified:
				// the panic handler already ran at the faulting fiber, and a
				// second wrapping here would rewrite the message the host (and
				// assert_panic) matches against.
				f.susp.ip, f.susp.frame = ip, fr
				f.Status = FiberSuspended
				return nil, rerr
			}
			if err := vs.PushN(results); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpFiberSuspend:
			out, in, _ := inst.FieldA8B8C8()
			vals, err := vs.PopN(int(out))
			if err != nil {
				return nil, fault("%v", err)
			}
			f.susp.ip, f.susp.frame = IP{Fn: ip.Fn, Idx: ip.Idx + 1}, fr
			f.ExpectedArgumentCount = in
			f.Status = FiberSuspended
			return vals, nil

		case ir.OpPop:
			if _, err := vs.PopAt(int(inst.Imm24())); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpPopTop:
			if _, err := vs.Pop(); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpPick:
			if err := vs.PushFromTop(int(inst.Imm24())); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpDup:
			if err := vs.PushFromTop(0); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpRoll:
			if err := vs.RollToTop(int(inst.Imm24())); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpSwap:
			a, err := vs.PeekFromTop(0)
			if err != nil {
				return nil, fault("%v", err)
			}
			b, err := vs.PeekFromTop(1)
			if err != nil {
				return nil, fault("%v", err)
			}
			_ = vs.SetFromTop(0, b)
			_ = vs.SetFromTop(1, a)

		case ir.OpSelect:
			n := int(inst.Imm24())
			kv, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			k := kv.U64()
			if n <= 0 || k > uint64(n-1) {
				return nil, fault("select index %d out of range for %d values", k, n)
			}
			vals, err := vs.PopN(n)
			if err != nil {
				return nil, fault("%v", err)
			}
			if err := vs.Push(vals[n-1-int(k)]); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpSetupLocalAlloc:
			// Grows the table's backing capacity ahead of the local_alloc that
			// immediately follows in the function's prologue; the allocation
			// itself (and frame.FirstLocalAlloc) is assigned there.
			mem.Grow(mem.Len() + 1)

		case ir.OpLocalAlloc:
			size := inst.Imm24()
			a := mem.New(memory.SourceLocal, size)
			fr.FirstLocalAlloc = a.Allocation
			fr.LocalGeneration = a.Generation & 0x3
			fr.HasLocalAlloc = true
			fr.recordLocalAlloc(a.Allocation)

		case ir.OpLocalAllocAligned:
			_, size := inst.FieldA8B16()
			a := mem.New(memory.SourceLocal, uint32(size))
			fr.recordLocalAlloc(a.Allocation)
			if err := vs.Push(a.Pack()); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpLocalStorage:
			offset := inst.Imm24()
			v, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			if err := checkLocalRange(fr, offset, 8); err != nil {
				return nil, fault("%v", err)
			}
			fr.writeLocal(offset, v)

		case ir.OpDerefConst, ir.OpDerefMut:
			alignLog2, size := inst.FieldA8B16()
			addr, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			layout := ir.LayoutFromLog2(alignLog2, size)
			a, cerr := mem.CheckLoad(ir.UnpackAddress(addr), layout, inst.Op() == ir.OpDerefMut)
			if cerr != nil {
				return nil, fault("invalid address: %v", cerr)
			}
			v := readScalar(a.Data, ir.UnpackAddress(addr).Offset, layout.Size)
			if err := vs.Push(v); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpArrayElement:
			stride := inst.Imm24()
			vals, err := vs.PopN(2)
			if err != nil {
				return nil, fault("%v", err)
			}
			base, index := ir.UnpackAddress(vals[0]), vals[1]
			delta := index.I64() * int64(stride)
			out, ok := addAddrOffset(base, delta)
			if !ok {
				return nil, fault("array_element: offset overflow")
			}
			if err := vs.Push(out.Pack()); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpAggregateMember:
			byteOffset := inst.Imm24()
			addr, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			out, ok := addAddrOffset(ir.UnpackAddress(addr), int64(byteOffset))
			if !ok {
				return nil, fault("aggregate_member: offset overflow")
			}
			if err := vs.Push(out.Pack()); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpLoadLocalValue:
			_, offset := inst.FieldA8B16()
			if err := checkLocalRange(fr, uint32(offset), 8); err != nil {
				return nil, fault("%v", err)
			}
			if err := vs.Push(fr.readLocal(uint32(offset))); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpStoreLocalValue:
			_, offset := inst.FieldA8B16()
			v, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			if err := checkLocalRange(fr, uint32(offset), 8); err != nil {
				return nil, fault("%v", err)
			}
			fr.writeLocal(uint32(offset), v)

		case ir.OpLoadGlobalValue:
			addr, gerr := p.globalAddress(inst.Imm24())
			if gerr != nil {
				return nil, fault("%v", gerr)
			}
			a, cerr := mem.CheckLoad(addr, ir.Layout{Size: 8, Alignment: 8}, false)
			if cerr != nil {
				return nil, fault("%v", cerr)
			}
			if err := vs.Push(readScalar(a.Data, 0, 8)); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpStoreGlobalValue:
			v, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			addr, gerr := p.globalAddress(inst.Imm24())
			if gerr != nil {
				return nil, fault("%v", gerr)
			}
			a, cerr := mem.CheckLoad(addr, ir.Layout{Size: 8, Alignment: 8}, true)
			if cerr != nil {
				return nil, fault("%v", cerr)
			}
			writeScalar(a.Data, 0, v)

		case ir.OpPush, ir.OpPushN:
			v, consumed := ir.DecodeConstChain(ip.Fn.Insts[ip.Idx:])
			if consumed == 0 {
				return nil, fault("malformed constant chain")
			}
			if err := vs.Push(v); err != nil {
				return nil, fault("%v", err)
			}
			ip.Idx += consumed
			advance = false

		case ir.OpPush2, ir.OpPush3:
			// Continuation words are only ever reached by decoding the full
			// chain from the originating push/pushn above; seeing one as the
			// current instruction means an earlier encoding/patching bug.
			return nil, fault("orphaned %s continuation word", inst.Op())

		case ir.OpGlobalAddr:
			addr, gerr := p.globalAddress(inst.Imm24())
			if gerr != nil {
				return nil, fault("%v", gerr)
			}
			if err := vs.Push(addr.Pack()); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpLocalAddr:
			_, offset := inst.FieldA8B16()
			if !fr.HasLocalAlloc {
				return nil, fault("local_addr: frame has no local allocation")
			}
			addr := ir.Address{Allocation: fr.FirstLocalAlloc, Generation: fr.LocalGeneration & 0x3, Offset: uint32(offset)}
			if err := vs.Push(addr.Pack()); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpFunctionAddr:
			fn := p.Module.FunctionByIndex(inst.Imm24())
			if fn == nil {
				return nil, fault("function_addr: function_index %d not found", inst.Imm24())
			}
			fa := ir.FunctionAddress{Index: fn.FunctionIndex, InputCount: fn.InputCount, OutputCount: fn.OutputCount}
			if err := vs.Push(fa.Pack()); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpCC:
			v, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			out := ir.ValueFromI64(0)
			if ccTaken(builder.CCCode(inst.Imm24()), v.I64()) {
				out = ir.ValueFromI64(1)
			}
			if err := vs.Push(out); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpAddrAdd, ir.OpAddrSub:
			vals, err := vs.PopN(2)
			if err != nil {
				return nil, fault("%v", err)
			}
			addr, delta := ir.UnpackAddress(vals[0]), vals[1].I64()
			if inst.Op() == ir.OpAddrSub {
				delta = -delta
			}
			out, ok := addAddrOffset(addr, delta)
			if !ok {
				return nil, fault("addr arithmetic overflow")
			}
			if err := vs.Push(out.Pack()); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpAddrDistance:
			vals, err := vs.PopN(2)
			if err != nil {
				return nil, fault("%v", err)
			}
			a, b := ir.UnpackAddress(vals[0]), ir.UnpackAddress(vals[1])
			if a.Allocation != b.Allocation || a.Generation != b.Generation {
				return nil, fault("addr_distance requires equal allocation/generation")
			}
			if err := vs.Push(ir.ValueFromI64(int64(b.Offset) - int64(a.Offset))); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpAddrToInt:
			v, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			prov, offset, terr := mem.AddrToInt(ir.UnpackAddress(v))
			if terr != nil {
				return nil, fault("%v", terr)
			}
			if err := vs.Push(prov.Pack()); err != nil {
				return nil, fault("%v", err)
			}
			if err := vs.Push(ir.ValueFromU64(offset)); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpIntToAddr:
			vals, err := vs.PopN(2)
			if err != nil {
				return nil, fault("%v", err)
			}
			out, terr := mem.IntToAddr(ir.UnpackAddress(vals[0]), vals[1].U64())
			if terr != nil {
				return nil, fault("%v", terr)
			}
			if err := vs.Push(out.Pack()); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpSplit:
			v, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			a, b, serr := mem.Split(ir.UnpackAddress(v))
			if serr != nil {
				return nil, fault("%v", serr)
			}
			if err := vs.Push(a.Pack()); err != nil {
				return nil, fault("%v", err)
			}
			if err := vs.Push(b.Pack()); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpMerge:
			vals, err := vs.PopN(2)
			if err != nil {
				return nil, fault("%v", err)
			}
			if merr := mem.Merge(ir.UnpackAddress(vals[0]), ir.UnpackAddress(vals[1])); merr != nil {
				return nil, fault("%v", merr)
			}
			if err := vs.Push(vals[0]); err != nil {
				return nil, fault("%v", err)
			}

		case ir.OpPoison:
			v, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			if perr := mem.Poison(ir.UnpackAddress(v).Allocation); perr != nil {
				return nil, fault("%v", perr)
			}

		case ir.OpUnpoison:
			v, err := vs.Pop()
			if err != nil {
				return nil, fault("%v", err)
			}
			if perr := mem.Unpoison(ir.UnpackAddress(v).Allocation); perr != nil {
				return nil, fault("%v", perr)
			}

		default:
			return nil, fault("unhandled opcode %s", inst.Op())
		}

		if advance {
			ip.Idx++
		}
	}
}

// branchTakenSingle evaluates a single-operand branch opcode's test against
// zero.
func branchTakenSingle(op ir.Op, v int64) bool {
	switch op {
	case ir.OpBranchEq:
		return v == 0
	case ir.OpBranchNe:
		return v != 0
	case ir.OpBranchLt:
		return v < 0
	case ir.OpBranchLe:
		return v <= 0
	case ir.OpBranchGe:
		return v >= 0
	case ir.OpBranchGt:
		return v > 0
	default:
		return false
	}
}

// ccTaken evaluates the comparison a cc instruction's code names against its
// popped operand (the builder folds the constant-input case at build time;
// this is the runtime counterpart for a non-constant operand).
func ccTaken(code builder.CCCode, v int64) bool {
	switch code {
	case builder.CCEq:
		return v == 0
	case builder.CCNe:
		return v != 0
	case builder.CCLt:
		return v < 0
	case builder.CCLe:
		return v <= 0
	case builder.CCGe:
		return v >= 0
	case builder.CCGt:
		return v > 0
	default:
		return false
	}
}

func readScalar(data []byte, offset, size uint32) ir.Value {
	var u uint64
	for i := uint32(0); i < size && i < 8; i++ {
		u |= uint64(data[offset+i]) << (8 * i)
	}
	return ir.Value(u)
}

func writeScalar(data []byte, offset uint32, v ir.Value) {
	u := v.U64()
	for i := uint32(0); i < 8 && offset+i < uint32(len(data)); i++ {
		data[offset+i] = byte(u >> (8 * i))
	}
}

func addAddrOffset(addr ir.Address, delta int64) (ir.Address, bool) {
	n := int64(addr.Offset) + delta
	if n < 0 || n > int64(^uint32(0)) {
		return ir.Address{}, false
	}
	addr.Offset = uint32(n)
	return addr, true
}

func checkLocalRange(fr *Frame, offset uint32, size uint32) error {
	if uint64(offset)+uint64(size) > uint64(len(fr.Locals)) {
		return fmt.Errorf("vm: local offset [%d,%d) exceeds frame local area of %d bytes", offset, offset+size, len(fr.Locals))
	}
	return nil
}
