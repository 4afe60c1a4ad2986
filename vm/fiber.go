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

	"github.com/probechain/irvm/ir"
	"github.com/probechain/irvm/memory"
)

// FiberStatus is a fiber's position in the ready/running/suspended/done
// state machine.
type FiberStatus uint8

const (
	FiberReady FiberStatus = iota
	FiberSuspended
	FiberRunning
	FiberDone
)

func (s FiberStatus) String() string {
	switch s {
	case FiberReady:
		return "ready"
	case FiberSuspended:
		return "suspended"
	case FiberRunning:
		return "running"
	case FiberDone:
		return "done"
	default:
		return "unknown"
	}
}

// suspensionPoint is the register triple a fiber saves when it stops being
// the active fiber: its instruction pointer and frame pointer, with the
// value-stack position implied by the stack's own length.
type suspensionPoint struct {
	ip    IP
	frame *Frame
	valid bool
}

// Fiber is a cooperative coroutine. Its handle allocation
// is a zero-size, poisoned table entry whose sole purpose is letting an
// Address validate a fiber handle through the ordinary generation-check
// path; reading through it is never attempted.
type Fiber struct {
	Status               FiberStatus
	ExpectedArgumentCount uint8
	HandleAlloc          uint32
	HandleGen            uint8

	Vstack *ValueStack
	Cstack *CallStack

	susp suspensionPoint

	// capturedArgs holds the values fiber_create popped for target's formal
	// parameters, pushed onto Vstack the moment the fiber is first resumed.
	capturedArgs []ir.Value

	Parent *Fiber

	trampoline [3]ir.Instruction
	trampFn    ir.Function

	prev, next *Fiber

	process *Process
}

// HandleAddress returns the Address a fiber_create instruction pushes to
// identify this fiber.
func (f *Fiber) HandleAddress() ir.Address {
	return ir.Address{Allocation: f.HandleAlloc, Generation: f.HandleGen, Offset: 0}
}

// newFiber allocates a fresh fiber targeting target, with a two-instruction
// trampoline program (call(target), return) as its entry point. The
// trampoline's own frame is the permanent bottom of the fiber's call stack:
// when it executes return with an empty caller below it, that marks the
// fiber Done rather than unwinding further.
func (p *Process) newFiber(target *ir.Function) (*Fiber, error) {
	cfg := p.VM.Config
	vstack, err := NewValueStack(p.VM.pager, cfg.InitialVstackElems, cfg.MaxVstackElems)
	if err != nil {
		return nil, err
	}
	cstack, err := NewCallStack(p.VM.pager, cfg.InitialCstackBytes, cfg.MaxCstackBytes)
	if err != nil {
		vstack.Release()
		return nil, err
	}

	f := &Fiber{
		Status:  FiberReady,
		Vstack:  vstack,
		Cstack:  cstack,
		process: p,
	}
	f.trampFn = ir.Function{
		Name:        "<fiber-trampoline>",
		InputCount:  target.InputCount,
		OutputCount: target.OutputCount,
	}
	f.trampoline = [3]ir.Instruction{
		ir.EncodeImm24(ir.OpCall, target.FunctionIndex),
		ir.EncodeImm24(ir.OpReturn, 0),
	}
	f.trampFn.Insts = f.trampoline[:2]

	handle := p.Memory.New(memory.SourceFiber, 0)
	if err := p.Memory.Poison(handle.Allocation); err != nil {
		return nil, fmt.Errorf("vm: fiber handle setup: %w", err)
	}
	f.HandleAlloc = handle.Allocation
	f.HandleGen = handle.Generation

	tramp := &Frame{Function: &f.trampFn}
	if err := f.Cstack.Push(tramp); err != nil {
		return nil, err
	}
	f.susp = suspensionPoint{ip: IP{Fn: &f.trampFn, Idx: 0}, frame: tramp, valid: true}

	p.addFiber(f)
	return f, nil
}

func (p *Process) addFiber(f *Fiber) {
	if p.fiberTail == nil {
		p.fiberHead = f
	} else {
		p.fiberTail.next = f
		f.prev = p.fiberTail
	}
	p.fiberTail = f
}

func (p *Process) removeFiber(f *Fiber) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		p.fiberHead = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else {
		p.fiberTail = f.prev
	}
	f.prev, f.next = nil, nil
}

// destroyFiber tears down a suspended or done fiber: every local allocation
// reachable from its call stack is marked freed, and its
// stack pages are returned to the page allocator.
func (p *Process) destroyFiber(f *Fiber) {
	for fr := f.Cstack.Top(); fr != nil; fr = fr.Prev {
		for _, idx := range fr.localAllocs {
			_ = p.Memory.Free(idx)
		}
	}
	if a, ok := p.Memory.At(f.HandleAlloc); ok {
		a.Status = memory.StatusFreed
	}
	f.Vstack.Release()
	f.Cstack.Release()
	f.Status = FiberDone
	p.removeFiber(f)
	if p.curFiber == f {
		p.curFiber = nil
	}
}

// DestroyFiber cancels a fiber that is not currently running: every local
// allocation reachable from its saved call stack is marked freed and its
// stack pages are released. A running fiber must reach a
// suspension or exit point first.
func (p *Process) DestroyFiber(f *Fiber) error {
	if f.Status == FiberRunning {
		return fmt.Errorf("vm: cannot destroy a running fiber")
	}
	p.destroyFiber(f)
	return nil
}

// destroyFiberByHandle implements the vm-agnostic hook the memory package's
// GC calls after sweeping an unreachable fiber allocation.
func (p *Process) destroyFiberByHandle(handleAlloc uint32) {
	for f := p.fiberHead; f != nil; f = f.next {
		if f.HandleAlloc == handleAlloc {
			p.destroyFiber(f)
			return
		}
	}
}

// Fibers returns every fiber currently tracked by the process, in creation
// order, for host-side introspection.
func (p *Process) Fibers() []*Fiber {
	var out []*Fiber
	for f := p.fiberHead; f != nil; f = f.next {
		out = append(out, f)
	}
	return out
}

// Depth reports how many frames are on the fiber's call stack.
func (f *Fiber) Depth() int { return f.Cstack.Depth() }

// CurrentFiberHandle implements memory.RootSource.
func (p *Process) CurrentFiberHandle() (uint32, bool) {
	if p.curFiber == nil {
		return 0, false
	}
	return p.curFiber.HandleAlloc, true
}

// ScanRegions implements memory.RootSource: every fiber's live vstack
// region and every frame's local byte area.
func (p *Process) ScanRegions(yield func(region []byte)) {
	for f := p.fiberHead; f != nil; f = f.next {
		yield(f.Vstack.RawBytes())
		f.Cstack.ScanBytes(yield)
	}
}
