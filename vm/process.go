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

	"github.com/google/uuid"

	"github.com/probechain/irvm/ir"
	"github.com/probechain/irvm/memory"
)

// Process is one running instance of a Module: its allocation table, its
// set of fibers, and the currently-scheduled fiber. A Process is not safe
// for concurrent use from multiple goroutines; only one fiber executes at
// a time by construction.
type Process struct {
	VM     *VM
	Memory *memory.Table
	Module *ir.Module

	// ID identifies this process for debug dumps and the introspect
	// server; it plays no part in execution semantics.
	ID uuid.UUID

	globalAllocs []uint32

	fiberHead, fiberTail *Fiber
	curFiber             *Fiber

	sinceGC int
}

// UserData returns the opaque host value the owning VM was configured with,
// for builtins that need to reach host-side state.
func (p *Process) UserData() any { return p.VM.Config.UserData }

// NewProcess creates a process over module, populating one allocation per
// defined global (defined globals get pre-populated allocations at process
// start) and leaving native/undefined globals to whatever the host wires
// in separately via Memory directly.
func NewProcess(v *VM, module *ir.Module) (*Process, error) {
	p := &Process{
		VM:     v,
		Memory: memory.NewTable(),
		Module: module,
		ID:     uuid.New(),
	}
	for _, g := range module.Globals() {
		source := memory.SourceStaticConst
		if g.IsMutable {
			source = memory.SourceStaticMut
		}
		var addr ir.Address
		if g.Defined() {
			addr = p.Memory.New(source, g.Size)
			a, _ := p.Memory.At(addr.Allocation)
			copy(a.Data, g.Memory)
		} else {
			addr = p.Memory.New(source, 0)
			if err := p.Memory.Poison(addr.Allocation); err != nil {
				return nil, fmt.Errorf("vm: native global setup: %w", err)
			}
		}
		p.globalAllocs = append(p.globalAllocs, addr.Allocation)
	}
	return p, nil
}

func (p *Process) globalAddress(idx uint32) (ir.Address, error) {
	if int(idx) >= len(p.globalAllocs) {
		return ir.Address{}, fmt.Errorf("vm: global %d not declared", idx)
	}
	allocIdx := p.globalAllocs[idx]
	a, ok := p.Memory.At(allocIdx)
	if !ok {
		return ir.Address{}, fmt.Errorf("vm: global %d allocation missing", idx)
	}
	return ir.Address{Allocation: allocIdx, Generation: a.Generation & 0x3, Offset: 0}, nil
}

func (p *Process) fiberByHandle(allocIdx uint32) *Fiber {
	for f := p.fiberHead; f != nil; f = f.next {
		if f.HandleAlloc == allocIdx {
			return f
		}
	}
	return nil
}

// StartProcess creates a process running program's entry function as its
// root fiber, seeded with args, and drives it to completion or its first
// suspend.
func StartProcess(v *VM, program *Program, args []ir.Value) (*Process, []ir.Value, error) {
	p, err := NewProcess(v, program.Module)
	if err != nil {
		return nil, nil, err
	}
	out, err := p.Execute(program.Entry, args)
	return p, out, err
}

// Execute runs fn as a fresh root fiber to completion (or its first
// suspend), returning the values it produced.
func (p *Process) Execute(fn *ir.Function, args []ir.Value) ([]ir.Value, error) {
	if len(args) != int(fn.InputCount) {
		return nil, fmt.Errorf("vm: %s expects %d argument(s), got %d", fn.Name, fn.InputCount, len(args))
	}
	f, err := p.newFiber(fn)
	if err != nil {
		return nil, err
	}
	f.capturedArgs = args
	return p.runFiberFromReady(f)
}

// Call is a convenience alias for Execute, named for the host-facing "Call
// a function directly" API distinct from the fiber_create/fiber_resume
// in-bytecode path.
func (p *Process) Call(fn *ir.Function, args []ir.Value) ([]ir.Value, error) {
	return p.Execute(fn, args)
}

// CallNested runs fn on a fresh fiber while preserving whichever fiber is
// currently scheduled, for builtins that re-enter the VM from inside a
// dispatch (the assert_panic recovery dance: swap handlers, re-run the
// dispatcher, restore).
func (p *Process) CallNested(fn *ir.Function, args []ir.Value) ([]ir.Value, error) {
	if len(args) != int(fn.InputCount) {
		return nil, fmt.Errorf("vm: %s expects %d argument(s), got %d", fn.Name, fn.InputCount, len(args))
	}
	f, err := p.newFiber(fn)
	if err != nil {
		return nil, err
	}
	f.capturedArgs = args
	return p.transfer(f, nil)
}

// Resume transfers control into a previously suspended (or not-yet-started)
// fiber, delivering args as the values its pending fiber_suspend (or, for a
// fiber that never ran, nothing — args must be empty) receives, and returns
// what the fiber next hands back via fiber_suspend or its completion
// value.
func (p *Process) Resume(f *Fiber, args []ir.Value) ([]ir.Value, error) {
	switch f.Status {
	case FiberReady:
		if len(args) != 0 {
			return nil, fmt.Errorf("vm: fiber has not started; resume arguments must be empty")
		}
		return p.runFiberFromReady(f)
	case FiberSuspended:
		return p.runFiberFromSuspended(f, args)
	case FiberDone:
		return nil, fmt.Errorf("vm: fiber is done")
	default:
		return nil, fmt.Errorf("vm: fiber is already running")
	}
}

// Collect runs one GC pass over the process's allocation table, using the
// process itself as the RootSource.
func (p *Process) Collect() memory.GCStats {
	return p.Memory.Collect(p, p.destroyFiberByHandle, p.VM.Config.HeapFreeHook)
}

func (p *Process) maybeAutoCollect() {
	if p.VM.Config.GCThreshold <= 0 {
		return
	}
	p.sinceGC++
	if p.sinceGC >= p.VM.Config.GCThreshold {
		p.sinceGC = 0
		p.Collect()
	}
}
