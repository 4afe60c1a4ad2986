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

package main

import (
	"fmt"

	"github.com/probechain/irvm/builder"
	"github.com/probechain/irvm/ir"
	"github.com/probechain/irvm/vm"
)

// Builtin ids reserved for the demo programs shipped with this binary; a
// real embedding would source these from its own registry instead.
const (
	builtinAdd = 0xff00
	builtinSub = 0xff01
	builtinLt  = 0xff02
)

func registerSampleBuiltins(reg *vm.Registry) {
	reg.Register(&vm.Builtin{
		ID: builtinAdd, Name: "sample.add", InputCount: 2, OutputCount: 1,
		Flags: vm.FlagConstantFold,
		Impl: func(p *vm.Process, args []ir.Value) ([]ir.Value, error) {
			return []ir.Value{ir.ValueFromU64(args[0].U64() + args[1].U64())}, nil
		},
	})
	reg.Register(&vm.Builtin{
		ID: builtinSub, Name: "sample.sub", InputCount: 2, OutputCount: 1,
		Flags: vm.FlagConstantFold,
		Impl: func(p *vm.Process, args []ir.Value) ([]ir.Value, error) {
			return []ir.Value{ir.ValueFromU64(args[0].U64() - args[1].U64())}, nil
		},
	})
	reg.Register(&vm.Builtin{
		ID: builtinLt, Name: "sample.lt", InputCount: 2, OutputCount: 1,
		Flags: vm.FlagConstantFold,
		Impl: func(p *vm.Process, args []ir.Value) ([]ir.Value, error) {
			v := ir.Value(0)
			if args[0].I64() < args[1].I64() {
				v = 1
			}
			return []ir.Value{v}, nil
		},
	})
}

// buildSampleModule constructs a tiny demo module in memory: add(a, b),
// sub(a, b), and a recursive countdown(n) that calls sub/lt via builtins
// and itself via a direct call, used by `irvm disasm`/`irvm run` when no
// external module is supplied (this runtime has no standalone textual
// module format; modules are normally constructed host-side via the
// builder package).
func buildSampleModule(reg *vm.Registry) (*ir.Module, error) {
	m := ir.CreateModule("samples")

	add := m.AddFunction("add", 2, 1)
	m.ExportFunction(add)
	{
		b := vm.NewBuilder(m, add, reg)
		b.BuildCallBuiltin(builder.BuiltinRef{ID: builtinAdd, InputCount: 2, OutputCount: 1, ConstantFold: true})
		b.BuildReturn()
		if !b.Finish() {
			return nil, fmt.Errorf("build add: %v", b.Errors())
		}
	}

	sub := m.AddFunction("sub", 2, 1)
	m.ExportFunction(sub)
	{
		b := vm.NewBuilder(m, sub, reg)
		b.BuildCallBuiltin(builder.BuiltinRef{ID: builtinSub, InputCount: 2, OutputCount: 1, ConstantFold: true})
		b.BuildReturn()
		if !b.Finish() {
			return nil, fmt.Errorf("build sub: %v", b.Errors())
		}
	}

	countdown := m.AddFunction("countdown", 1, 1)
	m.ExportFunction(countdown)
	{
		b := vm.NewBuilder(m, countdown, reg)
		doneBlk := b.CreateBlock(1)
		stepBlk := b.CreateBlock(1)

		b.BuildDup()
		b.BuildPushConst(ir.ValueFromI64(1))
		b.BuildCallBuiltin(builder.BuiltinRef{ID: builtinLt, InputCount: 2, OutputCount: 1})
		b.BuildBranch2(doneBlk, stepBlk)

		b.SetCurrent(doneBlk)
		b.BuildPopTop()
		b.BuildPushConst(ir.ValueFromI64(0))
		b.BuildReturn()

		b.SetCurrent(stepBlk)
		b.BuildPushConst(ir.ValueFromI64(1))
		b.BuildCallBuiltin(builder.BuiltinRef{ID: builtinSub, InputCount: 2, OutputCount: 1, ConstantFold: true})
		b.BuildCall(countdown)
		b.BuildReturn()

		if !b.Finish() {
			return nil, fmt.Errorf("build countdown: %v", b.Errors())
		}
	}

	return m, nil
}
