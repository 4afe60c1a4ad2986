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

// Package testlib registers the assertion builtins test programs use:
// assert, assert_eq, and assert_panic. assert_panic is the recovery
// mechanism of the runtime's error model: it swaps out the host panic
// handler, re-enters the dispatcher on a nested fiber, and consumes the
// panic the probed function was expected to raise.
package testlib

import (
	"errors"
	"fmt"

	"github.com/probechain/irvm/ir"
	"github.com/probechain/irvm/vm"
)

// Builtin ids. Hosts embedding this package reserve this block in their own
// id space.
const (
	IDAssert      = 0x2000
	IDAssertEq    = 0x2001
	IDAssertPanic = 0x2002
)

// Register installs every testlib builtin into reg.
func Register(reg *vm.Registry) {
	reg.Register(&vm.Builtin{
		ID: IDAssert, Name: "test.assert", InputCount: 1, OutputCount: 0,
		Impl: func(_ *vm.Process, args []ir.Value) ([]ir.Value, error) {
			if args[0].U64() == 0 {
				return nil, errors.New("assertion failure")
			}
			return nil, nil
		},
	})

	reg.Register(&vm.Builtin{
		ID: IDAssertEq, Name: "test.assert_eq", InputCount: 2, OutputCount: 0,
		Impl: func(_ *vm.Process, args []ir.Value) ([]ir.Value, error) {
			if args[0] != args[1] {
				return nil, fmt.Errorf("assertion failure: %d != %d", args[0].I64(), args[1].I64())
			}
			return nil, nil
		},
	})

	reg.Register(&vm.Builtin{
		ID: IDAssertPanic, Name: "test.assert_panic", InputCount: 1, OutputCount: 0,
		Impl: assertPanic,
	})
}

// assertPanic runs the zero-argument function addressed by args[0] on a
// nested fiber with the host panic handler suppressed. A panic from the
// probed function is consumed as success; completing without one is itself
// an assertion failure.
func assertPanic(p *vm.Process, args []ir.Value) ([]ir.Value, error) {
	fa := ir.UnpackFunctionAddress(args[0])
	fn := p.Module.FunctionByIndex(fa.Index)
	if fn == nil || !fn.Defined() {
		return nil, fmt.Errorf("assert_panic: function_index %d undefined", fa.Index)
	}
	if fn.InputCount != 0 {
		return nil, fmt.Errorf("assert_panic: probed function %q must take no arguments", fn.Name)
	}

	saved := p.VM.Config.PanicHandler
	p.VM.Config.PanicHandler = nil
	_, err := p.CallNested(fn, nil)
	p.VM.Config.PanicHandler = saved

	var pnc *vm.Panic
	switch {
	case err == nil:
		return nil, errors.New("assert_panic failed: no panic")
	case errors.As(err, &pnc):
		return nil, nil
	default:
		// exit and step-limit are not panics; let them unwind untouched.
		return nil, err
	}
}
