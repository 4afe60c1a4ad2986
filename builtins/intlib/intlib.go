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

// Package intlib registers the integer arithmetic builtins a host wires
// into a vm.VM: wrapping and panicking variants of the four basic
// operations, division/remainder with the divide-by-zero and INT_MIN/-1
// edge cases, shifts with range checking, and a three-way compare that
// pairs with the builder's branch3 terminator. The core opcode set keeps
// arithmetic out of the dispatcher; these builtins supply it.
package intlib

import (
	"errors"
	"math"
	"math/bits"

	"github.com/probechain/irvm/ir"
	"github.com/probechain/irvm/vm"
)

// Builtin ids. Hosts embedding this package reserve this block in their own
// id space.
const (
	IDAdd = 0x100 // wrapping
	IDSub = 0x101
	IDMul = 0x102
	IDDiv = 0x103 // INT_MIN / -1 wraps to INT_MIN
	IDRem = 0x104

	IDAddPanic = 0x110 // overflow panics instead of wrapping
	IDSubPanic = 0x111
	IDMulPanic = 0x112
	IDDivPanic = 0x113 // INT_MIN / -1 panics

	IDShl  = 0x120
	IDShrU = 0x121
	IDShrS = 0x122

	IDCmp = 0x130 // (a, b) -> -1/0/1, feeds branch3 directly
)

var (
	errDivByZero     = errors.New("division by zero")
	errOverflow      = errors.New("integer overflow")
	errShiftTooLarge = errors.New("shift amount out of range")
)

// pure is the flag set shared by every intlib builtin: no process access,
// safe to evaluate during the builder's constant folding.
const pure = vm.FlagNoProcess | vm.FlagConstantFold

func one(v ir.Value) []ir.Value { return []ir.Value{v} }

func binop(id uint32, name string, impl func(a, b int64) (int64, error)) *vm.Builtin {
	return &vm.Builtin{
		ID: id, Name: name, InputCount: 2, OutputCount: 1,
		Flags: pure,
		Impl: func(_ *vm.Process, args []ir.Value) ([]ir.Value, error) {
			r, err := impl(args[0].I64(), args[1].I64())
			if err != nil {
				return nil, err
			}
			return one(ir.ValueFromI64(r)), nil
		},
	}
}

// Register installs every intlib builtin into reg.
func Register(reg *vm.Registry) {
	reg.Register(binop(IDAdd, "int.add", func(a, b int64) (int64, error) { return a + b, nil }))
	reg.Register(binop(IDSub, "int.sub", func(a, b int64) (int64, error) { return a - b, nil }))
	reg.Register(binop(IDMul, "int.mul", func(a, b int64) (int64, error) { return a * b, nil }))

	reg.Register(binop(IDDiv, "int.div", func(a, b int64) (int64, error) {
		if b == 0 {
			return 0, errDivByZero
		}
		if a == math.MinInt64 && b == -1 {
			return math.MinInt64, nil
		}
		return a / b, nil
	}))
	reg.Register(binop(IDRem, "int.rem", func(a, b int64) (int64, error) {
		if b == 0 {
			return 0, errDivByZero
		}
		if a == math.MinInt64 && b == -1 {
			return 0, nil
		}
		return a % b, nil
	}))

	reg.Register(binop(IDAddPanic, "int.add_checked", func(a, b int64) (int64, error) {
		r := a + b
		if (a > 0 && b > 0 && r < 0) || (a < 0 && b < 0 && r >= 0) {
			return 0, errOverflow
		}
		return r, nil
	}))
	reg.Register(binop(IDSubPanic, "int.sub_checked", func(a, b int64) (int64, error) {
		r := a - b
		if (a >= 0 && b < 0 && r < 0) || (a < 0 && b > 0 && r >= 0) {
			return 0, errOverflow
		}
		return r, nil
	}))
	reg.Register(binop(IDMulPanic, "int.mul_checked", func(a, b int64) (int64, error) {
		hi, lo := bits.Mul64(uint64(abs64(a)), uint64(abs64(b)))
		neg := (a < 0) != (b < 0)
		if hi != 0 || (neg && lo > 1<<63) || (!neg && lo > math.MaxInt64) {
			return 0, errOverflow
		}
		return a * b, nil
	}))
	reg.Register(binop(IDDivPanic, "int.div_checked", func(a, b int64) (int64, error) {
		if b == 0 {
			return 0, errDivByZero
		}
		if a == math.MinInt64 && b == -1 {
			return 0, errOverflow
		}
		return a / b, nil
	}))

	reg.Register(binop(IDShl, "int.shl", func(a, b int64) (int64, error) {
		if b < 0 || b > 63 {
			return 0, errShiftTooLarge
		}
		return a << uint(b), nil
	}))
	reg.Register(&vm.Builtin{
		ID: IDShrU, Name: "int.shr_u", InputCount: 2, OutputCount: 1,
		Flags: pure,
		Impl: func(_ *vm.Process, args []ir.Value) ([]ir.Value, error) {
			n := args[1].I64()
			if n < 0 || n > 63 {
				return nil, errShiftTooLarge
			}
			return one(ir.ValueFromU64(args[0].U64() >> uint(n))), nil
		},
	})
	reg.Register(binop(IDShrS, "int.shr_s", func(a, b int64) (int64, error) {
		if b < 0 || b > 63 {
			return 0, errShiftTooLarge
		}
		return a >> uint(b), nil
	}))

	reg.Register(binop(IDCmp, "int.cmp", func(a, b int64) (int64, error) {
		switch {
		case a < b:
			return -1, nil
		case a > b:
			return 1, nil
		default:
			return 0, nil
		}
	}))
}

func abs64(v int64) int64 {
	if v == math.MinInt64 {
		return v // caller treats the magnitude overflow via the hi word
	}
	if v < 0 {
		return -v
	}
	return v
}
