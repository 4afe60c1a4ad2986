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

package testlib

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probechain/irvm/ir"
	"github.com/probechain/irvm/vm"
)

func TestAssertBuiltins(t *testing.T) {
	reg := vm.NewRegistry(0)
	Register(reg)

	assert, ok := reg.Lookup(IDAssert)
	require.True(t, ok)
	_, err := assert.Impl(nil, []ir.Value{ir.ValueFromI64(1)})
	require.NoError(t, err)
	_, err = assert.Impl(nil, []ir.Value{ir.ValueFromI64(0)})
	require.Error(t, err)

	assertEq, ok := reg.Lookup(IDAssertEq)
	require.True(t, ok)
	_, err = assertEq.Impl(nil, []ir.Value{ir.ValueFromI64(7), ir.ValueFromI64(7)})
	require.NoError(t, err)
	_, err = assertEq.Impl(nil, []ir.Value{ir.ValueFromI64(7), ir.ValueFromI64(8)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "7 != 8")
}

func TestAssertPanicRejectsBadTargets(t *testing.T) {
	reg := vm.NewRegistry(0)
	Register(reg)

	m := ir.CreateModule("t")
	v := vm.NewVM(vm.DefaultConfig(), reg)
	p, err := vm.NewProcess(v, m)
	require.NoError(t, err)

	fa := ir.FunctionAddress{Index: 99}
	_, err = assertPanic(p, []ir.Value{fa.Pack()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "undefined")
}
