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

package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probechain/irvm/ir"
)

func TestNewAndResolve(t *testing.T) {
	tbl := NewTable()
	addr := tbl.New(SourceLocal, 16)
	require.EqualValues(t, 0, addr.Allocation)

	a, err := tbl.Resolve(addr)
	require.NoError(t, err)
	require.EqualValues(t, 16, a.Size)
	require.Equal(t, StatusAllocated, a.Status)
}

func TestFreeThenResolveFails(t *testing.T) {
	tbl := NewTable()
	addr := tbl.New(SourceLocal, 8)
	require.NoError(t, tbl.Free(addr.Allocation))

	_, err := tbl.Resolve(addr)
	require.ErrorIs(t, err, ErrFreed)
}

func TestRemoveFreedBumpsGeneration(t *testing.T) {
	tbl := NewTable()
	addr := tbl.New(SourceLocal, 8)
	startGen := tbl.CurGeneration()
	require.NoError(t, tbl.Free(addr.Allocation))
	tbl.RemoveFreed()

	require.NotEqual(t, startGen, tbl.CurGeneration())

	reused := tbl.New(SourceLocal, 8)
	require.Equal(t, addr.Allocation, reused.Allocation)
	_, err := tbl.Resolve(addr)
	require.ErrorIs(t, err, ErrGenerationMismatch)
}

func TestCheckLoadBoundsAndPermission(t *testing.T) {
	tbl := NewTable()
	addr := tbl.New(SourceStaticConst, 8)

	_, err := tbl.CheckLoad(addr, ir.Layout{Size: 8, Alignment: 1}, false)
	require.NoError(t, err)

	_, err = tbl.CheckLoad(addr, ir.Layout{Size: 8, Alignment: 1}, true)
	require.ErrorIs(t, err, ErrPermission)

	oob := addr
	oob.Offset = 4
	_, err = tbl.CheckLoad(oob, ir.Layout{Size: 8, Alignment: 1}, false)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestPoisonUnpoison(t *testing.T) {
	tbl := NewTable()
	addr := tbl.New(SourceHeap, 0)
	require.NoError(t, tbl.Poison(addr.Allocation))

	_, err := tbl.CheckLoad(addr, ir.Layout{Size: 0, Alignment: 1}, false)
	require.Error(t, err)

	require.NoError(t, tbl.Unpoison(addr.Allocation))
}

func TestFiberAllocationCannotBeUnpoisoned(t *testing.T) {
	tbl := NewTable()
	addr := tbl.New(SourceFiber, 0)
	require.NoError(t, tbl.Poison(addr.Allocation))
	require.Error(t, tbl.Unpoison(addr.Allocation))
}
