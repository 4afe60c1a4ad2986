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

func TestSplitThenMergeRestoresOriginal(t *testing.T) {
	tb := NewTable()
	addr := tb.New(SourceHeap, 64)
	a, _ := tb.At(addr.Allocation)
	for i := range a.Data {
		a.Data[i] = byte(i)
	}

	at := addr
	at.Offset = 24
	first, second, err := tb.Split(at)
	require.NoError(t, err)

	fa, _ := tb.At(first.Allocation)
	sa, _ := tb.At(second.Allocation)
	require.EqualValues(t, 24, fa.Size)
	require.EqualValues(t, 40, sa.Size)
	require.Equal(t, SplitFirst, fa.Split)
	require.Equal(t, SplitLast, sa.Split)
	require.Equal(t, byte(24), sa.Data[0])

	// An address past the split point now exceeds the shrunk first half.
	stale := addr
	stale.Offset = 30
	_, err = tb.Resolve(stale)
	require.ErrorIs(t, err, ErrOutOfBounds)

	require.NoError(t, tb.Merge(first, second))
	fa, _ = tb.At(first.Allocation)
	require.EqualValues(t, 64, fa.Size)
	require.Equal(t, SplitUnsplit, fa.Split)
	require.Equal(t, byte(63), fa.Data[63])

	sa, _ = tb.At(second.Allocation)
	require.Equal(t, StatusFreed, sa.Status)
}

func TestMergeRejectsUnsplitAllocations(t *testing.T) {
	tb := NewTable()
	a1 := tb.New(SourceHeap, 16)
	a2 := tb.New(SourceHeap, 16)
	require.ErrorIs(t, tb.Merge(a1, a2), ErrNotUnsplit)
}

func TestSplitChainMiddleStates(t *testing.T) {
	tb := NewTable()
	addr := tb.New(SourceHeap, 48)

	at := addr
	at.Offset = 16
	first, rest, err := tb.Split(at)
	require.NoError(t, err)

	rest.Offset = 16
	mid, last, err := tb.Split(rest)
	require.NoError(t, err)

	fa, _ := tb.At(first.Allocation)
	ma, _ := tb.At(mid.Allocation)
	la, _ := tb.At(last.Allocation)
	require.Equal(t, SplitFirst, fa.Split)
	require.Equal(t, SplitMiddle, ma.Split)
	require.Equal(t, SplitLast, la.Split)
}

func TestAddrToIntRoundTrip(t *testing.T) {
	tb := NewTable()
	addr := tb.New(SourceHeap, 128)
	addr.Offset = 40

	prov, intval, err := tb.AddrToInt(addr)
	require.NoError(t, err)
	require.EqualValues(t, 40, intval)
	// Provenance address parks at one-past-end: alive for GC, unreadable.
	require.EqualValues(t, 128, prov.Offset)
	_, err = tb.CheckLoad(prov, ir.Layout{Size: 8, Alignment: 1}, false)
	require.Error(t, err)

	back, err := tb.IntToAddr(prov, intval)
	require.NoError(t, err)
	require.Equal(t, addr, back)
}

func TestAddrDistanceRequiresSameAllocation(t *testing.T) {
	tb := NewTable()
	a := tb.New(SourceHeap, 32)
	b := tb.New(SourceHeap, 32)

	a2 := a
	a2.Offset = 24
	d, err := AddrDistance(a, a2)
	require.NoError(t, err)
	require.EqualValues(t, 24, d)

	d, err = AddrDistance(a2, a)
	require.NoError(t, err)
	require.EqualValues(t, -24, d)

	_, err = AddrDistance(a, b)
	require.Error(t, err)
}

func TestAddrAddBounds(t *testing.T) {
	tb := NewTable()
	addr := tb.New(SourceHeap, 16)
	addr.Offset = 8

	out, ok := AddrAdd(addr, 4)
	require.True(t, ok)
	require.EqualValues(t, 12, out.Offset)

	out, ok = AddrSub(out, 12)
	require.True(t, ok)
	require.EqualValues(t, 0, out.Offset)

	_, ok = AddrSub(addr, 9)
	require.False(t, ok)
	_, ok = AddrAdd(addr, int64(^uint32(0)))
	require.False(t, ok)
}

func TestFreeRejectsSplitChainMember(t *testing.T) {
	tb := NewTable()
	addr := tb.New(SourceHeap, 32)
	at := addr
	at.Offset = 16
	first, _, err := tb.Split(at)
	require.NoError(t, err)
	require.ErrorIs(t, tb.Free(first.Allocation), ErrNotUnsplit)
}
