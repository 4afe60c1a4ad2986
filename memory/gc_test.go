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

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/probechain/irvm/ir"
)

// fakeRoots is a RootSource over explicit byte regions, standing in for the
// vm package's fiber stacks.
type fakeRoots struct {
	handle    uint32
	hasHandle bool
	regions   [][]byte
}

func (r *fakeRoots) CurrentFiberHandle() (uint32, bool) { return r.handle, r.hasHandle }

func (r *fakeRoots) ScanRegions(yield func([]byte)) {
	for _, reg := range r.regions {
		yield(reg)
	}
}

func packedBytes(addr ir.Address) []byte {
	u := addr.Pack().U64()
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(u >> (8 * i))
	}
	return out
}

func writeAddr(a *Allocation, off uint32, addr ir.Address) {
	copy(a.Data[off:], packedBytes(addr))
}

func gcStates(tb *Table) []GCState {
	out := make([]GCState, tb.Len())
	for i := range out {
		a, _ := tb.At(uint32(i))
		out[i] = a.GC
	}
	return out
}

func TestCollectFreesUnrootedHeap(t *testing.T) {
	tb := NewTable()
	rooted := tb.New(SourceHeap, 64)
	dropped := tb.New(SourceHeap, 1024)

	roots := &fakeRoots{regions: [][]byte{packedBytes(rooted)}}
	stats := tb.Collect(roots, nil, nil)

	require.EqualValues(t, 1024, stats.BytesFreed)
	require.EqualValues(t, 1, stats.Reachable)

	ra, _ := tb.At(rooted.Allocation)
	da, _ := tb.At(dropped.Allocation)
	require.Equal(t, StatusAllocated, ra.Status)
	require.Equal(t, StatusFreed, da.Status)

	want := []GCState{GCReachable, GCUnreachable}
	if diff := cmp.Diff(want, gcStates(tb)); diff != "" {
		t.Fatalf("gc state mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectTracesTransitively(t *testing.T) {
	tb := NewTable()
	root := tb.New(SourceHeap, 16)
	inner := tb.New(SourceHeap, 16)
	leaf := tb.New(SourceHeap, 16)

	ra, _ := tb.At(root.Allocation)
	writeAddr(ra, 0, inner)
	ia, _ := tb.At(inner.Allocation)
	writeAddr(ia, 8, leaf)

	roots := &fakeRoots{regions: [][]byte{packedBytes(root)}}
	stats := tb.Collect(roots, nil, nil)

	require.Zero(t, stats.BytesFreed)
	want := []GCState{GCReachable, GCReachable, GCReachable}
	if diff := cmp.Diff(want, gcStates(tb)); diff != "" {
		t.Fatalf("gc state mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectDoesNotTraverseWeakAllocations(t *testing.T) {
	tb := NewTable()
	weak := tb.New(SourceHeap, 16)
	held := tb.New(SourceHeap, 512)

	wa, _ := tb.At(weak.Allocation)
	wa.IsGCWeak = true
	writeAddr(wa, 0, held)

	// The weak allocation itself is rooted, so it stays alive; but weak
	// contents are not traversed, so held (referenced only through it) dies.
	roots := &fakeRoots{regions: [][]byte{packedBytes(weak)}}
	stats := tb.Collect(roots, nil, nil)

	require.EqualValues(t, 512, stats.BytesFreed)
	wa, _ = tb.At(weak.Allocation)
	require.Equal(t, StatusAllocated, wa.Status)
	require.Equal(t, GCReachable, wa.GC)
	ha, _ := tb.At(held.Allocation)
	require.Equal(t, StatusFreed, ha.Status)
}

func TestCollectStickyExplicitRoot(t *testing.T) {
	tb := NewTable()
	pinned := tb.New(SourceHeap, 256)
	pa, _ := tb.At(pinned.Allocation)
	pa.GC = GCReachableExplicit

	roots := &fakeRoots{}
	for i := 0; i < 3; i++ {
		stats := tb.Collect(roots, nil, nil)
		require.Zero(t, stats.BytesFreed, "run %d", i)
		pa, _ = tb.At(pinned.Allocation)
		require.Equal(t, GCReachableExplicit, pa.GC, "run %d", i)
		require.Equal(t, StatusAllocated, pa.Status, "run %d", i)
	}
}

func TestCollectGenerationMismatchIsNotARoot(t *testing.T) {
	tb := NewTable()
	addr := tb.New(SourceHeap, 64)

	stale := addr
	stale.Generation = (addr.Generation + 1) & 0x3
	roots := &fakeRoots{regions: [][]byte{packedBytes(stale)}}
	stats := tb.Collect(roots, nil, nil)

	require.EqualValues(t, 64, stats.BytesFreed)
}

func TestCollectDestroysUnreachableFibers(t *testing.T) {
	tb := NewTable()
	current := tb.New(SourceFiber, 0)
	require.NoError(t, tb.Poison(current.Allocation))
	orphan := tb.New(SourceFiber, 0)
	require.NoError(t, tb.Poison(orphan.Allocation))

	var destroyed []uint32
	roots := &fakeRoots{handle: current.Allocation, hasHandle: true}
	stats := tb.Collect(roots, func(handleAlloc uint32) {
		destroyed = append(destroyed, handleAlloc)
	}, nil)

	require.EqualValues(t, 1, stats.FibersFreed)
	require.Equal(t, []uint32{orphan.Allocation}, destroyed)
}
