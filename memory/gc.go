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

import "github.com/probechain/irvm/ir"

// ValueSize is the size in bytes of one Value/Address-sized slot, used to
// walk vstacks/frames/heap regions as arrays of potential addresses.
const ValueSize = 8

// RootSource supplies the GC with every byte range that must be scanned as
// an array of potential Address values, and the current fiber's handle
// allocation index. The vm package implements this over its live fibers so
// that `memory` never needs to import `vm`.
type RootSource interface {
	// CurrentFiberHandle returns the allocation index backing the active
	// fiber's handle, or false if there is no active fiber.
	CurrentFiberHandle() (uint32, bool)
	// ScanRegions yields every byte range that must be conservatively
	// scanned for root addresses: each live fiber's vstack between vsp and
	// its base, and every byte of every call frame's local area.
	ScanRegions(yield func(region []byte))
}

// GCStats reports the outcome of one collection.
type GCStats struct {
	BytesFreed   uint64
	FibersFreed  uint32
	Reachable    uint32
	Unreachable  uint32
}

// Collect runs one stop-the-world mark/sweep pass. destroyFiber is
// invoked for each fiber allocation found unreachable at sweep time;
// freeHeap is invoked for each freed heap allocation's bytes (host
// allocator hook).
func (t *Table) Collect(roots RootSource, destroyFiber func(handleAlloc uint32), freeHeap func(size uint32)) GCStats {
	// Reset every non-explicit allocation to unreachable.
	for i := range t.allocs {
		if t.allocs[i].GC != GCReachableExplicit {
			t.allocs[i].GC = GCUnreachable
		}
	}

	// Weak allocations are reached (kept alive) like any other mark target;
	// only the traversal of their contents is skipped, in the work-queue
	// loop below.
	var queue []uint32
	mark := func(addr ir.Address) {
		a, ok := t.At(addr.Allocation)
		if !ok || a.Generation&0x3 != addr.Generation || addr.Offset > a.Size {
			return
		}
		if a.GC == GCReachable || a.GC == GCReachableExplicit {
			return
		}
		a.GC = GCReachable
		queue = append(queue, addr.Allocation)
	}

	if idx, ok := roots.CurrentFiberHandle(); ok {
		if a, ok := t.At(idx); ok {
			if a.GC != GCReachableExplicit {
				a.GC = GCReachable
			}
			queue = append(queue, idx)
		}
	}
	for i := range t.allocs {
		if t.allocs[i].GC == GCReachableExplicit {
			queue = append(queue, uint32(i))
		}
	}
	roots.ScanRegions(func(region []byte) {
		for off := 0; off+ValueSize <= len(region); off += ValueSize {
			var u uint64
			for b := 0; b < ValueSize; b++ {
				u |= uint64(region[off+b]) << (8 * b)
			}
			mark(ir.UnpackAddress(ir.Value(u)))
		}
	})

	// Walk the work queue, scanning each reachable allocation's bytes as an
	// array of pointer-aligned Values.
	for len(queue) > 0 {
		idx := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		a, ok := t.At(idx)
		if !ok || a.IsGCWeak {
			continue
		}
		for off := 0; off+ValueSize <= len(a.Data); off += ValueSize {
			var u uint64
			for b := 0; b < ValueSize; b++ {
				u |= uint64(a.Data[off+b]) << (8 * b)
			}
			mark(ir.UnpackAddress(ir.Value(u)))
		}
	}

	var stats GCStats
	for i := range t.allocs {
		a := &t.allocs[i]
		if a.GC == GCReachable || a.GC == GCReachableExplicit {
			stats.Reachable++
			continue
		}
		stats.Unreachable++
		if a.Status == StatusFreed {
			continue
		}
		switch a.Source {
		case SourceHeap:
			if a.Split == SplitUnsplit {
				stats.BytesFreed += uint64(a.Size)
				if freeHeap != nil {
					freeHeap(a.Size)
				}
				a.Status = StatusFreed
			}
		case SourceFiber:
			stats.FibersFreed++
			if destroyFiber != nil {
				destroyFiber(uint32(i))
			}
		}
	}
	return stats
}
