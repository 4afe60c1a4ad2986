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

// Package memory implements the process-wide allocation table: the vector
// of Allocation records, generation-tagged addresses, split/merge,
// poisoning, and the conservative tracing garbage collector. Regions are
// independently backed and addressable as {allocation, generation, offset}
// triples.
package memory

import (
	"errors"
	"fmt"

	"github.com/probechain/irvm/ir"
)

// Source identifies where an allocation's storage comes from.
type Source uint8

const (
	SourceStaticConst Source = iota
	SourceStaticMut
	SourceLocal
	SourceHeap
	SourceFiber
)

// Status is the lifecycle state of an allocation. Freed is terminal.
type Status uint8

const (
	StatusAllocated Status = iota
	StatusFreed
	StatusPoisoned
)

// SplitState tracks an allocation's position in a split chain created by
// Split.
type SplitState uint8

const (
	SplitUnsplit SplitState = iota
	SplitFirst
	SplitMiddle
	SplitLast
)

// GCState is an allocation's reachability as of the last GC run. It is
// reset to Unreachable between runs except for ReachableExplicit, which is
// sticky.
type GCState uint8

const (
	GCUnreachable GCState = iota
	GCReachable
	GCReachableExplicit
)

// Allocation is one entry in the process memory table.
type Allocation struct {
	Data       []byte
	Size       uint32
	Generation uint8
	Source     Source
	Status     Status
	Split      SplitState
	GC         GCState
	IsGCWeak   bool
}

var (
	ErrFreed              = errors.New("memory: allocation is freed")
	ErrGenerationMismatch = errors.New("memory: generation mismatch")
	ErrOutOfBounds        = errors.New("memory: address out of bounds")
	ErrMisaligned         = errors.New("memory: misaligned access")
	ErrPermission         = errors.New("memory: permission violation")
	ErrNotUnsplit         = errors.New("memory: allocation is part of a split chain")
	ErrNotContiguous      = errors.New("memory: allocations are not a contiguous split pair")
	ErrDoubleFree         = errors.New("memory: double free")
)

// Table is the process-wide allocation table. Generation is a single
// table-wide monotonic counter (not per-slot): it increments whenever
// RemoveFreed trims freed entries off the tail, so a later reuse of a
// trimmed index cannot match an address captured before the trim.
type Table struct {
	allocs        []Allocation
	curGeneration uint8
}

// NewTable creates an empty allocation table.
func NewTable() *Table { return &Table{} }

// NextIndex returns the index the next New call will assign.
func (t *Table) NextIndex() uint32 { return uint32(len(t.allocs)) }

// CurGeneration returns the table's current generation counter value.
func (t *Table) CurGeneration() uint8 { return t.curGeneration }

// Len returns the number of live slots in the table.
func (t *Table) Len() int { return len(t.allocs) }

// At returns a pointer to the allocation at idx for read/write access.
func (t *Table) At(idx uint32) (*Allocation, bool) {
	if int(idx) >= len(t.allocs) {
		return nil, false
	}
	return &t.allocs[idx], true
}

// New appends a new allocation of size bytes from source and returns its
// address (generation taken from the table's current counter, offset 0).
func (t *Table) New(source Source, size uint32) ir.Address {
	idx := uint32(len(t.allocs))
	t.allocs = append(t.allocs, Allocation{
		Data:       make([]byte, size),
		Size:       size,
		Generation: t.curGeneration,
		Source:     source,
		Status:     StatusAllocated,
	})
	return ir.Address{Allocation: idx, Generation: t.curGeneration & 0x3, Offset: 0}
}

// Grow ensures the table can hold at least n slots without requiring a
// dispatcher re-entry; callers that need VM-visible "grow or panic"
// semantics (setup_local_alloc) check capacity via NextIndex/Len directly.
func (t *Table) Grow(n int) {
	if cap(t.allocs) < n {
		grown := make([]Allocation, len(t.allocs), n)
		copy(grown, t.allocs)
		t.allocs = grown
	}
}

// Resolve validates addr against the table's invariants:
// the allocation must exist, not be freed, match generation, and satisfy
// offset <= size. It does not check a load's size/alignment; callers
// needing that use CheckLoad.
func (t *Table) Resolve(addr ir.Address) (*Allocation, error) {
	a, ok := t.At(addr.Allocation)
	if !ok {
		return nil, fmt.Errorf("%w: allocation %d", ErrOutOfBounds, addr.Allocation)
	}
	if a.Status == StatusFreed {
		return nil, ErrFreed
	}
	if a.Generation&0x3 != addr.Generation {
		return nil, ErrGenerationMismatch
	}
	if addr.Offset > a.Size {
		return nil, fmt.Errorf("%w: offset %d > size %d", ErrOutOfBounds, addr.Offset, a.Size)
	}
	return a, nil
}

// CheckLoad validates that a load/store of layout at addr is in bounds and
// properly aligned, and that mutability permissions (const-vs-mut) are
// respected.
func (t *Table) CheckLoad(addr ir.Address, layout ir.Layout, wantMutable bool) (*Allocation, error) {
	a, err := t.Resolve(addr)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusPoisoned {
		return nil, fmt.Errorf("%w: poisoned allocation", ErrPermission)
	}
	if uint64(addr.Offset)+uint64(layout.Size) > uint64(a.Size) {
		return nil, fmt.Errorf("%w: [%d,%d) exceeds size %d", ErrOutOfBounds, addr.Offset, uint64(addr.Offset)+uint64(layout.Size), a.Size)
	}
	if layout.Alignment > 0 && uint64(addr.Offset)%uint64(layout.Alignment) != 0 {
		return nil, ErrMisaligned
	}
	if wantMutable && a.Source == SourceStaticConst {
		return nil, fmt.Errorf("%w: mutable access to static_const allocation", ErrPermission)
	}
	return a, nil
}

// Free marks a heap allocation as freed. Only unsplit heap allocations may
// be freed directly.
func (t *Table) Free(idx uint32) error {
	a, ok := t.At(idx)
	if !ok {
		return fmt.Errorf("%w: allocation %d", ErrOutOfBounds, idx)
	}
	if a.Status == StatusFreed {
		return ErrDoubleFree
	}
	if a.Split != SplitUnsplit {
		return ErrNotUnsplit
	}
	a.Status = StatusFreed
	return nil
}

// RemoveFreed trims trailing freed allocations off the table and, if any
// were trimmed, bumps the generation counter so later reuse of those
// indices cannot match stale addresses.
func (t *Table) RemoveFreed() {
	trimmed := false
	for len(t.allocs) > 0 && t.allocs[len(t.allocs)-1].Status == StatusFreed {
		t.allocs = t.allocs[:len(t.allocs)-1]
		trimmed = true
	}
	if trimmed {
		t.curGeneration++
	}
}

// Poison toggles status from Allocated to Poisoned. Fiber-source
// allocations cannot be unpoisoned, by design.
func (t *Table) Poison(idx uint32) error {
	a, ok := t.At(idx)
	if !ok {
		return fmt.Errorf("%w: allocation %d", ErrOutOfBounds, idx)
	}
	if a.Status != StatusAllocated {
		return fmt.Errorf("memory: cannot poison allocation in status %d", a.Status)
	}
	a.Status = StatusPoisoned
	return nil
}

// Unpoison toggles status from Poisoned back to Allocated.
func (t *Table) Unpoison(idx uint32) error {
	a, ok := t.At(idx)
	if !ok {
		return fmt.Errorf("%w: allocation %d", ErrOutOfBounds, idx)
	}
	if a.Source == SourceFiber {
		return fmt.Errorf("memory: fiber allocations cannot be unpoisoned")
	}
	if a.Status != StatusPoisoned {
		return fmt.Errorf("memory: allocation is not poisoned")
	}
	a.Status = StatusAllocated
	return nil
}
