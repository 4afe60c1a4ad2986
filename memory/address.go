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
	"fmt"

	"github.com/probechain/irvm/ir"
)

// Split shrinks the allocation at addr (which must have in-range offset o)
// to [0, o) and creates a new allocation for [o, old_size), inheriting the
// original's source and status, and adjusts the split chain:
//
//	(unsplit | first) -> first  for the original
//	rest               -> middle
//	mirrored on the new one with (last | middle)
//
// Addresses into the original with offset >= o become invalid because they
// now exceed the original's shrunk size, without needing to be tracked
// individually.
func (t *Table) Split(addr ir.Address) (ir.Address, ir.Address, error) {
	a, err := t.Resolve(addr)
	if err != nil {
		return ir.Address{}, ir.Address{}, err
	}
	o := addr.Offset
	if o > a.Size {
		return ir.Address{}, ir.Address{}, ErrOutOfBounds
	}
	oldSize := a.Size
	tailData := append([]byte(nil), a.Data[o:]...)

	oldSplit := a.Split
	switch oldSplit {
	case SplitUnsplit, SplitFirst:
		a.Split = SplitFirst
	default:
		a.Split = SplitMiddle
	}
	a.Size = o
	a.Data = a.Data[:o:o]

	newIdx := uint32(len(t.allocs))
	newSplit := SplitLast
	if oldSplit == SplitFirst || oldSplit == SplitMiddle {
		newSplit = SplitMiddle
	}
	t.allocs = append(t.allocs, Allocation{
		Data:       tailData,
		Size:       oldSize - o,
		Generation: t.curGeneration,
		Source:     a.Source,
		Status:     a.Status,
		Split:      newSplit,
	})

	first := ir.Address{Allocation: addr.Allocation, Generation: addr.Generation, Offset: 0}
	second := ir.Address{Allocation: newIdx, Generation: t.curGeneration & 0x3, Offset: 0}
	return first, second, nil
}

// Merge requires a1 and a2 to be a contiguous pair from the same split
// chain (a1 immediately followed by a2); it grows a1 to absorb a2's bytes
// and marks a2 freed. Chain state is adjusted:
//
//	(first, last)  -> unsplit
//	(*, last)      -> last
//	else           -> middle
func (t *Table) Merge(a1, a2 ir.Address) error {
	first, err := t.Resolve(a1)
	if err != nil {
		return err
	}
	second, err := t.Resolve(a2)
	if err != nil {
		return err
	}
	if first.Split == SplitUnsplit || second.Split == SplitUnsplit {
		return ErrNotUnsplit
	}
	first.Data = append(first.Data, second.Data...)
	first.Size += second.Size
	second.Status = StatusFreed

	switch {
	case first.Split == SplitFirst && second.Split == SplitLast:
		first.Split = SplitUnsplit
	case second.Split == SplitLast:
		first.Split = SplitLast
	default:
		first.Split = SplitMiddle
	}
	return nil
}

// AddrAdd adds a signed byte delta to addr's offset. It returns false when
// the new offset falls outside the u32 range.
func AddrAdd(addr ir.Address, delta int64) (ir.Address, bool) {
	newOff := int64(addr.Offset) + delta
	if newOff < 0 || newOff > int64(^uint32(0)) {
		return ir.Address{}, false
	}
	out := addr
	out.Offset = uint32(newOff)
	return out, true
}

// AddrSub subtracts a signed byte delta from addr's offset.
func AddrSub(addr ir.Address, delta int64) (ir.Address, bool) {
	return AddrAdd(addr, -delta)
}

// AddrDistance requires a and b to share (allocation, generation) and
// returns the signed byte delta b.offset - a.offset.
func AddrDistance(a, b ir.Address) (int64, error) {
	if a.Allocation != b.Allocation || a.Generation != b.Generation {
		return 0, fmt.Errorf("memory: addr_distance requires equal (allocation, generation)")
	}
	return int64(b.Offset) - int64(a.Offset), nil
}

// AddrToInt returns a provenance address (offset == size, so GC keeps the
// allocation alive) and the plain integer value of addr's offset.
func (t *Table) AddrToInt(addr ir.Address) (ir.Address, uint64, error) {
	a, err := t.Resolve(addr)
	if err != nil {
		return ir.Address{}, 0, err
	}
	prov := ir.Address{Allocation: addr.Allocation, Generation: addr.Generation, Offset: a.Size}
	return prov, uint64(addr.Offset), nil
}

// IntToAddr restores a valid offset on a provenance address produced by
// AddrToInt, making it readable again.
func (t *Table) IntToAddr(prov ir.Address, offset uint64) (ir.Address, error) {
	if _, err := t.Resolve(prov); err != nil {
		return ir.Address{}, err
	}
	if offset > uint64(^uint32(0)) {
		return ir.Address{}, ErrOutOfBounds
	}
	return ir.Address{Allocation: prov.Allocation, Generation: prov.Generation, Offset: uint32(offset)}, nil
}
