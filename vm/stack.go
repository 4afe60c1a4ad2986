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

// Package vm implements the tail-dispatch interpreter: value/call stacks,
// fibers, the builtin ABI, and panic propagation.
package vm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/probechain/irvm/ir"
	"github.com/probechain/irvm/memory"
)

// ErrVstackOverflow and ErrCstackOverflow are the panics raised when a call
// would need more stack than the process's configured ceiling allows.
var (
	ErrVstackOverflow = errors.New("vm: value stack overflow")
	ErrCstackOverflow = errors.New("vm: call stack overflow")
)

// valuesPerPage is how many ir.Value slots one memory.Page holds.
const valuesPerPage = memory.PageSize / 8

// ValueStack is a fiber's operand stack. Conceptually it grows downward
// (vsp[0] is the top); storage is a chain of mmap'd pages from the shared
// PageAllocator, eight little-endian bytes per value, with the
// vsp[idx]-from-top indexing contract preserved: index 0 is always the
// current top.
type ValueStack struct {
	pager   *memory.PageAllocator
	pages   []*memory.Page
	depth   int
	ceiling uint32 // max elements, 0 = unlimited
}

// NewValueStack creates a value stack backed by pager, with an initial
// capacity of initElems elements and a hard ceiling of maxElems (0 means
// unlimited).
func NewValueStack(pager *memory.PageAllocator, initElems, maxElems uint32) (*ValueStack, error) {
	vs := &ValueStack{pager: pager, ceiling: maxElems}
	for vs.Cap() < initElems {
		if err := vs.growOnePage(); err != nil {
			vs.Release()
			return nil, err
		}
	}
	return vs, nil
}

func (vs *ValueStack) growOnePage() error {
	pg, err := vs.pager.Acquire()
	if err != nil {
		return fmt.Errorf("vm: value stack grow: %w", err)
	}
	vs.pages = append(vs.pages, pg)
	return nil
}

// slot returns the 8-byte backing region of the i'th value from the stack
// base.
func (vs *ValueStack) slot(i int) []byte {
	off := (i % valuesPerPage) * 8
	return vs.pages[i/valuesPerPage].Bytes()[off : off+8]
}

func (vs *ValueStack) get(i int) ir.Value {
	return ir.Value(binary.LittleEndian.Uint64(vs.slot(i)))
}

func (vs *ValueStack) set(i int, v ir.Value) {
	binary.LittleEndian.PutUint64(vs.slot(i), v.U64())
}

// Cap returns the stack's current element capacity.
func (vs *ValueStack) Cap() uint32 { return uint32(len(vs.pages) * valuesPerPage) }

// Depth returns the number of live values on the stack.
func (vs *ValueStack) Depth() int { return vs.depth }

// EnsureCapacity grows the stack page-by-page until it can hold n elements,
// failing with ErrVstackOverflow once the ceiling would be exceeded.
func (vs *ValueStack) EnsureCapacity(n uint32) error {
	for vs.Cap() < n {
		if vs.ceiling != 0 && vs.ceiling < n {
			return ErrVstackOverflow
		}
		if err := vs.growOnePage(); err != nil {
			return err
		}
	}
	return nil
}

// Push appends v to the top of the stack.
func (vs *ValueStack) Push(v ir.Value) error {
	if err := vs.EnsureCapacity(uint32(vs.depth) + 1); err != nil {
		return err
	}
	vs.set(vs.depth, v)
	vs.depth++
	return nil
}

// Pop removes and returns the top value.
func (vs *ValueStack) Pop() (ir.Value, error) {
	if vs.depth == 0 {
		return 0, errors.New("vm: value stack underflow")
	}
	vs.depth--
	return vs.get(vs.depth), nil
}

// PopN removes and returns the top n values, oldest (deepest) first, in the
// order a callee's formal parameters would read them.
func (vs *ValueStack) PopN(n int) ([]ir.Value, error) {
	if vs.depth < n {
		return nil, errors.New("vm: value stack underflow")
	}
	s := vs.depth - n
	out := make([]ir.Value, n)
	for i := 0; i < n; i++ {
		out[i] = vs.get(s + i)
	}
	vs.depth = s
	return out, nil
}

// PushN pushes values in order, first element deepest.
func (vs *ValueStack) PushN(values []ir.Value) error {
	for _, v := range values {
		if err := vs.Push(v); err != nil {
			return err
		}
	}
	return nil
}

// PeekFromTop returns vsp[idx] without removing it (idx==0 is the top).
func (vs *ValueStack) PeekFromTop(idx int) (ir.Value, error) {
	if idx < 0 || idx >= vs.depth {
		return 0, fmt.Errorf("vm: stack index %d exceeds depth %d", idx, vs.depth)
	}
	return vs.get(vs.depth - 1 - idx), nil
}

// SetFromTop overwrites vsp[idx] in place.
func (vs *ValueStack) SetFromTop(idx int, v ir.Value) error {
	if idx < 0 || idx >= vs.depth {
		return fmt.Errorf("vm: stack index %d exceeds depth %d", idx, vs.depth)
	}
	vs.set(vs.depth-1-idx, v)
	return nil
}

// PopAt removes vsp[idx], shifting everything above it down by one.
func (vs *ValueStack) PopAt(idx int) (ir.Value, error) {
	if idx < 0 || idx >= vs.depth {
		return 0, fmt.Errorf("vm: stack index %d exceeds depth %d", idx, vs.depth)
	}
	pos := vs.depth - 1 - idx
	v := vs.get(pos)
	for i := pos; i < vs.depth-1; i++ {
		vs.set(i, vs.get(i+1))
	}
	vs.depth--
	return v, nil
}

// PushFromTop duplicates vsp[idx] onto the top (pick/dup).
func (vs *ValueStack) PushFromTop(idx int) error {
	v, err := vs.PeekFromTop(idx)
	if err != nil {
		return err
	}
	return vs.Push(v)
}

// RollToTop moves vsp[idx] to the top, shifting the values above it up by
// one (roll/swap).
func (vs *ValueStack) RollToTop(idx int) error {
	v, err := vs.PopAt(idx)
	if err != nil {
		return err
	}
	return vs.Push(v)
}

// RawBytes returns a copy of the live region of the stack (from the base up
// to the current top), little-endian per value, for the conservative GC's
// root scan over every 8-byte slot between the top and the stack base.
func (vs *ValueStack) RawBytes() []byte {
	out := make([]byte, vs.depth*8)
	for i := 0; i < vs.depth; i++ {
		copy(out[i*8:], vs.slot(i))
	}
	return out
}

// Release returns every page this stack acquired back to the shared pager.
func (vs *ValueStack) Release() {
	for _, pg := range vs.pages {
		vs.pager.Release(pg)
	}
	vs.pages = nil
	vs.depth = 0
}
