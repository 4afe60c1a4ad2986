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

// Package memlib registers the heap-management builtins: explicit heap
// allocation and free, byte copy/fill between allocations, and an
// on-demand garbage collection that reports how many bytes it reclaimed.
// The VM core stays allocation-policy-agnostic; this package is the
// host-provided surface programs reach heap memory through.
package memlib

import (
	"errors"

	"github.com/probechain/irvm/ir"
	"github.com/probechain/irvm/memory"
	"github.com/probechain/irvm/vm"
)

// Builtin ids. Hosts embedding this package reserve this block in their own
// id space.
const (
	IDHeapAlloc = 0x400
	IDHeapFree  = 0x401
	IDCopy      = 0x402
	IDFill      = 0x403
	IDGC        = 0x404
)

// maxHeapAlloc bounds a single heap_alloc request so a corrupted size
// operand cannot exhaust the host.
const maxHeapAlloc = 1 << 30

// Register installs every memlib builtin into reg.
func Register(reg *vm.Registry) {
	reg.Register(&vm.Builtin{
		ID: IDHeapAlloc, Name: "memory.heap_alloc", InputCount: 1, OutputCount: 1,
		Impl: func(p *vm.Process, args []ir.Value) ([]ir.Value, error) {
			size := args[0].U64()
			if size > maxHeapAlloc {
				return nil, errors.New("out of heap")
			}
			addr := p.Memory.New(memory.SourceHeap, uint32(size))
			return []ir.Value{addr.Pack()}, nil
		},
	})

	reg.Register(&vm.Builtin{
		ID: IDHeapFree, Name: "memory.heap_free", InputCount: 1, OutputCount: 0,
		Impl: func(p *vm.Process, args []ir.Value) ([]ir.Value, error) {
			addr := ir.UnpackAddress(args[0])
			a, err := p.Memory.Resolve(addr)
			if err != nil {
				return nil, err
			}
			if a.Source != memory.SourceHeap {
				return nil, errors.New("heap_free of a non-heap allocation")
			}
			if err := p.Memory.Free(addr.Allocation); err != nil {
				return nil, err
			}
			p.Memory.RemoveFreed()
			return nil, nil
		},
	})

	reg.Register(&vm.Builtin{
		ID: IDCopy, Name: "memory.copy", InputCount: 3, OutputCount: 0,
		Impl: func(p *vm.Process, args []ir.Value) ([]ir.Value, error) {
			dst := ir.UnpackAddress(args[0])
			src := ir.UnpackAddress(args[1])
			n := uint32(args[2].U64())
			sa, err := p.Memory.CheckLoad(src, ir.Layout{Size: n, Alignment: 1}, false)
			if err != nil {
				return nil, err
			}
			da, err := p.Memory.CheckLoad(dst, ir.Layout{Size: n, Alignment: 1}, true)
			if err != nil {
				return nil, err
			}
			copy(da.Data[dst.Offset:dst.Offset+n], sa.Data[src.Offset:src.Offset+n])
			return nil, nil
		},
	})

	reg.Register(&vm.Builtin{
		ID: IDFill, Name: "memory.fill", InputCount: 3, OutputCount: 0,
		Impl: func(p *vm.Process, args []ir.Value) ([]ir.Value, error) {
			dst := ir.UnpackAddress(args[0])
			b := byte(args[1].U64())
			n := uint32(args[2].U64())
			da, err := p.Memory.CheckLoad(dst, ir.Layout{Size: n, Alignment: 1}, true)
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				da.Data[dst.Offset+i] = b
			}
			return nil, nil
		},
	})

	reg.Register(&vm.Builtin{
		ID: IDGC, Name: "memory.gc", InputCount: 0, OutputCount: 1,
		Impl: func(p *vm.Process, _ []ir.Value) ([]ir.Value, error) {
			stats := p.Collect()
			return []ir.Value{ir.ValueFromU64(stats.BytesFreed)}, nil
		},
	})
}
