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

package vm

import "github.com/probechain/irvm/memory"

// Config is the set of tunables a VM is configured with: stack sizing
// ceilings, the cooperative step budget, and host hooks for panics and
// opaque user data threaded through builtins.
type Config struct {
	InitialVstackElems uint32
	MaxVstackElems     uint32 // 0 = unlimited
	InitialCstackBytes uint32
	MaxCstackBytes     uint32 // 0 = unlimited

	// StepLimit bounds how many instructions a single Execute/Resume call
	// may dispatch before returning ErrStepLimitExceeded (0 = unlimited).
	StepLimit uint64

	// GCThreshold runs an automatic Collect each time this many fibers have
	// run to completion since the last automatic collection (0 disables
	// automatic collection; the host can still call Process.Collect). The
	// number of allocations in the table is not consulted.
	GCThreshold int

	PanicHandler func(p *Process, pnc *Panic)

	// HeapFreeHook, if set, is invoked with the byte size of every heap
	// allocation the GC sweeps. Go owns the actual backing memory, so the
	// host allocator contract reduces to this observer plus UserData.
	HeapFreeHook func(size uint32)

	// UserData is opaque host state builtins can retrieve via Process.UserData.
	UserData any
}

// DefaultConfig returns reasonable stack sizes for an embedding that has not
// customized them: one page of value stack, four pages of call stack, no
// ceilings, no step limit.
func DefaultConfig() Config {
	return Config{
		InitialVstackElems: memory.PageSize / 8,
		InitialCstackBytes: memory.PageSize * 4,
	}
}

// VM is the shared, process-independent configuration and builtin registry
// that every Process instantiated from it reuses: the page allocator behind
// every fiber's stacks, and the builtin table. The VM holds configuration
// plus the builtin registry; a Process holds per-execution state.
type VM struct {
	Config   Config
	Builtins *Registry

	pager *memory.PageAllocator
}

// NewVM creates a VM ready to instantiate processes. builtins may be nil,
// in which case an empty registry is created.
func NewVM(cfg Config, builtins *Registry) *VM {
	if builtins == nil {
		builtins = NewRegistry(0)
	}
	return &VM{
		Config:   cfg,
		Builtins: builtins,
		pager:    memory.NewPageAllocator(),
	}
}
