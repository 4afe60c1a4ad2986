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

// Package introspect exposes a running vm.Process over HTTP and WebSocket
// for host-side observability: allocation table stats, fiber listings, and
// a push feed of snapshots taken after each Execute/Resume. Built as named
// endpoints returning small struct snapshots over a plain
// httprouter+gorilla/websocket pair rather than a full RPC codec, since
// there is only a handful of read-only views.
package introspect

import (
	"time"

	"github.com/probechain/irvm/vm"
)

// AllocationView is the introspector's JSON-friendly mirror of one
// memory.Allocation table entry.
type AllocationView struct {
	Index      uint32 `json:"index"`
	Size       uint32 `json:"size"`
	Generation uint8  `json:"generation"`
	Source     uint8  `json:"source"`
	Status     uint8  `json:"status"`
}

// FiberView summarizes one fiber's scheduling state.
type FiberView struct {
	HandleAlloc uint32 `json:"handle_alloc"`
	Status      string `json:"status"`
	CallDepth   int    `json:"call_depth"`
}

// Snapshot is one point-in-time view of a process. The server also keeps
// each snapshot it takes in a bounded history; no endpoint reads that
// history back, so a client connecting mid-run sees only the live feed.
type Snapshot struct {
	ProcessID   string           `json:"process_id"`
	Taken       time.Time        `json:"taken"`
	TableLen    int              `json:"table_len"`
	Allocations []AllocationView `json:"allocations,omitempty"`
	Fibers      []FiberView      `json:"fibers"`
}

// nowFunc is overridable so tests can produce deterministic snapshots.
var nowFunc = time.Now

// TakeSnapshot walks p's current state into a Snapshot for callers outside
// the HTTP server (the CLI's -dump mode uses this directly).
func TakeSnapshot(p *vm.Process, includeAllocations bool) Snapshot {
	return takeSnapshot(p, includeAllocations)
}

// takeSnapshot walks p's current state into a Snapshot. includeAllocations
// is opt-in since a large table makes for an expensive full dump on every
// tick.
func takeSnapshot(p *vm.Process, includeAllocations bool) Snapshot {
	snap := Snapshot{ProcessID: p.ID.String(), Taken: nowFunc(), TableLen: p.Memory.Len()}

	if includeAllocations {
		n := p.Memory.Len()
		snap.Allocations = make([]AllocationView, 0, n)
		for i := 0; i < n; i++ {
			a, ok := p.Memory.At(uint32(i))
			if !ok {
				continue
			}
			snap.Allocations = append(snap.Allocations, AllocationView{
				Index:      uint32(i),
				Size:       a.Size,
				Generation: a.Generation,
				Source:     uint8(a.Source),
				Status:     uint8(a.Status),
			})
		}
	}

	for _, f := range p.Fibers() {
		snap.Fibers = append(snap.Fibers, FiberView{
			HandleAlloc: f.HandleAlloc,
			Status:      f.Status.String(),
			CallDepth:   f.Depth(),
		})
	}
	return snap
}
