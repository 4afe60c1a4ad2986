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

package ir

// arenaBlockSize is the size of each bump-allocated block. Oversized
// requests get their own dedicated block.
const arenaBlockSize = 64 * 1024

// Arena is a bump allocator that owns module/builder storage. It
// grows by chaining additional blocks rather than reallocating, so pointers
// handed out from one block remain valid for the arena's lifetime.
type Arena struct {
	blocks [][]byte
	cur    []byte // remaining capacity of the active block
}

// NewArena creates an empty arena with no blocks allocated yet.
func NewArena() *Arena {
	return &Arena{}
}

// Alloc reserves n bytes from the arena and returns a zeroed slice backed
// by arena storage. Requests larger than arenaBlockSize get a dedicated
// overflow block.
func (a *Arena) Alloc(n int) []byte {
	if n <= 0 {
		return nil
	}
	if n > len(a.cur) {
		blockSize := arenaBlockSize
		if n > blockSize {
			blockSize = n
		}
		block := make([]byte, blockSize)
		a.blocks = append(a.blocks, block)
		a.cur = block
	}
	out := a.cur[:n:n]
	a.cur = a.cur[n:]
	return out
}

// Reset releases all blocks. Any pointers previously handed out by Alloc
// must not be used afterward; Reset is only safe once nothing reachable
// still refers to the arena's storage (used by Chunk.ResetChunk, whose
// chunk is single-owner).
func (a *Arena) Reset() {
	a.blocks = nil
	a.cur = nil
}

// Bytes reports the total number of bytes currently owned by the arena
// across all blocks, for diagnostics.
func (a *Arena) Bytes() int {
	total := 0
	for _, b := range a.blocks {
		total += len(b)
	}
	return total
}
