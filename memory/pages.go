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
	"sync"

	mmap "github.com/edsrzf/mmap-go"
)

// PageSize is the coarse OS-page granularity the page allocator hands out,
// matching the common 4 KiB virtual-memory page used to back VM stacks.
const PageSize = 4096

// Page is one OS-backed page of raw bytes.
type Page struct {
	region mmap.MMap
}

// Bytes returns the page's backing storage.
func (p *Page) Bytes() []byte { return p.region }

// PageAllocator is a coarse OS-page supply with a free list; it backs the
// growable value/call stack pages used by the VM. Real anonymous mappings
// are used (via edsrzf/mmap-go) rather than plain make([]byte, ...) slices
// so that page identity and release are explicit.
type PageAllocator struct {
	mu       sync.Mutex
	freeList []*Page
}

// NewPageAllocator creates an empty page allocator.
func NewPageAllocator() *PageAllocator { return &PageAllocator{} }

// Acquire returns a page from the free list if one is available, otherwise
// maps a fresh one.
func (p *PageAllocator) Acquire() (*Page, error) {
	p.mu.Lock()
	if n := len(p.freeList); n > 0 {
		pg := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		p.mu.Unlock()
		for i := range pg.region {
			pg.region[i] = 0
		}
		return pg, nil
	}
	p.mu.Unlock()

	region, err := mmap.MapRegion(nil, PageSize, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("memory: page allocator: %w", err)
	}
	return &Page{region: region}, nil
}

// Release returns a page to the free list for reuse by a later Acquire.
func (p *PageAllocator) Release(pg *Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeList = append(p.freeList, pg)
}

// Destroy unmaps a page instead of returning it to the free list, used
// when a whole fiber (and its call stack, and therefore its backing pages)
// is torn down.
func (p *PageAllocator) Destroy(pg *Page) error {
	return pg.region.Unmap()
}

// FreeListLen reports how many pages are currently idle, for diagnostics.
func (p *PageAllocator) FreeListLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.freeList)
}
