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

import "github.com/google/uuid"

// Permissions controls whether a global is writable once initialized.
type Permissions uint8

const (
	PermImmutable Permissions = iota
	PermMutable
)

// Global describes a module-level storage location. Defined globals get a
// pre-populated allocation at process start; undefined (native-view)
// globals require a host-provided backing.
type Global struct {
	next           *Global
	Memory         []byte // nil for native/undefined globals
	Size           uint32
	AllocationIdx  uint32
	Alignment      uint32
	IsMutable      bool
	DebugName      string
	defined        bool
}

// Defined reports whether this global has module-provided backing storage.
func (g *Global) Defined() bool { return g.defined }

// Function represents a single function in a Module: its declared
// signature and, once the builder finishes, its immutable instruction
// array.
type Function struct {
	next   *Function
	module *Module

	Name          string
	InputCount    uint8
	OutputCount   uint8
	Exported      bool
	FunctionIndex uint32

	Insts  []Instruction // nil until the builder finishes this function
	Anchor int64         // logical pointer identity used for offset compression

	MaxVstackSize uint32
	MaxCstackSize uint32
	// LocalStorageSize is the byte region of MaxCstackSize that belongs to
	// this function's own frame-local storage (local_storage reservations
	// plus one pointer slot per escaped local), excluding the nominal
	// StackFrame header accounted for separately in MaxCstackSize.
	LocalStorageSize uint32
}

// Defined reports whether the builder has produced an instruction array.
func (f *Function) Defined() bool { return f.Insts != nil }

// Module owns its functions and globals via intrusive linked lists, and a
// long-lived arena backing their instruction storage that a Builder
// borrows per function.
type Module struct {
	ID        uuid.UUID
	Name      string
	DebugPath string

	arena *Arena

	funcHead, funcTail *Function
	funcCount          uint32

	globalHead, globalTail *Global
	globalCount            uint32

	nextAnchor int64

	debugLocs []DebugLocation // flat side table, sorted by (FuncIndex, InstIndex)
}

// CreateModule allocates a new, empty module.
func CreateModule(name string) *Module {
	return &Module{
		ID:    uuid.New(),
		Name:  name,
		arena: NewArena(),
	}
}

// SetDebugPath records the source path used for debug-location reporting.
func (m *Module) SetDebugPath(path string) { m.DebugPath = path }

// Arena returns the module's backing arena, used by a Builder to allocate
// block/local records while constructing a function body.
func (m *Module) Arena() *Arena { return m.arena }

// AddFunction appends a new, undefined function to the module and assigns
// it the next ascending function_index.
func (m *Module) AddFunction(name string, inCount, outCount uint8) *Function {
	f := &Function{
		module:        m,
		Name:          name,
		InputCount:    inCount,
		OutputCount:   outCount,
		FunctionIndex: m.funcCount,
	}
	if m.funcTail == nil {
		m.funcHead = f
	} else {
		m.funcTail.next = f
	}
	m.funcTail = f
	m.funcCount++
	return f
}

// ExportFunction marks a function as externally callable.
func (m *Module) ExportFunction(f *Function) { f.Exported = true }

// FindFunctionByName performs an O(n) linear scan over the module's
// function list.
func (m *Module) FindFunctionByName(name string) *Function {
	for f := m.funcHead; f != nil; f = f.next {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FunctionByIndex performs an O(n) linear scan to the function with the
// given function_index (used by call_indirect's arity-checked lookup).
func (m *Module) FunctionByIndex(idx uint32) *Function {
	for f := m.funcHead; f != nil; f = f.next {
		if f.FunctionIndex == idx {
			return f
		}
	}
	return nil
}

// Functions returns the module's functions in declaration order.
func (m *Module) Functions() []*Function {
	out := make([]*Function, 0, m.funcCount)
	for f := m.funcHead; f != nil; f = f.next {
		out = append(out, f)
	}
	return out
}

// ClaimAnchor reserves a word-addressed range for a function's finished
// instruction array and returns its base, giving every function a disjoint
// logical address space so FindFunctionOfInstruction and the compressed
// pointer-offset helpers work without real instruction pointers.
func (m *Module) ClaimAnchor(words int) int64 {
	base := m.nextAnchor
	m.nextAnchor += int64(words) * 4
	return base
}

// FindFunctionOfInstruction performs an O(n) scan over functions to find
// the one whose instruction array contains ip.
func (m *Module) FindFunctionOfInstruction(ip int64) *Function {
	for f := m.funcHead; f != nil; f = f.next {
		if f.Insts == nil {
			continue
		}
		lo, hi := f.Anchor, f.Anchor+int64(len(f.Insts))*4
		if ip >= lo && ip < hi {
			return f
		}
	}
	return nil
}

// AddGlobal declares a new global with the given mutability permission and
// no backing (native/undefined) until DefineDataGlobal is called.
func (m *Module) AddGlobal(perm Permissions) *Global {
	g := &Global{IsMutable: perm == PermMutable}
	if m.globalTail == nil {
		m.globalHead = g
	} else {
		m.globalTail.next = g
	}
	m.globalTail = g
	m.globalCount++
	return g
}

// DefineDataGlobal gives a declared global its layout and initial bytes (nil
// means zero-initialized). The global receives one pre-populated allocation
// at process start (the allocation index is assigned later, by the process
// that instantiates this module).
func (m *Module) DefineDataGlobal(g *Global, layout Layout, bytes []byte) {
	g.Size = layout.Size
	g.Alignment = layout.Alignment
	g.defined = true
	if bytes == nil {
		g.Memory = make([]byte, layout.Size)
		return
	}
	buf := make([]byte, layout.Size)
	copy(buf, bytes)
	g.Memory = buf
}

// AddGlobalNativeData declares a global with no module-provided backing; a
// host embedding this module must supply the backing storage.
func (m *Module) AddGlobalNativeData(perm Permissions) *Global {
	return m.AddGlobal(perm)
}

// Globals returns the module's globals in declaration order.
func (m *Module) Globals() []*Global {
	out := make([]*Global, 0, m.globalCount)
	for g := m.globalHead; g != nil; g = g.next {
		out = append(out, g)
	}
	return out
}

// DebugLocation associates a source location with one instruction.
type DebugLocation struct {
	FuncIndex uint32
	InstIndex uint32
	File      string
	Line      uint32
	Col       uint32
}

// AppendDebugLocations appends a function's debug-location entries (already
// shifted to final instruction indices by the builder) to the module's flat
// side table, keeping it sorted by (FuncIndex, InstIndex) for binary search.
func (m *Module) AppendDebugLocations(locs []DebugLocation) {
	for _, l := range locs {
		i := len(m.debugLocs)
		m.debugLocs = append(m.debugLocs, l)
		for i > 0 && (m.debugLocs[i-1].FuncIndex > l.FuncIndex ||
			(m.debugLocs[i-1].FuncIndex == l.FuncIndex && m.debugLocs[i-1].InstIndex > l.InstIndex)) {
			m.debugLocs[i] = m.debugLocs[i-1]
			i--
		}
		m.debugLocs[i] = l
	}
}

// DebugLocationOf binary-searches the side table for the location of
// instruction instIndex within function funcIndex. A missing entry returns
// (DebugLocation{}, false).
func (m *Module) DebugLocationOf(funcIndex, instIndex uint32) (DebugLocation, bool) {
	lo, hi := 0, len(m.debugLocs)
	for lo < hi {
		mid := (lo + hi) / 2
		d := m.debugLocs[mid]
		if d.FuncIndex < funcIndex || (d.FuncIndex == funcIndex && d.InstIndex < instIndex) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(m.debugLocs) && m.debugLocs[lo].FuncIndex == funcIndex && m.debugLocs[lo].InstIndex == instIndex {
		return m.debugLocs[lo], true
	}
	return DebugLocation{}, false
}

// Chunk is a disposable, nameless function with its own arena and
// debug-location list; lifetimes otherwise mirror a Function.
type Chunk struct {
	module    *Module
	arena     *Arena
	Func      Function
	debugLocs []DebugLocation
}

// CreateChunk allocates a new chunk owned by (but not linked into) module.
func (m *Module) CreateChunk() *Chunk {
	return &Chunk{module: m, arena: NewArena()}
}

// Arena returns the chunk's private arena.
func (c *Chunk) Arena() *Arena { return c.arena }

// ResetChunk empties the chunk's instruction array, arena, and
// debug-location list without touching the owning module.
func (c *Chunk) ResetChunk() {
	c.arena.Reset()
	c.Func = Function{module: c.module}
	c.debugLocs = c.debugLocs[:0]
}

// ChunkSignature returns the chunk function's current (in, out) arity.
func (c *Chunk) ChunkSignature() (uint8, uint8) {
	return c.Func.InputCount, c.Func.OutputCount
}

// ChunkIsEmpty reports whether the chunk has no instructions yet.
func (c *Chunk) ChunkIsEmpty() bool { return len(c.Func.Insts) == 0 }

// AppendDebugLocations appends to the chunk's own (not the module's) side
// table.
func (c *Chunk) AppendDebugLocations(locs []DebugLocation) {
	c.debugLocs = append(c.debugLocs, locs...)
}
