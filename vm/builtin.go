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

import (
	"encoding/binary"
	"fmt"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/probechain/irvm/builder"
	"github.com/probechain/irvm/ir"
)

// Flags is the per-builtin behavior bitmask.
type Flags uint16

const (
	// FlagNoPanic promises the builtin never triggers a panic unwind.
	FlagNoPanic Flags = 1 << iota
	// FlagNoProcess marks a builtin the VM may invoke without a process
	// reference at all (pure arithmetic-on-values helpers); call_builtin_no_frame
	// requires at least FlagNoProcess.
	FlagNoProcess
	// FlagConstantFold marks a builtin whose result depends only on its
	// inputs and so may be evaluated at build time by the Builder.
	FlagConstantFold
	// FlagVMOnly restricts a builtin to internal VM use; user bytecode may
	// not reference it by id (reserved for directives the VM itself emits,
	// e.g. synthetic constant-fold probes).
	FlagVMOnly
	// FlagAlwaysPanic marks a builtin whose only possible outcome is a
	// panic (assert-style builtins that found a violated condition).
	FlagAlwaysPanic
	// FlagVMDirective marks a builtin that mutates VM-level state
	// (step budget, GC trigger) rather than computing a value.
	FlagVMDirective
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Func is a builtin's native implementation. args is exactly InputCount
// values, already validated for arity by the dispatcher; it returns exactly
// OutputCount values or an error that the dispatcher turns into a panic.
type Func func(p *Process, args []ir.Value) ([]ir.Value, error)

// Builtin is one entry of the host builtin table.
type Builtin struct {
	ID          uint32
	Name        string
	InputCount  uint8
	OutputCount uint8
	Flags       Flags
	Impl        Func
}

// Ref returns the builder.BuiltinRef a Builder uses to emit a call to this
// builtin, carrying just the fields the builder cares about.
func (b *Builtin) Ref() builder.BuiltinRef {
	return builder.BuiltinRef{
		ID:           b.ID,
		InputCount:   b.InputCount,
		OutputCount:  b.OutputCount,
		ConstantFold: b.Flags.Has(FlagConstantFold),
		NoFrame:      b.Flags.Has(FlagNoProcess),
	}
}

// Registry is the process-independent table of builtins a VM was configured
// with, plus the constant-fold memoization cache backing the Builder's
// ConstFolder hook.
type Registry struct {
	byID  map[uint32]*Builtin
	cache *fastcache.Cache
}

// NewRegistry creates an empty builtin registry with a foldCacheBytes-sized
// constant-fold cache (0 picks a small default).
func NewRegistry(foldCacheBytes int) *Registry {
	if foldCacheBytes <= 0 {
		foldCacheBytes = 1 << 20
	}
	return &Registry{
		byID:  make(map[uint32]*Builtin),
		cache: fastcache.New(foldCacheBytes),
	}
}

// Register adds b to the table, keyed by its ID. Re-registering an existing
// ID overwrites the previous entry.
func (r *Registry) Register(b *Builtin) { r.byID[b.ID] = b }

// Lookup returns the builtin with the given id.
func (r *Registry) Lookup(id uint32) (*Builtin, bool) {
	b, ok := r.byID[id]
	return b, ok
}

// BuiltinArity implements builder.BuiltinArity, letting VerifyFunction check
// call_builtin/call_builtin_no_frame operand counts against this table.
func (r *Registry) BuiltinArity(id uint32) (in, out uint8, ok bool) {
	b, ok := r.byID[id]
	if !ok {
		return 0, 0, false
	}
	return b.InputCount, b.OutputCount, true
}

// FoldBuiltin implements builder.ConstFolder: it runs the builtin's Impl
// directly against constant inputs with a nil Process (rejecting any
// builtin that is not flagged CONSTANT_FOLD, or that needs a process), and
// memoizes the result in the fastcache-backed cache keyed by (id, args).
func (r *Registry) FoldBuiltin(id uint32, args []ir.Value) (ir.Value, bool) {
	b, ok := r.byID[id]
	if !ok || !b.Flags.Has(FlagConstantFold) || !b.Flags.Has(FlagNoProcess) || b.OutputCount != 1 {
		return 0, false
	}

	key := foldCacheKey(id, args)
	if cached, ok := r.cache.HasGet(nil, key); ok && len(cached) == 8 {
		return ir.Value(binary.LittleEndian.Uint64(cached)), true
	}

	out, err := b.Impl(nil, args)
	if err != nil || len(out) != 1 {
		return 0, false
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], out[0].U64())
	r.cache.Set(key, buf[:])
	return out[0], true
}

func foldCacheKey(id uint32, args []ir.Value) []byte {
	key := make([]byte, 4+8*len(args))
	binary.LittleEndian.PutUint32(key, id)
	for i, a := range args {
		binary.LittleEndian.PutUint64(key[4+8*i:], a.U64())
	}
	return key
}

// invoke calls b with args on process p, checking the argument count before
// the call and the result count after it. An error from Impl is returned
// unchanged, whatever b's flags.
func (r *Registry) invoke(p *Process, b *Builtin, args []ir.Value) ([]ir.Value, error) {
	if len(args) != int(b.InputCount) {
		return nil, fmt.Errorf("vm: builtin %q expects %d args, got %d", b.Name, b.InputCount, len(args))
	}
	out, err := b.Impl(p, args)
	if err != nil {
		return nil, err
	}
	if len(out) != int(b.OutputCount) {
		return nil, fmt.Errorf("vm: builtin %q returned %d values, expected %d", b.Name, len(out), b.OutputCount)
	}
	return out, nil
}
