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
	"errors"
	"fmt"

	"github.com/probechain/irvm/ir"
)

// PanicFrame is one entry of a Panic's unwound call stack, produced by
// walking (ip, frame) pairs from the faulting frame down.
type PanicFrame struct {
	Function string
	InstIdx  int
}

// Panic is the error the dispatcher raises for the panic instruction and
// for any internal fault the VM treats as a panic (bounds/generation
// violations, arity mismatches, stack overflow). Message is read from the
// NUL-terminated string the panic instruction's popped address points at,
// when the fault originated from user bytecode.
type Panic struct {
	Message string
	Stack   []PanicFrame
}

func (p *Panic) Error() string {
	if len(p.Stack) == 0 {
		return fmt.Sprintf("vm panic: %s", p.Message)
	}
	return fmt.Sprintf("vm panic: %s (at %s)", p.Message, p.Stack[0].Function)
}

// ErrStepLimitExceeded is returned by Execute/Resume when the process's
// configured step budget runs out before the fiber next yields.
var ErrStepLimitExceeded = errors.New("vm: step limit exceeded")

// readCString reads a NUL-terminated message string out of the process
// memory table at addr, per the panic instruction's operand contract.
func (p *Process) readCString(addr ir.Address) (string, error) {
	a, err := p.Memory.Resolve(addr)
	if err != nil {
		return "", err
	}
	data := a.Data
	if addr.Offset > uint32(len(data)) {
		return "", fmt.Errorf("vm: panic message address out of bounds")
	}
	rest := data[addr.Offset:]
	for i, b := range rest {
		if b == 0 {
			return string(rest[:i]), nil
		}
	}
	return string(rest), nil
}

// buildStack walks the fiber's call stack from the faulting frame down to
// the trampoline, recording at each level the function name and an
// instruction index: the faulting instruction for the innermost level, the
// return point (one past the call) for each caller.
func buildStack(f *Fiber, ip IP) []PanicFrame {
	out := []PanicFrame{{Function: ip.Fn.Name, InstIdx: ip.Idx}}
	for fr := f.Cstack.Top(); fr != nil && fr.ReturnIP.Fn != nil; fr = fr.Prev {
		out = append(out, PanicFrame{Function: fr.ReturnIP.Fn.Name, InstIdx: fr.ReturnIP.Idx})
	}
	return out
}

// dispatchPanic runs the process's configured PanicHandler, if any, and
// always returns a *Panic error so the caller unwinds consistently whether
// or not a handler was installed.
func (p *Process) dispatchPanic(f *Fiber, ip IP, message string) error {
	pnc := &Panic{Message: message, Stack: buildStack(f, ip)}
	if h := p.VM.Config.PanicHandler; h != nil {
		h(p, pnc)
	}
	return pnc
}
