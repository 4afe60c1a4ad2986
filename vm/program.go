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

// ErrEntryNotFound is wrapped by NewProgram when the requested entry
// function does not exist or has no body, so a CLI host can map the
// failure to its dedicated exit code.
var ErrEntryNotFound = errors.New("vm: entry function not found")

// Program pairs a built module with the function a Process should run as
// its entry point.
type Program struct {
	Module *ir.Module
	Entry  *ir.Function
}

// NewProgram resolves entryName within module via its O(n) name lookup and
// returns the Program the process APIs expect.
func NewProgram(module *ir.Module, entryName string) (*Program, error) {
	fn := module.FindFunctionByName(entryName)
	if fn == nil {
		return nil, fmt.Errorf("%w: %q", ErrEntryNotFound, entryName)
	}
	if !fn.Defined() {
		return nil, fmt.Errorf("%w: %q has no instruction array", ErrEntryNotFound, entryName)
	}
	return &Program{Module: module, Entry: fn}, nil
}
