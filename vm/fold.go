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
	"github.com/probechain/irvm/builder"
	"github.com/probechain/irvm/ir"
)

// NewBuilder starts building fn's body with reg wired in as its
// builder.ConstFolder, so CONSTANT_FOLD builtins called with literal
// arguments are evaluated at build time instead of emitted. A nil reg is
// fine; the build proceeds without folding.
func NewBuilder(module *ir.Module, fn *ir.Function, reg *Registry) *builder.Builder {
	var folder builder.ConstFolder
	if reg != nil {
		folder = reg
	}
	return builder.New(module, fn, folder)
}
