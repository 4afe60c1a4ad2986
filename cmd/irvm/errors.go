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

package main

import (
	"errors"

	"github.com/probechain/irvm/vm"
)

func isPanicError(err error) bool {
	var pnc *vm.Panic
	return errors.As(err, &pnc)
}

func isStepLimitError(err error) bool {
	return errors.Is(err, vm.ErrStepLimitExceeded)
}

func isEntryError(err error) bool {
	return errors.Is(err, vm.ErrEntryNotFound)
}

func isLoadError(err error) bool {
	var loadErr *loadError
	return errors.As(err, &loadErr)
}

// loadError wraps failures building or resolving the module a run/disasm/
// repl invocation targets, distinct from a VM panic raised once execution
// starts.
type loadError struct{ err error }

func (e *loadError) Error() string { return e.err.Error() }
func (e *loadError) Unwrap() error { return e.err }
