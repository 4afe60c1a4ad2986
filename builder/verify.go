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

package builder

import (
	"fmt"

	"github.com/probechain/irvm/ir"
)

// VerifyError is one structural defect found in an already-built function's
// instruction array (as opposed to a BuildError, which is raised while the
// function is still under construction).
type VerifyError struct {
	Function string
	InstIdx  int
	Detail   string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify: function %q at inst %d: %s", e.Function, e.InstIdx, e.Detail)
}

// BuiltinArity resolves a builtin's call arity for verification purposes,
// letting this package stay independent of wherever the host's builtin
// table actually lives.
type BuiltinArity interface {
	BuiltinArity(id uint32) (in, out uint8, ok bool)
}

// VerifyFunction re-walks fn's finished instruction array checking that:
//   - every jump/branch/call/fiber_create target lands on a real
//     instruction within the module,
//   - the simulated shadow-stack depth never underflows and matches
//     fn.OutputCount at every return,
//   - fn.MaxVstackSize is a valid upper bound on the simulated depth.
//
// It does not re-type-check values (this IR has no static types to check);
// it only confirms the instruction stream itself is self-consistent.
func VerifyFunction(module *ir.Module, fn *ir.Function, builtins BuiltinArity) []error {
	if !fn.Defined() {
		return []error{&VerifyError{Function: fn.Name, InstIdx: -1, Detail: "function has no instruction array"}}
	}
	var errs []error
	fail := func(idx int, format string, args ...any) {
		errs = append(errs, &VerifyError{Function: fn.Name, InstIdx: idx, Detail: fmt.Sprintf(format, args...)})
	}

	depth := 0
	maxDepth := 0
	n := len(fn.Insts)

	checkTarget := func(idx int, off int32) {
		target := idx + int(off)
		if target < 0 || target >= n {
			fail(idx, "branch target %d out of range [0,%d)", target, n)
		}
	}

	for idx := 0; idx < n; idx++ {
		inst := fn.Insts[idx]
		op := inst.Op()
		pop, push := 0, 0

		switch op {
		case ir.OpNop:
		case ir.OpBlock:
			// Each block marker carries its declared input arity; the depth
			// simulation restarts there since linear order is not flow order.
			in, _, _ := inst.FieldA8B8C8()
			depth = int(in)
			if depth > maxDepth {
				maxDepth = depth
			}
		case ir.OpReturn, ir.OpReturnFree:
			pop = int(fn.OutputCount)
		case ir.OpPanic, ir.OpExit:
			pop = 1
		case ir.OpJump:
			checkTarget(idx, inst.Offset24())
		case ir.OpBranchEq:
			// branch_eq pops only along the taken/jump path; the
			// linear fall-through continuation this walk simulates leaves
			// the value live.
			checkTarget(idx, inst.Offset24())
		case ir.OpBranchNe, ir.OpBranchLt, ir.OpBranchLe, ir.OpBranchGe, ir.OpBranchGt:
			pop = 1
			checkTarget(idx, inst.Offset24())
		case ir.OpBranchFalse:
			pop = 1
			checkTarget(idx, inst.Offset24())
		case ir.OpCall:
			callee := module.FunctionByIndex(inst.Imm24())
			if callee == nil {
				fail(idx, "call target function_index %d not found", inst.Imm24())
				break
			}
			pop, push = int(callee.InputCount), int(callee.OutputCount)
		case ir.OpCallIndirect:
			in, out, _ := inst.FieldA8B8C8()
			pop, push = int(in)+1, int(out)
		case ir.OpCallBuiltin, ir.OpCallBuiltinNoFrame:
			if builtins != nil {
				if in, out, ok := builtins.BuiltinArity(inst.Imm24()); ok {
					pop, push = int(in), int(out)
				}
			}
		case ir.OpCallBuiltinSig:
			// signature carried alongside the call, not decodable from the
			// instruction word alone; arity is validated by the VM at
			// dispatch time instead.
		case ir.OpFiberCreate:
			callee := module.FunctionByIndex(inst.Imm24())
			if callee == nil {
				fail(idx, "fiber_create target function_index %d not found", inst.Imm24())
				break
			}
			pop, push = int(callee.InputCount), 1
		case ir.OpFiberResume:
			in, out, _ := inst.FieldA8B8C8()
			pop, push = int(in)+1, int(out)
		case ir.OpFiberSuspend:
			out, in, _ := inst.FieldA8B8C8()
			pop, push = int(out), int(in)
		case ir.OpPop:
			idxFromTop := inst.Imm24()
			if depth == 0 || int(idxFromTop) >= depth {
				fail(idx, "pop index %d exceeds depth %d", idxFromTop, depth)
			} else {
				pop = 1
			}
		case ir.OpPopTop:
			pop = 1
		case ir.OpPick:
			idxFromTop := inst.Imm24()
			if int(idxFromTop) >= depth {
				fail(idx, "stack index %d exceeds depth %d", idxFromTop, depth)
			}
			push = 1
		case ir.OpRoll:
			idxFromTop := inst.Imm24()
			if int(idxFromTop) >= depth {
				fail(idx, "stack index %d exceeds depth %d", idxFromTop, depth)
			}
		case ir.OpDup:
			pop, push = 0, 1
			if depth < 1 {
				fail(idx, "dup requires one operand")
			}
		case ir.OpSwap:
			pop, push = 2, 2
		case ir.OpSelect:
			pop, push = int(inst.Imm24())+1, 1
		case ir.OpSetupLocalAlloc, ir.OpLocalAlloc, ir.OpLocalAllocAligned, ir.OpLocalStorage:
		case ir.OpDerefConst, ir.OpDerefMut:
			pop, push = 1, 1
		case ir.OpArrayElement:
			pop, push = 2, 1
		case ir.OpAggregateMember:
			pop, push = 1, 1
		case ir.OpLoadLocalValue, ir.OpLoadGlobalValue:
			push = 1
		case ir.OpStoreLocalValue, ir.OpStoreGlobalValue:
			pop = 1
		case ir.OpPush, ir.OpPushN:
			push = 1
		case ir.OpPush2, ir.OpPush3:
			// continuation words of a preceding push/pushn; they do not
			// independently affect stack depth.
		case ir.OpGlobalAddr, ir.OpLocalAddr, ir.OpFunctionAddr:
			push = 1
		case ir.OpCC:
			pop, push = 1, 1
		case ir.OpAddrAdd, ir.OpAddrSub, ir.OpAddrDistance, ir.OpIntToAddr, ir.OpMerge:
			pop, push = 2, 1
		case ir.OpAddrToInt, ir.OpSplit:
			pop, push = 1, 2
		case ir.OpPoison, ir.OpUnpoison:
			pop = 1
		default:
			fail(idx, "unknown opcode %s", op)
		}

		if pop > depth {
			fail(idx, "%s underflows stack: needs %d, have %d", op, pop, depth)
			depth = 0
		} else {
			depth -= pop
		}
		depth += push
		if depth > maxDepth {
			maxDepth = depth
		}

		if op == ir.OpReturn || op == ir.OpReturnFree {
			if depth != 0 {
				fail(idx, "%d value(s) left on stack after return", depth)
			}
		}
	}

	if uint32(maxDepth) > fn.MaxVstackSize {
		fail(-1, "max_vstack_size %d understates simulated depth %d", fn.MaxVstackSize, maxDepth)
	}
	return errs
}
