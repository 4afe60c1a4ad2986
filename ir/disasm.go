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

import "fmt"

// Disassemble returns a human-readable listing of a function's instruction
// array. Not part of any wire format; read-only diagnostic output for the
// CLI and test failure messages.
func Disassemble(insts []Instruction) string {
	out := ""
	for idx, inst := range insts {
		op := inst.Op()
		switch op {
		case OpPush, OpPushN:
			out += fmt.Sprintf("[%04d] %-20s %d\n", idx, op, inst.Imm24())
		case OpJump, OpBranchEq, OpBranchNe, OpBranchLt, OpBranchLe, OpBranchGe, OpBranchGt,
			OpBranchFalse:
			out += fmt.Sprintf("[%04d] %-20s %+d\n", idx, op, inst.Offset24())
		case OpCall, OpFiberCreate, OpFunctionAddr, OpCallBuiltin, OpCallBuiltinNoFrame:
			out += fmt.Sprintf("[%04d] %-20s #%d\n", idx, op, inst.Imm24())
		case OpLocalAddr, OpLoadLocalValue, OpStoreLocalValue:
			a, b := inst.FieldA8B16()
			out += fmt.Sprintf("[%04d] %-20s local#%d @+%d\n", idx, op, a, b)
		case OpDerefConst, OpDerefMut:
			a, b := inst.FieldA8B16()
			out += fmt.Sprintf("[%04d] %-20s align2^%d size=%d\n", idx, op, a, b)
		case OpCallIndirect, OpBlock:
			a, b, _ := inst.FieldA8B8C8()
			out += fmt.Sprintf("[%04d] %-20s in=%d out=%d\n", idx, op, a, b)
		default:
			out += fmt.Sprintf("[%04d] %-20s\n", idx, op)
		}
	}
	return out
}
