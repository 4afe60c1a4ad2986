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

// This file documents where each peephole rule lives, since most of
// them are applied inline at the point of emission rather than as a
// separate post-pass (the builder folds constants and elides dead stack
// traffic as it emits, rather than running a second optimize pass over
// already-built code):
//
//   - pop-of-side-effect-free-producer elision: Builder.elideProducer,
//     used by BuildPopTop, BuildArrayElement (constant index), and the
//     call_indirect/call_builtin constant folds.
//   - load-after-store-to-same-local folding: BuildLoadLocalValue checks
//     the current block's lastStoredValue before emitting load_local_value.
//   - array_element-with-constant-index folding: BuildArrayElement.
//   - cc-with-constant folding: BuildCC.foldCC.
//   - branch2 cc-fusion (redundant cc elision ahead of a branch), lowered to
//     a single-operand branch_ne/lt/le/ge/gt: BuildBranch2, branch2Op.
//   - branch3 with a constant operand or with all three targets equal folds
//     to pop+jump: BuildBranch3.
//   - branch3 two-of-three-targets merge into a single always-pop branch:
//     branch3Merge, applied during Finish's lowering pass since it depends
//     on the block's terminator targets rather than its instruction stream.
//   - call_indirect-with-constant-address folding to a direct call:
//     BuildCallIndirect.
//   - call_builtin-with-all-constant-inputs constant folding: BuildCallBuiltin,
//     delegated to the Builder's ConstFolder so this package never needs to
//     run the VM dispatcher itself.
//
// Dead-code and common-subexpression elimination beyond same-block, same-
// local folding are intentionally not attempted: the shadow value stack has
// no cross-block value identity (every block's inputs are fresh opaque
// values by construction), so anything broader would need a real SSA
// form, which this IR deliberately does not have.
package builder
