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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOffset24RoundTrip(t *testing.T) {
	for _, off := range []int32{0, 1, -1, 1 << 20, -(1 << 20)} {
		inst, ok := EncodeOffset24(OpJump, off)
		require.True(t, ok)
		require.Equal(t, OpJump, inst.Op())
		require.Equal(t, off, inst.Offset24())
	}
}

func TestOffset24Overflow(t *testing.T) {
	_, ok := EncodeOffset24(OpJump, 1<<23)
	require.False(t, ok)
}

func TestImm24RoundTrip(t *testing.T) {
	inst := EncodeImm24(OpCall, 0xABCDEF)
	require.Equal(t, OpCall, inst.Op())
	require.EqualValues(t, 0xABCDEF, inst.Imm24())
}

func TestFieldA8B16RoundTrip(t *testing.T) {
	inst := EncodeA8B16(OpFiberResume, 7, 4096)
	a, b := inst.FieldA8B16()
	require.EqualValues(t, 7, a)
	require.EqualValues(t, 4096, b)
}

func TestFieldA8B8C8RoundTrip(t *testing.T) {
	inst := EncodeA8B8C8(OpFiberResume, 3, 9, 200)
	a, b, c := inst.FieldA8B8C8()
	require.EqualValues(t, 3, a)
	require.EqualValues(t, 9, b)
	require.EqualValues(t, 200, c)
}

func TestConstChainSmall(t *testing.T) {
	v := ValueFromU64(42)
	chain := EncodeConstChain(v)
	require.Len(t, chain, 1)

	got, consumed := DecodeConstChain(chain)
	require.Equal(t, 1, consumed)
	require.Equal(t, v, got)
}

func TestConstChainWide(t *testing.T) {
	v := ValueFromU64(0xFFFFFFFFFFFFFFFF)
	chain := EncodeConstChain(v)
	require.Greater(t, len(chain), 1)

	got, consumed := DecodeConstChain(chain)
	require.Equal(t, len(chain), consumed)
	require.Equal(t, v, got)
}

func TestAddressPackRoundTrip(t *testing.T) {
	addr := Address{Allocation: 123, Generation: 2, Offset: 99}
	v := addr.Pack()
	got := UnpackAddress(v)
	require.Equal(t, addr, got)
}
