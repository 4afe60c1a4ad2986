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

// Package cryptolib registers the hash and post-quantum signature verify
// builtins a host typically wires into a vm.VM: SHA-256, Keccak-256,
// SHAKE256, and ML-DSA (Dilithium) verification at two strengths.
package cryptolib

import (
	"crypto/sha256"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode2"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"

	"github.com/probechain/irvm/ir"
	"github.com/probechain/irvm/vm"
)

// Builtin ids. Hosts embedding this package reserve this block in their own
// id space; a real deployment would source these from a shared registry
// instead of hardcoding them.
const (
	IDSha256     = 0x1000
	IDKeccak256  = 0x1001
	IDShake256   = 0x1002
	IDMLDSA2Verify = 0x1010
	IDMLDSA3Verify = 0x1011
)

// readBytes reads length bytes starting at addr out of the process memory
// table, the same access path deref_const uses for scalar reads but
// generalized to an arbitrary byte run for hashing/signature inputs.
func readBytes(p *vm.Process, addr ir.Address, length uint32) ([]byte, error) {
	a, err := p.Memory.CheckLoad(addr, ir.Layout{Size: length, Alignment: 1}, false)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, a.Data[addr.Offset:addr.Offset+length])
	return out, nil
}

// writeBytes stores data into the process memory table at addr, used to
// hand a hash digest back to the caller as an out-parameter address.
func writeBytes(p *vm.Process, addr ir.Address, data []byte) error {
	a, err := p.Memory.CheckLoad(addr, ir.Layout{Size: uint32(len(data)), Alignment: 1}, true)
	if err != nil {
		return err
	}
	copy(a.Data[addr.Offset:], data)
	return nil
}

// Register installs every cryptolib builtin into reg. sha256 and keccak256
// take (in_addr, in_len, out_addr) and write their 32-byte digest to
// out_addr; shake256 takes (in_addr, in_len, out_len, out_addr) and writes
// out_len bytes. Anything too large for one Value word travels by address.
func Register(reg *vm.Registry) {
	reg.Register(&vm.Builtin{
		ID: IDSha256, Name: "crypto.sha256", InputCount: 3, OutputCount: 0,
		Impl: func(p *vm.Process, args []ir.Value) ([]ir.Value, error) {
			in := ir.UnpackAddress(args[0])
			length := uint32(args[1].U64())
			out := ir.UnpackAddress(args[2])
			data, err := readBytes(p, in, length)
			if err != nil {
				return nil, err
			}
			digest := sha256.Sum256(data)
			return nil, writeBytes(p, out, digest[:])
		},
	})

	reg.Register(&vm.Builtin{
		ID: IDKeccak256, Name: "crypto.keccak256", InputCount: 3, OutputCount: 0,
		Impl: func(p *vm.Process, args []ir.Value) ([]ir.Value, error) {
			in := ir.UnpackAddress(args[0])
			length := uint32(args[1].U64())
			out := ir.UnpackAddress(args[2])
			data, err := readBytes(p, in, length)
			if err != nil {
				return nil, err
			}
			h := sha3.NewLegacyKeccak256()
			h.Write(data)
			return nil, writeBytes(p, out, h.Sum(nil))
		},
	})

	reg.Register(&vm.Builtin{
		ID: IDShake256, Name: "crypto.shake256", InputCount: 4, OutputCount: 0,
		Impl: func(p *vm.Process, args []ir.Value) ([]ir.Value, error) {
			in := ir.UnpackAddress(args[0])
			length := uint32(args[1].U64())
			outLen := uint32(args[2].U64())
			out := ir.UnpackAddress(args[3])
			data, err := readBytes(p, in, length)
			if err != nil {
				return nil, err
			}
			buf := make([]byte, outLen)
			sha3.ShakeSum256(buf, data)
			return nil, writeBytes(p, out, buf)
		},
	})

	reg.Register(&vm.Builtin{
		ID: IDMLDSA2Verify, Name: "crypto.mldsa2_verify", InputCount: 5, OutputCount: 1,
		Impl: func(p *vm.Process, args []ir.Value) ([]ir.Value, error) {
			ok, err := verifyMLDSA2(p, args)
			if err != nil {
				return nil, err
			}
			v := ir.Value(0)
			if ok {
				v = 1
			}
			return []ir.Value{v}, nil
		},
	})

	reg.Register(&vm.Builtin{
		ID: IDMLDSA3Verify, Name: "crypto.mldsa3_verify", InputCount: 5, OutputCount: 1,
		Impl: func(p *vm.Process, args []ir.Value) ([]ir.Value, error) {
			ok, err := verifyMLDSA3(p, args)
			if err != nil {
				return nil, err
			}
			v := ir.Value(0)
			if ok {
				v = 1
			}
			return []ir.Value{v}, nil
		},
	})
}

// verifyMLDSA2 checks a Dilithium mode2 (ML-DSA-44 strength) signature over
// a message, given (pubkey_addr, msg_addr, msg_len, sig_addr, sig_len).
func verifyMLDSA2(p *vm.Process, args []ir.Value) (bool, error) {
	pubAddr := ir.UnpackAddress(args[0])
	msgAddr := ir.UnpackAddress(args[1])
	msgLen := uint32(args[2].U64())
	sigAddr := ir.UnpackAddress(args[3])
	sigLen := uint32(args[4].U64())

	pubBytes, err := readBytes(p, pubAddr, uint32(mode2.PublicKeySize))
	if err != nil {
		return false, err
	}
	msg, err := readBytes(p, msgAddr, msgLen)
	if err != nil {
		return false, err
	}
	sig, err := readBytes(p, sigAddr, sigLen)
	if err != nil {
		return false, err
	}

	var pk mode2.PublicKey
	if err := pk.UnmarshalBinary(pubBytes); err != nil {
		return false, fmt.Errorf("cryptolib: malformed ml-dsa public key: %w", err)
	}
	return mode2.Verify(&pk, msg, sig), nil
}

// verifyMLDSA3 checks a Dilithium mode3 (ML-DSA-65 strength) signature,
// same argument shape as verifyMLDSA2.
func verifyMLDSA3(p *vm.Process, args []ir.Value) (bool, error) {
	pubAddr := ir.UnpackAddress(args[0])
	msgAddr := ir.UnpackAddress(args[1])
	msgLen := uint32(args[2].U64())
	sigAddr := ir.UnpackAddress(args[3])
	sigLen := uint32(args[4].U64())

	pubBytes, err := readBytes(p, pubAddr, uint32(mode3.PublicKeySize))
	if err != nil {
		return false, err
	}
	msg, err := readBytes(p, msgAddr, msgLen)
	if err != nil {
		return false, err
	}
	sig, err := readBytes(p, sigAddr, sigLen)
	if err != nil {
		return false, err
	}

	var pk mode3.PublicKey
	if err := pk.UnmarshalBinary(pubBytes); err != nil {
		return false, fmt.Errorf("cryptolib: malformed ml-dsa public key: %w", err)
	}
	return mode3.Verify(&pk, msg, sig), nil
}
