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
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/irvm/ir"
	"github.com/probechain/irvm/vm"
)

var disasmCommand = cli.Command{
	Name:      "disasm",
	Usage:     "print the signature table and instruction listing for every exported function",
	ArgsUsage: "",
	Action:    disasmAction,
}

func disasmAction(ctx *cli.Context) error {
	reg := vm.NewRegistry(0)
	registerSampleBuiltins(reg)
	module, err := buildSampleModule(reg)
	if err != nil {
		return &loadError{err}
	}

	printSignatures(module)
	for _, fn := range module.Functions() {
		if !fn.Exported {
			continue
		}
		fmt.Printf("\n%s:\n%s", fn.Name, ir.Disassemble(fn.Insts))
	}
	return nil
}

func printSignatures(module *ir.Module) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"function", "in", "out", "max_vstack", "max_cstack"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, fn := range module.Functions() {
		if !fn.Exported {
			continue
		}
		table.Append([]string{
			fn.Name,
			fmt.Sprintf("%d", fn.InputCount),
			fmt.Sprintf("%d", fn.OutputCount),
			fmt.Sprintf("%d", fn.MaxVstackSize),
			fmt.Sprintf("%d", fn.MaxCstackSize),
		})
	}
	table.Render()
}
