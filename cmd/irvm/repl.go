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
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/irvm/ir"
	"github.com/probechain/irvm/vm"
)

var replCommand = cli.Command{
	Name:      "repl",
	Usage:     "interactively call sample-module functions",
	ArgsUsage: "",
	Action:    replAction,
}

const historyFile = ".irvm_history"

func historyPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, historyFile)
	}
	return historyFile
}

func replAction(ctx *cli.Context) error {
	v, reg, err := loadVM(ctx)
	if err != nil {
		return err
	}
	module, err := buildSampleModule(reg)
	if err != nil {
		return &loadError{err}
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	histPath := historyPath()
	if f, err := os.Open(histPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println(color.CyanString("irvm repl — call <func> <args...>, list, quit"))
	for {
		input, err := line.Prompt("irvm> ")
		if err == io.EOF || err == liner.ErrPromptAborted {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "list":
			for _, fn := range module.Functions() {
				if fn.Exported {
					fmt.Printf("  %s(in=%d, out=%d)\n", fn.Name, fn.InputCount, fn.OutputCount)
				}
			}
		case "call":
			if len(fields) < 2 {
				fmt.Println(color.RedString("usage: call <func> <args...>"))
				continue
			}
			replCall(v, module, fields[1], fields[2:])
		default:
			fmt.Println(color.RedString("unknown command:"), fields[0])
		}
	}
}

func replCall(v *vm.VM, module *ir.Module, name string, rawArgs []string) {
	program, err := vm.NewProgram(module, name)
	if err != nil {
		fmt.Println(color.RedString("error:"), err)
		return
	}
	args, err := parseArgs(rawArgs)
	if err != nil {
		fmt.Println(color.RedString("error:"), err)
		return
	}
	_, out, err := vm.StartProcess(v, program, args)
	if err != nil {
		fmt.Println(color.RedString("error:"), err)
		return
	}
	parts := make([]string, len(out))
	for i, o := range out {
		parts[i] = fmt.Sprintf("%d", o.I64())
	}
	fmt.Println("=>", strings.Join(parts, ", "))
}
