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
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/irvm/builtins/cryptolib"
	"github.com/probechain/irvm/builtins/intlib"
	"github.com/probechain/irvm/builtins/memlib"
	"github.com/probechain/irvm/builtins/testlib"
	"github.com/probechain/irvm/config"
	"github.com/probechain/irvm/introspect"
	"github.com/probechain/irvm/ir"
	"github.com/probechain/irvm/vm"
)

var dumpFlag = cli.BoolFlag{
	Name:  "dump",
	Usage: "dump a process state snapshot to stderr after the run",
}

var runCommand = cli.Command{
	Name:      "run",
	Usage:     "execute a function to completion and print its results",
	ArgsUsage: "<arg...>",
	Flags:     []cli.Flag{entryFlag, stepLimitFlag, configFileFlag, dumpFlag},
	Action:    runAction,
}

func loadVM(ctx *cli.Context) (*vm.VM, *vm.Registry, error) {
	cfg := config.Default()
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := config.Load(file, &cfg); err != nil {
			return nil, nil, &loadError{err}
		}
	}
	vmCfg := cfg.ToVMConfig()
	if sl := ctx.Uint64(stepLimitFlag.Name); sl != 0 {
		vmCfg.StepLimit = sl
	}
	vmCfg.PanicHandler = func(p *vm.Process, pnc *vm.Panic) {
		fmt.Println(color.RedString("panic:"), pnc.Message)
		for _, frame := range pnc.Stack {
			fmt.Printf("    at %s:%d\n", frame.Function, frame.InstIdx)
		}
	}

	reg := vm.NewRegistry(1 << 20)
	intlib.Register(reg)
	memlib.Register(reg)
	testlib.Register(reg)
	cryptolib.Register(reg)
	registerSampleBuiltins(reg)
	return vm.NewVM(vmCfg, reg), reg, nil
}

func parseArgs(raw []string) ([]ir.Value, error) {
	out := make([]ir.Value, 0, len(raw))
	for _, a := range raw {
		n, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %q is not an integer: %w", a, err)
		}
		out = append(out, ir.ValueFromI64(n))
	}
	return out, nil
}

func runAction(ctx *cli.Context) error {
	v, reg, err := loadVM(ctx)
	if err != nil {
		return err
	}
	module, err := buildSampleModule(reg)
	if err != nil {
		return &loadError{err}
	}
	entry := ctx.String(entryFlag.Name)
	program, err := vm.NewProgram(module, entry)
	if err != nil {
		return &loadError{err}
	}
	args, err := parseArgs(ctx.Args())
	if err != nil {
		return &loadError{err}
	}

	proc, out, err := vm.StartProcess(v, program, args)
	if proc != nil && ctx.Bool(dumpFlag.Name) {
		spew.Fdump(os.Stderr, introspect.TakeSnapshot(proc, true))
	}
	if err != nil {
		return err
	}
	for i, o := range out {
		fmt.Printf("result[%d] = %d\n", i, o.I64())
	}
	return nil
}
