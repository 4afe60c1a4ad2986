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

// Command irvm is the standalone host for the stack IR runtime: a
// run/disasm/repl CLI over a built-in demo module.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"gopkg.in/urfave/cli.v1"
)

var (
	gitCommit = ""
	gitDate   = ""
)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	entryFlag = cli.StringFlag{
		Name:  "entry",
		Usage: "entry function name to run",
		Value: "main",
	}
	stepLimitFlag = cli.Uint64Flag{
		Name:  "steplimit",
		Usage: "abort after this many dispatched instructions (0 = unlimited)",
	}
	noColorFlag = cli.BoolFlag{
		Name:  "no-color",
		Usage: "disable ANSI colored output",
	}
)

var appFlags = []cli.Flag{
	configFileFlag,
	entryFlag,
	stepLimitFlag,
	noColorFlag,
}

func main() {
	app := cli.NewApp()
	app.Name = "irvm"
	app.Usage = "run and inspect stack-IR modules"
	app.Version = versionString()
	app.Flags = appFlags
	app.Commands = []cli.Command{
		runCommand,
		disasmCommand,
		replCommand,
	}
	app.Before = func(ctx *cli.Context) error {
		color.NoColor = ctx.GlobalBool(noColorFlag.Name)
		return nil
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(exitCodeForError(err))
	}
}

func versionString() string {
	if gitCommit == "" {
		return "dev"
	}
	if gitDate == "" {
		return gitCommit
	}
	return fmt.Sprintf("%s-%s", gitCommit, gitDate)
}

// Distinct process exit codes, so a host scripting irvm can distinguish a
// VM panic from a module load failure from a missing entry point: 0
// success, 1 I/O or usage, 2 module build/parse failure, 3 entry function
// missing, 4 panic (a blown step budget is a panic kind).
const (
	exitOK      = 0
	exitIO      = 1
	exitParse   = 2
	exitNoEntry = 3
	exitPanic   = 4
)

func exitCodeForError(err error) int {
	switch err.(type) {
	case *cli.ExitError:
		return exitIO
	}
	switch {
	case isPanicError(err) || isStepLimitError(err):
		return exitPanic
	case isEntryError(err):
		return exitNoEntry
	case isLoadError(err):
		return exitParse
	default:
		return exitIO
	}
}
