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

// Package config loads irvm host configuration from a TOML file: a
// vm.Config plus the handful of process-level knobs a host embedding irvm
// needs, layered as defaults first, file second, flags third.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"

	"github.com/probechain/irvm/vm"
)

// tomlSettings keeps TOML keys matching Go struct field names verbatim;
// an unrecognized field is a load error rather than silently ignored.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see godoc for %s#%s", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field %q is not defined in %s%s", field, rt.String(), link)
	},
}

// VMConfig is the TOML-serializable mirror of vm.Config; duration-free
// scalar fields only, since PanicHandler and UserData are host code, not
// data, and cannot round-trip through a config file.
type VMConfig struct {
	InitialVstackElems uint32
	MaxVstackElems     uint32
	InitialCstackBytes uint32
	MaxCstackBytes     uint32
	StepLimit          uint64
	GCThreshold        int
}

// EntryConfig names the module and function a run/repl invocation should
// execute by default.
type EntryConfig struct {
	ModulePath string
	Entry      string
}

// Config is the full on-disk shape for an irvm host binary.
type Config struct {
	VM    VMConfig
	Entry EntryConfig
}

// Default returns a Config seeded from vm.DefaultConfig; callers layer a
// config file and then flag overrides on top.
func Default() Config {
	d := vm.DefaultConfig()
	return Config{
		VM: VMConfig{
			InitialVstackElems: d.InitialVstackElems,
			MaxVstackElems:     d.MaxVstackElems,
			InitialCstackBytes: d.InitialCstackBytes,
			MaxCstackBytes:     d.MaxCstackBytes,
			StepLimit:          d.StepLimit,
			GCThreshold:        d.GCThreshold,
		},
		Entry: EntryConfig{Entry: "main"},
	}
}

// Load reads and decodes a TOML file into cfg, prefixing any LineError
// with the file name so the message points at the offending line.
func Load(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// ToVMConfig builds a vm.Config from the loaded scalar fields, leaving
// PanicHandler and UserData for the caller to attach afterward.
func (c Config) ToVMConfig() vm.Config {
	return vm.Config{
		InitialVstackElems: c.VM.InitialVstackElems,
		MaxVstackElems:     c.VM.MaxVstackElems,
		InitialCstackBytes: c.VM.InitialCstackBytes,
		MaxCstackBytes:     c.VM.MaxCstackBytes,
		StepLimit:          c.VM.StepLimit,
		GCThreshold:        c.VM.GCThreshold,
	}
}

// Dump marshals cfg back to TOML text, so a host can print its effective
// configuration.
func Dump(cfg Config) ([]byte, error) {
	return tomlSettings.Marshal(&cfg)
}
