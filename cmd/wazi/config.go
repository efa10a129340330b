package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/tetratelabs/wazi"
	"github.com/tetratelabs/wazi/api"
	"github.com/tetratelabs/wazi/internal/wasm"
)

// fileConfig is the TOML configuration read with --config.
//
// Ex.
//
//	[runtime]
//	fuel = 1000000
//	call_stack_ceiling = 500
//	memory_limit_pages = 16
//	table_limit_elements = 1000
//	timeout = "5s"
//
//	[[global]]
//	module = "env"
//	name = "zero"
//	type = "i32"
//	value = "0"
//
//	[[memory]]
//	module = "env"
//	name = "memory"
//	min = 1
//	max = 2
type fileConfig struct {
	Runtime  runtimeSection `toml:"runtime"`
	Globals  []globalImport `toml:"global"`
	Memories []memoryImport `toml:"memory"`
	Tables   []tableImport  `toml:"table"`
}

type runtimeSection struct {
	Fuel               uint64 `toml:"fuel"`
	CallStackCeiling   int    `toml:"call_stack_ceiling"`
	MemoryLimitPages   uint32 `toml:"memory_limit_pages"`
	TableLimitElements uint32 `toml:"table_limit_elements"`
	// Timeout is a time.ParseDuration string. When set, calls are interrupted once it elapses.
	Timeout string `toml:"timeout"`
}

type globalImport struct {
	Module  string `toml:"module"`
	Name    string `toml:"name"`
	Type    string `toml:"type"`
	Mutable bool   `toml:"mutable"`
	// Value is parsed like a function argument of Type.
	Value string `toml:"value"`
}

type memoryImport struct {
	Module string  `toml:"module"`
	Name   string  `toml:"name"`
	Min    uint32  `toml:"min"`
	Max    *uint32 `toml:"max"`
}

type tableImport struct {
	Module string  `toml:"module"`
	Name   string  `toml:"name"`
	Min    uint32  `toml:"min"`
	Max    *uint32 `toml:"max"`
}

// loadConfig returns an empty configuration when path is empty.
func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err = toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if _, err = cfg.timeout(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *fileConfig) timeout() (time.Duration, error) {
	if c.Runtime.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Runtime.Timeout)
	if err != nil {
		return 0, fmt.Errorf("runtime.timeout: %w", err)
	}
	return d, nil
}

// runtimeConfig applies the runtime section over the defaults. Zero values keep the default.
func (c *fileConfig) runtimeConfig() *wazi.RuntimeConfig {
	rc := wazi.NewRuntimeConfig()
	if c.Runtime.Fuel > 0 {
		rc = rc.WithFuel(c.Runtime.Fuel)
	}
	if c.Runtime.CallStackCeiling > 0 {
		rc = rc.WithCallStackCeiling(c.Runtime.CallStackCeiling)
	}
	if c.Runtime.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(c.Runtime.MemoryLimitPages)
	}
	if c.Runtime.TableLimitElements > 0 {
		rc = rc.WithTableLimitElements(c.Runtime.TableLimitElements)
	}
	if c.Runtime.Timeout != "" {
		rc = rc.WithCloseOnContextDone(true)
	}
	return rc
}

// memoryLimitPages is the limit modules are validated against, defaulting to 65536 pages.
func (c *fileConfig) memoryLimitPages() uint32 {
	if l := c.Runtime.MemoryLimitPages; l > 0 && l < wasm.MemoryLimitPages {
		return l
	}
	return wasm.MemoryLimitPages
}

// imports defines the host globals, memories and tables of the configuration.
func (c *fileConfig) imports() (*wazi.Imports, error) {
	imports := wazi.NewImports()
	for _, g := range c.Globals {
		valType, err := parseValueType(g.Type)
		if err != nil {
			return nil, fmt.Errorf("global[%s.%s]: %w", g.Module, g.Name, err)
		}
		val := uint64(0)
		if g.Value != "" {
			if val, err = parseValue(valType, g.Value); err != nil {
				return nil, fmt.Errorf("global[%s.%s]: %w", g.Module, g.Name, err)
			}
		}
		imports = imports.WithGlobal(g.Module, g.Name, valType, g.Mutable, val)
	}
	for _, m := range c.Memories {
		imports = imports.WithMemory(m.Module, m.Name, m.Min, m.Max)
	}
	for _, t := range c.Tables {
		imports = imports.WithTable(t.Module, t.Name, t.Min, t.Max)
	}
	return imports, nil
}

func parseValueType(name string) (api.ValueType, error) {
	switch name {
	case "i32":
		return api.ValueTypeI32, nil
	case "i64":
		return api.ValueTypeI64, nil
	case "f32":
		return api.ValueTypeF32, nil
	case "f64":
		return api.ValueTypeF64, nil
	case "funcref":
		return api.ValueTypeFuncref, nil
	case "externref":
		return api.ValueTypeExternref, nil
	}
	return 0, fmt.Errorf("unknown value type %q", name)
}
