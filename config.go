package wazi

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tetratelabs/wazi/internal/engine/interpreter"
	"github.com/tetratelabs/wazi/internal/wasm"
)

// RuntimeConfig controls runtime behavior, with the default implementation as NewRuntimeConfig
//
// Note: RuntimeConfig is immutable. Each WithXXX function returns a new instance including the corresponding change.
type RuntimeConfig struct {
	callStackCeiling   int
	memoryLimitPages   uint32
	tableLimitElements uint32
	fuel               uint64
	closeOnContextDone bool
	logger             *zap.Logger
	registerer         prometheus.Registerer
}

// defaultConfig helps avoid copy/pasting the wrong defaults.
var defaultConfig = &RuntimeConfig{
	callStackCeiling:   interpreter.DefaultCallStackCeiling,
	memoryLimitPages:   wasm.MemoryLimitPages,
	tableLimitElements: wasm.TableLimitElements,
}

// NewRuntimeConfig returns the default configuration: 2000 nested calls, 65536 pages of memory, 10 million elements
// per table, no fuel limit, no context polling, the shared logger and no metrics.
func NewRuntimeConfig() *RuntimeConfig {
	return defaultConfig.clone()
}

// clone makes a deep copy of this runtime config.
func (c *RuntimeConfig) clone() *RuntimeConfig {
	ret := *c
	return &ret
}

// WithCallStackCeiling sets the maximum depth of nested function calls, host functions included. Exceeding it traps
// with "callstack overflow". Values less than one restore the default of 2000.
func (c *RuntimeConfig) WithCallStackCeiling(ceiling int) *RuntimeConfig {
	ret := c.clone()
	if ceiling < 1 {
		ceiling = interpreter.DefaultCallStackCeiling
	}
	ret.callStackCeiling = ceiling
	return ret
}

// WithMemoryLimitPages reduces the maximum number of pages a module can define from 65536 pages (4GiB) to a lower
// value.
//
// Notes:
//   - If a module defines no memory max limit, its memory can grow up to this value.
//   - If a module defines a memory min larger than this amount, it will fail to compile (Runtime.CompileModule).
//   - Any "memory.grow" instruction that results in a larger value than this fails, returning -1.
//   - Values larger than 65536 are ignored.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem
func (c *RuntimeConfig) WithMemoryLimitPages(memoryLimitPages uint32) *RuntimeConfig {
	ret := c.clone()
	if memoryLimitPages > wasm.MemoryLimitPages {
		memoryLimitPages = wasm.MemoryLimitPages
	}
	ret.memoryLimitPages = memoryLimitPages
	return ret
}

// WithTableLimitElements sets the maximum number of elements of any table, defaulting to 10 million.
//
// Notes:
//   - If a module defines a table min larger than this amount, it fails to instantiate.
//   - Any "table.grow" instruction that results in a larger value than this fails, returning -1.
//   - Tables defined by Imports.WithTable are capped by the runtime that instantiates them.
func (c *RuntimeConfig) WithTableLimitElements(tableLimitElements uint32) *RuntimeConfig {
	ret := c.clone()
	ret.tableLimitElements = tableLimitElements
	return ret
}

// WithFuel limits each exported function call to the given number of instructions. A call that runs out traps with
// "fuel exhausted". Zero, the default, means unlimited.
func (c *RuntimeConfig) WithFuel(fuel uint64) *RuntimeConfig {
	ret := c.clone()
	ret.fuel = fuel
	return ret
}

// WithCloseOnContextDone ensures the executions of functions to be terminated under one of the following
// circumstances:
//
//   - context.Context passed to the Call method of api.Function is canceled during execution.
//   - context.Context passed to the Call method of api.Function reaches timeout during execution.
//
// The terminated call traps with "context done". This defaults to false, as polling the context slows down the
// interpreter. Host functions are not interrupted, so they should observe the context themselves.
func (c *RuntimeConfig) WithCloseOnContextDone(closeOnContextDone bool) *RuntimeConfig {
	ret := c.clone()
	ret.closeOnContextDone = closeOnContextDone
	return ret
}

// WithLogger sets the logger of the runtime. Defaults to the process-wide logger, which discards everything.
func (c *RuntimeConfig) WithLogger(logger *zap.Logger) *RuntimeConfig {
	ret := c.clone()
	ret.logger = logger
	return ret
}

// WithMetricsRegisterer registers the "wazi" metrics with the registerer. Metrics are off by default.
//
// Note: Metrics of one namespace can only be registered once per registerer. Use a distinct registerer per runtime,
// such as prometheus.NewRegistry.
func (c *RuntimeConfig) WithMetricsRegisterer(registerer prometheus.Registerer) *RuntimeConfig {
	ret := c.clone()
	ret.registerer = registerer
	return ret
}

// ModuleConfig configures how a compiled module is instantiated (Runtime.InstantiateModule).
//
// Note: ModuleConfig is immutable. Each WithXXX function returns a new instance including the corresponding change.
type ModuleConfig struct {
	name    string
	nameSet bool
	imports *Imports
}

// NewModuleConfig returns a configuration that uses the module's own name and resolves imports only against modules
// already instantiated in the runtime.
func NewModuleConfig() *ModuleConfig {
	return &ModuleConfig{}
}

// clone makes a deep copy of this module config.
func (c *ModuleConfig) clone() *ModuleConfig {
	ret := *c
	return &ret
}

// WithName configures the module name. Defaults to what was decoded from the custom name section.
//
// Instantiating the same CompiledModule twice requires distinct names, as names are unique per runtime.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#name-section%E2%91%A0
func (c *ModuleConfig) WithName(name string) *ModuleConfig {
	ret := c.clone()
	ret.name = name
	ret.nameSet = true
	return ret
}

// WithImports sets the registry imports are resolved against first. Modules it doesn't define are looked up by name
// in the runtime.
func (c *ModuleConfig) WithImports(imports *Imports) *ModuleConfig {
	ret := c.clone()
	ret.imports = imports
	return ret
}
