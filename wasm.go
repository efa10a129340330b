// Package wazi interprets WebAssembly 1.0 (20191205) modules in the Binary Format.
package wazi

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tetratelabs/wazi/api"
	"github.com/tetratelabs/wazi/internal/engine/interpreter"
	"github.com/tetratelabs/wazi/internal/logging"
	"github.com/tetratelabs/wazi/internal/metrics"
	"github.com/tetratelabs/wazi/internal/wasm"
	"github.com/tetratelabs/wazi/internal/wasm/binary"
)

// Runtime allows embedding of WebAssembly 1.0 (20191205) modules.
//
// Ex.
//
//	ctx := context.Background()
//	r := wazi.NewRuntime(ctx)
//	defer r.Close(ctx) // This closes everything this Runtime created.
//
//	compiled, _ := r.CompileModule(ctx, source)
//	module, _ := r.InstantiateModule(ctx, compiled, wazi.NewModuleConfig().WithName("math"))
//	results, _ := module.ExportedFunction("fib").Call(ctx, 10)
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/
type Runtime interface {
	// CompileModule decodes the WebAssembly 1.0 (20191205) binary source, validates it and compiles its function
	// bodies, or errs if any step fails.
	//
	// Note: The resulting module name defaults to what was decoded from the custom name section.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#name-section%E2%91%A0
	CompileModule(ctx context.Context, source []byte) (CompiledModule, error)

	// InstantiateModule instantiates the compiled module or errs if any import can't be resolved, an initializer is
	// invalid, a segment is out of bounds or the start function traps. On error, nothing is left in the Runtime.
	//
	// Imports are resolved against ModuleConfig.WithImports first, then against the modules already instantiated
	// by this Runtime, by module name.
	InstantiateModule(ctx context.Context, compiled CompiledModule, config *ModuleConfig) (api.Module, error)

	// Instantiate is a convenience that calls CompileModule then InstantiateModule with NewModuleConfig.
	Instantiate(ctx context.Context, source []byte) (api.Module, error)

	// Module returns an instantiated module in this runtime or nil if there aren't any.
	Module(moduleName string) api.Module

	// Closer closes all compiled code and modules of this runtime.
	api.Closer
}

// NewRuntime returns a runtime with a configuration of NewRuntimeConfig.
func NewRuntime(ctx context.Context) Runtime {
	return NewRuntimeWithConfig(ctx, NewRuntimeConfig())
}

// NewRuntimeWithConfig returns a runtime with the given configuration.
func NewRuntimeWithConfig(ctx context.Context, config *RuntimeConfig) Runtime {
	logger := config.logger
	if logger == nil {
		logger = logging.Logger()
	}

	var recorder *metrics.Recorder
	if config.registerer != nil {
		var err error
		if recorder, err = metrics.New(config.registerer); err != nil {
			// The runtime still works without metrics.
			logger.Warn("metrics disabled", zap.Error(err))
		}
	}

	engine := interpreter.NewEngine(interpreter.Config{
		CallStackCeiling:   config.callStackCeiling,
		Fuel:               config.fuel,
		CloseOnContextDone: config.closeOnContextDone,
		Logger:             logger.Named("interpreter"),
	})
	store := wasm.NewStore(engine, config.memoryLimitPages, logger.Named("store"), recorder)
	store.SetTableLimitElements(config.tableLimitElements)
	return &runtime{
		store:            store,
		logger:           logger,
		memoryLimitPages: config.memoryLimitPages,
	}
}

// runtime allows decoupling of public interfaces from internal representation.
type runtime struct {
	store            *wasm.Store
	logger           *zap.Logger
	memoryLimitPages uint32
}

// CompileModule implements Runtime.CompileModule
func (r *runtime) CompileModule(ctx context.Context, source []byte) (CompiledModule, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if source == nil {
		return nil, errors.New("source == nil")
	}

	internal, err := binary.DecodeModule(source)
	if err != nil {
		return nil, err
	}
	if err = internal.Validate(r.memoryLimitPages); err != nil {
		return nil, fmt.Errorf("invalid module: %w", err)
	}
	if err = r.store.Engine.CompileModule(ctx, internal); err != nil {
		return nil, err
	}

	c := &compiledModule{module: internal, engine: r.store.Engine}
	if internal.NameSection != nil {
		c.name = internal.NameSection.ModuleName
	}
	r.logger.Debug("compiled module", logging.Module(c.name),
		zap.Int("functions", len(internal.FunctionSection)), zap.Int("imports", len(internal.ImportSection)))
	return c, nil
}

// InstantiateModule implements Runtime.InstantiateModule
func (r *runtime) InstantiateModule(ctx context.Context, compiled CompiledModule, config *ModuleConfig) (api.Module, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if config == nil {
		config = NewModuleConfig()
	}
	c, ok := compiled.(*compiledModule)
	if !ok {
		return nil, errors.New("compiled module was not created by wazi")
	}
	if c.engine != r.store.Engine {
		return nil, errors.New("compiled module was created by another runtime")
	}
	if c.closed {
		return nil, fmt.Errorf("module[%s] is closed", c.name)
	}

	name := c.name
	if config.nameSet {
		name = config.name
	}

	imports := wasm.Imports{}
	if config.imports != nil {
		var err error
		if imports, err = config.imports.bind(ctx, r.store); err != nil {
			return nil, fmt.Errorf("imports: %w", err)
		}
	}
	for _, i := range c.module.ImportSection {
		if _, ok := imports[i.Module]; ok {
			continue
		}
		if m := r.store.Module(i.Module); m != nil {
			imports[i.Module] = m
		}
	}

	m, err := r.store.Instantiate(ctx, c.module, name, imports)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Instantiate implements Runtime.Instantiate
func (r *runtime) Instantiate(ctx context.Context, source []byte) (api.Module, error) {
	compiled, err := r.CompileModule(ctx, source)
	if err != nil {
		return nil, err
	}
	return r.InstantiateModule(ctx, compiled, NewModuleConfig())
}

// Module implements Runtime.Module
func (r *runtime) Module(moduleName string) api.Module {
	if m := r.store.Module(moduleName); m != nil {
		return m
	}
	return nil
}

// Close implements api.Closer
func (r *runtime) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return r.store.CloseWithContext(ctx)
}

// CompiledModule is a WebAssembly 1.0 (20191205) module ready to be instantiated (Runtime.InstantiateModule) as an
// api.Module.
//
// Note: In WebAssembly language, this is a decoded, validated, and compiled module. wazi avoids using the name
// "Module" for both before and after instantiation as the name conflation has caused confusion.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#semantic-phases%E2%91%A0
type CompiledModule interface {
	// Name returns the module name decoded from the custom name section, or empty if there was none.
	Name() string

	// Close releases the compiled code. Modules already instantiated from it keep working.
	api.Closer
}

type compiledModule struct {
	module *wasm.Module
	name   string
	// engine is the engine that compiled module, used to reject use with another Runtime.
	engine wasm.Engine
	closed bool
}

// Name implements CompiledModule.Name
func (c *compiledModule) Name() string {
	return c.name
}

// Close implements CompiledModule.Close
func (c *compiledModule) Close(context.Context) error {
	if !c.closed {
		c.closed = true
		c.engine.DeleteCompiledModule(c.module)
	}
	return nil
}
