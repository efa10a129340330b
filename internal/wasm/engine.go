package wasm

import "context"

// Engine is a Store-scoped mechanism to compile functions declared or imported by a module.
// This is a top-level type implemented by an interpreter.
type Engine interface {
	// CompileModule compiles the function bodies of the module, caching the result for NewModuleEngine.
	//
	// Note: Input parameters must be pre-validated with wasm.Module Validate, to ensure no fields are invalid
	// due to reasons such as out-of-bounds. Errors returned here are about function bodies.
	CompileModule(ctx context.Context, module *Module) error

	// CompiledModuleCount is exported for testing, to track the size of the compilation cache.
	CompiledModuleCount() uint32

	// DeleteCompiledModule releases compilation caches for the given module (source).
	// Note: it is safe to call this function for a module from which module instances are instantiated even when these
	// module instances have outstanding calls.
	DeleteCompiledModule(module *Module)

	// NewModuleEngine binds the compiled functions of the module to the instance. The instance's function index space,
	// memory, tables and globals are already allocated, but segments aren't applied yet.
	NewModuleEngine(module *Module, instance *ModuleInstance) (ModuleEngine, error)
}

// ModuleEngine implements function calls for a given module.
type ModuleEngine interface {
	// Call invokes a function instance f defined by this module with given parameters, returning its results.
	//
	// A trap or a host function panic is returned as an error and ends the whole call chain.
	Call(ctx context.Context, f *FunctionInstance, params ...uint64) (results []uint64, err error)
}
