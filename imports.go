package wazi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tetratelabs/wazi/api"
	"github.com/tetratelabs/wazi/internal/wasm"
)

// Imports is a registry of items a module imports, keyed by (module, name). Items are either defined by the host or
// the exports of an instantiated module.
//
// Ex. Below defines a function and a global in the module "env":
//
//	imports := wazi.NewImports().
//		WithFunc("env", "log", []api.ValueType{api.ValueTypeI32}, nil, logFn).
//		WithGlobal("env", "zero", api.ValueTypeI32, false, 0)
//	mod, _ := r.InstantiateModule(ctx, compiled, wazi.NewModuleConfig().WithImports(imports))
//
// Host memories, tables and globals are allocated when added, so every module importing them shares the same
// instance. An Imports can only be used with one Runtime.
//
// Note: The first error, such as a name defined twice, is returned by Runtime.InstantiateModule.
type Imports struct {
	hosts     map[string]*hostModule
	instances map[string]*wasm.ModuleInstance
	err       error

	// store is the store the host modules were built in, or nil if they need to be built.
	store *wasm.Store
	built wasm.Imports

	mux sync.Mutex
}

type hostModule struct {
	funcs    []*wasm.HostFunc
	memories map[string]*wasm.MemoryInstance
	tables   map[string]*wasm.TableInstance
	globals  map[string]*wasm.GlobalInstance
}

// NewImports returns an empty registry.
func NewImports() *Imports {
	return &Imports{hosts: map[string]*hostModule{}, instances: map[string]*wasm.ModuleInstance{}}
}

// WithFunc defines a Go function with the given signature.
//
// Ex. This adds two i32 parameters and returns their sum:
//
//	imports.WithFunc("math", "add", []api.ValueType{i32, i32}, []api.ValueType{i32},
//		api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
//			stack[0] = api.EncodeU32(api.DecodeU32(stack[0]) + api.DecodeU32(stack[1]))
//		}))
func (i *Imports) WithFunc(moduleName, name string, params, results []api.ValueType, fn api.GoModuleFunction) *Imports {
	i.mux.Lock()
	defer i.mux.Unlock()
	if fn == nil {
		i.setErr(fmt.Errorf("func[%s.%s] is nil", moduleName, name))
		return i
	}
	if h := i.host(moduleName); h != nil {
		h.funcs = append(h.funcs, wasm.NewGoFunc(name, params, results, fn))
	}
	return i
}

// WithGlobal defines a global with the initial value encoded as documented on api.ValueType.
func (i *Imports) WithGlobal(moduleName, name string, valType api.ValueType, mutable bool, val uint64) *Imports {
	i.mux.Lock()
	defer i.mux.Unlock()
	switch valType {
	case api.ValueTypeI32:
		val = uint64(uint32(val))
	case api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64, api.ValueTypeFuncref, api.ValueTypeExternref:
	default:
		i.setErr(fmt.Errorf("global[%s.%s] has invalid type %#x", moduleName, name, valType))
		return i
	}
	if h := i.host(moduleName); h != nil {
		h.globals[name] = wasm.NewGlobalInstance(&wasm.GlobalType{ValType: valType, Mutable: mutable}, val)
	}
	return i
}

// WithMemory defines a memory of minPages pages, growable to maxPages or 65536 pages if nil.
func (i *Imports) WithMemory(moduleName, name string, minPages uint32, maxPages *uint32) *Imports {
	i.mux.Lock()
	defer i.mux.Unlock()
	mem := &wasm.Memory{Min: minPages, Max: wasm.MemoryLimitPages}
	if maxPages != nil {
		mem.Max, mem.IsMaxEncoded = *maxPages, true
	}
	if minPages > mem.Max || mem.Max > wasm.MemoryLimitPages {
		i.setErr(fmt.Errorf("memory[%s.%s] has invalid limits: min %d, max %d", moduleName, name, minPages, mem.Max))
		return i
	}
	if h := i.host(moduleName); h != nil {
		h.memories[name] = wasm.NewMemoryInstance(mem, wasm.MemoryLimitPages)
	}
	return i
}

// WithTable defines a table of min null function references, growable to max or unbounded if nil.
func (i *Imports) WithTable(moduleName, name string, min uint32, max *uint32) *Imports {
	i.mux.Lock()
	defer i.mux.Unlock()
	if max != nil && min > *max {
		i.setErr(fmt.Errorf("table[%s.%s] has invalid limits: min %d, max %d", moduleName, name, min, *max))
		return i
	}
	if h := i.host(moduleName); h != nil {
		h.tables[name] = wasm.NewTableInstance(&wasm.Table{Min: min, Max: max, Type: wasm.RefTypeFuncref})
	}
	return i
}

// WithModule satisfies imports of moduleName with the exports of a module instantiated by the same Runtime. This
// allows importing a module under a name other than the one it was instantiated with.
func (i *Imports) WithModule(moduleName string, mod api.Module) *Imports {
	i.mux.Lock()
	defer i.mux.Unlock()
	inst, ok := mod.(*wasm.ModuleInstance)
	if !ok {
		i.setErr(fmt.Errorf("module[%s] was not instantiated by wazi", moduleName))
		return i
	}
	if _, ok = i.hosts[moduleName]; ok {
		i.setErr(fmt.Errorf("module[%s] is already defined by the host", moduleName))
		return i
	}
	i.instances[moduleName] = inst
	return i
}

// Memory returns the host memory of the given name or nil if it wasn't defined.
func (i *Imports) Memory(moduleName, name string) api.Memory {
	i.mux.Lock()
	defer i.mux.Unlock()
	if h, ok := i.hosts[moduleName]; ok {
		if mem, ok := h.memories[name]; ok {
			return mem
		}
	}
	return nil
}

// Table returns the host table of the given name or nil if it wasn't defined.
func (i *Imports) Table(moduleName, name string) api.Table {
	i.mux.Lock()
	defer i.mux.Unlock()
	if h, ok := i.hosts[moduleName]; ok {
		if t, ok := h.tables[name]; ok {
			return t
		}
	}
	return nil
}

// Global returns the host global of the given name or nil if it wasn't defined. Cast it to api.MutableGlobal to set
// a mutable global.
func (i *Imports) Global(moduleName, name string) api.Global {
	i.mux.Lock()
	defer i.mux.Unlock()
	if h, ok := i.hosts[moduleName]; ok {
		if g, ok := h.globals[name]; ok {
			return g.API()
		}
	}
	return nil
}

// host returns the host module to add an item to, or nil if it conflicts with WithModule. Adding an item invalidates
// the built host modules.
func (i *Imports) host(moduleName string) *hostModule {
	if _, ok := i.instances[moduleName]; ok {
		i.setErr(fmt.Errorf("module[%s] is already defined by WithModule", moduleName))
		return nil
	}
	h, ok := i.hosts[moduleName]
	if !ok {
		h = &hostModule{
			memories: map[string]*wasm.MemoryInstance{},
			tables:   map[string]*wasm.TableInstance{},
			globals:  map[string]*wasm.GlobalInstance{},
		}
		i.hosts[moduleName] = h
	}
	i.store, i.built = nil, nil
	return h
}

func (i *Imports) setErr(err error) {
	if i.err == nil {
		i.err = err
	}
}

var errImportsOfAnotherRuntime = errors.New("imports were used with another runtime")

// bind returns the modules of this registry, building the host modules in the store on first use.
func (i *Imports) bind(ctx context.Context, s *wasm.Store) (wasm.Imports, error) {
	i.mux.Lock()
	defer i.mux.Unlock()
	if i.err != nil {
		return nil, i.err
	}
	if i.store != nil && i.store != s {
		return nil, errImportsOfAnotherRuntime
	}
	for name, inst := range i.instances {
		if inst.Store() != s {
			return nil, fmt.Errorf("module[%s]: %w", name, errImportsOfAnotherRuntime)
		}
	}

	if i.store == nil {
		names := make([]string, 0, len(i.hosts))
		for name := range i.hosts {
			names = append(names, name)
		}
		sort.Strings(names)

		built := make(wasm.Imports, len(names))
		for _, name := range names {
			h := i.hosts[name]
			m, err := s.NewHostModule(ctx, name, h.funcs, h.memories, h.tables, h.globals)
			if err != nil {
				return nil, err
			}
			built[name] = m
		}
		i.store, i.built = s, built
	}

	ret := make(wasm.Imports, len(i.built)+len(i.instances))
	for name, m := range i.built {
		ret[name] = m
	}
	for name, m := range i.instances {
		ret[name] = m
	}
	return ret, nil
}
