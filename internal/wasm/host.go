package wasm

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazi/api"
	"github.com/tetratelabs/wazi/internal/wasmdebug"
)

// HostFunc is a function with an inlined type, used for NewHostModule.
// Any corresponding FunctionType will be reused or added to the Module.
type HostFunc struct {
	// ExportName is the name importing modules use.
	ExportName string

	// Name is the debug name, defaulting to ExportName.
	Name string

	ParamTypes  []ValueType
	ResultTypes []ValueType

	// Code is the equivalent function in the SectionIDCode.
	Code *Code
}

// NewGoFunc returns a HostFunc exported as exportName.
func NewGoFunc(exportName string, params, results []ValueType, fn api.GoModuleFunction) *HostFunc {
	return &HostFunc{
		ExportName:  exportName,
		Name:        exportName,
		ParamTypes:  params,
		ResultTypes: results,
		Code:        &Code{GoFunc: fn},
	}
}

// NewHostModule returns a Module exporting the functions, defined as Go code.
func NewHostModule(moduleName string, funcs []*HostFunc) (*Module, error) {
	m := &Module{NameSection: &NameSection{ModuleName: moduleName}}

	// Sort by export name so the function index space is deterministic.
	sorted := make([]*HostFunc, len(funcs))
	copy(sorted, funcs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ExportName < sorted[j].ExportName })

	typeIndex := map[string]Index{}
	seen := make(map[string]struct{}, len(sorted))
	for idx, hf := range sorted {
		if _, ok := seen[hf.ExportName]; ok {
			return nil, fmt.Errorf("func[%s.%s] exported twice", moduleName, hf.ExportName)
		}
		seen[hf.ExportName] = struct{}{}
		if hf.Code == nil || hf.Code.GoFunc == nil {
			return nil, fmt.Errorf("func[%s.%s] has no Go function", moduleName, hf.ExportName)
		}

		ft := &FunctionType{Params: hf.ParamTypes, Results: hf.ResultTypes}
		ti, ok := typeIndex[ft.key()]
		if !ok {
			ti = Index(len(m.TypeSection))
			typeIndex[ft.key()] = ti
			m.TypeSection = append(m.TypeSection, ft)
		}
		m.FunctionSection = append(m.FunctionSection, ti)
		m.CodeSection = append(m.CodeSection, hf.Code)

		name := hf.Name
		if name == "" {
			name = hf.ExportName
		}
		m.NameSection.FunctionNames = append(m.NameSection.FunctionNames, &NameAssoc{Index: Index(idx), Name: name})
		m.ExportSection = append(m.ExportSection, &Export{Type: ExternTypeFunc, Name: hf.ExportName, Index: Index(idx)})
	}
	return m, nil
}

// NewHostModule compiles and instantiates the Go functions, adding host-owned memories, tables and globals to the
// exports. The result is not registered by name in the store, so it only serves as a value of Imports.
func (s *Store) NewHostModule(
	ctx context.Context,
	moduleName string,
	funcs []*HostFunc,
	memories map[string]*MemoryInstance,
	tables map[string]*TableInstance,
	globals map[string]*GlobalInstance,
) (*ModuleInstance, error) {
	module, err := NewHostModule(moduleName, funcs)
	if err != nil {
		return nil, err
	}
	names := map[string]struct{}{}
	for _, exp := range module.ExportSection {
		names[exp.Name] = struct{}{}
	}
	for _, set := range [][]string{mapKeys(memories), mapKeys(tables), mapKeys(globals)} {
		for _, name := range set {
			if _, ok := names[name]; ok {
				return nil, fmt.Errorf("export[%s.%s] is exported twice", moduleName, name)
			}
			names[name] = struct{}{}
		}
	}
	if len(memories) > 1 {
		return nil, fmt.Errorf("module[%s] has %d memories, but at most one is allowed", moduleName, len(memories))
	}

	if err = s.Engine.CompileModule(ctx, module); err != nil {
		return nil, err
	}

	typeIDs, err := s.getFunctionTypeIDs(module.TypeSection)
	if err != nil {
		return nil, err
	}

	m := &ModuleInstance{ModuleName: moduleName, Source: module, TypeIDs: typeIDs, s: s}
	for i, typeIdx := range module.FunctionSection {
		idx := Index(i)
		m.Functions = append(m.Functions, &FunctionInstance{
			Type:      module.TypeSection[typeIdx],
			TypeID:    typeIDs[typeIdx],
			Module:    m,
			Idx:       idx,
			DebugName: wasmdebug.FuncName(moduleName, module.FunctionName(idx), idx),
		})
	}
	s.registerRefs(m.Functions)
	m.buildExports(module.ExportSection)

	for name, mem := range memories {
		m.Memory = mem
		m.Exports[name] = &ExportInstance{Type: ExternTypeMemory, Memory: mem}
	}
	for _, name := range mapKeys(tables) {
		t := tables[name]
		t.limit = min(t.limit, s.tableLimitElements)
		m.Tables = append(m.Tables, t)
		m.Exports[name] = &ExportInstance{Type: ExternTypeTable, Table: t}
	}
	for _, name := range mapKeys(globals) {
		g := globals[name]
		m.Globals = append(m.Globals, g)
		m.Exports[name] = &ExportInstance{Type: ExternTypeGlobal, Global: g}
	}

	if m.Engine, err = s.Engine.NewModuleEngine(module, m); err != nil {
		s.releaseRefs(m)
		return nil, err
	}
	return m, nil
}

func mapKeys[V any](m map[string]V) []string {
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}
