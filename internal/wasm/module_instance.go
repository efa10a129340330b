package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazi/api"
)

// compile time check to ensure ModuleInstance implements api.Module
var _ api.Module = &ModuleInstance{}

// String implements the same method as documented on api.Module
func (m *ModuleInstance) String() string {
	return fmt.Sprintf("Module[%s]", m.ModuleName)
}

// Name implements the same method as documented on api.Module
func (m *ModuleInstance) Name() string {
	return m.ModuleName
}

// ExportedFunction implements the same method as documented on api.Module
func (m *ModuleInstance) ExportedFunction(name string) api.Function {
	exp, err := m.getExport(name, ExternTypeFunc)
	if err != nil {
		return nil
	}
	return &exportedFunction{f: exp.Function}
}

// ExportedMemory implements the same method as documented on api.Module
func (m *ModuleInstance) ExportedMemory(name string) api.Memory {
	exp, err := m.getExport(name, ExternTypeMemory)
	if err != nil {
		return nil
	}
	return exp.Memory
}

// ExportedGlobal implements the same method as documented on api.Module
func (m *ModuleInstance) ExportedGlobal(name string) api.Global {
	exp, err := m.getExport(name, ExternTypeGlobal)
	if err != nil {
		return nil
	}
	return exp.Global.API()
}

// ExportedTable implements the same method as documented on api.Module
func (m *ModuleInstance) ExportedTable(name string) api.Table {
	exp, err := m.getExport(name, ExternTypeTable)
	if err != nil {
		return nil
	}
	return exp.Table
}

// exportedFunction implements api.Function for a function exported by a module or stored in a table.
type exportedFunction struct {
	f *FunctionInstance
}

// ParamTypes implements the same method as documented on api.Function
func (e *exportedFunction) ParamTypes() []api.ValueType {
	return e.f.Type.Params
}

// ResultTypes implements the same method as documented on api.Function
func (e *exportedFunction) ResultTypes() []api.ValueType {
	return e.f.Type.Results
}

// Call implements the same method as documented on api.Function
func (e *exportedFunction) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return e.f.Module.s.CallWithMetrics(ctx, e.f, params...)
}

// CallValues implements the same method as documented on api.Function
func (e *exportedFunction) CallValues(ctx context.Context, params ...api.Value) ([]api.Value, error) {
	ft := e.f.Type
	if len(params) != len(ft.Params) {
		return nil, fmt.Errorf("expected %d params, but passed %d", len(ft.Params), len(params))
	}
	raw := make([]uint64, len(params))
	for i, p := range params {
		if p.Type != ft.Params[i] {
			return nil, fmt.Errorf("param[%d] type mismatch: expected %s, but was %s",
				i, ValueTypeName(ft.Params[i]), ValueTypeName(p.Type))
		}
		raw[i] = p.Raw()
	}
	results, err := e.Call(ctx, raw...)
	if err != nil {
		return nil, err
	}
	ret := make([]api.Value, len(results))
	for i, r := range results {
		ret[i] = api.ValueFromRaw(ft.Results[i], r)
	}
	return ret, nil
}
