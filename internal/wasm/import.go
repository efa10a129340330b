package wasm

import (
	"errors"
	"fmt"
)

// resolveImports looks up each import of the module in the registry by (module, name), matching the export kind and
// its signature, limits or global type.
func resolveImports(module *Module, imports Imports) (
	importedFunctions []*FunctionInstance,
	importedTables []*TableInstance,
	importedMemory *MemoryInstance,
	importedGlobals []*GlobalInstance,
	err error,
) {
	for _, i := range module.ImportSection {
		m, ok := imports[i.Module]
		if !ok {
			err = &ImportResolutionError{Type: i.Type, Module: i.Module, Name: i.Name, Err: fmt.Errorf("module[%s] not instantiated", i.Module)}
			return
		}

		var exp *ExportInstance
		if exp, err = m.getExport(i.Name, i.Type); err != nil {
			err = &ImportResolutionError{Type: i.Type, Module: i.Module, Name: i.Name, Err: err}
			return
		}

		switch i.Type {
		case ExternTypeFunc:
			expectedType := module.TypeSection[i.DescFunc]
			f := exp.Function
			if !f.Type.EqualsSignature(expectedType.Params, expectedType.Results) {
				err = errorImportMismatch(i, fmt.Errorf("signature mismatch: %s != %s", expectedType, f.Type))
				return
			}
			importedFunctions = append(importedFunctions, f)
		case ExternTypeTable:
			if err = checkTableImport(i.DescTable, exp.Table); err != nil {
				err = errorImportMismatch(i, err)
				return
			}
			importedTables = append(importedTables, exp.Table)
		case ExternTypeMemory:
			if err = checkMemoryImport(i.DescMem, exp.Memory); err != nil {
				err = errorImportMismatch(i, err)
				return
			}
			importedMemory = exp.Memory
		case ExternTypeGlobal:
			expected := i.DescGlobal
			g := exp.Global
			if expected.Mutable != g.Type.Mutable {
				err = errorImportMismatch(i, fmt.Errorf("mutability mismatch: %t != %t", expected.Mutable, g.Type.Mutable))
				return
			}
			if expected.ValType != g.Type.ValType {
				err = errorImportMismatch(i, fmt.Errorf("value type mismatch: %s != %s",
					ValueTypeName(expected.ValType), ValueTypeName(g.Type.ValType)))
				return
			}
			importedGlobals = append(importedGlobals, g)
		}
	}
	return
}

func errorImportMismatch(i *Import, err error) error {
	return &ImportResolutionError{Type: i.Type, Module: i.Module, Name: i.Name, Err: err}
}

func checkTableImport(expected *Table, actual *TableInstance) error {
	if expected.Type != actual.Type {
		return fmt.Errorf("table type mismatch: %s != %s", ValueTypeName(expected.Type), ValueTypeName(actual.Type))
	}
	if size := uint32(len(actual.References)); expected.Min > size {
		return fmt.Errorf("minimum size mismatch: %d > %d", expected.Min, size)
	}
	if expected.Max != nil {
		if actual.Max == nil {
			return errors.New("maximum size mismatch: imported table has no maximum")
		} else if *expected.Max < *actual.Max {
			return fmt.Errorf("maximum size mismatch: %d < %d", *expected.Max, *actual.Max)
		}
	}
	return nil
}

func checkMemoryImport(expected *Memory, actual *MemoryInstance) error {
	if pages := actual.PageSize(); expected.Min > pages {
		return fmt.Errorf("minimum size mismatch: %d > %d", expected.Min, pages)
	}
	if expected.IsMaxEncoded && expected.Max < actual.Max {
		return fmt.Errorf("maximum size mismatch: %d < %d", expected.Max, actual.Max)
	}
	return nil
}

// getExport returns an export of the given name and type or errs if not exported or the wrong type.
func (m *ModuleInstance) getExport(name string, et ExternType) (*ExportInstance, error) {
	exp, ok := m.Exports[name]
	if !ok {
		return nil, fmt.Errorf("%q is not exported in module %q", name, m.ModuleName)
	}
	if exp.Type != et {
		return nil, fmt.Errorf("export %q in module %q is a %s, not a %s", name, m.ModuleName, ExternTypeName(exp.Type), ExternTypeName(et))
	}
	return exp, nil
}
