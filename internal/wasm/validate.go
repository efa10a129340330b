package wasm

import (
	"errors"
	"fmt"
)

// MemoryLimitPages is the maximum number of pages defined (2^16).
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem
const MemoryLimitPages = uint32(65536)

// Validate checks the index spaces, limits and constant expressions of the module, returning the first problem
// found. memoryLimitPages is the largest memory minimum allowed, at most MemoryLimitPages.
//
// Function bodies are checked when the Engine compiles them.
func (m *Module) Validate(memoryLimitPages uint32) error {
	for i, im := range m.ImportSection {
		if err := m.validateImport(im, memoryLimitPages); err != nil {
			return fmt.Errorf("%s[%d] %s.%s: %w", SectionIDName(SectionIDImport), i, im.Module, im.Name, err)
		}
	}

	if len(m.FunctionSection) != len(m.CodeSection) {
		return fmt.Errorf("function and code section have inconsistent lengths: %d != %d",
			len(m.FunctionSection), len(m.CodeSection))
	}
	for i, typeIdx := range m.FunctionSection {
		if typeIdx >= uint32(len(m.TypeSection)) {
			return fmt.Errorf("invalid %s: type section index %d out of range", m.funcDesc(SectionIDFunction, Index(i)), typeIdx)
		}
	}

	for i, t := range m.TableSection {
		if err := validateTable(t); err != nil {
			return fmt.Errorf("%s[%d]: %w", SectionIDName(SectionIDTable), i, err)
		}
	}

	if m.MemorySection != nil {
		if m.ImportMemoryCount() > 0 {
			return errors.New("at most one memory allowed in module, but imported and defined")
		}
		if err := validateMemory(m.MemorySection, memoryLimitPages); err != nil {
			return fmt.Errorf("%s[0]: %w", SectionIDName(SectionIDMemory), err)
		}
	} else if m.ImportMemoryCount() > 1 {
		return errors.New("at most one memory allowed in module")
	}

	globals := m.GlobalTypes()
	importedGlobals := m.ImportGlobalCount()
	for i, g := range m.GlobalSection {
		t, err := m.constantExpressionType(g.Init, globals)
		if err != nil {
			return fmt.Errorf("%s[%d]: %w", SectionIDName(SectionIDGlobal), importedGlobals+uint32(i), err)
		}
		if t != g.Type.ValType {
			return fmt.Errorf("%s[%d]: type mismatch: initializer is %s, but declared %s", SectionIDName(SectionIDGlobal),
				importedGlobals+uint32(i), ValueTypeName(t), ValueTypeName(g.Type.ValType))
		}
	}

	if err := m.validateExports(globals); err != nil {
		return err
	}

	if err := m.validateStartSection(); err != nil {
		return err
	}

	if err := m.validateElements(globals); err != nil {
		return err
	}

	return m.validateData(globals)
}

func (m *Module) validateImport(im *Import, memoryLimitPages uint32) error {
	switch im.Type {
	case ExternTypeFunc:
		if im.DescFunc >= uint32(len(m.TypeSection)) {
			return fmt.Errorf("type section index %d out of range", im.DescFunc)
		}
	case ExternTypeTable:
		return validateTable(im.DescTable)
	case ExternTypeMemory:
		return validateMemory(im.DescMem, memoryLimitPages)
	case ExternTypeGlobal:
	default:
		return fmt.Errorf("invalid import type: %#x", im.Type)
	}
	return nil
}

func validateTable(t *Table) error {
	if t.Type != RefTypeFuncref {
		return fmt.Errorf("table type must be funcref but was %s", ValueTypeName(t.Type))
	}
	if t.Max != nil && *t.Max < t.Min {
		return fmt.Errorf("table size minimum must not be greater than maximum")
	}
	return nil
}

func validateMemory(mem *Memory, memoryLimitPages uint32) error {
	if mem.Min > memoryLimitPages {
		return fmt.Errorf("min %d pages (%s) over limit of %d pages (%s)",
			mem.Min, PagesToUnitOfBytes(mem.Min), memoryLimitPages, PagesToUnitOfBytes(memoryLimitPages))
	}
	if mem.IsMaxEncoded {
		if mem.Max > MemoryLimitPages {
			return fmt.Errorf("max %d pages (%s) over limit of %d pages (%s)",
				mem.Max, PagesToUnitOfBytes(mem.Max), MemoryLimitPages, PagesToUnitOfBytes(MemoryLimitPages))
		}
		if mem.Min > mem.Max {
			return fmt.Errorf("min %d pages (%s) > max %d pages (%s)",
				mem.Min, PagesToUnitOfBytes(mem.Min), mem.Max, PagesToUnitOfBytes(mem.Max))
		}
	}
	return nil
}

// GlobalTypes returns the types of the global index space: imports first.
func (m *Module) GlobalTypes() []*GlobalType {
	ret := make([]*GlobalType, 0, m.ImportGlobalCount()+uint32(len(m.GlobalSection)))
	for _, im := range m.ImportSection {
		if im.Type == ExternTypeGlobal {
			ret = append(ret, im.DescGlobal)
		}
	}
	for _, g := range m.GlobalSection {
		ret = append(ret, g.Type)
	}
	return ret
}

func (m *Module) validateExports(globals []*GlobalType) error {
	funcCount := m.ImportFuncCount() + uint32(len(m.FunctionSection))
	tableCount := m.ImportTableCount() + uint32(len(m.TableSection))
	names := make(map[string]struct{}, len(m.ExportSection))
	for _, exp := range m.ExportSection {
		if _, ok := names[exp.Name]; ok {
			return fmt.Errorf("%q is already exported", exp.Name)
		}
		names[exp.Name] = struct{}{}

		index := exp.Index
		switch exp.Type {
		case ExternTypeFunc:
			if index >= funcCount {
				return fmt.Errorf("unknown function for export[%q]", exp.Name)
			}
		case ExternTypeGlobal:
			if index >= uint32(len(globals)) {
				return fmt.Errorf("unknown global for export[%q]", exp.Name)
			}
		case ExternTypeMemory:
			if index > 0 || !m.HasMemory() {
				return fmt.Errorf("memory for export[%q] out of range", exp.Name)
			}
		case ExternTypeTable:
			if index >= tableCount {
				return fmt.Errorf("table for export[%q] out of range", exp.Name)
			}
		default:
			return fmt.Errorf("invalid export[%q] type: %#x", exp.Name, exp.Type)
		}
	}
	return nil
}

func (m *Module) validateStartSection() error {
	if m.StartSection == nil {
		return nil
	}
	startIndex := *m.StartSection
	ft := m.TypeOfFunction(startIndex)
	if ft == nil {
		return fmt.Errorf("invalid start function: func[%d] has an invalid type", startIndex)
	}
	if len(ft.Params) > 0 || len(ft.Results) > 0 {
		return fmt.Errorf("invalid start function: func[%d] must have an empty (nullary) signature: %s", startIndex, ft)
	}
	return nil
}

func (m *Module) validateElements(globals []*GlobalType) error {
	funcCount := m.ImportFuncCount() + uint32(len(m.FunctionSection))
	tableCount := m.ImportTableCount() + uint32(len(m.TableSection))
	for i, elem := range m.ElementSection {
		if elem.TableIndex >= tableCount {
			return fmt.Errorf("%s[%d]: table index %d out of range", SectionIDName(SectionIDElement), i, elem.TableIndex)
		}
		if err := m.validateOffset(elem.OffsetExpr, globals); err != nil {
			return fmt.Errorf("%s[%d]: %w", SectionIDName(SectionIDElement), i, err)
		}
		for ei, funcIdx := range elem.Init {
			if funcIdx >= funcCount {
				return fmt.Errorf("%s[%d].init[%d] funcidx %d out of range", SectionIDName(SectionIDElement), i, ei, funcIdx)
			}
		}
	}
	return nil
}

func (m *Module) validateData(globals []*GlobalType) error {
	if len(m.DataSection) > 0 && !m.HasMemory() {
		return fmt.Errorf("unknown memory")
	}
	for i, d := range m.DataSection {
		if d.MemoryIndex != 0 {
			return fmt.Errorf("%s[%d]: memory index must be zero", SectionIDName(SectionIDData), i)
		}
		if err := m.validateOffset(d.OffsetExpression, globals); err != nil {
			return fmt.Errorf("%s[%d]: %w", SectionIDName(SectionIDData), i, err)
		}
	}
	return nil
}

// validateOffset ensures a segment offset is an i32 expression.
func (m *Module) validateOffset(expr *ConstantExpression, globals []*GlobalType) error {
	t, err := m.constantExpressionType(expr, globals)
	if err != nil {
		return err
	}
	if t != ValueTypeI32 {
		return fmt.Errorf("offset must be i32 but was %s", ValueTypeName(t))
	}
	return nil
}

func (m *Module) funcDesc(sectionID SectionID, sectionIndex Index) string {
	// Try to improve the error message by collecting any exports:
	var exportNames []string
	funcIdx := sectionIndex + m.ImportFuncCount()
	for _, e := range m.ExportSection {
		if e.Index == funcIdx && e.Type == ExternTypeFunc {
			exportNames = append(exportNames, fmt.Sprintf("%q", e.Name))
		}
	}
	sectionIDName := SectionIDName(sectionID)
	if exportNames == nil {
		return fmt.Sprintf("%s[%d]", sectionIDName, sectionIndex)
	}
	return fmt.Sprintf("%s[%d] (export %v)", sectionIDName, sectionIndex, exportNames)
}
