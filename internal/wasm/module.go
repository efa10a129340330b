package wasm

import (
	"fmt"
	"strings"

	"github.com/tetratelabs/wazi/api"
)

// Module is a WebAssembly binary representation.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#modules%E2%91%A8
//
// A Module is read-only once decoded: every ModuleInstance created from it shares the same pointer, and the Engine
// caches compiled function bodies keyed by it.
//
// Differences from the specification:
//   - NameSection is decoded, so not present as a key "name" in custom sections.
//   - MemorySection is a pointer as there can be at most one memory.
type Module struct {
	// TypeSection contains the unique FunctionType of functions imported or defined in this module.
	//
	// Note: In the Binary Format, this is SectionIDType.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#types%E2%91%A0%E2%91%A0
	TypeSection []*FunctionType

	// ImportSection contains imported functions, tables, memories or globals required for instantiation
	// (Store.Instantiate).
	//
	// Note: there are no unique constraints relating to the two-level namespace of Import.Module and Import.Name.
	// Note: In the Binary Format, this is SectionIDImport.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#import-section%E2%91%A0
	ImportSection []*Import

	// FunctionSection contains the index in TypeSection of each function defined in this module.
	//
	// Note: The function Index space begins with imported functions and ends with those defined in this module.
	// For example, if there are two imported functions and one defined in this module, the function Index 2 is
	// defined in this module at FunctionSection[0].
	//
	// Note: FunctionSection is index correlated with the CodeSection. If given the same position, ex. 2, a function
	// type is at TypeSection[FunctionSection[2]], while its locals and body are at CodeSection[2].
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-section%E2%91%A0
	FunctionSection []Index

	// TableSection contains each table defined in this module. The table Index space begins with imported tables.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#table-section%E2%91%A0
	TableSection []*Table

	// MemorySection contains the memory defined in this module or nil if there is none.
	//
	// Note: Version 1.0 (20191205) of the WebAssembly spec allows at most one memory, imported or defined.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-section%E2%91%A0
	MemorySection *Memory

	// GlobalSection contains each global defined in this module.
	//
	// Global indexes are offset by any imported globals because the global index space begins with imports, followed
	// by ones defined in this module. For example, if there are two imported globals and three defined in this module,
	// the global at index 3 is defined in this module at GlobalSection[1].
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#global-section%E2%91%A0
	GlobalSection []*Global

	// ExportSection contains each export defined in this module, in declaration order.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#exports%E2%91%A0
	ExportSection []*Export

	// StartSection is the index of a function to call before returning from Store.Instantiate.
	//
	// Note: The index here is not the position in the FunctionSection, rather in the function index space, which
	// begins with imported functions.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#start-section%E2%91%A0
	StartSection *Index

	// ElementSection contains the segments that populate tables during instantiation.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#element-section%E2%91%A0
	ElementSection []*ElementSegment

	// CodeSection is index-correlated with FunctionSection and contains each function's locals and body.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#code-section%E2%91%A0
	CodeSection []*Code

	// DataSection contains the segments that initialize memory during instantiation.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#data-section%E2%91%A0
	DataSection []*DataSegment

	// NameSection is set when the custom section "name" was present and decoded. Names are only used for debugging.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#name-section%E2%91%A0
	NameSection *NameSection
}

// Index is the offset in an index space, not necessarily an absolute position in a Module section. This is because
// index spaces are often prefixed by imports.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#indices%E2%91%A0
type Index = uint32

// ValueType is an alias of api.ValueType defined to simplify imports.
type ValueType = api.ValueType

const (
	ValueTypeI32       = api.ValueTypeI32
	ValueTypeI64       = api.ValueTypeI64
	ValueTypeF32       = api.ValueTypeF32
	ValueTypeF64       = api.ValueTypeF64
	ValueTypeFuncref   = api.ValueTypeFuncref
	ValueTypeExternref = api.ValueTypeExternref
)

// ValueTypeName is an alias of api.ValueTypeName defined to simplify imports.
func ValueTypeName(t ValueType) string {
	return api.ValueTypeName(t)
}

// RefType is the element type of a table. Only RefTypeFuncref tables can be targets of call_indirect.
type RefType = byte

const (
	RefTypeFuncref   = ValueTypeFuncref
	RefTypeExternref = ValueTypeExternref
)

// ExternType is an alias of api.ExternType defined to simplify imports.
type ExternType = api.ExternType

const (
	ExternTypeFunc   = api.ExternTypeFunc
	ExternTypeTable  = api.ExternTypeTable
	ExternTypeMemory = api.ExternTypeMemory
	ExternTypeGlobal = api.ExternTypeGlobal
)

// ExternTypeName is an alias of api.ExternTypeName defined to simplify imports.
func ExternTypeName(t ExternType) string {
	return api.ExternTypeName(t)
}

// FunctionType is a possibly empty function signature.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-types%E2%91%A0
type FunctionType struct {
	// Params are the possibly empty sequence of value types accepted by a function with this signature.
	Params []ValueType

	// Results are the possibly empty sequence of value types returned by a function with this signature.
	Results []ValueType

	// string is cached as it is used both for String and key
	string string
}

// EqualsSignature returns true if the function type has the same parameters and results.
func (f *FunctionType) EqualsSignature(params []ValueType, results []ValueType) bool {
	return equalTypes(f.Params, params) && equalTypes(f.Results, results)
}

func equalTypes(a, b []ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// key gets or generates the key for Store.typeIDs. Ex. "i32_v" for one i32 parameter and no (void) result.
func (f *FunctionType) key() string {
	if f.string != "" {
		return f.string
	}
	var sb strings.Builder
	for _, b := range f.Params {
		sb.WriteString(ValueTypeName(b))
	}
	if len(f.Params) == 0 {
		sb.WriteString("v")
	}
	sb.WriteByte('_')
	for _, b := range f.Results {
		sb.WriteString(ValueTypeName(b))
	}
	if len(f.Results) == 0 {
		sb.WriteString("v")
	}
	f.string = sb.String()
	return f.string
}

// String implements fmt.Stringer.
func (f *FunctionType) String() string {
	return f.key()
}

// Import is the binary representation of an import indicated by Type
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-import
type Import struct {
	Type ExternType
	// Module is the possibly empty primary namespace of this import
	Module string
	// Name is the possibly empty secondary namespace of this import
	Name string
	// DescFunc is the index in Module.TypeSection when Type equals ExternTypeFunc
	DescFunc Index
	// DescTable is the inlined Table when Type equals ExternTypeTable
	DescTable *Table
	// DescMem is the inlined Memory when Type equals ExternTypeMemory
	DescMem *Memory
	// DescGlobal is the inlined GlobalType when Type equals ExternTypeGlobal
	DescGlobal *GlobalType
}

// Memory describes the limits of pages (64KB) in a memory.
type Memory struct {
	Min uint32
	// Max is the maximum pages, which is MemoryLimitPages when IsMaxEncoded is false.
	Max uint32
	// IsMaxEncoded true if the Max is encoded in the original source (binary or text).
	IsMaxEncoded bool
}

// Table describes the limits of elements and their type in a table.
type Table struct {
	Min  uint32
	Max  *uint32
	Type RefType
}

// GlobalType is the type of a global, declared or imported.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#global-types%E2%91%A0
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// String implements fmt.Stringer
func (g *GlobalType) String() string {
	if g.Mutable {
		return fmt.Sprintf("global(mut %s)", ValueTypeName(g.ValType))
	}
	return fmt.Sprintf("global(%s)", ValueTypeName(g.ValType))
}

// Global is a global defined in this module, initialized by a constant expression.
type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// ConstantExpression is a single instruction with its immediate, evaluated during instantiation.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#constant-expressions%E2%91%A0
type ConstantExpression struct {
	Opcode Opcode
	// Data is the encoded immediate, ex. a signed LEB128 for OpcodeI32Const.
	Data []byte
}

// Export is the binary representation of an export indicated by Type
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-export
type Export struct {
	Type ExternType

	// Name is what the host refers to this definition as.
	Name string

	// Index is the index of the definition to export, the index space is by Type
	// Ex. If ExternTypeFunc, this is a position in the function index space.
	Index Index
}

// ElementSegment is an active segment populating a table from OffsetExpr onwards with the functions at Init.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#element-segments%E2%91%A0
type ElementSegment struct {
	TableIndex Index
	OffsetExpr *ConstantExpression
	// Init are indexes in the function index space.
	Init []Index
}

// Code is an entry in the Module.CodeSection containing the locals and body of the function.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-code
type Code struct {
	// LocalTypes are any function-scoped variables in insertion order, after the parameters.
	LocalTypes []ValueType

	// Body is a sequence of expressions ending in OpcodeEnd
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-expr
	Body []byte

	// GoFunc is non-nil when this is a host function. Body and LocalTypes are empty in that case.
	GoFunc api.GoModuleFunction
}

// IsHostFunction returns true when the code is implemented in Go.
func (c *Code) IsHostFunction() bool {
	return c.GoFunc != nil
}

// DataSegment is an active segment writing Init into memory from OffsetExpression onwards.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#data-segments%E2%91%A0
type DataSegment struct {
	MemoryIndex      Index // supposed to be zero
	OffsetExpression *ConstantExpression
	Init             []byte
}

// NameSection represent the known custom name subsections defined in the WebAssembly Binary Format
//
// Note: This can be nil if no names were decoded for any reason including configuration.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#name-section%E2%91%A0
type NameSection struct {
	// ModuleName is the symbolic identifier for a module. Ex. math
	ModuleName string

	// FunctionNames is an association of a function index to its symbolic identifier. Ex. add
	//
	// Note: FunctionNames are only used for debugging.
	FunctionNames NameMap
}

// NameMap associates an index with any associated names.
//
// Note: Often the index namespace bridges multiple sections. For example, the function index namespace starts with
// any ExternTypeFunc in the Module.ImportSection followed by the Module.FunctionSection
//
// Note: NameMap is unique by NameAssoc.Index, but NameAssoc.Name needn't be unique.
type NameMap []*NameAssoc

type NameAssoc struct {
	Index Index
	Name  string
}

// FunctionName returns the name of the function at the index or an empty string if unknown.
func (m *Module) FunctionName(funcIdx Index) string {
	if m.NameSection == nil {
		return ""
	}
	for _, na := range m.NameSection.FunctionNames {
		if na.Index == funcIdx {
			return na.Name
		}
	}
	return ""
}

// ImportFuncCount returns the count of imported functions, which prefix the function index space.
func (m *Module) ImportFuncCount() uint32 {
	return m.importCount(ExternTypeFunc)
}

// ImportTableCount returns the count of imported tables, which prefix the table index space.
func (m *Module) ImportTableCount() uint32 {
	return m.importCount(ExternTypeTable)
}

// ImportMemoryCount returns the count of imported memories, either zero or one.
func (m *Module) ImportMemoryCount() uint32 {
	return m.importCount(ExternTypeMemory)
}

// ImportGlobalCount returns the count of imported globals, which prefix the global index space.
func (m *Module) ImportGlobalCount() uint32 {
	return m.importCount(ExternTypeGlobal)
}

func (m *Module) importCount(et ExternType) (res uint32) {
	for _, im := range m.ImportSection {
		if im.Type == et {
			res++
		}
	}
	return
}

// HasMemory returns true when a memory is either imported or defined.
func (m *Module) HasMemory() bool {
	return m.MemorySection != nil || m.ImportMemoryCount() > 0
}

// TypeOfFunction returns the signature of the function at the index or nil if the index is out of range.
func (m *Module) TypeOfFunction(funcIdx Index) *FunctionType {
	typeSectionLength := uint32(len(m.TypeSection))
	var funcImportCount Index
	for _, im := range m.ImportSection {
		if im.Type != ExternTypeFunc {
			continue
		}
		if funcIdx == funcImportCount {
			if im.DescFunc >= typeSectionLength {
				return nil
			}
			return m.TypeSection[im.DescFunc]
		}
		funcImportCount++
	}
	funcSectionIdx := funcIdx - funcImportCount
	if funcSectionIdx >= uint32(len(m.FunctionSection)) {
		return nil
	}
	typeIdx := m.FunctionSection[funcSectionIdx]
	if typeIdx >= typeSectionLength {
		return nil
	}
	return m.TypeSection[typeIdx]
}

// SectionID identifies the sections of a Module in the WebAssembly 1.0 (20191205) Binary Format.
//
// Note: these are defined in the wasm package, instead of the binary package, as a key per section is needed regardless
// of format, and deferring to the binary type avoids confusion.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
type SectionID = byte

const (
	// SectionIDCustom includes the standard defined NameSection and possibly others not defined in the standard.
	SectionIDCustom SectionID = iota // don't add anything not in https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
)

// SectionIDName returns the canonical name of a module section.
// https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
func SectionIDName(sectionID SectionID) string {
	switch sectionID {
	case SectionIDCustom:
		return "custom"
	case SectionIDType:
		return "type"
	case SectionIDImport:
		return "import"
	case SectionIDFunction:
		return "function"
	case SectionIDTable:
		return "table"
	case SectionIDMemory:
		return "memory"
	case SectionIDGlobal:
		return "global"
	case SectionIDExport:
		return "export"
	case SectionIDStart:
		return "start"
	case SectionIDElement:
		return "element"
	case SectionIDCode:
		return "code"
	case SectionIDData:
		return "data"
	}
	return "unknown"
}

// SectionElementCount returns the count of elements in a given section ID
//
// For example...
// * SectionIDType returns the count of FunctionType
// * SectionIDCustom returns one if the NameSection is present
// * SectionIDMemory returns one if the MemorySection is present
// * SectionIDExport returns the count of unique export names
func (m *Module) SectionElementCount(sectionID SectionID) uint32 { // element as in vector elements!
	switch sectionID {
	case SectionIDCustom:
		if m.NameSection != nil {
			return 1
		}
		return 0
	case SectionIDType:
		return uint32(len(m.TypeSection))
	case SectionIDImport:
		return uint32(len(m.ImportSection))
	case SectionIDFunction:
		return uint32(len(m.FunctionSection))
	case SectionIDTable:
		return uint32(len(m.TableSection))
	case SectionIDMemory:
		if m.MemorySection != nil {
			return 1
		}
		return 0
	case SectionIDGlobal:
		return uint32(len(m.GlobalSection))
	case SectionIDExport:
		return uint32(len(m.ExportSection))
	case SectionIDStart:
		if m.StartSection != nil {
			return 1
		}
		return 0
	case SectionIDElement:
		return uint32(len(m.ElementSection))
	case SectionIDCode:
		return uint32(len(m.CodeSection))
	case SectionIDData:
		return uint32(len(m.DataSection))
	default:
		panic(fmt.Errorf("BUG: unknown section: %d", sectionID))
	}
}
