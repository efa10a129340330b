package binary

import (
	"github.com/tetratelabs/wazi/internal/leb128"
	"github.com/tetratelabs/wazi/internal/wasm"
)

// EncodeModule implements wasm.EncodeModule for the WebAssembly 1.0 (20191205) Binary Format.
// Note: If saving to a file, the conventional extension is wasm
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-format%E2%91%A0
func EncodeModule(m *wasm.Module) (bytes []byte) {
	bytes = append(Magic, version...)
	if len(m.TypeSection) > 0 {
		bytes = append(bytes, encodeSection(wasm.SectionIDType, encodeVector(m.TypeSection, encodeFunctionType))...)
	}
	if len(m.ImportSection) > 0 {
		bytes = append(bytes, encodeSection(wasm.SectionIDImport, encodeVector(m.ImportSection, encodeImport))...)
	}
	if len(m.FunctionSection) > 0 {
		bytes = append(bytes, encodeSection(wasm.SectionIDFunction, encodeVector(m.FunctionSection, leb128.EncodeUint32))...)
	}
	if len(m.TableSection) > 0 {
		bytes = append(bytes, encodeSection(wasm.SectionIDTable, encodeVector(m.TableSection, encodeTable))...)
	}
	if m.MemorySection != nil {
		bytes = append(bytes, encodeSection(wasm.SectionIDMemory, encodeVector([]*wasm.Memory{m.MemorySection}, encodeMemory))...)
	}
	if len(m.GlobalSection) > 0 {
		bytes = append(bytes, encodeSection(wasm.SectionIDGlobal, encodeVector(m.GlobalSection, encodeGlobal))...)
	}
	if len(m.ExportSection) > 0 {
		bytes = append(bytes, encodeSection(wasm.SectionIDExport, encodeVector(m.ExportSection, encodeExport))...)
	}
	if m.StartSection != nil {
		bytes = append(bytes, encodeSection(wasm.SectionIDStart, leb128.EncodeUint32(*m.StartSection))...)
	}
	if len(m.ElementSection) > 0 {
		bytes = append(bytes, encodeSection(wasm.SectionIDElement, encodeVector(m.ElementSection, encodeElement))...)
	}
	if len(m.CodeSection) > 0 {
		bytes = append(bytes, encodeSection(wasm.SectionIDCode, encodeVector(m.CodeSection, encodeCode))...)
	}
	if len(m.DataSection) > 0 {
		bytes = append(bytes, encodeSection(wasm.SectionIDData, encodeVector(m.DataSection, encodeDataSegment))...)
	}
	if m.NameSection != nil {
		bytes = append(bytes, encodeCustomSection("name", encodeNameSectionData(m.NameSection))...)
	}
	return
}
