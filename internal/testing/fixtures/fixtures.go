// Package fixtures builds the modules shared by tests, benchmarks and examples. Each module is available as a
// *wasm.Module and in the Binary Format.
package fixtures

import (
	"github.com/tetratelabs/wazi/internal/leb128"
	"github.com/tetratelabs/wazi/internal/wasm"
	"github.com/tetratelabs/wazi/internal/wasm/binary"
)

var (
	i32        = wasm.ValueTypeI32
	v_v        = &wasm.FunctionType{}
	i32_i32    = &wasm.FunctionType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}}
	i32i32_i32 = &wasm.FunctionType{
		Params:  []wasm.ValueType{i32, i32},
		Results: []wasm.ValueType{i32},
	}
)

// FibBody is the body of a recursive (i32) -> i32 fibonacci at function index 0, where fib(0) = 0 and fib(1) = 1.
var FibBody = []byte{
	wasm.OpcodeLocalGet, 0,
	wasm.OpcodeI32Const, 2,
	wasm.OpcodeI32LtS,
	wasm.OpcodeIf, i32,
	wasm.OpcodeLocalGet, 0,
	wasm.OpcodeElse,
	wasm.OpcodeLocalGet, 0,
	wasm.OpcodeI32Const, 1,
	wasm.OpcodeI32Sub,
	wasm.OpcodeCall, 0,
	wasm.OpcodeLocalGet, 0,
	wasm.OpcodeI32Const, 2,
	wasm.OpcodeI32Sub,
	wasm.OpcodeCall, 0,
	wasm.OpcodeI32Add,
	wasm.OpcodeEnd,
	wasm.OpcodeEnd,
}

// FibModule exports "fib" in a module named "fib".
func FibModule() *wasm.Module {
	return &wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32_i32},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: FibBody}},
		ExportSection:   []*wasm.Export{funcExport("fib", 0)},
		NameSection:     names("fib", "fib"),
	}
}

// Fib is FibModule in the Binary Format.
func Fib() []byte {
	return binary.EncodeModule(FibModule())
}

// CallIndirectModule calls through a table of four elements: fib, double, bump and null. "dispatch" (index, n) calls
// the element at index with n, declaring the type (i32) -> i32.
//
// bump is () -> (), so dispatching to it traps before its body increments the exported mutable global "bumps".
// "direct" calls fib without the table.
func CallIndirectModule() *wasm.Module {
	tableMax := uint32(4)
	return &wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32_i32, i32i32_i32, v_v},
		FunctionSection: []wasm.Index{0, 0, 2, 1, 0},
		TableSection:    []*wasm.Table{{Min: 4, Max: &tableMax, Type: wasm.RefTypeFuncref}},
		GlobalSection: []*wasm.Global{
			{Type: &wasm.GlobalType{ValType: i32, Mutable: true}, Init: I32Const(0)},
		},
		ExportSection: []*wasm.Export{
			funcExport("dispatch", 3),
			funcExport("direct", 4),
			{Type: wasm.ExternTypeTable, Name: "table", Index: 0},
			{Type: wasm.ExternTypeGlobal, Name: "bumps", Index: 0},
		},
		ElementSection: []*wasm.ElementSegment{
			{OffsetExpr: I32Const(0), Init: []wasm.Index{0, 1, 2}},
		},
		CodeSection: []*wasm.Code{
			{Body: FibBody},
			{Body: []byte{ // double
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeI32Const, 1,
				wasm.OpcodeI32Shl,
				wasm.OpcodeEnd,
			}},
			{Body: []byte{ // bump
				wasm.OpcodeGlobalGet, 0,
				wasm.OpcodeI32Const, 1,
				wasm.OpcodeI32Add,
				wasm.OpcodeGlobalSet, 0,
				wasm.OpcodeEnd,
			}},
			{Body: []byte{ // dispatch
				wasm.OpcodeLocalGet, 1,
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeCallIndirect, 0, 0, // type (i32) -> i32, table 0
				wasm.OpcodeEnd,
			}},
			{Body: []byte{ // direct
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeCall, 0,
				wasm.OpcodeEnd,
			}},
		},
		NameSection: names("call_indirect", "fib", "double", "bump", "dispatch", "direct"),
	}
}

// CallIndirect is CallIndirectModule in the Binary Format.
func CallIndirect() []byte {
	return binary.EncodeModule(CallIndirectModule())
}

// StartFibModule stores fib(7) into the exported mutable global "result" from its start function.
func StartFibModule() *wasm.Module {
	start := wasm.Index(1)
	return &wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32_i32, v_v},
		FunctionSection: []wasm.Index{0, 1},
		GlobalSection: []*wasm.Global{
			{Type: &wasm.GlobalType{ValType: i32, Mutable: true}, Init: I32Const(0)},
		},
		ExportSection: []*wasm.Export{
			funcExport("fib", 0),
			{Type: wasm.ExternTypeGlobal, Name: "result", Index: 0},
		},
		StartSection: &start,
		CodeSection: []*wasm.Code{
			{Body: FibBody},
			{Body: []byte{
				wasm.OpcodeI32Const, 7,
				wasm.OpcodeCall, 0,
				wasm.OpcodeGlobalSet, 0,
				wasm.OpcodeEnd,
			}},
		},
		NameSection: names("start", "fib", "init"),
	}
}

// StartFib is StartFibModule in the Binary Format.
func StartFib() []byte {
	return binary.EncodeModule(StartFibModule())
}

// DataMarker is written at offset zero by the first data segment of DataModule.
var DataMarker = []byte("wazi")

// DataModule writes DataMarker at offset zero, then payload at offset, into a memory of two pages. When importMemory
// is true, the memory is imported as "env" "memory" instead of defined, so a host can observe that a failed
// instantiation wrote nothing. Otherwise, the memory is exported as "memory".
func DataModule(offset uint32, payload []byte, importMemory bool) *wasm.Module {
	m := &wasm.Module{
		DataSection: []*wasm.DataSegment{
			{OffsetExpression: I32Const(0), Init: DataMarker},
			{OffsetExpression: I32Const(int32(offset)), Init: payload},
		},
		NameSection: &wasm.NameSection{ModuleName: "data"},
	}
	mem := &wasm.Memory{Min: 2, Max: 2, IsMaxEncoded: true}
	if importMemory {
		m.ImportSection = []*wasm.Import{{Type: wasm.ExternTypeMemory, Module: "env", Name: "memory", DescMem: mem}}
	} else {
		m.MemorySection = mem
		m.ExportSection = []*wasm.Export{{Type: wasm.ExternTypeMemory, Name: "memory", Index: 0}}
	}
	return m
}

// Data is DataModule in the Binary Format.
func Data(offset uint32, payload []byte, importMemory bool) []byte {
	return binary.EncodeModule(DataModule(offset, payload, importMemory))
}

// GlobalsModule imports the immutable i32 global "env" "zero" and defines the immutable global "one" = 1. Both are
// exported under their names, and "sum" returns zero + one.
func GlobalsModule() *wasm.Module {
	return &wasm.Module{
		TypeSection: []*wasm.FunctionType{{Results: []wasm.ValueType{i32}}},
		ImportSection: []*wasm.Import{
			{Type: wasm.ExternTypeGlobal, Module: "env", Name: "zero", DescGlobal: &wasm.GlobalType{ValType: i32}},
		},
		FunctionSection: []wasm.Index{0},
		GlobalSection: []*wasm.Global{
			{Type: &wasm.GlobalType{ValType: i32}, Init: I32Const(1)},
		},
		ExportSection: []*wasm.Export{
			funcExport("sum", 0),
			{Type: wasm.ExternTypeGlobal, Name: "zero", Index: 0},
			{Type: wasm.ExternTypeGlobal, Name: "one", Index: 1},
		},
		CodeSection: []*wasm.Code{{Body: []byte{
			wasm.OpcodeGlobalGet, 0,
			wasm.OpcodeGlobalGet, 1,
			wasm.OpcodeI32Add,
			wasm.OpcodeEnd,
		}}},
		NameSection: names("globals", "sum"),
	}
}

// Globals is GlobalsModule in the Binary Format.
func Globals() []byte {
	return binary.EncodeModule(GlobalsModule())
}

// I32Const returns a constant expression of the value.
func I32Const(v int32) *wasm.ConstantExpression {
	return &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(v)}
}

func funcExport(name string, idx wasm.Index) *wasm.Export {
	return &wasm.Export{Type: wasm.ExternTypeFunc, Name: name, Index: idx}
}

// names returns a name section naming functions in index order.
func names(moduleName string, funcNames ...string) *wasm.NameSection {
	ns := &wasm.NameSection{ModuleName: moduleName}
	for i, n := range funcNames {
		ns.FunctionNames = append(ns.FunctionNames, &wasm.NameAssoc{Index: wasm.Index(i), Name: n})
	}
	return ns
}
