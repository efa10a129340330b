package fixtures

import (
	"github.com/tetratelabs/wazi/internal/wasm"
	"github.com/tetratelabs/wazi/internal/wasm/binary"
)

// ArithFunction is a function of ArithModule applying a single numeric instruction to its parameters.
type ArithFunction struct {
	// Name is the export name, which is the instruction name. Ex. "i32.div_s"
	Name   string
	Params []wasm.ValueType
	Result wasm.ValueType
	opcode wasm.Opcode
}

var (
	i64 = wasm.ValueTypeI64
	f32 = wasm.ValueTypeF32
	f64 = wasm.ValueTypeF64
)

// arithSignatures groups instructions by their (params) -> result.
var arithSignatures = []struct {
	params  []wasm.ValueType
	result  wasm.ValueType
	opcodes []wasm.Opcode
}{
	{[]wasm.ValueType{i32, i32}, i32, []wasm.Opcode{
		wasm.OpcodeI32Eq, wasm.OpcodeI32Ne, wasm.OpcodeI32LtS, wasm.OpcodeI32LtU, wasm.OpcodeI32GtS,
		wasm.OpcodeI32GtU, wasm.OpcodeI32LeS, wasm.OpcodeI32LeU, wasm.OpcodeI32GeS, wasm.OpcodeI32GeU,
		wasm.OpcodeI32Add, wasm.OpcodeI32Sub, wasm.OpcodeI32Mul, wasm.OpcodeI32DivS, wasm.OpcodeI32DivU,
		wasm.OpcodeI32RemS, wasm.OpcodeI32RemU, wasm.OpcodeI32And, wasm.OpcodeI32Or, wasm.OpcodeI32Xor,
		wasm.OpcodeI32Shl, wasm.OpcodeI32ShrS, wasm.OpcodeI32ShrU, wasm.OpcodeI32Rotl, wasm.OpcodeI32Rotr,
	}},
	{[]wasm.ValueType{i32}, i32, []wasm.Opcode{
		wasm.OpcodeI32Eqz, wasm.OpcodeI32Clz, wasm.OpcodeI32Ctz, wasm.OpcodeI32Popcnt,
		wasm.OpcodeI32Extend8S, wasm.OpcodeI32Extend16S,
	}},
	{[]wasm.ValueType{i64, i64}, i64, []wasm.Opcode{
		wasm.OpcodeI64Add, wasm.OpcodeI64Sub, wasm.OpcodeI64Mul, wasm.OpcodeI64DivS, wasm.OpcodeI64DivU,
		wasm.OpcodeI64RemS, wasm.OpcodeI64RemU, wasm.OpcodeI64And, wasm.OpcodeI64Or, wasm.OpcodeI64Xor,
		wasm.OpcodeI64Shl, wasm.OpcodeI64ShrS, wasm.OpcodeI64ShrU, wasm.OpcodeI64Rotl, wasm.OpcodeI64Rotr,
	}},
	{[]wasm.ValueType{i64, i64}, i32, []wasm.Opcode{
		wasm.OpcodeI64Eq, wasm.OpcodeI64Ne, wasm.OpcodeI64LtS, wasm.OpcodeI64LtU, wasm.OpcodeI64GtS,
		wasm.OpcodeI64GtU, wasm.OpcodeI64LeS, wasm.OpcodeI64LeU, wasm.OpcodeI64GeS, wasm.OpcodeI64GeU,
	}},
	{[]wasm.ValueType{i64}, i64, []wasm.Opcode{
		wasm.OpcodeI64Clz, wasm.OpcodeI64Ctz, wasm.OpcodeI64Popcnt,
		wasm.OpcodeI64Extend8S, wasm.OpcodeI64Extend16S, wasm.OpcodeI64Extend32S,
	}},
	{[]wasm.ValueType{i64}, i32, []wasm.Opcode{wasm.OpcodeI64Eqz, wasm.OpcodeI32WrapI64}},
	{[]wasm.ValueType{i32}, i64, []wasm.Opcode{wasm.OpcodeI64ExtendI32S, wasm.OpcodeI64ExtendI32U}},
	{[]wasm.ValueType{f32, f32}, f32, []wasm.Opcode{
		wasm.OpcodeF32Add, wasm.OpcodeF32Sub, wasm.OpcodeF32Mul, wasm.OpcodeF32Div,
		wasm.OpcodeF32Min, wasm.OpcodeF32Max, wasm.OpcodeF32Copysign,
	}},
	{[]wasm.ValueType{f64, f64}, f64, []wasm.Opcode{
		wasm.OpcodeF64Add, wasm.OpcodeF64Sub, wasm.OpcodeF64Mul, wasm.OpcodeF64Div,
		wasm.OpcodeF64Min, wasm.OpcodeF64Max, wasm.OpcodeF64Copysign,
	}},
	{[]wasm.ValueType{f64, f64}, i32, []wasm.Opcode{
		wasm.OpcodeF64Eq, wasm.OpcodeF64Ne, wasm.OpcodeF64Lt, wasm.OpcodeF64Gt, wasm.OpcodeF64Le, wasm.OpcodeF64Ge,
	}},
	{[]wasm.ValueType{f64}, f64, []wasm.Opcode{
		wasm.OpcodeF64Abs, wasm.OpcodeF64Neg, wasm.OpcodeF64Ceil, wasm.OpcodeF64Floor,
		wasm.OpcodeF64Trunc, wasm.OpcodeF64Nearest, wasm.OpcodeF64Sqrt,
	}},
	{[]wasm.ValueType{f64}, i32, []wasm.Opcode{wasm.OpcodeI32TruncF64S, wasm.OpcodeI32TruncF64U}},
	{[]wasm.ValueType{f64}, i64, []wasm.Opcode{wasm.OpcodeI64TruncF64S, wasm.OpcodeI64TruncF64U}},
	{[]wasm.ValueType{i64}, f64, []wasm.Opcode{wasm.OpcodeF64ConvertI64S, wasm.OpcodeF64ConvertI64U}},
	{[]wasm.ValueType{f64}, f32, []wasm.Opcode{wasm.OpcodeF32DemoteF64}},
	{[]wasm.ValueType{f32}, f64, []wasm.Opcode{wasm.OpcodeF64PromoteF32}},
}

// ArithFunctions returns the functions of ArithModule in function index order.
func ArithFunctions() []ArithFunction {
	var ret []ArithFunction
	for _, sig := range arithSignatures {
		for _, op := range sig.opcodes {
			ret = append(ret, ArithFunction{
				Name:   wasm.InstructionName(op),
				Params: sig.params,
				Result: sig.result,
				opcode: op,
			})
		}
	}
	return ret
}

// ArithModule exports one function per ArithFunctions. Each pushes its parameters in order and applies the
// instruction, so it traps exactly when the instruction does.
func ArithModule() *wasm.Module {
	m := &wasm.Module{NameSection: &wasm.NameSection{ModuleName: "arith"}}
	typeIndex := map[string]wasm.Index{}
	for i, f := range ArithFunctions() {
		ft := &wasm.FunctionType{Params: f.Params, Results: []wasm.ValueType{f.Result}}
		ti, ok := typeIndex[ft.String()]
		if !ok {
			ti = wasm.Index(len(m.TypeSection))
			typeIndex[ft.String()] = ti
			m.TypeSection = append(m.TypeSection, ft)
		}

		var body []byte
		for p := range f.Params {
			body = append(body, wasm.OpcodeLocalGet, byte(p))
		}
		body = append(body, f.opcode, wasm.OpcodeEnd)

		idx := wasm.Index(i)
		m.FunctionSection = append(m.FunctionSection, ti)
		m.CodeSection = append(m.CodeSection, &wasm.Code{Body: body})
		m.ExportSection = append(m.ExportSection, funcExport(f.Name, idx))
		m.NameSection.FunctionNames = append(m.NameSection.FunctionNames, &wasm.NameAssoc{Index: idx, Name: f.Name})
	}
	return m
}

// Arith is ArithModule in the Binary Format.
func Arith() []byte {
	return binary.EncodeModule(ArithModule())
}
