package wasm

import "fmt"

// Opcode is the binary Opcode of an instruction. See also InstructionName
type Opcode = byte

// Control instructions.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#control-instructions%E2%91%A6
const (
	OpcodeUnreachable Opcode = 0x00
	OpcodeNop         Opcode = 0x01
	// OpcodeBlock pushes a label whose branch target is after its OpcodeEnd.
	OpcodeBlock Opcode = 0x02
	// OpcodeLoop pushes a label whose branch target is the loop itself, so branching to it re-enters the loop with
	// its parameters.
	OpcodeLoop Opcode = 0x03
	// OpcodeIf pops an i32 and runs the then-arm when it is non-zero, or the optional else-arm otherwise.
	OpcodeIf   Opcode = 0x04
	OpcodeElse Opcode = 0x05
	OpcodeEnd  Opcode = 0x0b
	// OpcodeBr unwinds the operand stack to the label's height, keeping only the label's arity of values.
	OpcodeBr           Opcode = 0x0c
	OpcodeBrIf         Opcode = 0x0d
	OpcodeBrTable      Opcode = 0x0e
	OpcodeReturn       Opcode = 0x0f
	OpcodeCall         Opcode = 0x10
	OpcodeCallIndirect Opcode = 0x11
)

// Parametric and variable instructions.
const (
	OpcodeDrop        Opcode = 0x1a
	OpcodeSelect      Opcode = 0x1b
	OpcodeTypedSelect Opcode = 0x1c
	OpcodeLocalGet    Opcode = 0x20
	OpcodeLocalSet    Opcode = 0x21
	OpcodeLocalTee    Opcode = 0x22
	OpcodeGlobalGet   Opcode = 0x23
	OpcodeGlobalSet   Opcode = 0x24
	OpcodeTableGet    Opcode = 0x25
	OpcodeTableSet    Opcode = 0x26
)

// Memory instructions. Every one but size and grow carries a memarg immediate: alignment then offset.
const (
	OpcodeI32Load    Opcode = 0x28
	OpcodeI64Load    Opcode = 0x29
	OpcodeF32Load    Opcode = 0x2a
	OpcodeF64Load    Opcode = 0x2b
	OpcodeI32Load8S  Opcode = 0x2c
	OpcodeI32Load8U  Opcode = 0x2d
	OpcodeI32Load16S Opcode = 0x2e
	OpcodeI32Load16U Opcode = 0x2f
	OpcodeI64Load8S  Opcode = 0x30
	OpcodeI64Load8U  Opcode = 0x31
	OpcodeI64Load16S Opcode = 0x32
	OpcodeI64Load16U Opcode = 0x33
	OpcodeI64Load32S Opcode = 0x34
	OpcodeI64Load32U Opcode = 0x35
	OpcodeI32Store   Opcode = 0x36
	OpcodeI64Store   Opcode = 0x37
	OpcodeF32Store   Opcode = 0x38
	OpcodeF64Store   Opcode = 0x39
	OpcodeI32Store8  Opcode = 0x3a
	OpcodeI32Store16 Opcode = 0x3b
	OpcodeI64Store8  Opcode = 0x3c
	OpcodeI64Store16 Opcode = 0x3d
	OpcodeI64Store32 Opcode = 0x3e
	OpcodeMemorySize Opcode = 0x3f
	OpcodeMemoryGrow Opcode = 0x40
)

// Numeric instructions, in binary order.
const (
	OpcodeI32Const Opcode = 0x41 + iota
	OpcodeI64Const
	OpcodeF32Const
	OpcodeF64Const

	OpcodeI32Eqz
	OpcodeI32Eq
	OpcodeI32Ne
	OpcodeI32LtS
	OpcodeI32LtU
	OpcodeI32GtS
	OpcodeI32GtU
	OpcodeI32LeS
	OpcodeI32LeU
	OpcodeI32GeS
	OpcodeI32GeU

	OpcodeI64Eqz
	OpcodeI64Eq
	OpcodeI64Ne
	OpcodeI64LtS
	OpcodeI64LtU
	OpcodeI64GtS
	OpcodeI64GtU
	OpcodeI64LeS
	OpcodeI64LeU
	OpcodeI64GeS
	OpcodeI64GeU

	OpcodeF32Eq
	OpcodeF32Ne
	OpcodeF32Lt
	OpcodeF32Gt
	OpcodeF32Le
	OpcodeF32Ge

	OpcodeF64Eq
	OpcodeF64Ne
	OpcodeF64Lt
	OpcodeF64Gt
	OpcodeF64Le
	OpcodeF64Ge

	OpcodeI32Clz
	OpcodeI32Ctz
	OpcodeI32Popcnt
	OpcodeI32Add
	OpcodeI32Sub
	OpcodeI32Mul
	OpcodeI32DivS
	OpcodeI32DivU
	OpcodeI32RemS
	OpcodeI32RemU
	OpcodeI32And
	OpcodeI32Or
	OpcodeI32Xor
	OpcodeI32Shl
	OpcodeI32ShrS
	OpcodeI32ShrU
	OpcodeI32Rotl
	OpcodeI32Rotr

	OpcodeI64Clz
	OpcodeI64Ctz
	OpcodeI64Popcnt
	OpcodeI64Add
	OpcodeI64Sub
	OpcodeI64Mul
	OpcodeI64DivS
	OpcodeI64DivU
	OpcodeI64RemS
	OpcodeI64RemU
	OpcodeI64And
	OpcodeI64Or
	OpcodeI64Xor
	OpcodeI64Shl
	OpcodeI64ShrS
	OpcodeI64ShrU
	OpcodeI64Rotl
	OpcodeI64Rotr

	OpcodeF32Abs
	OpcodeF32Neg
	OpcodeF32Ceil
	OpcodeF32Floor
	OpcodeF32Trunc
	OpcodeF32Nearest
	OpcodeF32Sqrt
	OpcodeF32Add
	OpcodeF32Sub
	OpcodeF32Mul
	OpcodeF32Div
	OpcodeF32Min
	OpcodeF32Max
	OpcodeF32Copysign

	OpcodeF64Abs
	OpcodeF64Neg
	OpcodeF64Ceil
	OpcodeF64Floor
	OpcodeF64Trunc
	OpcodeF64Nearest
	OpcodeF64Sqrt
	OpcodeF64Add
	OpcodeF64Sub
	OpcodeF64Mul
	OpcodeF64Div
	OpcodeF64Min
	OpcodeF64Max
	OpcodeF64Copysign

	OpcodeI32WrapI64
	OpcodeI32TruncF32S
	OpcodeI32TruncF32U
	OpcodeI32TruncF64S
	OpcodeI32TruncF64U
	OpcodeI64ExtendI32S
	OpcodeI64ExtendI32U
	OpcodeI64TruncF32S
	OpcodeI64TruncF32U
	OpcodeI64TruncF64S
	OpcodeI64TruncF64U
	OpcodeF32ConvertI32S
	OpcodeF32ConvertI32U
	OpcodeF32ConvertI64S
	OpcodeF32ConvertI64U
	OpcodeF32DemoteF64
	OpcodeF64ConvertI32S
	OpcodeF64ConvertI32U
	OpcodeF64ConvertI64S
	OpcodeF64ConvertI64U
	OpcodeF64PromoteF32
	OpcodeI32ReinterpretF32
	OpcodeI64ReinterpretF64
	OpcodeF32ReinterpretI32
	OpcodeF64ReinterpretI64

	OpcodeI32Extend8S
	OpcodeI32Extend16S
	OpcodeI64Extend8S
	OpcodeI64Extend16S
	OpcodeI64Extend32S
)

// Reference instructions.
const (
	// OpcodeRefNull pushes a null reference of the type in its immediate.
	OpcodeRefNull Opcode = 0xd0
	// OpcodeRefIsNull pops a reference and pushes 1 if it is null, 0 otherwise.
	OpcodeRefIsNull Opcode = 0xd1
	// OpcodeRefFunc pushes a reference to the function at the index in its immediate.
	OpcodeRefFunc Opcode = 0xd2

	// OpcodeMiscPrefix is the prefix of multi-byte opcodes. The second part is an OpcodeMisc encoded as a uint32.
	OpcodeMiscPrefix Opcode = 0xfc
)

// OpcodeMisc is the suffix of an instruction prefixed by OpcodeMiscPrefix.
type OpcodeMisc = byte

const (
	// The saturating truncations never trap: NaN becomes zero and out of range values clamp.
	OpcodeMiscI32TruncSatF32S OpcodeMisc = 0x00
	OpcodeMiscI32TruncSatF32U OpcodeMisc = 0x01
	OpcodeMiscI32TruncSatF64S OpcodeMisc = 0x02
	OpcodeMiscI32TruncSatF64U OpcodeMisc = 0x03
	OpcodeMiscI64TruncSatF32S OpcodeMisc = 0x04
	OpcodeMiscI64TruncSatF32U OpcodeMisc = 0x05
	OpcodeMiscI64TruncSatF64S OpcodeMisc = 0x06
	OpcodeMiscI64TruncSatF64U OpcodeMisc = 0x07

	OpcodeMiscTableGrow OpcodeMisc = 0x0f
	OpcodeMiscTableSize OpcodeMisc = 0x10
	OpcodeMiscTableFill OpcodeMisc = 0x11
)

var instructionNames = [256]string{
	OpcodeUnreachable:  "unreachable",
	OpcodeNop:          "nop",
	OpcodeBlock:        "block",
	OpcodeLoop:         "loop",
	OpcodeIf:           "if",
	OpcodeElse:         "else",
	OpcodeEnd:          "end",
	OpcodeBr:           "br",
	OpcodeBrIf:         "br_if",
	OpcodeBrTable:      "br_table",
	OpcodeReturn:       "return",
	OpcodeCall:         "call",
	OpcodeCallIndirect: "call_indirect",
	OpcodeDrop:         "drop",
	OpcodeSelect:       "select",
	OpcodeTypedSelect:  "select",
	OpcodeLocalGet:     "local.get",
	OpcodeLocalSet:     "local.set",
	OpcodeLocalTee:     "local.tee",
	OpcodeGlobalGet:    "global.get",
	OpcodeGlobalSet:    "global.set",
	OpcodeTableGet:     "table.get",
	OpcodeTableSet:     "table.set",

	OpcodeI32Load:    "i32.load",
	OpcodeI64Load:    "i64.load",
	OpcodeF32Load:    "f32.load",
	OpcodeF64Load:    "f64.load",
	OpcodeI32Load8S:  "i32.load8_s",
	OpcodeI32Load8U:  "i32.load8_u",
	OpcodeI32Load16S: "i32.load16_s",
	OpcodeI32Load16U: "i32.load16_u",
	OpcodeI64Load8S:  "i64.load8_s",
	OpcodeI64Load8U:  "i64.load8_u",
	OpcodeI64Load16S: "i64.load16_s",
	OpcodeI64Load16U: "i64.load16_u",
	OpcodeI64Load32S: "i64.load32_s",
	OpcodeI64Load32U: "i64.load32_u",
	OpcodeI32Store:   "i32.store",
	OpcodeI64Store:   "i64.store",
	OpcodeF32Store:   "f32.store",
	OpcodeF64Store:   "f64.store",
	OpcodeI32Store8:  "i32.store8",
	OpcodeI32Store16: "i32.store16",
	OpcodeI64Store8:  "i64.store8",
	OpcodeI64Store16: "i64.store16",
	OpcodeI64Store32: "i64.store32",
	OpcodeMemorySize: "memory.size",
	OpcodeMemoryGrow: "memory.grow",

	OpcodeI32Const: "i32.const",
	OpcodeI64Const: "i64.const",
	OpcodeF32Const: "f32.const",
	OpcodeF64Const: "f64.const",

	OpcodeI32Eqz: "i32.eqz",
	OpcodeI32Eq:  "i32.eq",
	OpcodeI32Ne:  "i32.ne",
	OpcodeI32LtS: "i32.lt_s",
	OpcodeI32LtU: "i32.lt_u",
	OpcodeI32GtS: "i32.gt_s",
	OpcodeI32GtU: "i32.gt_u",
	OpcodeI32LeS: "i32.le_s",
	OpcodeI32LeU: "i32.le_u",
	OpcodeI32GeS: "i32.ge_s",
	OpcodeI32GeU: "i32.ge_u",
	OpcodeI64Eqz: "i64.eqz",
	OpcodeI64Eq:  "i64.eq",
	OpcodeI64Ne:  "i64.ne",
	OpcodeI64LtS: "i64.lt_s",
	OpcodeI64LtU: "i64.lt_u",
	OpcodeI64GtS: "i64.gt_s",
	OpcodeI64GtU: "i64.gt_u",
	OpcodeI64LeS: "i64.le_s",
	OpcodeI64LeU: "i64.le_u",
	OpcodeI64GeS: "i64.ge_s",
	OpcodeI64GeU: "i64.ge_u",
	OpcodeF32Eq:  "f32.eq",
	OpcodeF32Ne:  "f32.ne",
	OpcodeF32Lt:  "f32.lt",
	OpcodeF32Gt:  "f32.gt",
	OpcodeF32Le:  "f32.le",
	OpcodeF32Ge:  "f32.ge",
	OpcodeF64Eq:  "f64.eq",
	OpcodeF64Ne:  "f64.ne",
	OpcodeF64Lt:  "f64.lt",
	OpcodeF64Gt:  "f64.gt",
	OpcodeF64Le:  "f64.le",
	OpcodeF64Ge:  "f64.ge",

	OpcodeI32Clz:    "i32.clz",
	OpcodeI32Ctz:    "i32.ctz",
	OpcodeI32Popcnt: "i32.popcnt",
	OpcodeI32Add:    "i32.add",
	OpcodeI32Sub:    "i32.sub",
	OpcodeI32Mul:    "i32.mul",
	OpcodeI32DivS:   "i32.div_s",
	OpcodeI32DivU:   "i32.div_u",
	OpcodeI32RemS:   "i32.rem_s",
	OpcodeI32RemU:   "i32.rem_u",
	OpcodeI32And:    "i32.and",
	OpcodeI32Or:     "i32.or",
	OpcodeI32Xor:    "i32.xor",
	OpcodeI32Shl:    "i32.shl",
	OpcodeI32ShrS:   "i32.shr_s",
	OpcodeI32ShrU:   "i32.shr_u",
	OpcodeI32Rotl:   "i32.rotl",
	OpcodeI32Rotr:   "i32.rotr",
	OpcodeI64Clz:    "i64.clz",
	OpcodeI64Ctz:    "i64.ctz",
	OpcodeI64Popcnt: "i64.popcnt",
	OpcodeI64Add:    "i64.add",
	OpcodeI64Sub:    "i64.sub",
	OpcodeI64Mul:    "i64.mul",
	OpcodeI64DivS:   "i64.div_s",
	OpcodeI64DivU:   "i64.div_u",
	OpcodeI64RemS:   "i64.rem_s",
	OpcodeI64RemU:   "i64.rem_u",
	OpcodeI64And:    "i64.and",
	OpcodeI64Or:     "i64.or",
	OpcodeI64Xor:    "i64.xor",
	OpcodeI64Shl:    "i64.shl",
	OpcodeI64ShrS:   "i64.shr_s",
	OpcodeI64ShrU:   "i64.shr_u",
	OpcodeI64Rotl:   "i64.rotl",
	OpcodeI64Rotr:   "i64.rotr",

	OpcodeF32Abs:      "f32.abs",
	OpcodeF32Neg:      "f32.neg",
	OpcodeF32Ceil:     "f32.ceil",
	OpcodeF32Floor:    "f32.floor",
	OpcodeF32Trunc:    "f32.trunc",
	OpcodeF32Nearest:  "f32.nearest",
	OpcodeF32Sqrt:     "f32.sqrt",
	OpcodeF32Add:      "f32.add",
	OpcodeF32Sub:      "f32.sub",
	OpcodeF32Mul:      "f32.mul",
	OpcodeF32Div:      "f32.div",
	OpcodeF32Min:      "f32.min",
	OpcodeF32Max:      "f32.max",
	OpcodeF32Copysign: "f32.copysign",
	OpcodeF64Abs:      "f64.abs",
	OpcodeF64Neg:      "f64.neg",
	OpcodeF64Ceil:     "f64.ceil",
	OpcodeF64Floor:    "f64.floor",
	OpcodeF64Trunc:    "f64.trunc",
	OpcodeF64Nearest:  "f64.nearest",
	OpcodeF64Sqrt:     "f64.sqrt",
	OpcodeF64Add:      "f64.add",
	OpcodeF64Sub:      "f64.sub",
	OpcodeF64Mul:      "f64.mul",
	OpcodeF64Div:      "f64.div",
	OpcodeF64Min:      "f64.min",
	OpcodeF64Max:      "f64.max",
	OpcodeF64Copysign: "f64.copysign",

	OpcodeI32WrapI64:        "i32.wrap_i64",
	OpcodeI32TruncF32S:      "i32.trunc_f32_s",
	OpcodeI32TruncF32U:      "i32.trunc_f32_u",
	OpcodeI32TruncF64S:      "i32.trunc_f64_s",
	OpcodeI32TruncF64U:      "i32.trunc_f64_u",
	OpcodeI64ExtendI32S:     "i64.extend_i32_s",
	OpcodeI64ExtendI32U:     "i64.extend_i32_u",
	OpcodeI64TruncF32S:      "i64.trunc_f32_s",
	OpcodeI64TruncF32U:      "i64.trunc_f32_u",
	OpcodeI64TruncF64S:      "i64.trunc_f64_s",
	OpcodeI64TruncF64U:      "i64.trunc_f64_u",
	OpcodeF32ConvertI32S:    "f32.convert_i32_s",
	OpcodeF32ConvertI32U:    "f32.convert_i32_u",
	OpcodeF32ConvertI64S:    "f32.convert_i64_s",
	OpcodeF32ConvertI64U:    "f32.convert_i64_u",
	OpcodeF32DemoteF64:      "f32.demote_f64",
	OpcodeF64ConvertI32S:    "f64.convert_i32_s",
	OpcodeF64ConvertI32U:    "f64.convert_i32_u",
	OpcodeF64ConvertI64S:    "f64.convert_i64_s",
	OpcodeF64ConvertI64U:    "f64.convert_i64_u",
	OpcodeF64PromoteF32:     "f64.promote_f32",
	OpcodeI32ReinterpretF32: "i32.reinterpret_f32",
	OpcodeI64ReinterpretF64: "i64.reinterpret_f64",
	OpcodeF32ReinterpretI32: "f32.reinterpret_i32",
	OpcodeF64ReinterpretI64: "f64.reinterpret_i64",
	OpcodeI32Extend8S:       "i32.extend8_s",
	OpcodeI32Extend16S:      "i32.extend16_s",
	OpcodeI64Extend8S:       "i64.extend8_s",
	OpcodeI64Extend16S:      "i64.extend16_s",
	OpcodeI64Extend32S:      "i64.extend32_s",

	OpcodeRefNull:    "ref.null",
	OpcodeRefIsNull:  "ref.is_null",
	OpcodeRefFunc:    "ref.func",
	OpcodeMiscPrefix: "misc_prefix",
}

var miscInstructionNames = map[OpcodeMisc]string{
	OpcodeMiscI32TruncSatF32S: "i32.trunc_sat_f32_s",
	OpcodeMiscI32TruncSatF32U: "i32.trunc_sat_f32_u",
	OpcodeMiscI32TruncSatF64S: "i32.trunc_sat_f64_s",
	OpcodeMiscI32TruncSatF64U: "i32.trunc_sat_f64_u",
	OpcodeMiscI64TruncSatF32S: "i64.trunc_sat_f32_s",
	OpcodeMiscI64TruncSatF32U: "i64.trunc_sat_f32_u",
	OpcodeMiscI64TruncSatF64S: "i64.trunc_sat_f64_s",
	OpcodeMiscI64TruncSatF64U: "i64.trunc_sat_f64_u",
	OpcodeMiscTableGrow:       "table.grow",
	OpcodeMiscTableSize:       "table.size",
	OpcodeMiscTableFill:       "table.fill",
}

// InstructionName returns the instruction corresponding to this binary Opcode, or a hex string if unknown.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#a7-index-of-instructions
func InstructionName(oc Opcode) string {
	if name := instructionNames[oc]; name != "" {
		return name
	}
	return fmt.Sprintf("%#x", oc)
}

// MiscInstructionName is InstructionName for the suffix of an OpcodeMiscPrefix instruction.
func MiscInstructionName(oc OpcodeMisc) string {
	if name, ok := miscInstructionNames[oc]; ok {
		return name
	}
	return fmt.Sprintf("misc(%#x)", oc)
}
