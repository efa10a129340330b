package interpreter

import (
	"math"
	"math/bits"

	"github.com/tetratelabs/wazi/internal/moremath"
	"github.com/tetratelabs/wazi/internal/wasm"
	"github.com/tetratelabs/wazi/internal/wasmruntime"
)

const (
	f32SignBit = uint32(1) << 31
	f64SignBit = uint64(1) << 63
)

// execNumeric executes a comparison, arithmetic or conversion instruction on top of the stack, returning the new stack.
// 32-bit values are kept zero-extended and floats as their IEEE 754 bits.
func execNumeric(kind opKind, stack []uint64) []uint64 {
	top := len(stack) - 1
	switch kind {
	// Unary operations replace the top value.
	case opKind(wasm.OpcodeI32Eqz):
		stack[top] = b2u(uint32(stack[top]) == 0)
	case opKind(wasm.OpcodeI64Eqz):
		stack[top] = b2u(stack[top] == 0)
	case opKind(wasm.OpcodeI32Clz):
		stack[top] = uint64(bits.LeadingZeros32(uint32(stack[top])))
	case opKind(wasm.OpcodeI32Ctz):
		stack[top] = uint64(bits.TrailingZeros32(uint32(stack[top])))
	case opKind(wasm.OpcodeI32Popcnt):
		stack[top] = uint64(bits.OnesCount32(uint32(stack[top])))
	case opKind(wasm.OpcodeI64Clz):
		stack[top] = uint64(bits.LeadingZeros64(stack[top]))
	case opKind(wasm.OpcodeI64Ctz):
		stack[top] = uint64(bits.TrailingZeros64(stack[top]))
	case opKind(wasm.OpcodeI64Popcnt):
		stack[top] = uint64(bits.OnesCount64(stack[top]))
	case opKind(wasm.OpcodeF32Abs):
		stack[top] = uint64(uint32(stack[top]) &^ f32SignBit)
	case opKind(wasm.OpcodeF32Neg):
		stack[top] = uint64(uint32(stack[top]) ^ f32SignBit)
	case opKind(wasm.OpcodeF32Ceil):
		stack[top] = f32(float32(math.Ceil(float64(asF32(stack[top])))))
	case opKind(wasm.OpcodeF32Floor):
		stack[top] = f32(float32(math.Floor(float64(asF32(stack[top])))))
	case opKind(wasm.OpcodeF32Trunc):
		stack[top] = f32(float32(math.Trunc(float64(asF32(stack[top])))))
	case opKind(wasm.OpcodeF32Nearest):
		stack[top] = f32(moremath.WasmCompatNearestF32(asF32(stack[top])))
	case opKind(wasm.OpcodeF32Sqrt):
		stack[top] = f32(float32(math.Sqrt(float64(asF32(stack[top])))))
	case opKind(wasm.OpcodeF64Abs):
		stack[top] &^= f64SignBit
	case opKind(wasm.OpcodeF64Neg):
		stack[top] ^= f64SignBit
	case opKind(wasm.OpcodeF64Ceil):
		stack[top] = math.Float64bits(math.Ceil(math.Float64frombits(stack[top])))
	case opKind(wasm.OpcodeF64Floor):
		stack[top] = math.Float64bits(math.Floor(math.Float64frombits(stack[top])))
	case opKind(wasm.OpcodeF64Trunc):
		stack[top] = math.Float64bits(math.Trunc(math.Float64frombits(stack[top])))
	case opKind(wasm.OpcodeF64Nearest):
		stack[top] = math.Float64bits(moremath.WasmCompatNearestF64(math.Float64frombits(stack[top])))
	case opKind(wasm.OpcodeF64Sqrt):
		stack[top] = math.Float64bits(math.Sqrt(math.Float64frombits(stack[top])))
	case opKind(wasm.OpcodeI32WrapI64):
		stack[top] = uint64(uint32(stack[top]))
	case opKind(wasm.OpcodeI32TruncF32S):
		stack[top] = uint64(uint32(truncToInt32(float64(asF32(stack[top])))))
	case opKind(wasm.OpcodeI32TruncF32U):
		stack[top] = uint64(truncToUint32(float64(asF32(stack[top]))))
	case opKind(wasm.OpcodeI32TruncF64S):
		stack[top] = uint64(uint32(truncToInt32(math.Float64frombits(stack[top]))))
	case opKind(wasm.OpcodeI32TruncF64U):
		stack[top] = uint64(truncToUint32(math.Float64frombits(stack[top])))
	case opKind(wasm.OpcodeI64ExtendI32S):
		stack[top] = uint64(int64(int32(stack[top])))
	case opKind(wasm.OpcodeI64ExtendI32U):
		stack[top] = uint64(uint32(stack[top]))
	case opKind(wasm.OpcodeI64TruncF32S):
		stack[top] = uint64(truncToInt64(float64(asF32(stack[top]))))
	case opKind(wasm.OpcodeI64TruncF32U):
		stack[top] = truncToUint64(float64(asF32(stack[top])))
	case opKind(wasm.OpcodeI64TruncF64S):
		stack[top] = uint64(truncToInt64(math.Float64frombits(stack[top])))
	case opKind(wasm.OpcodeI64TruncF64U):
		stack[top] = truncToUint64(math.Float64frombits(stack[top]))
	case opKind(wasm.OpcodeF32ConvertI32S):
		stack[top] = f32(float32(int32(stack[top])))
	case opKind(wasm.OpcodeF32ConvertI32U):
		stack[top] = f32(float32(uint32(stack[top])))
	case opKind(wasm.OpcodeF32ConvertI64S):
		stack[top] = f32(float32(int64(stack[top])))
	case opKind(wasm.OpcodeF32ConvertI64U):
		stack[top] = f32(float32(stack[top]))
	case opKind(wasm.OpcodeF32DemoteF64):
		stack[top] = f32(float32(math.Float64frombits(stack[top])))
	case opKind(wasm.OpcodeF64ConvertI32S):
		stack[top] = math.Float64bits(float64(int32(stack[top])))
	case opKind(wasm.OpcodeF64ConvertI32U):
		stack[top] = math.Float64bits(float64(uint32(stack[top])))
	case opKind(wasm.OpcodeF64ConvertI64S):
		stack[top] = math.Float64bits(float64(int64(stack[top])))
	case opKind(wasm.OpcodeF64ConvertI64U):
		stack[top] = math.Float64bits(float64(stack[top]))
	case opKind(wasm.OpcodeF64PromoteF32):
		stack[top] = math.Float64bits(float64(asF32(stack[top])))
	case opKind(wasm.OpcodeI32ReinterpretF32), opKind(wasm.OpcodeI64ReinterpretF64),
		opKind(wasm.OpcodeF32ReinterpretI32), opKind(wasm.OpcodeF64ReinterpretI64):
		// Values are already held as their bits.
	case opKind(wasm.OpcodeI32Extend8S):
		stack[top] = uint64(uint32(int32(int8(stack[top]))))
	case opKind(wasm.OpcodeI32Extend16S):
		stack[top] = uint64(uint32(int32(int16(stack[top]))))
	case opKind(wasm.OpcodeI64Extend8S):
		stack[top] = uint64(int64(int8(stack[top])))
	case opKind(wasm.OpcodeI64Extend16S):
		stack[top] = uint64(int64(int16(stack[top])))
	case opKind(wasm.OpcodeI64Extend32S):
		stack[top] = uint64(int64(int32(stack[top])))
	case miscKindBase | opKind(wasm.OpcodeMiscI32TruncSatF32S):
		stack[top] = uint64(uint32(satToInt32(float64(asF32(stack[top])))))
	case miscKindBase | opKind(wasm.OpcodeMiscI32TruncSatF32U):
		stack[top] = uint64(satToUint32(float64(asF32(stack[top]))))
	case miscKindBase | opKind(wasm.OpcodeMiscI32TruncSatF64S):
		stack[top] = uint64(uint32(satToInt32(math.Float64frombits(stack[top]))))
	case miscKindBase | opKind(wasm.OpcodeMiscI32TruncSatF64U):
		stack[top] = uint64(satToUint32(math.Float64frombits(stack[top])))
	case miscKindBase | opKind(wasm.OpcodeMiscI64TruncSatF32S):
		stack[top] = uint64(satToInt64(float64(asF32(stack[top]))))
	case miscKindBase | opKind(wasm.OpcodeMiscI64TruncSatF32U):
		stack[top] = satToUint64(float64(asF32(stack[top])))
	case miscKindBase | opKind(wasm.OpcodeMiscI64TruncSatF64S):
		stack[top] = uint64(satToInt64(math.Float64frombits(stack[top])))
	case miscKindBase | opKind(wasm.OpcodeMiscI64TruncSatF64U):
		stack[top] = satToUint64(math.Float64frombits(stack[top]))
	default:
		// Binary operations pop the second operand and replace the first.
		v2 := stack[top]
		stack = stack[:top]
		top--
		stack[top] = binaryOp(kind, stack[top], v2)
	}
	return stack
}

// binaryOp returns the result of a binary instruction over the operands v1 and v2, where v2 was on top of the stack.
func binaryOp(kind opKind, v1, v2 uint64) uint64 {
	switch kind {
	case opKind(wasm.OpcodeI32Eq):
		return b2u(uint32(v1) == uint32(v2))
	case opKind(wasm.OpcodeI32Ne):
		return b2u(uint32(v1) != uint32(v2))
	case opKind(wasm.OpcodeI32LtS):
		return b2u(int32(v1) < int32(v2))
	case opKind(wasm.OpcodeI32LtU):
		return b2u(uint32(v1) < uint32(v2))
	case opKind(wasm.OpcodeI32GtS):
		return b2u(int32(v1) > int32(v2))
	case opKind(wasm.OpcodeI32GtU):
		return b2u(uint32(v1) > uint32(v2))
	case opKind(wasm.OpcodeI32LeS):
		return b2u(int32(v1) <= int32(v2))
	case opKind(wasm.OpcodeI32LeU):
		return b2u(uint32(v1) <= uint32(v2))
	case opKind(wasm.OpcodeI32GeS):
		return b2u(int32(v1) >= int32(v2))
	case opKind(wasm.OpcodeI32GeU):
		return b2u(uint32(v1) >= uint32(v2))
	case opKind(wasm.OpcodeI64Eq):
		return b2u(v1 == v2)
	case opKind(wasm.OpcodeI64Ne):
		return b2u(v1 != v2)
	case opKind(wasm.OpcodeI64LtS):
		return b2u(int64(v1) < int64(v2))
	case opKind(wasm.OpcodeI64LtU):
		return b2u(v1 < v2)
	case opKind(wasm.OpcodeI64GtS):
		return b2u(int64(v1) > int64(v2))
	case opKind(wasm.OpcodeI64GtU):
		return b2u(v1 > v2)
	case opKind(wasm.OpcodeI64LeS):
		return b2u(int64(v1) <= int64(v2))
	case opKind(wasm.OpcodeI64LeU):
		return b2u(v1 <= v2)
	case opKind(wasm.OpcodeI64GeS):
		return b2u(int64(v1) >= int64(v2))
	case opKind(wasm.OpcodeI64GeU):
		return b2u(v1 >= v2)
	case opKind(wasm.OpcodeF32Eq):
		return b2u(asF32(v1) == asF32(v2))
	case opKind(wasm.OpcodeF32Ne):
		return b2u(asF32(v1) != asF32(v2))
	case opKind(wasm.OpcodeF32Lt):
		return b2u(asF32(v1) < asF32(v2))
	case opKind(wasm.OpcodeF32Gt):
		return b2u(asF32(v1) > asF32(v2))
	case opKind(wasm.OpcodeF32Le):
		return b2u(asF32(v1) <= asF32(v2))
	case opKind(wasm.OpcodeF32Ge):
		return b2u(asF32(v1) >= asF32(v2))
	case opKind(wasm.OpcodeF64Eq):
		return b2u(asF64(v1) == asF64(v2))
	case opKind(wasm.OpcodeF64Ne):
		return b2u(asF64(v1) != asF64(v2))
	case opKind(wasm.OpcodeF64Lt):
		return b2u(asF64(v1) < asF64(v2))
	case opKind(wasm.OpcodeF64Gt):
		return b2u(asF64(v1) > asF64(v2))
	case opKind(wasm.OpcodeF64Le):
		return b2u(asF64(v1) <= asF64(v2))
	case opKind(wasm.OpcodeF64Ge):
		return b2u(asF64(v1) >= asF64(v2))

	case opKind(wasm.OpcodeI32Add):
		return uint64(uint32(v1) + uint32(v2))
	case opKind(wasm.OpcodeI32Sub):
		return uint64(uint32(v1) - uint32(v2))
	case opKind(wasm.OpcodeI32Mul):
		return uint64(uint32(v1) * uint32(v2))
	case opKind(wasm.OpcodeI32DivS):
		n, d := int32(v1), int32(v2)
		if d == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		} else if d == -1 && n == math.MinInt32 {
			panic(wasmruntime.ErrRuntimeIntegerOverflow)
		}
		return uint64(uint32(n / d))
	case opKind(wasm.OpcodeI32DivU):
		if uint32(v2) == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		return uint64(uint32(v1) / uint32(v2))
	case opKind(wasm.OpcodeI32RemS):
		n, d := int32(v1), int32(v2)
		if d == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		// Go defines math.MinInt32 % -1 as zero, matching Wasm.
		return uint64(uint32(n % d))
	case opKind(wasm.OpcodeI32RemU):
		if uint32(v2) == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		return uint64(uint32(v1) % uint32(v2))
	case opKind(wasm.OpcodeI32And):
		return uint64(uint32(v1) & uint32(v2))
	case opKind(wasm.OpcodeI32Or):
		return uint64(uint32(v1) | uint32(v2))
	case opKind(wasm.OpcodeI32Xor):
		return uint64(uint32(v1) ^ uint32(v2))
	case opKind(wasm.OpcodeI32Shl):
		return uint64(uint32(v1) << (uint32(v2) % 32))
	case opKind(wasm.OpcodeI32ShrS):
		return uint64(uint32(int32(v1) >> (uint32(v2) % 32)))
	case opKind(wasm.OpcodeI32ShrU):
		return uint64(uint32(v1) >> (uint32(v2) % 32))
	case opKind(wasm.OpcodeI32Rotl):
		return uint64(bits.RotateLeft32(uint32(v1), int(uint32(v2)%32)))
	case opKind(wasm.OpcodeI32Rotr):
		return uint64(bits.RotateLeft32(uint32(v1), -int(uint32(v2)%32)))

	case opKind(wasm.OpcodeI64Add):
		return v1 + v2
	case opKind(wasm.OpcodeI64Sub):
		return v1 - v2
	case opKind(wasm.OpcodeI64Mul):
		return v1 * v2
	case opKind(wasm.OpcodeI64DivS):
		n, d := int64(v1), int64(v2)
		if d == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		} else if d == -1 && n == math.MinInt64 {
			panic(wasmruntime.ErrRuntimeIntegerOverflow)
		}
		return uint64(n / d)
	case opKind(wasm.OpcodeI64DivU):
		if v2 == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		return v1 / v2
	case opKind(wasm.OpcodeI64RemS):
		n, d := int64(v1), int64(v2)
		if d == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		return uint64(n % d)
	case opKind(wasm.OpcodeI64RemU):
		if v2 == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		return v1 % v2
	case opKind(wasm.OpcodeI64And):
		return v1 & v2
	case opKind(wasm.OpcodeI64Or):
		return v1 | v2
	case opKind(wasm.OpcodeI64Xor):
		return v1 ^ v2
	case opKind(wasm.OpcodeI64Shl):
		return v1 << (v2 % 64)
	case opKind(wasm.OpcodeI64ShrS):
		return uint64(int64(v1) >> (v2 % 64))
	case opKind(wasm.OpcodeI64ShrU):
		return v1 >> (v2 % 64)
	case opKind(wasm.OpcodeI64Rotl):
		return bits.RotateLeft64(v1, int(v2%64))
	case opKind(wasm.OpcodeI64Rotr):
		return bits.RotateLeft64(v1, -int(v2%64))

	case opKind(wasm.OpcodeF32Add):
		return f32(asF32(v1) + asF32(v2))
	case opKind(wasm.OpcodeF32Sub):
		return f32(asF32(v1) - asF32(v2))
	case opKind(wasm.OpcodeF32Mul):
		return f32(asF32(v1) * asF32(v2))
	case opKind(wasm.OpcodeF32Div):
		return f32(asF32(v1) / asF32(v2))
	case opKind(wasm.OpcodeF32Min):
		return f32(moremath.WasmCompatMin32(asF32(v1), asF32(v2)))
	case opKind(wasm.OpcodeF32Max):
		return f32(moremath.WasmCompatMax32(asF32(v1), asF32(v2)))
	case opKind(wasm.OpcodeF32Copysign):
		return uint64(uint32(v1)&^f32SignBit | uint32(v2)&f32SignBit)

	case opKind(wasm.OpcodeF64Add):
		return math.Float64bits(asF64(v1) + asF64(v2))
	case opKind(wasm.OpcodeF64Sub):
		return math.Float64bits(asF64(v1) - asF64(v2))
	case opKind(wasm.OpcodeF64Mul):
		return math.Float64bits(asF64(v1) * asF64(v2))
	case opKind(wasm.OpcodeF64Div):
		return math.Float64bits(asF64(v1) / asF64(v2))
	case opKind(wasm.OpcodeF64Min):
		return math.Float64bits(moremath.WasmCompatMin(asF64(v1), asF64(v2)))
	case opKind(wasm.OpcodeF64Max):
		return math.Float64bits(moremath.WasmCompatMax(asF64(v1), asF64(v2)))
	case opKind(wasm.OpcodeF64Copysign):
		return v1&^f64SignBit | v2&f64SignBit
	}
	panic("BUG: unexpected instruction " + wasm.InstructionName(wasm.Opcode(kind)))
}

func asF32(v uint64) float32 {
	return math.Float32frombits(uint32(v))
}

func asF64(v uint64) float64 {
	return math.Float64frombits(v)
}

func f32(v float32) uint64 {
	return uint64(math.Float32bits(v))
}

// truncToInt32 and the other trapping truncations accept a float64 as every float32 converts to it exactly.
func truncToInt32(v float64) int32 {
	if math.IsNaN(v) {
		panic(wasmruntime.ErrRuntimeInvalidConversionToInteger)
	}
	v = math.Trunc(v)
	if v < math.MinInt32 || v > math.MaxInt32 {
		panic(wasmruntime.ErrRuntimeIntegerOverflow)
	}
	return int32(v)
}

func truncToUint32(v float64) uint32 {
	if math.IsNaN(v) {
		panic(wasmruntime.ErrRuntimeInvalidConversionToInteger)
	}
	v = math.Trunc(v)
	if v < 0 || v > math.MaxUint32 {
		panic(wasmruntime.ErrRuntimeIntegerOverflow)
	}
	return uint32(v)
}

func truncToInt64(v float64) int64 {
	if math.IsNaN(v) {
		panic(wasmruntime.ErrRuntimeInvalidConversionToInteger)
	}
	v = math.Trunc(v)
	// math.MaxInt64 rounds up to 2^63 as a float64, which is out of range.
	if v < math.MinInt64 || v >= math.MaxInt64 {
		panic(wasmruntime.ErrRuntimeIntegerOverflow)
	}
	return int64(v)
}

func truncToUint64(v float64) uint64 {
	if math.IsNaN(v) {
		panic(wasmruntime.ErrRuntimeInvalidConversionToInteger)
	}
	v = math.Trunc(v)
	// math.MaxUint64 rounds up to 2^64 as a float64, which is out of range.
	if v < 0 || v >= math.MaxUint64 {
		panic(wasmruntime.ErrRuntimeIntegerOverflow)
	}
	return uint64(v)
}

func satToInt32(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < math.MinInt32:
		return math.MinInt32
	case v > math.MaxInt32:
		return math.MaxInt32
	}
	return int32(math.Trunc(v))
}

func satToUint32(v float64) uint32 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(math.Trunc(v))
}

func satToInt64(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < math.MinInt64:
		return math.MinInt64
	case v >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(math.Trunc(v))
}

func satToUint64(v float64) uint64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v >= math.MaxUint64:
		return math.MaxUint64
	}
	return uint64(math.Trunc(v))
}
