package wasm

import (
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazi/api"
	"github.com/tetratelabs/wazi/internal/leb128"
)

// constantExpressionType returns the type produced by the expression, using the global types in the global index
// space to resolve OpcodeGlobalGet.
func (m *Module) constantExpressionType(expr *ConstantExpression, globals []*GlobalType) (ValueType, error) {
	switch expr.Opcode {
	case OpcodeI32Const:
		_, _, err := leb128.LoadInt32(expr.Data)
		return ValueTypeI32, wrapConstErr(expr, err)
	case OpcodeI64Const:
		_, _, err := leb128.LoadInt64(expr.Data)
		return ValueTypeI64, wrapConstErr(expr, err)
	case OpcodeF32Const:
		if len(expr.Data) != 4 {
			return 0, fmt.Errorf("%s needs 4 bytes but was %d", InstructionName(expr.Opcode), len(expr.Data))
		}
		return ValueTypeF32, nil
	case OpcodeF64Const:
		if len(expr.Data) != 8 {
			return 0, fmt.Errorf("%s needs 8 bytes but was %d", InstructionName(expr.Opcode), len(expr.Data))
		}
		return ValueTypeF64, nil
	case OpcodeGlobalGet:
		idx, _, err := leb128.LoadUint32(expr.Data)
		if err != nil {
			return 0, wrapConstErr(expr, err)
		}
		if idx >= uint32(len(globals)) {
			return 0, fmt.Errorf("global index %d out of range", idx)
		}
		return globals[idx].ValType, nil
	case OpcodeRefNull:
		if len(expr.Data) != 1 || !api.IsReferenceType(expr.Data[0]) {
			return 0, fmt.Errorf("%s has an invalid reference type", InstructionName(expr.Opcode))
		}
		return expr.Data[0], nil
	case OpcodeRefFunc:
		idx, _, err := leb128.LoadUint32(expr.Data)
		if err != nil {
			return 0, wrapConstErr(expr, err)
		}
		if funcCount := m.ImportFuncCount() + uint32(len(m.FunctionSection)); idx >= funcCount {
			return 0, fmt.Errorf("function index %d out of range", idx)
		}
		return ValueTypeFuncref, nil
	}
	return 0, fmt.Errorf("invalid opcode for const expression: %#x", expr.Opcode)
}

func wrapConstErr(expr *ConstantExpression, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("read %s immediate: %w", InstructionName(expr.Opcode), err)
}

// evalConstantExpression returns the raw value of an expression already checked by Module.Validate.
//
// globals holds the globals initialized so far. funcs is the function index space, used for OpcodeRefFunc.
func evalConstantExpression(expr *ConstantExpression, globals []*GlobalInstance, funcs []*FunctionInstance) uint64 {
	switch expr.Opcode {
	case OpcodeI32Const:
		v, _, _ := leb128.LoadInt32(expr.Data)
		return api.EncodeI32(v)
	case OpcodeI64Const:
		v, _, _ := leb128.LoadInt64(expr.Data)
		return api.EncodeI64(v)
	case OpcodeF32Const:
		return uint64(binary.LittleEndian.Uint32(expr.Data))
	case OpcodeF64Const:
		return binary.LittleEndian.Uint64(expr.Data)
	case OpcodeGlobalGet:
		idx, _, _ := leb128.LoadUint32(expr.Data)
		return globals[idx].Val
	case OpcodeRefFunc:
		idx, _, _ := leb128.LoadUint32(expr.Data)
		return funcs[idx].Ref
	}
	return 0 // OpcodeRefNull
}
