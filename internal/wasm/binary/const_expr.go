package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tetratelabs/wazi/internal/leb128"
	"github.com/tetratelabs/wazi/internal/wasm"
)

func decodeConstantExpression(r *bytes.Reader) (*wasm.ConstantExpression, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read opcode: %v", err)
	}

	remainingBeforeData := int64(r.Len())
	offsetAtData := r.Size() - remainingBeforeData

	opcode := b
	switch opcode {
	case wasm.OpcodeI32Const:
		_, _, err = leb128.DecodeInt32(r)
	case wasm.OpcodeI64Const:
		_, _, err = leb128.DecodeInt64(r)
	case wasm.OpcodeF32Const:
		_, err = io.CopyN(io.Discard, r, 4)
	case wasm.OpcodeF64Const:
		_, err = io.CopyN(io.Discard, r, 8)
	case wasm.OpcodeGlobalGet, wasm.OpcodeRefFunc:
		_, _, err = leb128.DecodeUint32(r)
	case wasm.OpcodeRefNull:
		var refType byte
		if refType, err = r.ReadByte(); err == nil && refType != wasm.RefTypeFuncref && refType != wasm.RefTypeExternref {
			return nil, fmt.Errorf("%w: invalid type for ref.null: %#x", ErrInvalidByte, refType)
		}
	default:
		return nil, fmt.Errorf("%v for const expression opt code: %#x", ErrInvalidByte, b)
	}

	if err != nil {
		return nil, fmt.Errorf("read value: %v", err)
	}

	if b, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("look for end opcode: %v", err)
	}

	if b != wasm.OpcodeEnd {
		return nil, fmt.Errorf("constant expression has been not terminated")
	}

	data := make([]byte, remainingBeforeData-int64(r.Len())-1)
	if _, err = r.ReadAt(data, offsetAtData); err != nil {
		return nil, fmt.Errorf("error re-buffering ConstantExpression.Data")
	}

	return &wasm.ConstantExpression{Opcode: opcode, Data: data}, nil
}

// encodeConstantExpression returns the wasm.ConstantExpression encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#constant-expressions%E2%91%A0
func encodeConstantExpression(expr *wasm.ConstantExpression) (ret []byte) {
	ret = append(ret, expr.Opcode)
	ret = append(ret, expr.Data...)
	ret = append(ret, wasm.OpcodeEnd)
	return
}
