package binary

import (
	"bytes"
	"fmt"

	"github.com/tetratelabs/wazi/internal/leb128"
	"github.com/tetratelabs/wazi/internal/wasm"
)

func ensureElementKindFuncRef(r *bytes.Reader) error {
	elemKind, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read element kind: %w", err)
	}
	if elemKind != 0x0 { // ElemKind is fixed to 0x0 (funcref)
		return fmt.Errorf("element kind must be zero but was %#x", elemKind)
	}
	return nil
}

func decodeElementInitValueVector(r *bytes.Reader) ([]wasm.Index, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	if uint64(vs) > uint64(r.Len()) {
		return nil, fmt.Errorf("%d function indexes exceed the remaining %d bytes", vs, r.Len())
	}

	vec := make([]wasm.Index, vs)
	for i := range vec {
		if vec[i], _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("read function index: %w", err)
		}
	}
	return vec, nil
}

// decodeElementSegment decodes the active segments of function indexes: prefix 0 (table zero) and prefix 2 (explicit
// table index). Other prefixes encode passive, declarative or expression segments, which are not supported.
func decodeElementSegment(r *bytes.Reader) (*wasm.ElementSegment, error) {
	prefix, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read element prefix: %w", err)
	}

	var tableIndex wasm.Index
	switch prefix {
	case 0:
	case 2:
		if tableIndex, _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("read table index: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported element segment prefix: %#x", ErrInvalidByte, prefix)
	}

	expr, err := decodeConstantExpression(r)
	if err != nil {
		return nil, fmt.Errorf("read expr for offset: %w", err)
	}

	if prefix == 2 {
		if err = ensureElementKindFuncRef(r); err != nil {
			return nil, err
		}
	}

	init, err := decodeElementInitValueVector(r)
	if err != nil {
		return nil, err
	}

	return &wasm.ElementSegment{TableIndex: tableIndex, OffsetExpr: expr, Init: init}, nil
}

// encodeElement returns the wasm.ElementSegment encoded in WebAssembly 1.0 (20191205) Binary Format, using prefix 2
// when the table index isn't zero.
//
// https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#element-section%E2%91%A0
func encodeElement(e *wasm.ElementSegment) (ret []byte) {
	if e.TableIndex == 0 {
		ret = append(ret, 0)
		ret = append(ret, encodeConstantExpression(e.OffsetExpr)...)
	} else {
		ret = append(ret, 2)
		ret = append(ret, leb128.EncodeUint32(e.TableIndex)...)
		ret = append(ret, encodeConstantExpression(e.OffsetExpr)...)
		ret = append(ret, 0) // elemkind funcref
	}
	ret = append(ret, leb128.EncodeUint32(uint32(len(e.Init)))...)
	for _, idx := range e.Init {
		ret = append(ret, leb128.EncodeUint32(idx)...)
	}
	return
}
