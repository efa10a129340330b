package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tetratelabs/wazi/internal/leb128"
	"github.com/tetratelabs/wazi/internal/wasm"
)

func decodeDataSegment(r *bytes.Reader) (*wasm.DataSegment, error) {
	prefix, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read data segment prefix: %v", err)
	}

	var memoryIndex wasm.Index
	switch prefix {
	case 0:
	case 2:
		if memoryIndex, _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("read memory index: %v", err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported data segment prefix: %#x", ErrInvalidByte, prefix)
	}

	expr, err := decodeConstantExpression(r)
	if err != nil {
		return nil, fmt.Errorf("read offset expression: %v", err)
	}

	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get the size of vector: %v", err)
	}
	if uint64(vs) > uint64(r.Len()) {
		return nil, fmt.Errorf("data of size %d exceeds the remaining %d bytes", vs, r.Len())
	}

	b := make([]byte, vs)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read bytes for init: %v", err)
	}

	return &wasm.DataSegment{
		MemoryIndex:      memoryIndex,
		OffsetExpression: expr,
		Init:             b,
	}, nil
}

// encodeDataSegment returns the wasm.DataSegment encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#data-section%E2%91%A0
func encodeDataSegment(d *wasm.DataSegment) (ret []byte) {
	if d.MemoryIndex == 0 {
		ret = append(ret, 0)
	} else {
		ret = append(ret, 2)
		ret = append(ret, leb128.EncodeUint32(d.MemoryIndex)...)
	}
	ret = append(ret, encodeConstantExpression(d.OffsetExpression)...)
	ret = append(ret, encodeSizePrefixed(d.Init)...)
	return
}
