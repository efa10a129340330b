package binary

import (
	"bytes"
	"fmt"

	"github.com/tetratelabs/wazi/internal/wasm"
)

// decodeTable returns the wasm.Table decoded with the WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-table
func decodeTable(r *bytes.Reader) (*wasm.Table, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read leading byte: %v", err)
	}

	if b != wasm.RefTypeFuncref && b != wasm.RefTypeExternref {
		return nil, fmt.Errorf("%w: invalid table type %#x", ErrInvalidByte, b)
	}

	min, max, err := decodeLimitsType(r)
	if err != nil {
		return nil, fmt.Errorf("read limits: %v", err)
	}
	return &wasm.Table{Min: min, Max: max, Type: b}, nil
}

// encodeTable returns the wasm.Table encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-table
func encodeTable(i *wasm.Table) []byte {
	return append([]byte{i.Type}, encodeLimitsType(i.Min, i.Max)...)
}
