package binary

import (
	"bytes"

	"github.com/tetratelabs/wazi/internal/wasm"
)

// decodeMemory returns the wasm.Memory decoded with the WebAssembly 1.0 (20191205) Binary Format.
// An absent maximum is set to wasm.MemoryLimitPages; limits are checked by wasm.Module Validate.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-memory
func decodeMemory(r *bytes.Reader) (*wasm.Memory, error) {
	min, maxP, err := decodeLimitsType(r)
	if err != nil {
		return nil, err
	}
	if maxP == nil {
		return &wasm.Memory{Min: min, Max: wasm.MemoryLimitPages}, nil
	}
	return &wasm.Memory{Min: min, Max: *maxP, IsMaxEncoded: true}, nil
}

// encodeMemory returns the wasm.Memory encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-memory
func encodeMemory(i *wasm.Memory) []byte {
	if !i.IsMaxEncoded {
		return encodeLimitsType(i.Min, nil)
	}
	max := i.Max
	return encodeLimitsType(i.Min, &max)
}
