package binary

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/tetratelabs/wazi/internal/leb128"
	"github.com/tetratelabs/wazi/internal/wasm"
)

func decodeCode(r *bytes.Reader) (*wasm.Code, error) {
	ss, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get the size of code: %w", err)
	}
	if uint64(ss) > uint64(r.Len()) {
		return nil, fmt.Errorf("code of size %d exceeds the remaining %d bytes", ss, r.Len())
	}
	remaining := int64(ss)

	// parse locals
	ls, bytesRead, err := leb128.DecodeUint32(r)
	remaining -= int64(bytesRead)
	if err != nil {
		return nil, fmt.Errorf("get the size locals: %v", err)
	} else if remaining < 0 {
		return nil, io.EOF
	}

	var nums []uint64
	var types []wasm.ValueType
	var sum uint64
	var n uint32
	for i := uint32(0); i < ls; i++ {
		n, bytesRead, err = leb128.DecodeUint32(r)
		remaining -= int64(bytesRead) + 1 // +1 for the subsequent ReadByte
		if err != nil {
			return nil, fmt.Errorf("read n of locals: %v", err)
		} else if remaining < 0 {
			return nil, io.EOF
		}

		sum += uint64(n)
		if sum > math.MaxUint32 {
			return nil, fmt.Errorf("too many locals: %d", sum)
		}
		nums = append(nums, uint64(n))

		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read type of local: %v", err)
		}
		switch vt := b; vt {
		case wasm.ValueTypeI32, wasm.ValueTypeF32, wasm.ValueTypeI64, wasm.ValueTypeF64,
			wasm.ValueTypeFuncref, wasm.ValueTypeExternref:
			types = append(types, vt)
		default:
			return nil, fmt.Errorf("%w: invalid local type: %#x", ErrInvalidByte, vt)
		}
	}

	var localTypes []wasm.ValueType
	for i, num := range nums {
		t := types[i]
		for j := uint64(0); j < num; j++ {
			localTypes = append(localTypes, t)
		}
	}

	body := make([]byte, remaining)
	if _, err = io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if len(body) == 0 || body[len(body)-1] != wasm.OpcodeEnd {
		return nil, fmt.Errorf("expr not end with OpcodeEnd")
	}

	return &wasm.Code{Body: body, LocalTypes: localTypes}, nil
}

// encodeCode returns the wasm.Code encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-code
func encodeCode(c *wasm.Code) []byte {
	if c.GoFunc != nil {
		panic("BUG: host functions have no binary representation")
	}

	// Locals are run-length encoded: consecutive locals of the same type form one block.
	var blocks [][2]uint32 // count, type
	for _, lt := range c.LocalTypes {
		if n := len(blocks); n > 0 && blocks[n-1][1] == uint32(lt) {
			blocks[n-1][0]++
		} else {
			blocks = append(blocks, [2]uint32{1, uint32(lt)})
		}
	}

	data := leb128.EncodeUint32(uint32(len(blocks)))
	for _, b := range blocks {
		data = append(data, leb128.EncodeUint32(b[0])...)
		data = append(data, byte(b[1]))
	}
	data = append(data, c.Body...)
	return encodeSizePrefixed(data)
}
