package binary

import (
	"bytes"
	"fmt"

	"github.com/tetratelabs/wazi/internal/leb128"
	"github.com/tetratelabs/wazi/internal/wasm"
)

// decodeVectorSize reads the count of a vector, rejecting counts that can't fit in the remaining bytes, as each element
// is at least one byte.
func decodeVectorSize(r *bytes.Reader) (uint32, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, fmt.Errorf("get size of vector: %w", err)
	}
	if uint64(vs) > uint64(r.Len()) {
		return 0, fmt.Errorf("vector size %d exceeds the remaining %d bytes", vs, r.Len())
	}
	return vs, nil
}

func decodeTypeSection(r *bytes.Reader) ([]*wasm.FunctionType, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	result := make([]*wasm.FunctionType, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i], err = decodeFunctionType(r); err != nil {
			return nil, fmt.Errorf("read %d-th type: %w", i, err)
		}
	}
	return result, nil
}

func decodeImportSection(r *bytes.Reader) ([]*wasm.Import, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	result := make([]*wasm.Import, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i], err = decodeImport(r, i); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func decodeFunctionSection(r *bytes.Reader) ([]uint32, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	result := make([]uint32, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i], _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("get type index: %w", err)
		}
	}
	return result, err
}

func decodeTableSection(r *bytes.Reader) ([]*wasm.Table, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	ret := make([]*wasm.Table, vs)
	for i := range ret {
		if ret[i], err = decodeTable(r); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

func decodeMemorySection(r *bytes.Reader) (*wasm.Memory, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}
	if vs > 1 {
		return nil, fmt.Errorf("at most one memory allowed in module, but read %d", vs)
	} else if vs == 0 {
		// memory count can be zero.
		return nil, nil
	}

	return decodeMemory(r)
}

func decodeGlobalSection(r *bytes.Reader) ([]*wasm.Global, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	result := make([]*wasm.Global, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i], err = decodeGlobal(r); err != nil {
			return nil, fmt.Errorf("global[%d]: %w", i, err)
		}
	}
	return result, nil
}

func decodeExportSection(r *bytes.Reader) ([]*wasm.Export, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	exportSection := make([]*wasm.Export, vs)
	for i := wasm.Index(0); i < vs; i++ {
		if exportSection[i], err = decodeExport(r, i); err != nil {
			return nil, fmt.Errorf("read export: %w", err)
		}
	}
	return exportSection, nil
}

func decodeStartSection(r *bytes.Reader) (*wasm.Index, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get function index: %w", err)
	}
	return &vs, nil
}

func decodeElementSection(r *bytes.Reader) ([]*wasm.ElementSegment, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	result := make([]*wasm.ElementSegment, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i], err = decodeElementSegment(r); err != nil {
			return nil, fmt.Errorf("read element: %w", err)
		}
	}
	return result, nil
}

func decodeCodeSection(r *bytes.Reader) ([]*wasm.Code, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	result := make([]*wasm.Code, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i], err = decodeCode(r); err != nil {
			return nil, fmt.Errorf("read %d-th code segment: %w", i, err)
		}
	}
	return result, nil
}

func decodeDataSection(r *bytes.Reader) ([]*wasm.DataSegment, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	result := make([]*wasm.DataSegment, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i], err = decodeDataSegment(r); err != nil {
			return nil, fmt.Errorf("read data segment: %w", err)
		}
	}
	return result, nil
}

// encodeSection encodes the sectionID, the size of its contents in bytes, followed by the contents.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
func encodeSection(sectionID wasm.SectionID, contents []byte) []byte {
	return append([]byte{sectionID}, encodeSizePrefixed(contents)...)
}

// encodeVector encodes each element with encode, prefixed by the count.
func encodeVector[T any](elems []T, encode func(T) []byte) []byte {
	contents := leb128.EncodeUint32(uint32(len(elems)))
	for _, e := range elems {
		contents = append(contents, encode(e)...)
	}
	return contents
}

// encodeCustomSection encodes the opaque bytes for the given name as a SectionIDCustom
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-customsec
func encodeCustomSection(name string, data []byte) []byte {
	contents := append(encodeSizePrefixed([]byte(name)), data...)
	return encodeSection(wasm.SectionIDCustom, contents)
}
