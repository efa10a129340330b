// Package binary decodes and encodes modules in the WebAssembly 1.0 (20191205) Binary Format.
package binary

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/tetratelabs/wazi/internal/leb128"
	"github.com/tetratelabs/wazi/internal/wasm"
)

// DecodeModule implements wasm.DecodeModule for the WebAssembly 1.0 (20191205) Binary Format
//
// Non-custom sections must appear at most once, in ascending order of their wasm.SectionID. Custom sections may
// appear anywhere and are skipped, except the "name" section, which is decoded into wasm.Module NameSection.
//
// Note: The result is structurally decoded, but not validated. Call wasm.Module Validate before use.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-format%E2%91%A0
func DecodeModule(binary []byte) (*wasm.Module, error) {
	r := bytes.NewReader(binary)

	// Magic number.
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, Magic) {
		return nil, ErrInvalidMagicNumber
	}

	// Version.
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, version) {
		return nil, ErrInvalidVersion
	}

	m := &wasm.Module{}
	var lastSectionID wasm.SectionID
	for {
		sectionID, err := r.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("read section id: %w", err)
		}

		sectionSize, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("get size of section %s: %v", wasm.SectionIDName(sectionID), err)
		}
		if uint64(sectionSize) > uint64(r.Len()) {
			return nil, fmt.Errorf("section %s of size %d exceeds the remaining %d bytes",
				wasm.SectionIDName(sectionID), sectionSize, r.Len())
		}

		if sectionID != wasm.SectionIDCustom {
			if sectionID > wasm.SectionIDData {
				return nil, fmt.Errorf("%w: invalid section id: %#x", ErrInvalidByte, sectionID)
			}
			if sectionID == lastSectionID {
				return nil, fmt.Errorf("multiple %s sections are invalid", wasm.SectionIDName(sectionID))
			}
			if sectionID < lastSectionID {
				return nil, fmt.Errorf("section %s must not follow section %s",
					wasm.SectionIDName(sectionID), wasm.SectionIDName(lastSectionID))
			}
			lastSectionID = sectionID
		}

		contents := make([]byte, sectionSize)
		if _, err = io.ReadFull(r, contents); err != nil {
			return nil, fmt.Errorf("read section %s: %w", wasm.SectionIDName(sectionID), err)
		}
		sr := bytes.NewReader(contents)

		if err = decodeSection(m, sectionID, sr); err != nil {
			return nil, fmt.Errorf("section %s: %w", wasm.SectionIDName(sectionID), err)
		}

		if sectionID != wasm.SectionIDCustom && sr.Len() != 0 {
			return nil, fmt.Errorf("section %s: %d bytes remain after decoding", wasm.SectionIDName(sectionID), sr.Len())
		}
	}
	return m, nil
}

var errRedundantNameSection = errors.New("redundant custom section name")

func decodeSection(m *wasm.Module, sectionID wasm.SectionID, r *bytes.Reader) (err error) {
	switch sectionID {
	case wasm.SectionIDCustom:
		return decodeCustomSection(m, r)
	case wasm.SectionIDType:
		m.TypeSection, err = decodeTypeSection(r)
	case wasm.SectionIDImport:
		m.ImportSection, err = decodeImportSection(r)
	case wasm.SectionIDFunction:
		m.FunctionSection, err = decodeFunctionSection(r)
	case wasm.SectionIDTable:
		m.TableSection, err = decodeTableSection(r)
	case wasm.SectionIDMemory:
		m.MemorySection, err = decodeMemorySection(r)
	case wasm.SectionIDGlobal:
		m.GlobalSection, err = decodeGlobalSection(r)
	case wasm.SectionIDExport:
		m.ExportSection, err = decodeExportSection(r)
	case wasm.SectionIDStart:
		m.StartSection, err = decodeStartSection(r)
	case wasm.SectionIDElement:
		m.ElementSection, err = decodeElementSection(r)
	case wasm.SectionIDCode:
		m.CodeSection, err = decodeCodeSection(r)
	case wasm.SectionIDData:
		m.DataSection, err = decodeDataSection(r)
	}
	return
}

// decodeCustomSection decodes the "name" section and skips any other.
func decodeCustomSection(m *wasm.Module, r *bytes.Reader) error {
	name, _, err := decodeUTF8(r, "custom section name")
	if err != nil {
		return err
	}
	if name != "name" {
		return nil
	}
	if m.NameSection != nil {
		return errRedundantNameSection
	}
	m.NameSection, err = decodeNameSection(r, uint64(r.Len()))
	return err
}
