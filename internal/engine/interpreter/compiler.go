package interpreter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/tetratelabs/wazi/internal/leb128"
	"github.com/tetratelabs/wazi/internal/wasm"
)

// opKind is a wasm.Opcode, or miscKindBase plus a wasm.OpcodeMisc, or one of the kinds below which have no binary form.
type opKind uint16

const (
	miscKindBase opKind = 0x100

	// kindFuncEnd is the final end of a function body. It leaves the frame with the results on top of the stack.
	kindFuncEnd opKind = 0x200
)

func miscKind(oc wasm.OpcodeMisc) opKind {
	return miscKindBase | opKind(oc)
}

// op is the non-interface union of decoded instructions. The meaning of each field depends on kind:
//
//   - block: a1 and a2 are the parameter and result count, u1 is the position of its end.
//   - loop: a1 and a2 are the parameter and result count.
//   - if: as block, but u1 is the position of its else, or zero if absent, and u2 is the position of its end.
//   - else: u1 is the position of the end of the if.
//   - br, br_if: u1 is the label depth. br_table: targets holds the depths, the default last.
//   - call: u1 is the function index. call_indirect: u1 is the type index and u2 the table index.
//   - memory access: u1 is the static offset.
//   - constants: u1 is the raw value.
//   - otherwise u1 is the index immediate, if any.
type op struct {
	kind    opKind
	u1, u2  uint64
	a1, a2  int
	targets []uint32
}

// code is a compiled function body, shared by every instance of the module that defines it.
type code struct {
	body []op
	// localCount is the number of locals declared by the body, excluding parameters.
	localCount int
}

// controlFrame tracks an open block during compilation.
type controlFrame struct {
	kind opKind
	// at is the position of the block, loop or if op.
	at int
	// elseAt is the position of the else op, or zero if not yet seen.
	elseAt int
}

// compilation holds the index spaces a function body can reference.
type compilation struct {
	module     *wasm.Module
	funcCount  uint32
	tableCount uint32
	globals    []*wasm.GlobalType
	hasMemory  bool
}

func newCompilation(module *wasm.Module) *compilation {
	return &compilation{
		module:     module,
		funcCount:  module.ImportFuncCount() + uint32(len(module.FunctionSection)),
		tableCount: module.ImportTableCount() + uint32(len(module.TableSection)),
		globals:    module.GlobalTypes(),
		hasMemory:  module.HasMemory(),
	}
}

// compile decodes the body of a function, resolving the positions each branch of a block continues at. Indices and
// block nesting are checked here, so the interpreter can index without bounds checks.
func (c *compilation) compile(ft *wasm.FunctionType, fc *wasm.Code) (*code, error) {
	localCount := len(fc.LocalTypes)
	ret := &code{localCount: localCount}
	localsLen := uint64(len(ft.Params) + localCount)

	r := bytes.NewReader(fc.Body)
	controls := []controlFrame{{kind: kindFuncEnd}}
	for {
		pos := len(fc.Body) - r.Len()
		oc, err := r.ReadByte()
		if err == io.EOF {
			return nil, errors.New("unexpected end of function body")
		}
		o := op{kind: opKind(oc)}

		switch oc {
		case wasm.OpcodeUnreachable, wasm.OpcodeNop, wasm.OpcodeReturn, wasm.OpcodeDrop, wasm.OpcodeSelect:
		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			if o.a1, o.a2, err = c.decodeBlockType(r); err != nil {
				return nil, fmt.Errorf("%s at %#x: %w", wasm.InstructionName(oc), pos, err)
			}
			controls = append(controls, controlFrame{kind: o.kind, at: len(ret.body)})
		case wasm.OpcodeElse:
			top := &controls[len(controls)-1]
			if top.kind != opKind(wasm.OpcodeIf) || top.elseAt != 0 {
				return nil, fmt.Errorf("else at %#x doesn't close an if", pos)
			}
			top.elseAt = len(ret.body)
			ret.body[top.at].u1 = uint64(top.elseAt)
		case wasm.OpcodeEnd:
			top := controls[len(controls)-1]
			controls = controls[:len(controls)-1]
			end := uint64(len(ret.body))
			switch top.kind {
			case kindFuncEnd:
				if r.Len() != 0 {
					return nil, fmt.Errorf("%d bytes after the end of function body", r.Len())
				}
				ret.body = append(ret.body, op{kind: kindFuncEnd})
				return ret, nil
			case opKind(wasm.OpcodeIf):
				ret.body[top.at].u2 = end
				if top.elseAt != 0 {
					ret.body[top.elseAt].u1 = end
				}
			case opKind(wasm.OpcodeBlock):
				ret.body[top.at].u1 = end
			}
		case wasm.OpcodeBr, wasm.OpcodeBrIf:
			if o.u1, err = c.decodeLabel(r, len(controls)); err != nil {
				return nil, fmt.Errorf("%s at %#x: %w", wasm.InstructionName(oc), pos, err)
			}
		case wasm.OpcodeBrTable:
			n, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read br_table size: %w", err)
			}
			o.targets = make([]uint32, 0, n+1)
			for i := uint32(0); i <= n; i++ { // The default target is last.
				depth, err := c.decodeLabel(r, len(controls))
				if err != nil {
					return nil, fmt.Errorf("br_table at %#x: %w", pos, err)
				}
				o.targets = append(o.targets, uint32(depth))
			}
		case wasm.OpcodeCall:
			if o.u1, err = decodeIndex(r, c.funcCount, "function"); err != nil {
				return nil, fmt.Errorf("call at %#x: %w", pos, err)
			}
		case wasm.OpcodeCallIndirect:
			if o.u1, err = decodeIndex(r, uint32(len(c.module.TypeSection)), "type"); err != nil {
				return nil, fmt.Errorf("call_indirect at %#x: %w", pos, err)
			}
			if o.u2, err = decodeIndex(r, c.tableCount, "table"); err != nil {
				return nil, fmt.Errorf("call_indirect at %#x: %w", pos, err)
			}
		case wasm.OpcodeTypedSelect:
			n, _, err := leb128.DecodeUint32(r)
			if err != nil || n != 1 {
				return nil, fmt.Errorf("typed select at %#x must have exactly one type", pos)
			}
			if _, err = r.ReadByte(); err != nil {
				return nil, fmt.Errorf("read select type: %w", err)
			}
			o.kind = opKind(wasm.OpcodeSelect)
		case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee:
			if o.u1, err = decodeIndex(r, uint32(localsLen), "local"); err != nil {
				return nil, fmt.Errorf("%s at %#x: %w", wasm.InstructionName(oc), pos, err)
			}
		case wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet:
			if o.u1, err = decodeIndex(r, uint32(len(c.globals)), "global"); err != nil {
				return nil, fmt.Errorf("%s at %#x: %w", wasm.InstructionName(oc), pos, err)
			}
			if oc == wasm.OpcodeGlobalSet && !c.globals[o.u1].Mutable {
				return nil, fmt.Errorf("global.set at %#x: global[%d] is immutable", pos, o.u1)
			}
		case wasm.OpcodeTableGet, wasm.OpcodeTableSet:
			if o.u1, err = decodeIndex(r, c.tableCount, "table"); err != nil {
				return nil, fmt.Errorf("%s at %#x: %w", wasm.InstructionName(oc), pos, err)
			}
		case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
			if !c.hasMemory {
				return nil, fmt.Errorf("%s at %#x: memory must exist", wasm.InstructionName(oc), pos)
			}
			if reserved, err := r.ReadByte(); err != nil || reserved != 0 {
				return nil, fmt.Errorf("%s at %#x: reserved byte must be zero", wasm.InstructionName(oc), pos)
			}
		case wasm.OpcodeI32Const:
			v, _, err := leb128.DecodeInt32(r)
			if err != nil {
				return nil, fmt.Errorf("read i32.const: %w", err)
			}
			o.u1 = uint64(uint32(v))
		case wasm.OpcodeI64Const:
			v, _, err := leb128.DecodeInt64(r)
			if err != nil {
				return nil, fmt.Errorf("read i64.const: %w", err)
			}
			o.u1 = uint64(v)
		case wasm.OpcodeF32Const:
			var buf [4]byte
			if _, err = io.ReadFull(r, buf[:]); err != nil {
				return nil, fmt.Errorf("read f32.const: %w", err)
			}
			o.u1 = uint64(binary.LittleEndian.Uint32(buf[:]))
		case wasm.OpcodeF64Const:
			var buf [8]byte
			if _, err = io.ReadFull(r, buf[:]); err != nil {
				return nil, fmt.Errorf("read f64.const: %w", err)
			}
			o.u1 = binary.LittleEndian.Uint64(buf[:])
		case wasm.OpcodeRefNull:
			rt, err := r.ReadByte()
			if err != nil || (rt != wasm.RefTypeFuncref && rt != wasm.RefTypeExternref) {
				return nil, fmt.Errorf("ref.null at %#x: invalid reference type", pos)
			}
		case wasm.OpcodeRefIsNull:
		case wasm.OpcodeRefFunc:
			if o.u1, err = decodeIndex(r, c.funcCount, "function"); err != nil {
				return nil, fmt.Errorf("ref.func at %#x: %w", pos, err)
			}
		case wasm.OpcodeMiscPrefix:
			sub, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read misc opcode: %w", err)
			}
			if !isMiscOpcode(sub) {
				return nil, fmt.Errorf("invalid misc instruction 0xfc %#x at %#x", sub, pos)
			}
			o.kind = miscKind(wasm.OpcodeMisc(sub))
			switch wasm.OpcodeMisc(sub) {
			case wasm.OpcodeMiscTableGrow, wasm.OpcodeMiscTableSize, wasm.OpcodeMiscTableFill:
				if o.u1, err = decodeIndex(r, c.tableCount, "table"); err != nil {
					return nil, fmt.Errorf("%s at %#x: %w", wasm.MiscInstructionName(wasm.OpcodeMisc(sub)), pos, err)
				}
			}
		default:
			if maxAlign, ok := memoryAlignment(oc); ok {
				if !c.hasMemory {
					return nil, fmt.Errorf("%s at %#x: memory must exist", wasm.InstructionName(oc), pos)
				}
				align, _, err := leb128.DecodeUint32(r)
				if err != nil {
					return nil, fmt.Errorf("read memory alignment: %w", err)
				}
				if align > maxAlign {
					return nil, fmt.Errorf("%s at %#x: alignment must not be larger than natural", wasm.InstructionName(oc), pos)
				}
				offset, _, err := leb128.DecodeUint32(r)
				if err != nil {
					return nil, fmt.Errorf("read memory offset: %w", err)
				}
				o.u1 = uint64(offset)
			} else if oc < wasm.OpcodeI32Eqz || oc > wasm.OpcodeI64Extend32S {
				return nil, fmt.Errorf("invalid instruction %#x at %#x", oc, pos)
			}
		}
		ret.body = append(ret.body, o)
	}
}

// decodeBlockType returns the parameter and result count of a block type, which is either empty, a single result
// value type or a type index.
func (c *compilation) decodeBlockType(r *bytes.Reader) (params, results int, err error) {
	raw, _, err := leb128.DecodeInt33AsInt64(r)
	if err != nil {
		return 0, 0, fmt.Errorf("read block type: %w", err)
	}
	switch raw {
	case -0x40: // 0x40 empty
		return 0, 0, nil
	case -0x01, -0x02, -0x03, -0x04, -0x10, -0x11: // i32, i64, f32, f64, funcref, externref
		return 0, 1, nil
	}
	if raw < 0 || raw >= int64(len(c.module.TypeSection)) {
		return 0, 0, fmt.Errorf("invalid block type: %d", raw)
	}
	ft := c.module.TypeSection[raw]
	return len(ft.Params), len(ft.Results), nil
}

func (c *compilation) decodeLabel(r *bytes.Reader, controlDepth int) (uint64, error) {
	depth, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, fmt.Errorf("read label: %w", err)
	}
	if int(depth) >= controlDepth {
		return 0, fmt.Errorf("unknown label %d", depth)
	}
	return uint64(depth), nil
}

func decodeIndex(r *bytes.Reader, count uint32, kind string) (uint64, error) {
	idx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, fmt.Errorf("read %s index: %w", kind, err)
	}
	if idx >= count {
		return 0, fmt.Errorf("unknown %s %d", kind, idx)
	}
	return uint64(idx), nil
}

// memoryAlignment returns the log2 of the natural alignment of a load or store, or false if oc doesn't access memory.
func memoryAlignment(oc wasm.Opcode) (uint32, bool) {
	switch oc {
	case wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U,
		wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
		return 0, true
	case wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
		wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
		return 1, true
	case wasm.OpcodeI32Load, wasm.OpcodeF32Load, wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U,
		wasm.OpcodeI32Store, wasm.OpcodeF32Store, wasm.OpcodeI64Store32:
		return 2, true
	case wasm.OpcodeI64Load, wasm.OpcodeF64Load, wasm.OpcodeI64Store, wasm.OpcodeF64Store:
		return 3, true
	}
	return 0, false
}

func isMiscOpcode(sub uint32) bool {
	return sub <= uint32(wasm.OpcodeMiscI64TruncSatF64U) ||
		(sub >= uint32(wasm.OpcodeMiscTableGrow) && sub <= uint32(wasm.OpcodeMiscTableFill))
}
