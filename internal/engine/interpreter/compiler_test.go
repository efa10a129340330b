package interpreter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/wazi/internal/wasm"
)

var (
	v_v     = &wasm.FunctionType{}
	v_i32   = &wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}}
	i32_i32 = &wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}
)

func compileBody(t *testing.T, m *wasm.Module) (*code, error) {
	t.Helper()
	ft := m.TypeSection[m.FunctionSection[0]]
	return newCompilation(m).compile(ft, m.CodeSection[0])
}

func singleFunctionModule(ft *wasm.FunctionType, body []byte) *wasm.Module {
	return &wasm.Module{
		TypeSection:     []*wasm.FunctionType{ft},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: body}},
	}
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		module   *wasm.Module
		expected []op
	}{
		{
			name:     "empty",
			module:   singleFunctionModule(v_v, []byte{wasm.OpcodeEnd}),
			expected: []op{{kind: kindFuncEnd}},
		},
		{
			name: "block",
			module: singleFunctionModule(v_v, []byte{
				wasm.OpcodeBlock, 0x40,
				wasm.OpcodeNop,
				wasm.OpcodeEnd,
				wasm.OpcodeEnd,
			}),
			expected: []op{
				{kind: opKind(wasm.OpcodeBlock), u1: 2},
				{kind: opKind(wasm.OpcodeNop)},
				{kind: opKind(wasm.OpcodeEnd)},
				{kind: kindFuncEnd},
			},
		},
		{
			name: "if else",
			module: singleFunctionModule(v_i32, []byte{
				wasm.OpcodeI32Const, 1,
				wasm.OpcodeIf, 0x7f, // result i32
				wasm.OpcodeI32Const, 2,
				wasm.OpcodeElse,
				wasm.OpcodeI32Const, 3,
				wasm.OpcodeEnd,
				wasm.OpcodeEnd,
			}),
			expected: []op{
				{kind: opKind(wasm.OpcodeI32Const), u1: 1},
				{kind: opKind(wasm.OpcodeIf), a2: 1, u1: 3, u2: 5},
				{kind: opKind(wasm.OpcodeI32Const), u1: 2},
				{kind: opKind(wasm.OpcodeElse), u1: 5},
				{kind: opKind(wasm.OpcodeI32Const), u1: 3},
				{kind: opKind(wasm.OpcodeEnd)},
				{kind: kindFuncEnd},
			},
		},
		{
			name: "if without else",
			module: singleFunctionModule(v_v, []byte{
				wasm.OpcodeI32Const, 0,
				wasm.OpcodeIf, 0x40,
				wasm.OpcodeEnd,
				wasm.OpcodeEnd,
			}),
			expected: []op{
				{kind: opKind(wasm.OpcodeI32Const)},
				{kind: opKind(wasm.OpcodeIf), u2: 2},
				{kind: opKind(wasm.OpcodeEnd)},
				{kind: kindFuncEnd},
			},
		},
		{
			name: "loop with type index",
			module: &wasm.Module{
				TypeSection:     []*wasm.FunctionType{i32_i32},
				FunctionSection: []wasm.Index{0},
				CodeSection: []*wasm.Code{{Body: []byte{
					wasm.OpcodeLocalGet, 0,
					wasm.OpcodeLoop, 0, // type[0]
					wasm.OpcodeEnd,
					wasm.OpcodeEnd,
				}}},
			},
			expected: []op{
				{kind: opKind(wasm.OpcodeLocalGet)},
				{kind: opKind(wasm.OpcodeLoop), a1: 1, a2: 1},
				{kind: opKind(wasm.OpcodeEnd)},
				{kind: kindFuncEnd},
			},
		},
		{
			name: "br_table",
			module: singleFunctionModule(v_v, []byte{
				wasm.OpcodeBlock, 0x40,
				wasm.OpcodeI32Const, 0,
				wasm.OpcodeBrTable, 2, 0, 1, 0,
				wasm.OpcodeEnd,
				wasm.OpcodeEnd,
			}),
			expected: []op{
				{kind: opKind(wasm.OpcodeBlock), u1: 3},
				{kind: opKind(wasm.OpcodeI32Const)},
				{kind: opKind(wasm.OpcodeBrTable), targets: []uint32{0, 1, 0}},
				{kind: opKind(wasm.OpcodeEnd)},
				{kind: kindFuncEnd},
			},
		},
		{
			name: "constants",
			module: singleFunctionModule(v_v, []byte{
				wasm.OpcodeI32Const, 0x7f, // -1
				wasm.OpcodeI64Const, 0x7f, // -1
				wasm.OpcodeF32Const, 0x00, 0x00, 0x80, 0x3f, // 1.0
				wasm.OpcodeF64Const, 0, 0, 0, 0, 0, 0, 0xf0, 0x3f, // 1.0
				wasm.OpcodeDrop, wasm.OpcodeDrop, wasm.OpcodeDrop, wasm.OpcodeDrop,
				wasm.OpcodeEnd,
			}),
			expected: []op{
				{kind: opKind(wasm.OpcodeI32Const), u1: 0xffffffff},
				{kind: opKind(wasm.OpcodeI64Const), u1: 0xffffffffffffffff},
				{kind: opKind(wasm.OpcodeF32Const), u1: 0x3f800000},
				{kind: opKind(wasm.OpcodeF64Const), u1: 0x3ff0000000000000},
				{kind: opKind(wasm.OpcodeDrop)},
				{kind: opKind(wasm.OpcodeDrop)},
				{kind: opKind(wasm.OpcodeDrop)},
				{kind: opKind(wasm.OpcodeDrop)},
				{kind: kindFuncEnd},
			},
		},
		{
			name: "memory access keeps the offset",
			module: &wasm.Module{
				TypeSection:     []*wasm.FunctionType{v_i32},
				FunctionSection: []wasm.Index{0},
				MemorySection:   &wasm.Memory{Min: 1},
				CodeSection: []*wasm.Code{{Body: []byte{
					wasm.OpcodeI32Const, 0,
					wasm.OpcodeI32Load, 2, 0x80, 0x01, // align=2, offset=128
					wasm.OpcodeEnd,
				}}},
			},
			expected: []op{
				{kind: opKind(wasm.OpcodeI32Const)},
				{kind: opKind(wasm.OpcodeI32Load), u1: 128},
				{kind: kindFuncEnd},
			},
		},
		{
			name: "typed select and saturating truncation",
			module: singleFunctionModule(v_i32, []byte{
				wasm.OpcodeF32Const, 0, 0, 0, 0,
				wasm.OpcodeMiscPrefix, wasm.OpcodeMiscI32TruncSatF32S,
				wasm.OpcodeI32Const, 1,
				wasm.OpcodeI32Const, 1,
				wasm.OpcodeTypedSelect, 1, wasm.ValueTypeI32,
				wasm.OpcodeEnd,
			}),
			expected: []op{
				{kind: opKind(wasm.OpcodeF32Const)},
				{kind: miscKind(wasm.OpcodeMiscI32TruncSatF32S)},
				{kind: opKind(wasm.OpcodeI32Const), u1: 1},
				{kind: opKind(wasm.OpcodeI32Const), u1: 1},
				{kind: opKind(wasm.OpcodeSelect)},
				{kind: kindFuncEnd},
			},
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			c, err := compileBody(t, tc.module)
			require.NoError(t, err)
			require.Equal(t, tc.expected, c.body)
		})
	}
}

func TestCompile_LocalCount(t *testing.T) {
	m := singleFunctionModule(i32_i32, []byte{wasm.OpcodeLocalGet, 2, wasm.OpcodeEnd})
	m.CodeSection[0].LocalTypes = []wasm.ValueType{wasm.ValueTypeI64, wasm.ValueTypeI32}

	c, err := compileBody(t, m)
	require.NoError(t, err)
	require.Equal(t, 2, c.localCount)
}

func TestCompile_Errors(t *testing.T) {
	withMemory := func(m *wasm.Module) *wasm.Module {
		m.MemorySection = &wasm.Memory{Min: 1}
		return m
	}
	withGlobal := func(m *wasm.Module, mutable bool) *wasm.Module {
		m.GlobalSection = []*wasm.Global{{
			Type: &wasm.GlobalType{ValType: wasm.ValueTypeI32, Mutable: mutable},
			Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0}},
		}}
		return m
	}

	tests := []struct {
		name        string
		module      *wasm.Module
		expectedErr string
	}{
		{
			name:        "missing end",
			module:      singleFunctionModule(v_v, []byte{wasm.OpcodeNop}),
			expectedErr: "unexpected end of function body",
		},
		{
			name:        "bytes after end",
			module:      singleFunctionModule(v_v, []byte{wasm.OpcodeEnd, wasm.OpcodeNop}),
			expectedErr: "1 bytes after the end of function body",
		},
		{
			name:        "invalid instruction",
			module:      singleFunctionModule(v_v, []byte{0x06, wasm.OpcodeEnd}),
			expectedErr: "invalid instruction 0x6 at 0x0",
		},
		{
			name:        "invalid misc instruction",
			module:      singleFunctionModule(v_v, []byte{wasm.OpcodeMiscPrefix, 0x08, wasm.OpcodeEnd}),
			expectedErr: "invalid misc instruction 0xfc 0x8 at 0x0",
		},
		{
			name:        "else without if",
			module:      singleFunctionModule(v_v, []byte{wasm.OpcodeElse, wasm.OpcodeEnd}),
			expectedErr: "else at 0x0 doesn't close an if",
		},
		{
			name:        "unknown label",
			module:      singleFunctionModule(v_v, []byte{wasm.OpcodeBr, 1, wasm.OpcodeEnd}),
			expectedErr: "br at 0x0: unknown label 1",
		},
		{
			name:        "unknown local",
			module:      singleFunctionModule(v_v, []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeEnd}),
			expectedErr: "local.get at 0x0: unknown local 0",
		},
		{
			name:        "unknown function",
			module:      singleFunctionModule(v_v, []byte{wasm.OpcodeCall, 5, wasm.OpcodeEnd}),
			expectedErr: "call at 0x0: unknown function 5",
		},
		{
			name:        "unknown table",
			module:      singleFunctionModule(v_v, []byte{wasm.OpcodeI32Const, 0, wasm.OpcodeCallIndirect, 0, 0, wasm.OpcodeEnd}),
			expectedErr: "call_indirect at 0x2: unknown table 0",
		},
		{
			name:        "unknown block type",
			module:      singleFunctionModule(v_v, []byte{wasm.OpcodeBlock, 3, wasm.OpcodeEnd, wasm.OpcodeEnd}),
			expectedErr: "block at 0x0: invalid block type: 3",
		},
		{
			name: "immutable global",
			module: withGlobal(singleFunctionModule(v_v, []byte{
				wasm.OpcodeI32Const, 0, wasm.OpcodeGlobalSet, 0, wasm.OpcodeEnd,
			}), false),
			expectedErr: "global.set at 0x2: global[0] is immutable",
		},
		{
			name:        "memory must exist",
			module:      singleFunctionModule(v_v, []byte{wasm.OpcodeI32Const, 0, wasm.OpcodeI32Load, 2, 0, wasm.OpcodeDrop, wasm.OpcodeEnd}),
			expectedErr: "i32.load at 0x2: memory must exist",
		},
		{
			name: "alignment",
			module: withMemory(singleFunctionModule(v_v, []byte{
				wasm.OpcodeI32Const, 0, wasm.OpcodeI32Load, 3, 0, wasm.OpcodeDrop, wasm.OpcodeEnd,
			})),
			expectedErr: "i32.load at 0x2: alignment must not be larger than natural",
		},
		{
			name:        "memory.size reserved byte",
			module:      withMemory(singleFunctionModule(v_v, []byte{wasm.OpcodeMemorySize, 1, wasm.OpcodeDrop, wasm.OpcodeEnd})),
			expectedErr: "memory.size at 0x0: reserved byte must be zero",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			_, err := compileBody(t, tc.module)
			require.EqualError(t, err, tc.expectedErr)
		})
	}
}
