package wasm

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/wazi/api"
)

func TestGlobalInstance_API(t *testing.T) {
	tests := []struct {
		name            string
		global          *GlobalInstance
		expectedType    api.ValueType
		expectedVal     uint64
		expectedString  string
		expectedMutable bool
	}{
		{
			name:           "i32 - immutable",
			global:         NewGlobalInstance(&GlobalType{ValType: ValueTypeI32}, api.EncodeI32(-1)),
			expectedType:   ValueTypeI32,
			expectedVal:    api.EncodeI32(-1),
			expectedString: "global(-1)",
		},
		{
			name:           "i64 - immutable - max",
			global:         NewGlobalInstance(&GlobalType{ValType: ValueTypeI64}, math.MaxInt64),
			expectedType:   ValueTypeI64,
			expectedVal:    math.MaxInt64,
			expectedString: "global(9223372036854775807)",
		},
		{
			name:            "f32 - mutable",
			global:          NewGlobalInstance(&GlobalType{ValType: ValueTypeF32, Mutable: true}, api.EncodeF32(1.0)),
			expectedType:    ValueTypeF32,
			expectedVal:     api.EncodeF32(1.0),
			expectedString:  "global(1.000000)",
			expectedMutable: true,
		},
		{
			name:            "f64 - mutable",
			global:          NewGlobalInstance(&GlobalType{ValType: ValueTypeF64, Mutable: true}, api.EncodeF64(-0.5)),
			expectedType:    ValueTypeF64,
			expectedVal:     api.EncodeF64(-0.5),
			expectedString:  "global(-0.500000)",
			expectedMutable: true,
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			g := tc.global.API()
			require.Equal(t, tc.expectedType, g.Type())
			require.Equal(t, tc.expectedVal, g.Get(ctx))
			require.Equal(t, tc.expectedString, g.(interface{ String() string }).String())

			mutable, ok := g.(api.MutableGlobal)
			require.Equal(t, tc.expectedMutable, ok)
			if ok {
				mutable.Set(ctx, api.EncodeI32(2))
				require.Equal(t, api.EncodeI32(2), tc.global.Val)
			}
		})
	}
}

func TestMutableGlobal_Set_i32TruncatesHighBits(t *testing.T) {
	g := NewGlobalInstance(&GlobalType{ValType: ValueTypeI32, Mutable: true}, 0)
	g.API().(api.MutableGlobal).Set(context.Background(), math.MaxUint64)
	require.Equal(t, uint64(math.MaxUint32), g.Val)
}
