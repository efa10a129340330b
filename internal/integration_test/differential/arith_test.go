// Package differential runs the same binaries on wazi and on wazero's interpreter, expecting the same results and
// traps.
package differential

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"pgregory.net/rapid"

	"github.com/tetratelabs/wazi"
	"github.com/tetratelabs/wazi/api"
	"github.com/tetratelabs/wazi/internal/testing/fixtures"
)

var testCtx = context.Background()

// caller is the common shape of exported functions of both runtimes.
type caller interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

type runtimes struct {
	wazi, wazero func(name string) caller
}

func newRuntimes(t *testing.T, source []byte) *runtimes {
	w := wazi.NewRuntime(testCtx)
	t.Cleanup(func() { w.Close(testCtx) })
	wm, err := w.Instantiate(testCtx, source)
	require.NoError(t, err)

	z := wazero.NewRuntimeWithConfig(testCtx, wazero.NewRuntimeConfigInterpreter())
	t.Cleanup(func() { z.Close(testCtx) })
	zm, err := z.Instantiate(testCtx, source)
	require.NoError(t, err)

	return &runtimes{
		wazi:   func(name string) caller { return wm.ExportedFunction(name) },
		wazero: func(name string) caller { return zm.ExportedFunction(name) },
	}
}

// edgeValues are inputs that exercise overflow, sign handling and float special cases, by type.
var edgeValues = map[api.ValueType][]uint64{
	api.ValueTypeI32: {
		0, 1, 2, 31, 32, 33,
		api.EncodeI32(-1), api.EncodeI32(math.MinInt32), api.EncodeI32(math.MaxInt32), api.EncodeU32(0x80),
	},
	api.ValueTypeI64: {
		0, 1, 63, 64,
		api.EncodeI64(-1), api.EncodeI64(math.MinInt64), api.EncodeI64(math.MaxInt64), 0x8000,
	},
	api.ValueTypeF32: {
		api.EncodeF32(0), api.EncodeF32(float32(math.Copysign(0, -1))), api.EncodeF32(1.5), api.EncodeF32(-2.5),
		api.EncodeF32(float32(math.NaN())), api.EncodeF32(float32(math.Inf(1))), api.EncodeF32(float32(math.Inf(-1))),
		api.EncodeF32(2147483648), api.EncodeF32(1e20),
	},
	api.ValueTypeF64: {
		api.EncodeF64(0), api.EncodeF64(math.Copysign(0, -1)), api.EncodeF64(1.5), api.EncodeF64(-2.5),
		api.EncodeF64(0.5), api.EncodeF64(-0.5), api.EncodeF64(math.NaN()), api.EncodeF64(math.Inf(1)),
		api.EncodeF64(math.Inf(-1)), api.EncodeF64(2147483648), api.EncodeF64(-2147483649),
		api.EncodeF64(4294967296), api.EncodeF64(9223372036854775808), api.EncodeF64(1e300),
	},
}

// paramCombinations returns the cartesian product of edgeValues for the given parameter types.
func paramCombinations(params []api.ValueType) [][]uint64 {
	ret := [][]uint64{{}}
	for _, p := range params {
		var next [][]uint64
		for _, prefix := range ret {
			for _, v := range edgeValues[p] {
				next = append(next, append(append([]uint64{}, prefix...), v))
			}
		}
		ret = next
	}
	return ret
}

func TestArith_edgeValues(t *testing.T) {
	rts := newRuntimes(t, fixtures.Arith())

	for _, f := range fixtures.ArithFunctions() {
		fn := f
		t.Run(fn.Name, func(t *testing.T) {
			waziFn, wazeroFn := rts.wazi(fn.Name), rts.wazero(fn.Name)
			for _, params := range paramCombinations(fn.Params) {
				requireSameOutcome(t, fn, params, waziFn, wazeroFn)
			}
		})
	}
}

func TestArith_random(t *testing.T) {
	rts := newRuntimes(t, fixtures.Arith())
	fns := fixtures.ArithFunctions()

	rapid.Check(t, func(t *rapid.T) {
		fn := rapid.SampledFrom(fns).Draw(t, "fn")
		params := make([]uint64, len(fn.Params))
		for i, p := range fn.Params {
			if p == api.ValueTypeI32 || p == api.ValueTypeF32 {
				params[i] = uint64(rapid.Uint32().Draw(t, "param"))
			} else {
				params[i] = rapid.Uint64().Draw(t, "param")
			}
		}
		requireSameOutcome(t, fn, params, rts.wazi(fn.Name), rts.wazero(fn.Name))
	})
}

// requireSameOutcome requires both functions to return equivalent results, or to trap for the same reason.
func requireSameOutcome(t require.TestingT, fn fixtures.ArithFunction, params []uint64, waziFn, wazeroFn caller) {
	expected, expectedErr := wazeroFn.Call(testCtx, params...)
	actual, actualErr := waziFn.Call(testCtx, params...)
	if expectedErr != nil {
		require.Error(t, actualErr, "%s%v", fn.Name, params)
		require.Equal(t, trapKind(expectedErr), trapKind(actualErr), "%s%v", fn.Name, params)
		return
	}
	require.NoError(t, actualErr, "%s%v", fn.Name, params)
	require.True(t, sameValue(fn.Result, expected[0], actual[0]),
		"%s%v: expected %#x, but was %#x", fn.Name, params, expected[0], actual[0])
}

// trapKind is the first line of a trap, which is the same on both runtimes. Ex. "wasm error: integer overflow"
func trapKind(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}

// sameValue considers NaNs equal, as their payload bits are non-deterministic.
func sameValue(t api.ValueType, a, b uint64) bool {
	switch t {
	case api.ValueTypeF32:
		if math.IsNaN(float64(api.DecodeF32(a))) && math.IsNaN(float64(api.DecodeF32(b))) {
			return true
		}
		return uint32(a) == uint32(b)
	case api.ValueTypeF64:
		if math.IsNaN(api.DecodeF64(a)) && math.IsNaN(api.DecodeF64(b)) {
			return true
		}
	case api.ValueTypeI32:
		return uint32(a) == uint32(b)
	}
	return a == b
}

func TestFixtures(t *testing.T) {
	tests := []struct {
		name   string
		source []byte
		fn     string
		params []uint64
	}{
		{name: "fib", source: fixtures.Fib(), fn: "fib", params: []uint64{20}},
		{name: "call_indirect dispatch", source: fixtures.CallIndirect(), fn: "dispatch", params: []uint64{1, 21}},
		{name: "call_indirect mismatch", source: fixtures.CallIndirect(), fn: "dispatch", params: []uint64{2, 1}},
		{name: "call_indirect null", source: fixtures.CallIndirect(), fn: "dispatch", params: []uint64{3, 1}},
		{name: "call_indirect out of range", source: fixtures.CallIndirect(), fn: "dispatch", params: []uint64{4, 1}},
		{name: "start", source: fixtures.StartFib(), fn: "fib", params: []uint64{7}},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			rts := newRuntimes(t, tc.source)
			expected, expectedErr := rts.wazero(tc.fn).Call(testCtx, tc.params...)
			actual, actualErr := rts.wazi(tc.fn).Call(testCtx, tc.params...)
			if expectedErr != nil {
				require.Error(t, actualErr)
				require.Equal(t, trapKind(expectedErr), trapKind(actualErr))
				return
			}
			require.NoError(t, actualErr)
			require.Equal(t, expected, actual)
		})
	}
}
