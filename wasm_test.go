package wazi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tetratelabs/wazi/api"
	"github.com/tetratelabs/wazi/internal/testing/fixtures"
	"github.com/tetratelabs/wazi/internal/wasm"
	"github.com/tetratelabs/wazi/internal/wasm/binary"
	"github.com/tetratelabs/wazi/internal/wasmruntime"
)

// testCtx is an arbitrary, non-default context. Non-nil also prevents linter errors.
var testCtx = context.WithValue(context.Background(), struct{}{}, "arbitrary")

func fib(n uint32) uint32 {
	a, b := uint32(0), uint32(1)
	for i := uint32(0); i < n; i++ {
		a, b = b, a+b
	}
	return a
}

func instantiate(t *testing.T, r Runtime, source []byte, config *ModuleConfig) api.Module {
	t.Helper()
	compiled, err := r.CompileModule(testCtx, source)
	require.NoError(t, err)
	m, err := r.InstantiateModule(testCtx, compiled, config)
	require.NoError(t, err)
	return m
}

func TestRuntime_fib(t *testing.T) {
	r := NewRuntime(testCtx)
	defer r.Close(testCtx)

	fibFn := instantiate(t, r, fixtures.Fib(), nil).ExportedFunction("fib")
	for n := uint32(0); n <= 30; n++ {
		results, err := fibFn.Call(testCtx, api.EncodeU32(n))
		require.NoError(t, err)
		require.Equal(t, []uint64{uint64(fib(n))}, results, "fib(%d)", n)
	}
}

func TestRuntime_pureCallsAreIdempotent(t *testing.T) {
	r := NewRuntime(testCtx)
	defer r.Close(testCtx)

	m := instantiate(t, r, fixtures.CallIndirect(), nil)
	bumps := m.ExportedGlobal("bumps")
	fibFn := m.ExportedFunction("direct")

	first, err := fibFn.Call(testCtx, 20)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := fibFn.Call(testCtx, 20)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	require.Zero(t, bumps.Get(testCtx))
}

func TestRuntime_callIndirect(t *testing.T) {
	r := NewRuntime(testCtx)
	defer r.Close(testCtx)

	m := instantiate(t, r, fixtures.CallIndirect(), nil)
	dispatch, direct := m.ExportedFunction("dispatch"), m.ExportedFunction("direct")

	t.Run("same results as direct call", func(t *testing.T) {
		for n := uint64(0); n <= 20; n++ {
			expected, err := direct.Call(testCtx, n)
			require.NoError(t, err)
			actual, err := dispatch.Call(testCtx, 0, n)
			require.NoError(t, err)
			require.Equal(t, expected, actual)
		}
	})

	t.Run("other element", func(t *testing.T) {
		results, err := dispatch.Call(testCtx, 1, 21)
		require.NoError(t, err)
		require.Equal(t, []uint64{42}, results)
	})

	tests := []struct {
		name        string
		index       uint64
		expectedErr error
	}{
		{name: "type mismatch", index: 2, expectedErr: wasmruntime.ErrRuntimeIndirectCallTypeMismatch},
		{name: "null element", index: 3, expectedErr: wasmruntime.ErrRuntimeInvalidTableAccess},
		{name: "out of range", index: 4, expectedErr: wasmruntime.ErrRuntimeInvalidTableAccess},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			_, err := dispatch.Call(testCtx, tc.index, 1)
			require.ErrorIs(t, err, tc.expectedErr)
			// The mismatched function increments bumps, so it must not have run.
			require.Zero(t, m.ExportedGlobal("bumps").Get(testCtx))
		})
	}

	t.Run("trap message", func(t *testing.T) {
		_, err := dispatch.Call(testCtx, 2, 1)
		require.EqualError(t, err, `wasm error: indirect call type mismatch
wasm stack trace:
	call_indirect.dispatch(i32,i32) i32`)
	})
}

func TestRuntime_startFunction(t *testing.T) {
	r := NewRuntime(testCtx)
	defer r.Close(testCtx)

	m := instantiate(t, r, fixtures.StartFib(), nil)
	// Read before calling any function.
	require.Equal(t, uint64(13), m.ExportedGlobal("result").Get(testCtx))
}

func TestRuntime_dataSegments(t *testing.T) {
	payload := []byte{1, 2, 3, 4}

	t.Run("fits", func(t *testing.T) {
		r := NewRuntime(testCtx)
		defer r.Close(testCtx)

		m := instantiate(t, r, fixtures.Data(65534, payload, false), nil)
		mem := m.ExportedMemory("memory")
		require.Equal(t, uint32(131072), mem.Size(testCtx))

		actual, ok := mem.Read(testCtx, 65534, 4)
		require.True(t, ok)
		require.Equal(t, payload, actual)
		actual, ok = mem.Read(testCtx, 0, 4)
		require.True(t, ok)
		require.Equal(t, fixtures.DataMarker, actual)
	})

	tests := []struct {
		name    string
		offset  uint32
		payload []byte
	}{
		{name: "offset past the end", offset: 131072, payload: payload},
		{name: "payload past the end", offset: 131070, payload: payload},
		{name: "offset wraps", offset: 0xffffffff, payload: payload},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			r := NewRuntime(testCtx)
			defer r.Close(testCtx)

			max := uint32(2)
			imports := NewImports().WithMemory("env", "memory", 2, &max)
			compiled, err := r.CompileModule(testCtx, fixtures.Data(tc.offset, tc.payload, true))
			require.NoError(t, err)

			_, err = r.InstantiateModule(testCtx, compiled, NewModuleConfig().WithImports(imports))
			var oob *wasm.DataSegmentOutOfBoundsError
			require.ErrorAs(t, err, &oob)
			require.Equal(t, wasm.Index(1), oob.SegmentIndex)

			// The first segment fits, but must not have been written either.
			actual, ok := imports.Memory("env", "memory").Read(testCtx, 0, 4)
			require.True(t, ok)
			require.Equal(t, make([]byte, 4), actual)
			require.Nil(t, r.Module("data"))
		})
	}
}

func TestRuntime_importedGlobals(t *testing.T) {
	r := NewRuntime(testCtx)
	defer r.Close(testCtx)

	imports := NewImports().WithGlobal("env", "zero", api.ValueTypeI32, false, 0)
	m := instantiate(t, r, fixtures.Globals(), NewModuleConfig().WithImports(imports))

	zero, one := m.ExportedGlobal("zero"), m.ExportedGlobal("one")
	require.Equal(t, uint64(0), zero.Get(testCtx))
	require.Equal(t, uint64(1), one.Get(testCtx))

	_, ok := zero.(api.MutableGlobal)
	require.False(t, ok)
	_, ok = one.(api.MutableGlobal)
	require.False(t, ok)

	results, err := m.ExportedFunction("sum").Call(testCtx)
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, results)

	require.Equal(t, uint64(0), zero.Get(testCtx))
	require.Equal(t, uint64(1), one.Get(testCtx))
}

func TestRuntime_InstantiateModule_importResolution(t *testing.T) {
	tests := []struct {
		name        string
		imports     *Imports
		expectedErr string
	}{
		{
			name:        "missing module",
			imports:     NewImports(),
			expectedErr: "import global[env.zero]: module[env] not instantiated",
		},
		{
			name:        "missing name",
			imports:     NewImports().WithGlobal("env", "one", api.ValueTypeI32, false, 1),
			expectedErr: `import global[env.zero]: "zero" is not exported in module "env"`,
		},
		{
			name:        "wrong type",
			imports:     NewImports().WithGlobal("env", "zero", api.ValueTypeI64, false, 0),
			expectedErr: "import global[env.zero]: value type mismatch: i32 != i64",
		},
		{
			name:        "wrong mutability",
			imports:     NewImports().WithGlobal("env", "zero", api.ValueTypeI32, true, 0),
			expectedErr: "import global[env.zero]: mutability mismatch: false != true",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			r := NewRuntime(testCtx)
			defer r.Close(testCtx)

			compiled, err := r.CompileModule(testCtx, fixtures.Globals())
			require.NoError(t, err)
			_, err = r.InstantiateModule(testCtx, compiled, NewModuleConfig().WithImports(tc.imports))
			var resolution *wasm.ImportResolutionError
			require.ErrorAs(t, err, &resolution)
			require.EqualError(t, err, tc.expectedErr)
		})
	}
}

func TestRuntime_InstantiateModule_importsInstantiatedModules(t *testing.T) {
	r := NewRuntime(testCtx)
	defer r.Close(testCtx)

	instantiate(t, r, fixtures.Fib(), nil)

	// Imports "fib" "fib" and re-exports it.
	importer := binary.EncodeModule(&wasm.Module{
		TypeSection:   []*wasm.FunctionType{{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		ImportSection: []*wasm.Import{{Type: wasm.ExternTypeFunc, Module: "fib", Name: "fib", DescFunc: 0}},
		ExportSection: []*wasm.Export{{Type: wasm.ExternTypeFunc, Name: "imported", Index: 0}},
	})

	t.Run("by module name", func(t *testing.T) {
		m := instantiate(t, r, importer, NewModuleConfig().WithName("a"))
		results, err := m.ExportedFunction("imported").Call(testCtx, 10)
		require.NoError(t, err)
		require.Equal(t, []uint64{55}, results)
	})

	t.Run("renamed by WithModule", func(t *testing.T) {
		renamed := instantiate(t, r, fixtures.Fib(), NewModuleConfig().WithName("other"))
		imports := NewImports().WithModule("fib", renamed)
		m := instantiate(t, r, importer, NewModuleConfig().WithName("b").WithImports(imports))
		results, err := m.ExportedFunction("imported").Call(testCtx, 10)
		require.NoError(t, err)
		require.Equal(t, []uint64{55}, results)
	})
}

func TestRuntime_InstantiateModule_names(t *testing.T) {
	r := NewRuntime(testCtx)
	defer r.Close(testCtx)

	compiled, err := r.CompileModule(testCtx, fixtures.Fib())
	require.NoError(t, err)
	require.Equal(t, "fib", compiled.Name())

	m, err := r.InstantiateModule(testCtx, compiled, nil)
	require.NoError(t, err)
	require.Equal(t, "fib", m.Name())
	require.Equal(t, m, r.Module("fib"))

	_, err = r.InstantiateModule(testCtx, compiled, nil)
	require.EqualError(t, err, "module[fib] has already been instantiated")

	m2, err := r.InstantiateModule(testCtx, compiled, NewModuleConfig().WithName("fib2"))
	require.NoError(t, err)
	require.Equal(t, "fib2", m2.Name())

	require.NoError(t, m.Close(testCtx))
	require.Nil(t, r.Module("fib"))

	// The name can be reused once closed.
	_, err = r.InstantiateModule(testCtx, compiled, nil)
	require.NoError(t, err)
}

func TestRuntime_CompileModule_Errors(t *testing.T) {
	tests := []struct {
		name        string
		source      []byte
		config      *RuntimeConfig
		expectedErr string
	}{
		{
			name:        "nil",
			expectedErr: "source == nil",
		},
		{
			name:        "invalid magic",
			source:      []byte("(module)"),
			expectedErr: "invalid magic number",
		},
		{
			name: "invalid module",
			source: binary.EncodeModule(&wasm.Module{
				ExportSection: []*wasm.Export{{Type: wasm.ExternTypeFunc, Name: "f", Index: 0}},
			}),
			expectedErr: "invalid module: unknown function for export[\"f\"]",
		},
		{
			name:        "memory exceeds limit",
			source:      fixtures.Data(0, nil, false),
			config:      NewRuntimeConfig().WithMemoryLimitPages(1),
			expectedErr: "invalid module: memory[0]: min 2 pages (128 Ki) over limit of 1 pages (64 Ki)",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			config := tc.config
			if config == nil {
				config = NewRuntimeConfig()
			}
			r := NewRuntimeWithConfig(testCtx, config)
			defer r.Close(testCtx)

			_, err := r.CompileModule(testCtx, tc.source)
			require.EqualError(t, err, tc.expectedErr)
		})
	}
}

func TestRuntime_InstantiateModule_Errors(t *testing.T) {
	r := NewRuntime(testCtx)
	defer r.Close(testCtx)
	other := NewRuntime(testCtx)
	defer other.Close(testCtx)

	compiled, err := r.CompileModule(testCtx, fixtures.Fib())
	require.NoError(t, err)

	t.Run("another runtime", func(t *testing.T) {
		_, err := other.InstantiateModule(testCtx, compiled, nil)
		require.EqualError(t, err, "compiled module was created by another runtime")
	})

	t.Run("closed", func(t *testing.T) {
		c, err := r.CompileModule(testCtx, fixtures.Fib())
		require.NoError(t, err)
		require.NoError(t, c.Close(testCtx))
		_, err = r.InstantiateModule(testCtx, c, nil)
		require.EqualError(t, err, "module[fib] is closed")
	})

	t.Run("invalid imports", func(t *testing.T) {
		imports := NewImports().WithTable("env", "table", 2, new(uint32))
		_, err := r.InstantiateModule(testCtx, compiled, NewModuleConfig().WithImports(imports))
		require.EqualError(t, err, "imports: table[env.table] has invalid limits: min 2, max 0")
	})
}

func TestRuntime_tableLimitElements(t *testing.T) {
	r := NewRuntimeWithConfig(testCtx, NewRuntimeConfig().WithTableLimitElements(3))
	defer r.Close(testCtx)

	compiled, err := r.CompileModule(testCtx, fixtures.CallIndirect())
	require.NoError(t, err)
	_, err = r.InstantiateModule(testCtx, compiled, nil)
	require.EqualError(t, err, "table[0]: min 4 elements over limit of 3 elements")

	// Host tables are capped by the runtime that instantiates them.
	imports := NewImports().WithTable("env", "table", 1, nil)
	instantiate(t, r, fixtures.Fib(), NewModuleConfig().WithImports(imports))
	table := imports.Table("env", "table")
	_, ok := table.Grow(testCtx, 2)
	require.True(t, ok)
	_, ok = table.Grow(testCtx, 1)
	require.False(t, ok)
}

func TestRuntime_fuel(t *testing.T) {
	r := NewRuntimeWithConfig(testCtx, NewRuntimeConfig().WithFuel(1000))
	defer r.Close(testCtx)

	fibFn := instantiate(t, r, fixtures.Fib(), nil).ExportedFunction("fib")

	_, err := fibFn.Call(testCtx, 5)
	require.NoError(t, err)

	_, err = fibFn.Call(testCtx, 25)
	require.ErrorIs(t, err, wasmruntime.ErrRuntimeFuelExhausted)

	// Fuel is per call, so a cheap call succeeds again.
	results, err := fibFn.Call(testCtx, 5)
	require.NoError(t, err)
	require.Equal(t, []uint64{5}, results)
}

func TestRuntime_callStackCeiling(t *testing.T) {
	r := NewRuntimeWithConfig(testCtx, NewRuntimeConfig().WithCallStackCeiling(10))
	defer r.Close(testCtx)

	fibFn := instantiate(t, r, fixtures.Fib(), nil).ExportedFunction("fib")

	_, err := fibFn.Call(testCtx, 9)
	require.NoError(t, err)

	_, err = fibFn.Call(testCtx, 11)
	require.ErrorIs(t, err, wasmruntime.ErrRuntimeCallStackOverflow)
}

func TestRuntime_closeOnContextDone(t *testing.T) {
	r := NewRuntimeWithConfig(testCtx, NewRuntimeConfig().WithCloseOnContextDone(true))
	defer r.Close(testCtx)

	fibFn := instantiate(t, r, fixtures.Fib(), nil).ExportedFunction("fib")

	ctx, cancel := context.WithTimeout(testCtx, time.Millisecond)
	defer cancel()
	_, err := fibFn.Call(ctx, 40)
	require.ErrorIs(t, err, wasmruntime.ErrRuntimeContextDone)

	canceled, cancel := context.WithCancel(testCtx)
	cancel()
	_, err = fibFn.Call(canceled, 40)
	require.True(t, errors.Is(err, wasmruntime.ErrRuntimeContextDone))
}

func TestRuntime_logger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewRuntimeWithConfig(testCtx, NewRuntimeConfig().WithLogger(zap.New(core)))
	defer r.Close(testCtx)

	instantiate(t, r, fixtures.Fib(), nil)

	compiled := logs.FilterMessage("compiled module").All()
	require.Equal(t, 1, len(compiled))
	require.Equal(t, "fib", compiled[0].ContextMap()["module"])
	require.Equal(t, 1, logs.FilterMessage("instantiated module").FilterLoggerName("store").Len())
}

func TestRuntime_metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRuntimeWithConfig(testCtx, NewRuntimeConfig().WithMetricsRegisterer(reg))
	defer r.Close(testCtx)

	m := instantiate(t, r, fixtures.CallIndirect(), nil)
	dispatch := m.ExportedFunction("dispatch")
	_, err := dispatch.Call(testCtx, 0, 5)
	require.NoError(t, err)
	_, err = dispatch.Call(testCtx, 3, 5)
	require.Error(t, err)

	count, err := testutil.GatherAndCount(reg, "wazi_invocations_total", "wazi_traps_total", "wazi_instantiations_total")
	require.NoError(t, err)
	// Two invocation results, one trap kind and one instantiation result.
	require.Equal(t, 4, count)

	t.Run("registered twice", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		again := NewRuntimeWithConfig(testCtx, NewRuntimeConfig().WithMetricsRegisterer(reg).WithLogger(zap.New(core)))
		defer again.Close(testCtx)

		require.Equal(t, 1, logs.FilterMessage("metrics disabled").Len())
		// The runtime still works.
		instantiate(t, again, fixtures.Fib(), nil)
	})
}

func TestRuntime_Close(t *testing.T) {
	r := NewRuntime(testCtx)
	instantiate(t, r, fixtures.Fib(), nil)
	instantiate(t, r, fixtures.StartFib(), nil)

	require.NoError(t, r.Close(testCtx))
	require.Nil(t, r.Module("fib"))
	require.Nil(t, r.Module("start"))
}
