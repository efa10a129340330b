package wasm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tetratelabs/wazi/api"
)

var testCtx = context.Background()

// mockEngine records compilations and calls. onCall, when set, runs in place of a function call.
type mockEngine struct {
	compiled map[*Module]struct{}
	calls    []string
	onCall   func(f *FunctionInstance) error
}

func newMockEngine() *mockEngine {
	return &mockEngine{compiled: map[*Module]struct{}{}}
}

func (e *mockEngine) CompileModule(_ context.Context, module *Module) error {
	e.compiled[module] = struct{}{}
	return nil
}

func (e *mockEngine) CompiledModuleCount() uint32 {
	return uint32(len(e.compiled))
}

func (e *mockEngine) DeleteCompiledModule(module *Module) {
	delete(e.compiled, module)
}

func (e *mockEngine) NewModuleEngine(*Module, *ModuleInstance) (ModuleEngine, error) {
	return &mockModuleEngine{e}, nil
}

type mockModuleEngine struct {
	e *mockEngine
}

func (me *mockModuleEngine) Call(_ context.Context, f *FunctionInstance, _ ...uint64) ([]uint64, error) {
	me.e.calls = append(me.e.calls, f.DebugName)
	if me.e.onCall != nil {
		return nil, me.e.onCall(f)
	}
	return nil, nil
}

func newTestStore() (*Store, *mockEngine) {
	e := newMockEngine()
	return NewStore(e, MemoryLimitPages, zap.NewNop(), nil), e
}

// newHostModule instantiates a host module "env" exporting a function "f" of type i32_v, a memory, a table and
// globals.
func newHostModule(t *testing.T, s *Store, tableMax *uint32) *ModuleInstance {
	noop := api.GoModuleFunc(func(context.Context, api.Module, []uint64) {})
	env, err := s.NewHostModule(testCtx, "env",
		[]*HostFunc{NewGoFunc("f", []ValueType{ValueTypeI32}, nil, noop)},
		map[string]*MemoryInstance{"memory": NewMemoryInstance(&Memory{Min: 1, Max: 2, IsMaxEncoded: true}, MemoryLimitPages)},
		map[string]*TableInstance{"table": NewTableInstance(&Table{Min: 2, Max: tableMax, Type: RefTypeFuncref})},
		map[string]*GlobalInstance{
			"base":    NewGlobalInstance(&GlobalType{ValType: ValueTypeI32}, 10),
			"counter": NewGlobalInstance(&GlobalType{ValType: ValueTypeI64, Mutable: true}, 0),
		},
	)
	require.NoError(t, err)
	return env
}

func TestStore_Instantiate(t *testing.T) {
	s, e := newTestStore()
	env := newHostModule(t, s, nil)

	start := Index(2)
	module := &Module{
		TypeSection: []*FunctionType{i32_v, v_v},
		ImportSection: []*Import{
			{Type: ExternTypeFunc, Module: "env", Name: "f", DescFunc: 0},
			{Type: ExternTypeGlobal, Module: "env", Name: "base", DescGlobal: &GlobalType{ValType: ValueTypeI32}},
			{Type: ExternTypeTable, Module: "env", Name: "table", DescTable: &Table{Min: 1, Type: RefTypeFuncref}},
		},
		FunctionSection: []Index{1, 1},
		CodeSection:     []*Code{endBody, endBody},
		MemorySection:   &Memory{Min: 1},
		GlobalSection: []*Global{
			{Type: &GlobalType{ValType: ValueTypeI32}, Init: globalGet(0)},
			{Type: &GlobalType{ValType: ValueTypeI32, Mutable: true}, Init: globalGet(1)},
			{Type: &GlobalType{ValType: ValueTypeFuncref}, Init: &ConstantExpression{Opcode: OpcodeRefFunc, Data: []byte{1}}},
		},
		ExportSection: []*Export{
			{Type: ExternTypeFunc, Name: "one", Index: 1},
			{Type: ExternTypeMemory, Name: "memory", Index: 0},
			{Type: ExternTypeGlobal, Name: "g", Index: 2},
		},
		StartSection:   &start,
		ElementSection: []*ElementSegment{{TableIndex: 0, OffsetExpr: i32Const(1), Init: []Index{2}}},
		DataSection:    []*DataSegment{{OffsetExpression: globalGet(0), Init: []byte{'h', 'i'}}},
		NameSection:    &NameSection{FunctionNames: NameMap{{Index: 2, Name: "init"}}},
	}
	require.NoError(t, module.Validate(MemoryLimitPages))

	// The start function observes the segments.
	e.onCall = func(f *FunctionInstance) error {
		require.Equal(t, []byte{'h', 'i'}, f.Module.Memory.Buffer[10:12])
		require.Equal(t, f, env.Tables[0].References[1])
		return nil
	}

	m, err := s.Instantiate(testCtx, module, "test", Imports{"env": env})
	require.NoError(t, err)
	require.Equal(t, []string{"test.init"}, e.calls)
	require.Equal(t, m, s.Module("test"))
	require.Equal(t, []string{"test"}, s.ModuleNames())

	// Imported functions are shared by pointer.
	require.Equal(t, env.Functions[0], m.Functions[0])
	require.Equal(t, "test.$1", m.Functions[1].DebugName)

	// Globals are initialized in order, from imports.
	require.Equal(t, []uint64{10, 10, 10, m.Functions[1].Ref}, []uint64{m.Globals[0].Val, m.Globals[1].Val, m.Globals[2].Val, m.Globals[3].Val})
	require.Equal(t, m.Functions[1], s.FunctionByRef(m.Globals[3].Val))
	require.Nil(t, s.FunctionByRef(0))

	// Tables are shared with the importer.
	require.Equal(t, env.Tables[0], m.Tables[0])
	require.Nil(t, env.Tables[0].References[0])

	require.NotNil(t, m.ExportedFunction("one"))
	require.Nil(t, m.ExportedFunction("memory"))
	require.Equal(t, m.Memory, m.ExportedMemory("memory"))
	require.Equal(t, uint64(10), m.ExportedGlobal("g").Get(testCtx))
	require.Nil(t, m.ExportedTable("g"))
}

func TestStore_SetTableLimitElements(t *testing.T) {
	s, _ := newTestStore()
	s.SetTableLimitElements(4)
	env := newHostModule(t, s, nil)

	module := &Module{
		ImportSection: []*Import{{Type: ExternTypeTable, Module: "env", Name: "table", DescTable: &Table{Min: 2, Type: RefTypeFuncref}}},
		TableSection:  []*Table{{Min: 3, Type: RefTypeFuncref}},
	}
	m, err := s.Instantiate(testCtx, module, "ok", Imports{"env": env})
	require.NoError(t, err)

	// Neither the local nor the host table grows past the limit.
	_, ok := m.Tables[1].Grow(testCtx, 1)
	require.True(t, ok)
	_, ok = m.Tables[1].Grow(testCtx, 1)
	require.False(t, ok)
	_, ok = env.Tables[0].Grow(testCtx, 3)
	require.False(t, ok)

	tooLarge := &Module{TableSection: []*Table{{Min: 5, Type: RefTypeFuncref}}}
	_, err = s.Instantiate(testCtx, tooLarge, "tooLarge", nil)
	require.EqualError(t, err, "table[0]: min 5 elements over limit of 4 elements")
	require.Nil(t, s.Module("tooLarge"))
}

func TestStore_Instantiate_sameNameFails(t *testing.T) {
	s, _ := newTestStore()
	module := &Module{}

	_, err := s.Instantiate(testCtx, module, "test", nil)
	require.NoError(t, err)

	_, err = s.Instantiate(testCtx, module, "test", nil)
	require.EqualError(t, err, "module[test] has already been instantiated")

	// Another name works, and shares the source.
	m, err := s.Instantiate(testCtx, module, "test2", nil)
	require.NoError(t, err)
	require.Equal(t, module, m.Source)

	// Closing frees the name.
	require.NoError(t, s.Module("test").Close(testCtx))
	require.Nil(t, s.Module("test"))
	_, err = s.Instantiate(testCtx, module, "test", nil)
	require.NoError(t, err)

	require.NoError(t, s.CloseWithContext(testCtx))
	require.Empty(t, s.ModuleNames())
}

func TestStore_Instantiate_globalInitErrors(t *testing.T) {
	tests := []struct {
		name        string
		globals     []*Global
		expectedErr string
	}{
		{
			name: "forward reference",
			globals: []*Global{
				{Type: &GlobalType{ValType: ValueTypeI32}, Init: globalGet(2)},
				{Type: &GlobalType{ValType: ValueTypeI32}, Init: i32Const(1)},
			},
			expectedErr: "global[1] initializer reads global[2]: global is not yet initialized",
		},
		{
			name: "self reference",
			globals: []*Global{
				{Type: &GlobalType{ValType: ValueTypeI32}, Init: globalGet(1)},
			},
			expectedErr: "global[1] initializer reads global[1]: global is not yet initialized",
		},
		{
			name: "mutable defined global",
			globals: []*Global{
				{Type: &GlobalType{ValType: ValueTypeI32, Mutable: true}, Init: i32Const(1)},
				{Type: &GlobalType{ValType: ValueTypeI32}, Init: globalGet(1)},
			},
			expectedErr: "global[2] initializer reads global[1]: global is mutable",
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			s, e := newTestStore()
			env := newHostModule(t, s, nil)
			module := &Module{
				ImportSection: []*Import{
					{Type: ExternTypeGlobal, Module: "env", Name: "base", DescGlobal: &GlobalType{ValType: ValueTypeI32}},
				},
				GlobalSection: tc.globals,
			}
			require.NoError(t, module.Validate(MemoryLimitPages))

			_, err := s.Instantiate(testCtx, module, "test", Imports{"env": env})
			require.EqualError(t, err, tc.expectedErr)
			var ge *InvalidGlobalInitError
			require.True(t, errors.As(err, &ge))
			require.Nil(t, s.Module("test"))
			require.Empty(t, e.calls)
		})
	}
}

func TestStore_Instantiate_segmentsOutOfBounds(t *testing.T) {
	tests := []struct {
		name        string
		module      *Module
		expectedErr string
	}{
		{
			name: "element",
			module: &Module{
				TypeSection:     []*FunctionType{v_v},
				ImportSection:   []*Import{{Type: ExternTypeTable, Module: "env", Name: "table", DescTable: &Table{Min: 2, Type: RefTypeFuncref}}},
				FunctionSection: []Index{0},
				CodeSection:     []*Code{endBody},
				ElementSection: []*ElementSegment{
					{OffsetExpr: i32Const(0), Init: []Index{0}},
					{OffsetExpr: i32Const(1), Init: []Index{0, 0}},
				},
			},
			expectedErr: "element[1]: out of bounds table access: offset 1 + 2 elements > table[0] size 2",
		},
		{
			name: "element negative offset",
			module: &Module{
				TypeSection:     []*FunctionType{v_v},
				ImportSection:   []*Import{{Type: ExternTypeTable, Module: "env", Name: "table", DescTable: &Table{Min: 2, Type: RefTypeFuncref}}},
				FunctionSection: []Index{0},
				CodeSection:     []*Code{endBody},
				ElementSection:  []*ElementSegment{{OffsetExpr: i32Const(-1), Init: []Index{0}}},
			},
			expectedErr: "element[0]: out of bounds table access: offset 4294967295 + 1 elements > table[0] size 2",
		},
		{
			name: "data",
			module: &Module{
				ImportSection: []*Import{{Type: ExternTypeMemory, Module: "env", Name: "memory", DescMem: &Memory{Min: 1}}},
				DataSection: []*DataSegment{
					{OffsetExpression: i32Const(0), Init: []byte{1}},
					{OffsetExpression: i32Const(65535), Init: []byte{1, 2}},
				},
			},
			expectedErr: "data[1]: out of bounds memory access: offset 65535 + 2 bytes > memory size 65536",
		},
		{
			name: "data after element",
			module: &Module{
				TypeSection: []*FunctionType{v_v},
				ImportSection: []*Import{
					{Type: ExternTypeTable, Module: "env", Name: "table", DescTable: &Table{Min: 1, Type: RefTypeFuncref}},
					{Type: ExternTypeMemory, Module: "env", Name: "memory", DescMem: &Memory{Min: 1}},
				},
				FunctionSection: []Index{0},
				CodeSection:     []*Code{endBody},
				ElementSection:  []*ElementSegment{{OffsetExpr: i32Const(0), Init: []Index{0}}},
				DataSection:     []*DataSegment{{OffsetExpression: i32Const(65536), Init: []byte{1}}},
			},
			expectedErr: "data[0]: out of bounds memory access: offset 65536 + 1 bytes > memory size 65536",
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			s, e := newTestStore()
			env := newHostModule(t, s, nil)
			require.NoError(t, tc.module.Validate(MemoryLimitPages))

			_, err := s.Instantiate(testCtx, tc.module, "test", Imports{"env": env})
			require.EqualError(t, err, tc.expectedErr)

			// No segment was applied to the shared table or memory.
			require.Equal(t, []Reference{nil, nil}, env.Tables[0].References)
			require.Equal(t, make([]byte, MemoryPageSize), env.Memory.Buffer)
			require.Nil(t, s.Module("test"))
			require.Empty(t, e.calls)
		})
	}
}

func TestStore_Instantiate_startFails(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := newMockEngine()
	s := NewStore(e, MemoryLimitPages, zap.New(core), nil)
	e.onCall = func(*FunctionInstance) error { return errors.New("unreachable") }

	start := Index(0)
	module := &Module{
		TypeSection:     []*FunctionType{v_v},
		FunctionSection: []Index{0},
		CodeSection:     []*Code{endBody},
		StartSection:    &start,
	}

	_, err := s.Instantiate(testCtx, module, "test", nil)
	require.EqualError(t, err, "module[test] start function failed: unreachable")
	require.Nil(t, s.Module("test"))
	require.Equal(t, 1, logs.FilterMessage("instantiation failed").Len())

	// The name can be used again.
	e.onCall = nil
	_, err = s.Instantiate(testCtx, module, "test", nil)
	require.NoError(t, err)
}

func TestStore_Instantiate_importErrors(t *testing.T) {
	one := uint32(1)
	three := uint32(3)

	tests := []struct {
		name        string
		importer    *Import
		types       []*FunctionType
		expectedErr string
	}{
		{
			name:        "module not instantiated",
			importer:    &Import{Type: ExternTypeFunc, Module: "wasi", Name: "f", DescFunc: 0},
			types:       []*FunctionType{i32_v},
			expectedErr: "import func[wasi.f]: module[wasi] not instantiated",
		},
		{
			name:        "not exported",
			importer:    &Import{Type: ExternTypeFunc, Module: "env", Name: "g", DescFunc: 0},
			types:       []*FunctionType{i32_v},
			expectedErr: `import func[env.g]: "g" is not exported in module "env"`,
		},
		{
			name:        "wrong kind",
			importer:    &Import{Type: ExternTypeMemory, Module: "env", Name: "f", DescMem: &Memory{}},
			expectedErr: `import memory[env.f]: export "f" in module "env" is a func, not a memory`,
		},
		{
			name:        "signature mismatch",
			importer:    &Import{Type: ExternTypeFunc, Module: "env", Name: "f", DescFunc: 0},
			types:       []*FunctionType{v_v},
			expectedErr: "import func[env.f]: signature mismatch: v_v != i32_v",
		},
		{
			name:        "global mutability",
			importer:    &Import{Type: ExternTypeGlobal, Module: "env", Name: "base", DescGlobal: &GlobalType{ValType: ValueTypeI32, Mutable: true}},
			expectedErr: "import global[env.base]: mutability mismatch: true != false",
		},
		{
			name:        "global value type",
			importer:    &Import{Type: ExternTypeGlobal, Module: "env", Name: "counter", DescGlobal: &GlobalType{ValType: ValueTypeI32, Mutable: true}},
			expectedErr: "import global[env.counter]: value type mismatch: i32 != i64",
		},
		{
			name:        "table min",
			importer:    &Import{Type: ExternTypeTable, Module: "env", Name: "table", DescTable: &Table{Min: 3, Type: RefTypeFuncref}},
			expectedErr: "import table[env.table]: minimum size mismatch: 3 > 2",
		},
		{
			name:        "table max",
			importer:    &Import{Type: ExternTypeTable, Module: "env", Name: "table", DescTable: &Table{Min: 1, Max: &one, Type: RefTypeFuncref}},
			expectedErr: "import table[env.table]: maximum size mismatch: 1 < 3",
		},
		{
			name:        "memory min",
			importer:    &Import{Type: ExternTypeMemory, Module: "env", Name: "memory", DescMem: &Memory{Min: 2}},
			expectedErr: "import memory[env.memory]: minimum size mismatch: 2 > 1",
		},
		{
			name:        "memory max",
			importer:    &Import{Type: ExternTypeMemory, Module: "env", Name: "memory", DescMem: &Memory{Min: 1, Max: 1, IsMaxEncoded: true}},
			expectedErr: "import memory[env.memory]: maximum size mismatch: 1 < 2",
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestStore()
			env := newHostModule(t, s, &three)
			module := &Module{TypeSection: tc.types, ImportSection: []*Import{tc.importer}}
			require.NoError(t, module.Validate(MemoryLimitPages))

			_, err := s.Instantiate(testCtx, module, "test", Imports{"env": env})
			require.EqualError(t, err, tc.expectedErr)
			var ie *ImportResolutionError
			require.True(t, errors.As(err, &ie))
			require.Equal(t, tc.importer.Type, ie.Type)
			require.Nil(t, s.Module("test"))
		})
	}
}

func TestStore_Instantiate_importGuestModule(t *testing.T) {
	s, _ := newTestStore()
	lib := &Module{
		TypeSection:     []*FunctionType{v_v},
		FunctionSection: []Index{0},
		CodeSection:     []*Code{endBody},
		MemorySection:   &Memory{Min: 1},
		ExportSection: []*Export{
			{Type: ExternTypeFunc, Name: "f", Index: 0},
			{Type: ExternTypeMemory, Name: "memory", Index: 0},
		},
	}
	libInstance, err := s.Instantiate(testCtx, lib, "lib", nil)
	require.NoError(t, err)

	app := &Module{
		TypeSection: []*FunctionType{v_v},
		ImportSection: []*Import{
			{Type: ExternTypeFunc, Module: "lib", Name: "f", DescFunc: 0},
			{Type: ExternTypeMemory, Module: "lib", Name: "memory", DescMem: &Memory{Min: 1}},
		},
		DataSection: []*DataSegment{{OffsetExpression: i32Const(0), Init: []byte{42}}},
	}
	appInstance, err := s.Instantiate(testCtx, app, "app", Imports{"lib": libInstance})
	require.NoError(t, err)

	require.Equal(t, libInstance.Memory, appInstance.Memory)
	require.Equal(t, byte(42), libInstance.Memory.Buffer[0])
	require.Equal(t, libInstance, appInstance.Functions[0].Module)
	require.Equal(t, "lib.$0", appInstance.Functions[0].DebugName)
}

func TestStore_getFunctionTypeID(t *testing.T) {
	s, _ := newTestStore()
	ids, err := s.getFunctionTypeIDs([]*FunctionType{v_v, i32_v, {}, {Params: []ValueType{ValueTypeI32}}})
	require.NoError(t, err)
	require.Equal(t, []FunctionTypeID{0, 1, 0, 1}, ids)
}

func TestStore_releaseRefsOnFailure(t *testing.T) {
	s, e := newTestStore()
	e.onCall = func(*FunctionInstance) error { return errors.New("fail") }

	start := Index(0)
	module := &Module{
		TypeSection:     []*FunctionType{v_v},
		FunctionSection: []Index{0},
		CodeSection:     []*Code{endBody},
		StartSection:    &start,
	}
	_, err := s.Instantiate(testCtx, module, "test", nil)
	require.Error(t, err)
	require.Empty(t, s.refs)
}
