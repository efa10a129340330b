package wasm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tetratelabs/wazi/internal/leb128"
	"github.com/tetratelabs/wazi/internal/logging"
	"github.com/tetratelabs/wazi/internal/metrics"
	"github.com/tetratelabs/wazi/internal/wasmdebug"
)

type (
	// Store is the runtime representation of "instantiated" Wasm module and objects.
	// Multiple modules can be instantiated within a single store, and each instance,
	// (e.g. function instance) can be referenced by other module instances in a Store via Module.ImportSection.
	//
	// Every type whose name ends with "Instance" suffix belongs to exactly one store.
	//
	// Note: Store is safe for concurrent instantiation, but a ModuleInstance is not safe for concurrent calls.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#store%E2%91%A0
	Store struct {
		// Engine is a global context for a Store which is in responsible for compilation and execution of Wasm modules.
		Engine Engine

		// memoryLimitPages caps the maximum of every memory allocated by this store.
		memoryLimitPages uint32

		// tableLimitElements caps the size of every table allocated or imported by this store.
		tableLimitElements uint32

		logger  *zap.Logger
		metrics *metrics.Recorder

		// modules holds the instantiated Wasm modules by module name from Instantiate.
		// A nil value reserves the name while the module is instantiating.
		modules map[string]*ModuleInstance

		// typeIDs maps each FunctionType.String() to a unique FunctionTypeID. This is used at runtime to
		// do type-checks on indirect function calls.
		typeIDs map[string]FunctionTypeID

		// refs resolves the opaque funcref values held on the operand stack or in globals. Zero is null.
		refs    map[uint64]*FunctionInstance
		nextRef uint64

		// mux is used to guard the fields from concurrent access.
		mux sync.RWMutex
	}

	// ModuleInstance represents instantiated wasm module.
	// The difference from the spec is that in wazi, a ModuleInstance holds pointers
	// to the instances, rather than "addresses" (i.e. index to Store.Functions, Globals, etc) for convenience.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#syntax-moduleinst
	ModuleInstance struct {
		ModuleName string
		// Source is the module this was instantiated from. It is shared read-only by every instance of it.
		Source  *Module
		Exports map[string]*ExportInstance
		// Functions is the function index space: imported functions first, each shared by pointer with the module
		// that defines it.
		Functions []*FunctionInstance
		Globals   []*GlobalInstance
		// Memory is set when Module.MemorySection had a memory, regardless of whether it was exported.
		Memory *MemoryInstance
		Tables []*TableInstance
		// TypeIDs is index-correlated with Source.TypeSection.
		TypeIDs []FunctionTypeID

		// Engine implements function calls for this module.
		Engine ModuleEngine

		s *Store
		// closed is set by Close. A closed module is unregistered but imports of it keep working.
		closed bool
	}

	// ExportInstance represents an exported instance in a Store.
	// The difference from the spec is that in wazi, a ExportInstance holds pointers
	// to the instances, rather than "addresses" (i.e. index to Store.Functions, Globals, etc) for convenience.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#syntax-exportinst
	ExportInstance struct {
		Type     ExternType
		Function *FunctionInstance
		Global   *GlobalInstance
		Memory   *MemoryInstance
		Table    *TableInstance
	}

	// FunctionInstance represents a function instance in a Store.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-instances%E2%91%A0
	FunctionInstance struct {
		// Type is the signature of this function.
		Type *FunctionType
		// TypeID is the store-specific identifier of Type, compared by call_indirect.
		TypeID FunctionTypeID
		// Module is the module that defines this function, not one that imports it.
		Module *ModuleInstance
		// Idx is the position of this function in the defining module's function index space.
		Idx Index
		// DebugName is for debugging purpose, and is used to argument the stack traces.
		// Ex. "math.add" or "math.$3" when the name section is absent.
		DebugName string
		// Ref is the non-zero funcref value of this function.
		Ref uint64
	}

	// FunctionTypeID is a uniquely assigned integer for a function type.
	// This is wazi specific runtime object and specific to a store,
	// and used at runtime to do type-checks on indirect function calls.
	FunctionTypeID uint32

	// Imports resolves imports by module name. Each value is a host or guest module instance whose exports satisfy
	// the imports of that name.
	Imports map[string]*ModuleInstance
)

// maximumFunctionTypes is the limit on the number of function types in a store.
const maximumFunctionTypes = 1 << 27

// NewStore returns a store that caps memories to memoryLimitPages.
//
// A nil logger uses the shared logging.Logger and a nil metrics records nothing.
func NewStore(engine Engine, memoryLimitPages uint32, logger *zap.Logger, m *metrics.Recorder) *Store {
	if logger == nil {
		logger = logging.Logger()
	}
	return &Store{
		Engine:           engine,
		memoryLimitPages:   memoryLimitPages,
		tableLimitElements: TableLimitElements,
		logger:             logger,
		metrics:            m,
		modules:            map[string]*ModuleInstance{},
		typeIDs:            map[string]FunctionTypeID{},
		refs:               map[uint64]*FunctionInstance{},
	}
}

// SetTableLimitElements replaces TableLimitElements as the cap of tables subsequently instantiated in this store.
func (s *Store) SetTableLimitElements(limit uint32) {
	s.tableLimitElements = limit
}

// MemoryLimitPages is the cap applied to all memories of this store.
func (s *Store) MemoryLimitPages() uint32 {
	return s.memoryLimitPages
}

// Logger is the logger of this store.
func (s *Store) Logger() *zap.Logger {
	return s.logger
}

// Metrics is the possibly nil metrics recorder of this store.
func (s *Store) Metrics() *metrics.Recorder {
	return s.metrics
}

// Instantiate uses name instead of the Module.NameSection ModuleName as it allows instantiating the same module
// multiple times under different names.
//
// The steps are, in order: resolve imports, allocate memory and tables, initialize globals, bounds check all element
// and data segments, apply them and call the start function. Any failure leaves no trace in the store.
//
// Note: module must be validated and compiled by the Engine beforehand.
func (s *Store) Instantiate(ctx context.Context, module *Module, name string, imports Imports) (*ModuleInstance, error) {
	if err := s.requireModuleName(name); err != nil {
		return nil, err
	}

	m, err := s.instantiate(ctx, module, name, imports)
	s.metrics.Instantiated(err)
	if err != nil {
		s.deleteModule(name)
		s.logger.Debug("instantiation failed", logging.Module(name), zap.Error(err))
		return nil, err
	}
	return m, nil
}

func (s *Store) instantiate(ctx context.Context, module *Module, name string, imports Imports) (*ModuleInstance, error) {
	importedFunctions, importedTables, importedMemory, importedGlobals, err := resolveImports(module, imports)
	if err != nil {
		return nil, err
	}

	typeIDs, err := s.getFunctionTypeIDs(module.TypeSection)
	if err != nil {
		return nil, err
	}

	for i, t := range module.TableSection {
		if t.Min > s.tableLimitElements {
			return nil, fmt.Errorf("table[%d]: min %d elements over limit of %d elements",
				len(importedTables)+i, t.Min, s.tableLimitElements)
		}
	}

	m := &ModuleInstance{ModuleName: name, Source: module, TypeIDs: typeIDs, s: s}

	m.Functions = append(m.Functions, importedFunctions...)
	for i, typeIdx := range module.FunctionSection {
		idx := Index(len(importedFunctions) + i)
		m.Functions = append(m.Functions, &FunctionInstance{
			Type:      module.TypeSection[typeIdx],
			TypeID:    typeIDs[typeIdx],
			Module:    m,
			Idx:       idx,
			DebugName: wasmdebug.FuncName(name, module.FunctionName(idx), idx),
		})
	}

	if importedMemory != nil {
		m.Memory = importedMemory
	} else if module.MemorySection != nil {
		m.Memory = NewMemoryInstance(module.MemorySection, s.memoryLimitPages)
	}

	m.Tables = append(m.Tables, importedTables...)
	for _, t := range module.TableSection {
		table := NewTableInstance(t)
		table.limit = s.tableLimitElements
		m.Tables = append(m.Tables, table)
	}

	// Refs must exist before globals, as initializers can use ref.func.
	s.registerRefs(m.Functions[len(importedFunctions):])

	if err = m.initGlobals(module, importedGlobals); err != nil {
		s.releaseRefs(m)
		return nil, err
	}

	m.buildExports(module.ExportSection)

	if m.Engine, err = s.Engine.NewModuleEngine(module, m); err != nil {
		s.releaseRefs(m)
		return nil, err
	}

	if err = m.applySegments(module.ElementSection, module.DataSection); err != nil {
		s.releaseRefs(m)
		return nil, err
	}

	// The module is visible under its name from here, so the start function can observe it.
	s.mux.Lock()
	s.modules[name] = m
	s.mux.Unlock()

	if module.StartSection != nil {
		funcIdx := *module.StartSection
		f := m.Functions[funcIdx]
		s.logger.Debug("calling start function", logging.Module(name), logging.Function(f.DebugName))
		if _, err = f.Module.Engine.Call(ctx, f); err != nil {
			s.releaseRefs(m)
			return nil, fmt.Errorf("module[%s] start function failed: %w", name, err)
		}
	}

	s.logger.Debug("instantiated module", logging.Module(name),
		zap.Int("functions", len(m.Functions)), zap.Int("imports", len(module.ImportSection)))
	return m, nil
}

// initGlobals evaluates the initializer of each global in declaration order. An initializer may only read imported
// globals or immutable globals defined before it.
func (m *ModuleInstance) initGlobals(module *Module, importedGlobals []*GlobalInstance) error {
	m.Globals = make([]*GlobalInstance, 0, len(importedGlobals)+len(module.GlobalSection))
	m.Globals = append(m.Globals, importedGlobals...)
	importCount := Index(len(importedGlobals))
	for i, g := range module.GlobalSection {
		globalIdx := importCount + Index(i)
		if g.Init.Opcode == OpcodeGlobalGet {
			ref, _, _ := leb128.LoadUint32(g.Init.Data)
			if ref >= importCount {
				if ref >= globalIdx {
					return &InvalidGlobalInitError{GlobalIndex: globalIdx, Reference: ref, Reason: "global is not yet initialized"}
				}
				if module.GlobalSection[ref-importCount].Type.Mutable {
					return &InvalidGlobalInitError{GlobalIndex: globalIdx, Reference: ref, Reason: "global is mutable"}
				}
			}
		}
		val := evalConstantExpression(g.Init, m.Globals, m.Functions)
		m.Globals = append(m.Globals, NewGlobalInstance(g.Type, val))
	}
	return nil
}

func (m *ModuleInstance) buildExports(exports []*Export) {
	m.Exports = make(map[string]*ExportInstance, len(exports))
	for _, exp := range exports {
		index := exp.Index
		ei := &ExportInstance{Type: exp.Type}
		switch exp.Type {
		case ExternTypeFunc:
			ei.Function = m.Functions[index]
		case ExternTypeGlobal:
			ei.Global = m.Globals[index]
		case ExternTypeMemory:
			ei.Memory = m.Memory
		case ExternTypeTable:
			ei.Table = m.Tables[index]
		}
		// Duplicates were rejected by Module.Validate.
		m.Exports[exp.Name] = ei
	}
}

// applySegments writes every element and data segment, or none of them if any is out of bounds. Tables and memory
// can be imported, so a failed instantiation must not leave writes visible to other modules.
func (m *ModuleInstance) applySegments(elements []*ElementSegment, data []*DataSegment) error {
	elemOffsets := make([]uint64, len(elements))
	for i, elem := range elements {
		offset := uint64(uint32(evalConstantExpression(elem.OffsetExpr, m.Globals, m.Functions)))
		table := m.Tables[elem.TableIndex]
		size := uint32(len(table.References))
		if count := uint64(len(elem.Init)); offset+count > uint64(size) {
			return &ElementSegmentOutOfBoundsError{
				SegmentIndex: Index(i), TableIndex: elem.TableIndex, Offset: offset, Count: count, TableSize: size,
			}
		}
		elemOffsets[i] = offset
	}

	dataOffsets := make([]uint64, len(data))
	for i, d := range data {
		offset := uint64(uint32(evalConstantExpression(d.OffsetExpression, m.Globals, m.Functions)))
		size := uint64(len(m.Memory.Buffer))
		if length := uint64(len(d.Init)); offset+length > size {
			return &DataSegmentOutOfBoundsError{SegmentIndex: Index(i), Offset: offset, Length: length, MemorySize: size}
		}
		dataOffsets[i] = offset
	}

	for i, elem := range elements {
		refs := m.Tables[elem.TableIndex].References
		for j, funcIdx := range elem.Init {
			refs[elemOffsets[i]+uint64(j)] = m.Functions[funcIdx]
		}
	}
	for i, d := range data {
		copy(m.Memory.Buffer[dataOffsets[i]:], d.Init)
	}
	return nil
}

// requireModuleName reserves the name, or returns an error if it is in use.
func (s *Store) requireModuleName(name string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.modules[name]; ok {
		return fmt.Errorf("module[%s] has already been instantiated", name)
	}
	s.modules[name] = nil
	return nil
}

func (s *Store) deleteModule(name string) {
	s.mux.Lock()
	defer s.mux.Unlock()
	delete(s.modules, name)
}

// Module returns the module of the given name or nil if not in this store.
func (s *Store) Module(name string) *ModuleInstance {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.modules[name]
}

// ModuleNames returns the names of the instantiated modules, in no particular order.
func (s *Store) ModuleNames() []string {
	s.mux.RLock()
	defer s.mux.RUnlock()
	ret := make([]string, 0, len(s.modules))
	for name, m := range s.modules {
		if m != nil {
			ret = append(ret, name)
		}
	}
	return ret
}

// CloseWithContext closes all the modules in this store.
func (s *Store) CloseWithContext(ctx context.Context) error {
	s.mux.RLock()
	modules := make([]*ModuleInstance, 0, len(s.modules))
	for _, m := range s.modules {
		if m != nil {
			modules = append(modules, m)
		}
	}
	s.mux.RUnlock()

	var errs []error
	for _, m := range modules {
		if err := m.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// getFunctionTypeIDs assigns a FunctionTypeID to each signature, reusing the ID of an equal signature.
func (s *Store) getFunctionTypeIDs(ts []*FunctionType) ([]FunctionTypeID, error) {
	ret := make([]FunctionTypeID, len(ts))
	for i, t := range ts {
		id, err := s.getFunctionTypeID(t)
		if err != nil {
			return nil, err
		}
		ret[i] = id
	}
	return ret, nil
}

func (s *Store) getFunctionTypeID(t *FunctionType) (FunctionTypeID, error) {
	key := t.key()
	s.mux.RLock()
	id, ok := s.typeIDs[key]
	s.mux.RUnlock()
	if ok {
		return id, nil
	}

	s.mux.Lock()
	defer s.mux.Unlock()
	if id, ok = s.typeIDs[key]; ok {
		return id, nil
	}
	l := len(s.typeIDs)
	if l >= maximumFunctionTypes {
		return 0, fmt.Errorf("too many function types in a store")
	}
	id = FunctionTypeID(l)
	s.typeIDs[key] = id
	return id, nil
}

// registerRefs assigns a funcref value to each function.
func (s *Store) registerRefs(fs []*FunctionInstance) {
	s.mux.Lock()
	defer s.mux.Unlock()
	for _, f := range fs {
		s.nextRef++
		f.Ref = s.nextRef
		s.refs[f.Ref] = f
	}
}

// releaseRefs forgets the funcref values of the functions defined by the module.
func (s *Store) releaseRefs(m *ModuleInstance) {
	s.mux.Lock()
	defer s.mux.Unlock()
	for _, f := range m.Functions {
		if f.Module == m {
			delete(s.refs, f.Ref)
		}
	}
}

// FunctionByRef returns the function of a funcref value, or nil if null or unknown.
func (s *Store) FunctionByRef(ref uint64) *FunctionInstance {
	if ref == 0 {
		return nil
	}
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.refs[ref]
}

// Store returns the store this module was instantiated in.
func (m *ModuleInstance) Store() *Store {
	return m.s
}

// Close implements the same method as documented on api.Module.
//
// Closing unregisters the module name. Functions, memories, tables and globals already imported by other modules
// keep working, so a table element pointing into this module can still be called.
func (m *ModuleInstance) Close(context.Context) error {
	s := m.s
	s.mux.Lock()
	defer s.mux.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if s.modules[m.ModuleName] == m {
		delete(s.modules, m.ModuleName)
	}
	return nil
}

// CallWithMetrics calls the function through the engine of its defining module, recording the outcome.
func (s *Store) CallWithMetrics(ctx context.Context, f *FunctionInstance, params ...uint64) ([]uint64, error) {
	start := time.Now()
	results, err := f.Module.Engine.Call(ctx, f, params...)
	s.metrics.Invoked(f.DebugName, start, err)
	if err != nil {
		s.logger.Info("call failed", logging.Function(f.DebugName), zap.Error(err))
	}
	return results, err
}
