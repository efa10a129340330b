package interpreter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tetratelabs/wazi/api"
	"github.com/tetratelabs/wazi/internal/logging"
	"github.com/tetratelabs/wazi/internal/wasm"
	"github.com/tetratelabs/wazi/internal/wasmdebug"
	"github.com/tetratelabs/wazi/internal/wasmruntime"
)

// DefaultCallStackCeiling is the maximum depth of nested function calls unless Config.CallStackCeiling is set.
const DefaultCallStackCeiling = 2000

// contextCheckMask is how often, in instructions, the context is polled when Config.CloseOnContextDone is set.
const contextCheckMask = 1<<10 - 1

// callDepthKey is the context key holding the number of frames active on the goroutine when a host function is
// called, so that a host function calling back into wasm is bounded by the same call stack ceiling.
type callDepthKey struct{}

// Config customizes the engine.
type Config struct {
	// CallStackCeiling is the maximum depth of nested function calls, including host functions.
	// Zero means DefaultCallStackCeiling.
	CallStackCeiling int

	// Fuel is the number of instructions each top-level call may execute before trapping with
	// wasmruntime.ErrRuntimeFuelExhausted. Zero means unlimited.
	Fuel uint64

	// CloseOnContextDone polls the context of each call while it executes, trapping with
	// wasmruntime.ErrRuntimeContextDone once it is canceled or its deadline passes.
	CloseOnContextDone bool

	// Logger defaults to logging.Logger.
	Logger *zap.Logger
}

// engine implements wasm.Engine by interpreting the compiled bodies directly.
type engine struct {
	config Config
	logger *zap.Logger

	codes map[*wasm.Module][]*code // guarded by mux
	mux   sync.RWMutex
}

// NewEngine returns an interpreter whose compiled code can be shared by every module instantiated from the same
// source.
func NewEngine(config Config) wasm.Engine {
	if config.CallStackCeiling <= 0 {
		config.CallStackCeiling = DefaultCallStackCeiling
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Logger()
	}
	return &engine{config: config, logger: logger, codes: map[*wasm.Module][]*code{}}
}

// CompiledModuleCount implements the same method as documented on wasm.Engine.
func (e *engine) CompiledModuleCount() uint32 {
	e.mux.RLock()
	defer e.mux.RUnlock()
	return uint32(len(e.codes))
}

// DeleteCompiledModule implements the same method as documented on wasm.Engine.
func (e *engine) DeleteCompiledModule(module *wasm.Module) {
	e.mux.Lock()
	defer e.mux.Unlock()
	delete(e.codes, module)
}

// CompileModule implements the same method as documented on wasm.Engine.
func (e *engine) CompileModule(_ context.Context, module *wasm.Module) error {
	if _, ok := e.getCodes(module); ok { // cache hit!
		return nil
	}

	c := newCompilation(module)
	importCount := module.ImportFuncCount()
	codes := make([]*code, len(module.FunctionSection))
	for i, typeIdx := range module.FunctionSection {
		fc := module.CodeSection[i]
		if fc.IsHostFunction() {
			codes[i] = &code{}
			continue
		}
		compiled, err := c.compile(module.TypeSection[typeIdx], fc)
		if err != nil {
			idx := importCount + uint32(i)
			return fmt.Errorf("invalid function[%d] (%s): %w", idx, wasmdebug.FuncName("", module.FunctionName(idx), idx), err)
		}
		codes[i] = compiled
	}

	e.mux.Lock()
	e.codes[module] = codes
	e.mux.Unlock()
	e.logger.Debug("compiled function bodies", zap.Int("functions", len(codes)))
	return nil
}

func (e *engine) getCodes(module *wasm.Module) (codes []*code, ok bool) {
	e.mux.RLock()
	defer e.mux.RUnlock()
	codes, ok = e.codes[module]
	return
}

// NewModuleEngine implements the same method as documented on wasm.Engine.
func (e *engine) NewModuleEngine(module *wasm.Module, instance *wasm.ModuleInstance) (wasm.ModuleEngine, error) {
	codes, ok := e.getCodes(module)
	if !ok {
		return nil, errors.New("source module must be compiled before instantiation")
	}

	me := &moduleEngine{engine: e, functions: make([]*function, len(instance.Functions))}
	importCount := module.ImportFuncCount()
	for i, fi := range instance.Functions {
		if uint32(i) < importCount {
			exporter, ok := fi.Module.Engine.(*moduleEngine)
			if !ok {
				return nil, fmt.Errorf("imported function %s is not interpreted", fi.DebugName)
			}
			me.functions[i] = exporter.functions[fi.Idx]
			continue
		}
		localIdx := uint32(i) - importCount
		me.functions[i] = &function{
			fi:     fi,
			parent: me,
			code:   codes[localIdx],
			goFunc: module.CodeSection[localIdx].GoFunc,
		}
	}
	return me, nil
}

// moduleEngine implements wasm.ModuleEngine.
type moduleEngine struct {
	engine *engine
	// functions is index-correlated with wasm.ModuleInstance Functions.
	functions []*function
}

// function binds a compiled body, or a Go function, to the instance that defines it.
type function struct {
	fi *wasm.FunctionInstance
	// parent is the engine of the module that defines this function.
	parent *moduleEngine
	code   *code
	goFunc api.GoModuleFunction
}

// Call implements the same method as documented on wasm.ModuleEngine.
func (me *moduleEngine) Call(ctx context.Context, f *wasm.FunctionInstance, params ...uint64) (results []uint64, err error) {
	ft := f.Type
	if len(params) != len(ft.Params) {
		return nil, fmt.Errorf("expected %d params, but passed %d", len(ft.Params), len(params))
	}

	ce := me.newCallEngine(ctx)
	defer func() {
		// Traps and host panics unwind every frame, so they are only recovered here at the outermost call.
		if v := recover(); v != nil {
			builder := wasmdebug.NewErrorBuilder()
			for i := len(ce.frames) - 1; i >= 0; i-- {
				def := ce.frames[i].f.fi
				builder.AddFrame(def.DebugName, def.Type.Params, def.Type.Results)
			}
			err = builder.FromRecovered(v)
			me.engine.logger.Debug("call unwound", logging.Function(f.DebugName), zap.Error(err))
		}
	}()

	ce.stack = append(ce.stack, params...)
	ce.call(ctx, me.functions[f.Idx], f.Module)
	results = make([]uint64, len(ft.Results))
	copy(results, ce.stack[len(ce.stack)-len(results):])
	return
}

func (me *moduleEngine) newCallEngine(ctx context.Context) *callEngine {
	cfg := &me.engine.config
	ce := &callEngine{
		stack:     make([]uint64, 0, 64),
		ceiling:   cfg.CallStackCeiling,
		meterFuel: cfg.Fuel > 0,
		fuel:      cfg.Fuel,
		logger:    me.engine.logger,
	}
	if depth, ok := ctx.Value(callDepthKey{}).(int); ok {
		ce.depth = depth
	}
	if cfg.CloseOnContextDone {
		ce.done = ctx.Done()
	}
	return ce
}

// callEngine holds the state of one top-level call: the operand stack shared by all frames, and the labels of the
// blocks entered so far.
type callEngine struct {
	stack  []uint64
	labels []label
	frames []*callFrame

	ceiling int
	// depth is the number of frames of the calls that entered this one through a host function.
	depth     int
	meterFuel bool
	fuel      uint64
	// done is nil unless the context is polled.
	done  <-chan struct{}
	ticks uint32

	logger *zap.Logger
}

// label is the branch target of a block, loop, if or function body.
type label struct {
	// arity is the number of values a branch carries to the continuation.
	arity int
	// continuation is the position execution resumes at after a branch.
	continuation int
	// sp is the operand stack height below the block's parameters.
	sp int
}

type callFrame struct {
	f *function
	// labelBase is the number of labels that belong to the callers.
	labelBase int
}

func (ce *callEngine) push(v uint64) {
	ce.stack = append(ce.stack, v)
}

func (ce *callEngine) pop() (v uint64) {
	// No need to check stack bound as the body was compiled from a validated module.
	v = ce.stack[len(ce.stack)-1]
	ce.stack = ce.stack[:len(ce.stack)-1]
	return
}

func (ce *callEngine) pushFrame(frame *callFrame) {
	if ce.ceiling <= ce.depth+len(ce.frames) {
		panic(wasmruntime.ErrRuntimeCallStackOverflow)
	}
	ce.frames = append(ce.frames, frame)
}

func (ce *callEngine) popFrame() {
	ce.frames = ce.frames[:len(ce.frames)-1]
}

func (ce *callEngine) pushLabel(arity, continuation, params int) {
	ce.labels = append(ce.labels, label{arity: arity, continuation: continuation, sp: len(ce.stack) - params})
}

func (ce *callEngine) popLabel() {
	ce.labels = ce.labels[:len(ce.labels)-1]
}

// branch unwinds to the label at the depth, keeping only its arity of values on top of the stack, and returns where
// execution continues.
func (ce *callEngine) branch(depth int) int {
	idx := len(ce.labels) - 1 - depth
	l := ce.labels[idx]
	copy(ce.stack[l.sp:], ce.stack[len(ce.stack)-l.arity:])
	ce.stack = ce.stack[:l.sp+l.arity]
	ce.labels = ce.labels[:idx]
	return l.continuation
}

// tick is called before each instruction when fuel is metered or the context is polled.
func (ce *callEngine) tick() {
	if ce.meterFuel {
		if ce.fuel == 0 {
			panic(wasmruntime.ErrRuntimeFuelExhausted)
		}
		ce.fuel--
	}
	if ce.done != nil {
		if ce.ticks&contextCheckMask == 0 {
			select {
			case <-ce.done:
				panic(wasmruntime.ErrRuntimeContextDone)
			default:
			}
		}
		ce.ticks++
	}
}

// call invokes f with its parameters on top of the stack, leaving its results there. caller is the module whose code
// made the call, passed to host functions.
func (ce *callEngine) call(ctx context.Context, f *function, caller *wasm.ModuleInstance) {
	if f.goFunc != nil {
		ce.callGoFunc(ctx, f, caller)
	} else {
		ce.callNativeFunc(ctx, f)
	}
}

func (ce *callEngine) callGoFunc(ctx context.Context, f *function, caller *wasm.ModuleInstance) {
	ft := f.fi.Type
	ce.pushFrame(&callFrame{f: f, labelBase: len(ce.labels)})

	paramLen, resultLen := len(ft.Params), len(ft.Results)
	stack := make([]uint64, max(paramLen, resultLen))
	copy(stack, ce.stack[len(ce.stack)-paramLen:])
	ce.stack = ce.stack[:len(ce.stack)-paramLen]

	if ce.logger.Core().Enabled(zapcore.DebugLevel) {
		ce.logger.Debug("host call", logging.Function(f.fi.DebugName), logging.Values("params", ft.Params, stack[:paramLen]))
	}
	f.goFunc.Call(context.WithValue(ctx, callDepthKey{}, ce.depth+len(ce.frames)), caller, stack)

	ce.stack = append(ce.stack, stack[:resultLen]...)
	ce.popFrame()
}

func (ce *callEngine) callNativeFunc(ctx context.Context, f *function) {
	ft := f.fi.Type
	mod := f.fi.Module
	functions := f.parent.functions
	body := f.code.body

	paramLen := len(ft.Params)
	locals := make([]uint64, paramLen+f.code.localCount)
	copy(locals, ce.stack[len(ce.stack)-paramLen:])
	ce.stack = ce.stack[:len(ce.stack)-paramLen]

	frame := &callFrame{f: f, labelBase: len(ce.labels)}
	ce.pushFrame(frame)
	// Branching to the function body label returns.
	ce.pushLabel(len(ft.Results), len(body)-1, 0)

	limited := ce.meterFuel || ce.done != nil
	pc := 0
	for {
		if limited {
			ce.tick()
		}
		o := &body[pc]
		switch o.kind {
		case opKind(wasm.OpcodeUnreachable):
			panic(wasmruntime.ErrRuntimeUnreachable)
		case opKind(wasm.OpcodeNop):
			pc++
		case opKind(wasm.OpcodeBlock):
			ce.pushLabel(o.a2, int(o.u1)+1, o.a1)
			pc++
		case opKind(wasm.OpcodeLoop):
			// A branch re-enters the loop, which pushes its label again.
			ce.pushLabel(o.a1, pc, o.a1)
			pc++
		case opKind(wasm.OpcodeIf):
			c := ce.pop()
			ce.pushLabel(o.a2, int(o.u2)+1, o.a1)
			if uint32(c) != 0 {
				pc++
			} else if o.u1 != 0 {
				pc = int(o.u1) + 1
			} else {
				pc = int(o.u2)
			}
		case opKind(wasm.OpcodeElse):
			// Falling through the then-arm skips the else-arm.
			ce.popLabel()
			pc = int(o.u1) + 1
		case opKind(wasm.OpcodeEnd):
			ce.popLabel()
			pc++
		case opKind(wasm.OpcodeBr):
			pc = ce.branch(int(o.u1))
		case opKind(wasm.OpcodeBrIf):
			if uint32(ce.pop()) != 0 {
				pc = ce.branch(int(o.u1))
			} else {
				pc++
			}
		case opKind(wasm.OpcodeBrTable):
			v := uint64(uint32(ce.pop()))
			last := uint64(len(o.targets) - 1)
			if v > last {
				v = last
			}
			pc = ce.branch(int(o.targets[v]))
		case opKind(wasm.OpcodeReturn):
			pc = ce.branch(len(ce.labels) - 1 - frame.labelBase)
		case opKind(wasm.OpcodeCall):
			ce.call(ctx, functions[o.u1], mod)
			pc++
		case opKind(wasm.OpcodeCallIndirect):
			table := mod.Tables[o.u2]
			offset := uint64(uint32(ce.pop()))
			if offset >= uint64(len(table.References)) {
				panic(wasmruntime.ErrRuntimeInvalidTableAccess)
			}
			tf := table.References[offset]
			if tf == nil {
				panic(wasmruntime.ErrRuntimeInvalidTableAccess)
			}
			if tf.TypeID != mod.TypeIDs[o.u1] {
				panic(wasmruntime.ErrRuntimeIndirectCallTypeMismatch)
			}
			ce.call(ctx, tf.Module.Engine.(*moduleEngine).functions[tf.Idx], mod)
			pc++
		case opKind(wasm.OpcodeDrop):
			ce.stack = ce.stack[:len(ce.stack)-1]
			pc++
		case opKind(wasm.OpcodeSelect):
			c := ce.pop()
			v2 := ce.pop()
			if uint32(c) == 0 {
				ce.stack[len(ce.stack)-1] = v2
			}
			pc++
		case opKind(wasm.OpcodeLocalGet):
			ce.push(locals[o.u1])
			pc++
		case opKind(wasm.OpcodeLocalSet):
			locals[o.u1] = ce.pop()
			pc++
		case opKind(wasm.OpcodeLocalTee):
			locals[o.u1] = ce.stack[len(ce.stack)-1]
			pc++
		case opKind(wasm.OpcodeGlobalGet):
			ce.push(mod.Globals[o.u1].Val)
			pc++
		case opKind(wasm.OpcodeGlobalSet):
			mod.Globals[o.u1].Val = ce.pop()
			pc++
		case opKind(wasm.OpcodeTableGet):
			table := mod.Tables[o.u1]
			offset := uint64(uint32(ce.pop()))
			if offset >= uint64(len(table.References)) {
				panic(wasmruntime.ErrRuntimeInvalidTableAccess)
			}
			ce.push(refOf(table.References[offset]))
			pc++
		case opKind(wasm.OpcodeTableSet):
			ref := ce.pop()
			table := mod.Tables[o.u1]
			offset := uint64(uint32(ce.pop()))
			if offset >= uint64(len(table.References)) {
				panic(wasmruntime.ErrRuntimeInvalidTableAccess)
			}
			table.References[offset] = mod.Store().FunctionByRef(ref)
			pc++
		case opKind(wasm.OpcodeI32Load), opKind(wasm.OpcodeF32Load):
			buf := ce.memoryAt(mod.Memory, o.u1, 4)
			ce.push(uint64(binary.LittleEndian.Uint32(buf)))
			pc++
		case opKind(wasm.OpcodeI64Load), opKind(wasm.OpcodeF64Load):
			buf := ce.memoryAt(mod.Memory, o.u1, 8)
			ce.push(binary.LittleEndian.Uint64(buf))
			pc++
		case opKind(wasm.OpcodeI32Load8S):
			buf := ce.memoryAt(mod.Memory, o.u1, 1)
			ce.push(uint64(uint32(int8(buf[0]))))
			pc++
		case opKind(wasm.OpcodeI32Load8U), opKind(wasm.OpcodeI64Load8U):
			buf := ce.memoryAt(mod.Memory, o.u1, 1)
			ce.push(uint64(buf[0]))
			pc++
		case opKind(wasm.OpcodeI32Load16S):
			buf := ce.memoryAt(mod.Memory, o.u1, 2)
			ce.push(uint64(uint32(int16(binary.LittleEndian.Uint16(buf)))))
			pc++
		case opKind(wasm.OpcodeI32Load16U), opKind(wasm.OpcodeI64Load16U):
			buf := ce.memoryAt(mod.Memory, o.u1, 2)
			ce.push(uint64(binary.LittleEndian.Uint16(buf)))
			pc++
		case opKind(wasm.OpcodeI64Load8S):
			buf := ce.memoryAt(mod.Memory, o.u1, 1)
			ce.push(uint64(int8(buf[0])))
			pc++
		case opKind(wasm.OpcodeI64Load16S):
			buf := ce.memoryAt(mod.Memory, o.u1, 2)
			ce.push(uint64(int16(binary.LittleEndian.Uint16(buf))))
			pc++
		case opKind(wasm.OpcodeI64Load32S):
			buf := ce.memoryAt(mod.Memory, o.u1, 4)
			ce.push(uint64(int32(binary.LittleEndian.Uint32(buf))))
			pc++
		case opKind(wasm.OpcodeI64Load32U):
			buf := ce.memoryAt(mod.Memory, o.u1, 4)
			ce.push(uint64(binary.LittleEndian.Uint32(buf)))
			pc++
		case opKind(wasm.OpcodeI32Store), opKind(wasm.OpcodeF32Store), opKind(wasm.OpcodeI64Store32):
			v := ce.pop()
			buf := ce.memoryAt(mod.Memory, o.u1, 4)
			binary.LittleEndian.PutUint32(buf, uint32(v))
			pc++
		case opKind(wasm.OpcodeI64Store), opKind(wasm.OpcodeF64Store):
			v := ce.pop()
			buf := ce.memoryAt(mod.Memory, o.u1, 8)
			binary.LittleEndian.PutUint64(buf, v)
			pc++
		case opKind(wasm.OpcodeI32Store8), opKind(wasm.OpcodeI64Store8):
			v := ce.pop()
			buf := ce.memoryAt(mod.Memory, o.u1, 1)
			buf[0] = byte(v)
			pc++
		case opKind(wasm.OpcodeI32Store16), opKind(wasm.OpcodeI64Store16):
			v := ce.pop()
			buf := ce.memoryAt(mod.Memory, o.u1, 2)
			binary.LittleEndian.PutUint16(buf, uint16(v))
			pc++
		case opKind(wasm.OpcodeMemorySize):
			ce.push(uint64(mod.Memory.PageSize()))
			pc++
		case opKind(wasm.OpcodeMemoryGrow):
			delta := uint32(ce.pop())
			if prev, ok := mod.Memory.Grow(ctx, delta); ok {
				ce.push(uint64(prev))
			} else {
				ce.push(uint64(math.MaxUint32)) // -1 as i32
			}
			pc++
		case opKind(wasm.OpcodeI32Const), opKind(wasm.OpcodeI64Const), opKind(wasm.OpcodeF32Const), opKind(wasm.OpcodeF64Const):
			ce.push(o.u1)
			pc++
		case opKind(wasm.OpcodeRefNull):
			ce.push(0)
			pc++
		case opKind(wasm.OpcodeRefIsNull):
			ce.push(b2u(ce.pop() == 0))
			pc++
		case opKind(wasm.OpcodeRefFunc):
			ce.push(mod.Functions[o.u1].Ref)
			pc++
		case miscKindBase | opKind(wasm.OpcodeMiscTableSize):
			ce.push(uint64(len(mod.Tables[o.u1].References)))
			pc++
		case miscKindBase | opKind(wasm.OpcodeMiscTableGrow):
			table := mod.Tables[o.u1]
			delta := uint32(ce.pop())
			ref := mod.Store().FunctionByRef(ce.pop())
			if prev, ok := table.GrowWithRef(delta, ref); ok {
				ce.push(uint64(prev))
			} else {
				ce.push(uint64(math.MaxUint32)) // -1 as i32
			}
			pc++
		case miscKindBase | opKind(wasm.OpcodeMiscTableFill):
			table := mod.Tables[o.u1]
			n := uint64(uint32(ce.pop()))
			ref := mod.Store().FunctionByRef(ce.pop())
			offset := uint64(uint32(ce.pop()))
			if offset+n > uint64(len(table.References)) {
				panic(wasmruntime.ErrRuntimeInvalidTableAccess)
			}
			for i := offset; i < offset+n; i++ {
				table.References[i] = ref
			}
			pc++
		case kindFuncEnd:
			ce.labels = ce.labels[:frame.labelBase]
			ce.popFrame()
			return
		default:
			ce.stack = execNumeric(o.kind, ce.stack)
			pc++
		}
	}
}

// memoryAt pops the dynamic address and returns the size bytes at it plus the static offset, trapping when any of
// them are out of range.
func (ce *callEngine) memoryAt(mem *wasm.MemoryInstance, offset, size uint64) []byte {
	base := uint64(uint32(ce.pop())) + offset
	if uint64(len(mem.Buffer)) < base+size {
		panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	return mem.Buffer[base : base+size]
}

func refOf(f wasm.Reference) uint64 {
	if f == nil {
		return 0
	}
	return f.Ref
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
