package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazi/api"
)

// GlobalInstance represents a global instance in a store.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#global-instances%E2%91%A0
type GlobalInstance struct {
	Type *GlobalType
	// Val holds a 64-bit representation of the actual value.
	Val uint64
}

// NewGlobalInstance returns a global with the initial value encoded as documented on api.ValueType.
func NewGlobalInstance(t *GlobalType, val uint64) *GlobalInstance {
	return &GlobalInstance{Type: t, Val: val}
}

// String implements fmt.Stringer
func (g *GlobalInstance) String() string {
	switch g.Type.ValType {
	case ValueTypeI32:
		return fmt.Sprintf("global(%d)", int32(g.Val))
	case ValueTypeI64:
		return fmt.Sprintf("global(%d)", int64(g.Val))
	case ValueTypeF32:
		return fmt.Sprintf("global(%f)", api.DecodeF32(g.Val))
	case ValueTypeF64:
		return fmt.Sprintf("global(%f)", api.DecodeF64(g.Val))
	default:
		return fmt.Sprintf("global(%s)", api.ValueFromRaw(g.Type.ValType, g.Val))
	}
}

// API returns an api.MutableGlobal only when the global is mutable.
func (g *GlobalInstance) API() api.Global {
	if g.Type.Mutable {
		return &mutableGlobal{g}
	}
	return &constantGlobal{g}
}

type constantGlobal struct {
	g *GlobalInstance
}

// compile-time check to ensure constantGlobal is a api.Global
var _ api.Global = &constantGlobal{}

// Type implements api.Global Type
func (g *constantGlobal) Type() api.ValueType {
	return g.g.Type.ValType
}

// Get implements api.Global Get
func (g *constantGlobal) Get(context.Context) uint64 {
	return g.g.Val
}

// String implements fmt.Stringer
func (g *constantGlobal) String() string {
	return g.g.String()
}

type mutableGlobal struct {
	g *GlobalInstance
}

// compile-time check to ensure mutableGlobal is a api.MutableGlobal
var _ api.MutableGlobal = &mutableGlobal{}

// Type implements api.Global Type
func (g *mutableGlobal) Type() api.ValueType {
	return g.g.Type.ValType
}

// Get implements api.Global Get
func (g *mutableGlobal) Get(context.Context) uint64 {
	return g.g.Val
}

// Set implements api.MutableGlobal Set
func (g *mutableGlobal) Set(_ context.Context, v uint64) {
	switch g.g.Type.ValType {
	case ValueTypeI32, ValueTypeF32:
		v = uint64(uint32(v))
	}
	g.g.Val = v
}

// String implements fmt.Stringer
func (g *mutableGlobal) String() string {
	return g.g.String()
}
