package wasm

import (
	"context"
	"math"

	"github.com/tetratelabs/wazi/api"
)

// TableLimitElements is the default maximum number of elements of any table, regardless of the table's own maximum.
const TableLimitElements uint32 = 10_000_000

// TableInstance represents a table of (RefTypeFuncref) elements in a module.
//
// Elements are resolved when a segment or table.set writes them, but their signature is only checked when
// call_indirect reads them, as tables can be mutated between the two.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#table-instances%E2%91%A0
type TableInstance struct {
	// References holds the function of each element, or nil for a null reference.
	References []Reference

	// Min is the minimum (function) elements in this table and cannot grow to accommodate ElementSegment.
	Min uint32

	// Max if present is the maximum (function) elements in this table, or nil if unbounded.
	Max *uint32

	// Type is always RefTypeFuncref.
	Type RefType

	// limit caps growth below Max, or when Max is nil.
	limit uint32
}

// Reference is a nullable function reference held in a table.
type Reference = *FunctionInstance

// compile-time check to ensure TableInstance implements api.Table
var _ api.Table = &TableInstance{}

// NewTableInstance allocates the minimum elements of the table, all null.
func NewTableInstance(t *Table) *TableInstance {
	return &TableInstance{
		References: make([]Reference, t.Min),
		Min:        t.Min,
		Max:        t.Max,
		Type:       t.Type,
		limit:      TableLimitElements,
	}
}

// Size implements the same method as documented on api.Table.
func (t *TableInstance) Size(context.Context) uint32 {
	return uint32(len(t.References))
}

// Function implements the same method as documented on api.Table.
func (t *TableInstance) Function(_ context.Context, index uint32) (api.Function, bool) {
	if index >= uint32(len(t.References)) {
		return nil, false
	}
	if f := t.References[index]; f != nil {
		return &exportedFunction{f: f}, true
	}
	return nil, true
}

// Grow implements the same method as documented on api.Table.
func (t *TableInstance) Grow(_ context.Context, delta uint32) (uint32, bool) {
	return t.grow(delta, nil)
}

// grow appends delta elements initialized to ref and returns the previous size. ok is false when the maximum would be
// exceeded, in which case table.grow pushes -1.
func (t *TableInstance) grow(delta uint32, ref Reference) (currentLen uint32, ok bool) {
	currentLen = uint32(len(t.References))
	if delta == 0 {
		return currentLen, true
	}

	newLen := uint64(currentLen) + uint64(delta)
	// math.MaxUint32 is reserved for the -1 result.
	max := uint64(min(t.limit, math.MaxUint32-1))
	if t.Max != nil && uint64(*t.Max) < max {
		max = uint64(*t.Max)
	}
	if newLen > max {
		return 0, false
	}
	for i := uint32(0); i < delta; i++ {
		t.References = append(t.References, ref)
	}
	return currentLen, true
}

// GrowWithRef is table.grow: it appends delta copies of ref, returning the previous size or false.
func (t *TableInstance) GrowWithRef(delta uint32, ref Reference) (uint32, bool) {
	return t.grow(delta, ref)
}
