package wasm

import (
	"fmt"
)

// ImportResolutionError is returned by Store.Instantiate when an import cannot be satisfied by the import registry.
type ImportResolutionError struct {
	// Type is the kind of the import, ex. ExternTypeFunc.
	Type ExternType
	// Module and Name are the two-level namespace of the import.
	Module, Name string
	// Err describes the mismatch, ex. "signature mismatch: i32_v != v_v".
	Err error
}

// Error implements error.
func (e *ImportResolutionError) Error() string {
	return fmt.Sprintf("import %s[%s.%s]: %v", ExternTypeName(e.Type), e.Module, e.Name, e.Err)
}

// Unwrap allows errors.Is on Err.
func (e *ImportResolutionError) Unwrap() error {
	return e.Err
}

// InvalidGlobalInitError is returned by Store.Instantiate when a global initializer reads a global that isn't yet
// initialized or that is mutable and defined in the same module.
type InvalidGlobalInitError struct {
	// GlobalIndex is the global being initialized, in the global index space.
	GlobalIndex Index
	// Reference is the global read by the initializer.
	Reference Index
	// Reason is a short description, ex. "forward reference".
	Reason string
}

// Error implements error.
func (e *InvalidGlobalInitError) Error() string {
	return fmt.Sprintf("global[%d] initializer reads global[%d]: %s", e.GlobalIndex, e.Reference, e.Reason)
}

// ElementSegmentOutOfBoundsError is returned by Store.Instantiate when an element segment doesn't fit its table.
// No segment is applied when this is returned.
type ElementSegmentOutOfBoundsError struct {
	SegmentIndex Index
	TableIndex   Index
	Offset       uint64
	Count        uint64
	TableSize    uint32
}

// Error implements error.
func (e *ElementSegmentOutOfBoundsError) Error() string {
	return fmt.Sprintf("%s[%d]: out of bounds table access: offset %d + %d elements > table[%d] size %d",
		SectionIDName(SectionIDElement), e.SegmentIndex, e.Offset, e.Count, e.TableIndex, e.TableSize)
}

// DataSegmentOutOfBoundsError is returned by Store.Instantiate when a data segment doesn't fit the memory.
// No segment is applied when this is returned.
type DataSegmentOutOfBoundsError struct {
	SegmentIndex Index
	Offset       uint64
	Length       uint64
	MemorySize   uint64
}

// Error implements error.
func (e *DataSegmentOutOfBoundsError) Error() string {
	return fmt.Sprintf("%s[%d]: out of bounds memory access: offset %d + %d bytes > memory size %d",
		SectionIDName(SectionIDData), e.SegmentIndex, e.Offset, e.Length, e.MemorySize)
}
