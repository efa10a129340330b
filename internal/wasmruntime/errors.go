// Package wasmruntime contains the traps raised while executing Wasm functions.
package wasmruntime

// Error is a trap. Once raised, the current call chain is unrecoverable and unwinds back to the host.
type Error struct {
	s string
}

// New is the same as errors.New, but returns a trap.
func New(text string) *Error {
	return &Error{s: text}
}

// Error implements error.
func (e *Error) Error() string {
	return e.s
}

var (
	// ErrRuntimeCallStackOverflow indicates that there are too many function calls,
	// and the Engine terminated the execution.
	ErrRuntimeCallStackOverflow = New("callstack overflow")
	// ErrRuntimeInvalidConversionToInteger indicates the Wasm function tries to
	// convert NaN floating point value to integers during trunc variant instructions.
	ErrRuntimeInvalidConversionToInteger = New("invalid conversion to integer")
	// ErrRuntimeIntegerOverflow indicates that an integer arithmetic resulted in
	// overflow value. For example, when the program tried to truncate a float value
	// which doesn't fit in the range of target integer.
	ErrRuntimeIntegerOverflow = New("integer overflow")
	// ErrRuntimeIntegerDivideByZero indicates that an integer div or rem instructions
	// was executed with 0 as the divisor.
	ErrRuntimeIntegerDivideByZero = New("integer divide by zero")
	// ErrRuntimeUnreachable means "unreachable" instruction was executed by the program.
	ErrRuntimeUnreachable = New("unreachable")
	// ErrRuntimeOutOfBoundsMemoryAccess indicates that the program tried to access the
	// region beyond the linear memory.
	ErrRuntimeOutOfBoundsMemoryAccess = New("out of bounds memory access")
	// ErrRuntimeInvalidTableAccess means either offset to the table was out of bounds of table, or
	// the target element in the table was uninitialized during call_indirect instruction.
	ErrRuntimeInvalidTableAccess = New("invalid table access")
	// ErrRuntimeIndirectCallTypeMismatch indicates that the type check failed during call_indirect.
	ErrRuntimeIndirectCallTypeMismatch = New("indirect call type mismatch")
	// ErrRuntimeFuelExhausted indicates the instruction budget configured for the call ran out.
	ErrRuntimeFuelExhausted = New("fuel exhausted")
	// ErrRuntimeContextDone indicates the context passed to the call was canceled or timed out mid-execution.
	ErrRuntimeContextDone = New("context done")
)
