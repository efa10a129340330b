package api

import (
	"fmt"
	"math"
)

// Value is a WebAssembly value tagged with its ValueType. The zero value is an i32 zero only after assigning a type,
// so always use one of the constructors such as ValueI32.
type Value struct {
	// Type is the type of the payload.
	Type ValueType
	bits uint64
}

// ValueI32 returns a ValueTypeI32 value.
func ValueI32(v int32) Value { return Value{Type: ValueTypeI32, bits: EncodeI32(v)} }

// ValueI64 returns a ValueTypeI64 value.
func ValueI64(v int64) Value { return Value{Type: ValueTypeI64, bits: EncodeI64(v)} }

// ValueF32 returns a ValueTypeF32 value.
func ValueF32(v float32) Value { return Value{Type: ValueTypeF32, bits: EncodeF32(v)} }

// ValueF64 returns a ValueTypeF64 value.
func ValueF64(v float64) Value { return Value{Type: ValueTypeF64, bits: EncodeF64(v)} }

// ValueFuncref returns a ValueTypeFuncref value from an opaque function address. Zero is the null reference.
func ValueFuncref(ref uint64) Value { return Value{Type: ValueTypeFuncref, bits: ref} }

// ValueExternref returns a ValueTypeExternref value. Zero is the null reference.
func ValueExternref(ref uintptr) Value { return Value{Type: ValueTypeExternref, bits: EncodeExternref(ref)} }

// ValueFromRaw tags a raw encoded value, such as one returned by Function.Call, with its type.
func ValueFromRaw(t ValueType, raw uint64) Value {
	switch t {
	case ValueTypeI32, ValueTypeF32:
		raw = uint64(uint32(raw))
	}
	return Value{Type: t, bits: raw}
}

// Raw returns the value encoded as documented on ValueType.
func (v Value) Raw() uint64 { return v.bits }

// I32 returns the payload as a signed 32-bit integer.
func (v Value) I32() int32 { return int32(v.bits) }

// I64 returns the payload as a signed 64-bit integer.
func (v Value) I64() int64 { return int64(v.bits) }

// F32 returns the payload as a 32-bit float.
func (v Value) F32() float32 { return DecodeF32(v.bits) }

// F64 returns the payload as a 64-bit float.
func (v Value) F64() float64 { return DecodeF64(v.bits) }

// IsNull returns true when v is a null reference.
func (v Value) IsNull() bool { return IsReferenceType(v.Type) && v.bits == 0 }

// Equal compares two numeric values of the same type. Floats compare bitwise, so NaN equals a NaN with the same
// payload. References are not comparable and always return false.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type || IsReferenceType(v.Type) {
		return false
	}
	return v.bits == o.bits
}

// String implements fmt.Stringer
func (v Value) String() string {
	switch v.Type {
	case ValueTypeI32:
		return fmt.Sprintf("i32(%d)", v.I32())
	case ValueTypeI64:
		return fmt.Sprintf("i64(%d)", v.I64())
	case ValueTypeF32:
		return fmt.Sprintf("f32(%v)", v.F32())
	case ValueTypeF64:
		return fmt.Sprintf("f64(%v)", v.F64())
	case ValueTypeFuncref, ValueTypeExternref:
		if v.bits == 0 {
			return ValueTypeName(v.Type) + "(null)"
		}
		return fmt.Sprintf("%s(%#x)", ValueTypeName(v.Type), v.bits)
	}
	return fmt.Sprintf("unknown(%#x)", v.bits)
}

// Less orders two numeric values of the same type. Integers compare signed. Any comparison involving a float NaN
// returns false.
func (v Value) Less(o Value) (bool, error) {
	if v.Type != o.Type {
		return false, fmt.Errorf("cannot compare %s with %s", ValueTypeName(v.Type), ValueTypeName(o.Type))
	}
	switch v.Type {
	case ValueTypeI32:
		return v.I32() < o.I32(), nil
	case ValueTypeI64:
		return v.I64() < o.I64(), nil
	case ValueTypeF32:
		a, b := v.F32(), o.F32()
		if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
			return false, nil
		}
		return a < b, nil
	case ValueTypeF64:
		a, b := v.F64(), o.F64()
		if math.IsNaN(a) || math.IsNaN(b) {
			return false, nil
		}
		return a < b, nil
	}
	return false, fmt.Errorf("%s values are not ordered", ValueTypeName(v.Type))
}
