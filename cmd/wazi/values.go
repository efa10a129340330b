package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/tetratelabs/wazi/api"
)

// parseValue parses s as a value of the given type, encoded as documented on api.ValueType. Integers accept both the
// signed and unsigned range of their width, in any base strconv.ParseInt accepts with a zero base.
func parseValue(t api.ValueType, s string) (uint64, error) {
	switch t {
	case api.ValueTypeI32:
		if v, err := strconv.ParseInt(s, 0, 32); err == nil {
			return api.EncodeI32(int32(v)), nil
		}
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid i32 %q", s)
		}
		return api.EncodeU32(uint32(v)), nil
	case api.ValueTypeI64:
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			return api.EncodeI64(v), nil
		}
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid i64 %q", s)
		}
		return v, nil
	case api.ValueTypeF32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid f32 %q", s)
		}
		return api.EncodeF32(float32(v)), nil
	case api.ValueTypeF64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid f64 %q", s)
		}
		return api.EncodeF64(v), nil
	case api.ValueTypeFuncref, api.ValueTypeExternref:
		if s == "null" {
			return 0, nil
		}
		return 0, fmt.Errorf("only null is supported for %s", api.ValueTypeName(t))
	}
	return 0, fmt.Errorf("unknown value type %#x", t)
}

// formatValue is the inverse of parseValue, rendering integers signed.
func formatValue(t api.ValueType, v uint64) string {
	switch t {
	case api.ValueTypeI32:
		return strconv.FormatInt(int64(api.DecodeI32(v)), 10)
	case api.ValueTypeI64:
		return strconv.FormatInt(int64(v), 10)
	case api.ValueTypeF32:
		return formatFloat(float64(api.DecodeF32(v)), 32)
	case api.ValueTypeF64:
		return formatFloat(api.DecodeF64(v), 64)
	default:
		if v == 0 {
			return "null"
		}
		return fmt.Sprintf("%s(%#x)", api.ValueTypeName(t), v)
	}
}

func formatFloat(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, bitSize)
}

// parseParams parses args by the parameter types of fn.
func parseParams(fn api.Function, args []string) ([]uint64, error) {
	types := fn.ParamTypes()
	if len(args) != len(types) {
		return nil, fmt.Errorf("expected %d params, but passed %d", len(types), len(args))
	}
	params := make([]uint64, len(args))
	for i, arg := range args {
		v, err := parseValue(types[i], arg)
		if err != nil {
			return nil, fmt.Errorf("param[%d]: %w", i, err)
		}
		params[i] = v
	}
	return params, nil
}
