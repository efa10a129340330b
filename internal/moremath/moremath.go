// Package moremath holds floating point helpers whose results differ from the math package to match WebAssembly.
package moremath

import "math"

// WasmCompatMin is like math.Min except either one of NaN results in NaN even if another is -Inf.
// math.Min doen't comply with the Wasm spec, so we borrow from the original with the change above.
// https://github.com/golang/go/blob/1d20a362d0ca4898d77865e314ef6f73582daef0/src/math/dim.go#L74-L91
func WasmCompatMin(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, -1) || math.IsInf(y, -1):
		return math.Inf(-1)
	case x == 0 && x == y:
		if math.Signbit(x) {
			return x
		}
		return y
	}
	if x < y {
		return x
	}
	return y
}

// WasmCompatMax is like math.Max except either one of NaN results in NaN even if another is Inf.
// https://github.com/golang/go/blob/1d20a362d0ca4898d77865e314ef6f73582daef0/src/math/dim.go#L42-L59
func WasmCompatMax(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, 1) || math.IsInf(y, 1):
		return math.Inf(1)

	case x == 0 && x == y:
		if math.Signbit(x) {
			return y
		}
		return x
	}
	if x > y {
		return x
	}
	return y
}

// WasmCompatMin32 is WasmCompatMin for float32. Widening is exact, so the result is too.
func WasmCompatMin32(x, y float32) float32 {
	return float32(WasmCompatMin(float64(x), float64(y)))
}

// WasmCompatMax32 is WasmCompatMax for float32.
func WasmCompatMax32(x, y float32) float32 {
	return float32(WasmCompatMax(float64(x), float64(y)))
}

// WasmCompatNearestF32 is the Wasm "nearest" instruction: round half to even, keeping the sign of zero.
//
// Note: math.Round rounds half away from zero, which differs at -4.5 for example.
func WasmCompatNearestF32(f float32) float32 {
	return float32(math.RoundToEven(float64(f)))
}

// WasmCompatNearestF64 is WasmCompatNearestF32 for float64.
func WasmCompatNearestF64(f float64) float64 {
	return math.RoundToEven(f)
}
