package leb128

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeInt32(t *testing.T) {
	tests := []struct {
		input    int32
		expected []byte
	}{
		{input: math.MinInt32, expected: []byte{0x80, 0x80, 0x80, 0x80, 0x78}},
		{input: -165675008, expected: []byte{0x80, 0x80, 0x80, 0xb1, 0x7f}},
		{input: -64, expected: []byte{0x40}},
		{input: -1, expected: []byte{0x7f}},
		{input: 0, expected: []byte{0x00}},
		{input: 63, expected: []byte{0x3f}},
		{input: 64, expected: []byte{0xc0, 0x00}},
		{input: 624485, expected: []byte{0xe5, 0x8e, 0x26}},
		{input: math.MaxInt32, expected: []byte{0xff, 0xff, 0xff, 0xff, 0x07}},
	}

	for _, tt := range tests {
		tc := tt
		require.Equal(t, tc.expected, EncodeInt32(tc.input), tc.input)
		// The encoding is also what the wider decoders read, as i32.const immediates are sign-extended.
		decoded, n, err := LoadInt64(tc.expected)
		require.NoError(t, err)
		require.Equal(t, int64(tc.input), decoded)
		require.Equal(t, uint64(len(tc.expected)), n)
	}
}

func TestEncodeInt64(t *testing.T) {
	tests := []struct {
		input    int64
		expected []byte
	}{
		{input: math.MinInt64, expected: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x7f}},
		{input: -1, expected: []byte{0x7f}},
		{input: 0, expected: []byte{0x00}},
		{input: 1 << 32, expected: []byte{0x80, 0x80, 0x80, 0x80, 0x10}},
		{input: math.MaxInt64, expected: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}},
	}

	for _, tt := range tests {
		tc := tt
		require.Equal(t, tc.expected, EncodeInt64(tc.input), tc.input)
	}
}

func TestEncodeUint32(t *testing.T) {
	tests := []struct {
		input    uint32
		expected []byte
	}{
		{input: 0, expected: []byte{0x00}},
		{input: 127, expected: []byte{0x7f}},
		{input: 128, expected: []byte{0x80, 0x01}},
		{input: 65536, expected: []byte{0x80, 0x80, 0x04}},
		{input: math.MaxUint32, expected: []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}

	for _, tt := range tests {
		tc := tt
		require.Equal(t, tc.expected, EncodeUint32(tc.input), tc.input)
	}
}

func TestEncodeUint64(t *testing.T) {
	tests := []struct {
		input    uint64
		expected []byte
	}{
		{input: 0, expected: []byte{0x00}},
		{input: math.MaxUint32 + 1, expected: []byte{0x80, 0x80, 0x80, 0x80, 0x10}},
		{input: math.MaxUint64, expected: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}},
	}

	for _, tt := range tests {
		tc := tt
		require.Equal(t, tc.expected, EncodeUint64(tc.input), tc.input)
	}
}

// decodeTest is the expectation of reading input with both the Load and the Decode variant of a decoder. When
// expectedErr is set, the other fields are ignored.
type decodeTest[T any] struct {
	name          string
	input         []byte
	expected      T
	expectedRead  uint64
	expectedErr   string
	trailingBytes bool
}

// requireDecodes runs each test against the Load and Decode variants, which must agree.
func requireDecodes[T any](t *testing.T, tests []decodeTest[T], load func([]byte) (T, uint64, error), decode func(*bytes.Reader) (T, uint64, error)) {
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			input := tc.input
			if tc.trailingBytes {
				input = append(append([]byte{}, input...), 0xff, 0xff)
			}
			loaded, loadedRead, loadErr := load(input)
			decoded, decodedRead, decodeErr := decode(bytes.NewReader(input))
			if tc.expectedErr != "" {
				require.EqualError(t, loadErr, tc.expectedErr)
				require.EqualError(t, decodeErr, tc.expectedErr)
				return
			}
			require.NoError(t, loadErr)
			require.NoError(t, decodeErr)
			require.Equal(t, tc.expected, loaded)
			require.Equal(t, tc.expected, decoded)
			require.Equal(t, tc.expectedRead, loadedRead)
			require.Equal(t, tc.expectedRead, decodedRead)
		})
	}
}

func TestDecodeUint32(t *testing.T) {
	requireDecodes(t, []decodeTest[uint32]{
		{name: "zero", input: []byte{0x00}, expected: 0, expectedRead: 1},
		{name: "two bytes", input: []byte{0x80, 0x7f}, expected: 16256, expectedRead: 2},
		{name: "stops at the last byte", input: []byte{0xe5, 0x8e, 0x26}, expected: 624485, expectedRead: 3, trailingBytes: true},
		{name: "max", input: []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, expected: math.MaxUint32, expectedRead: 5},
		{name: "zero padding", input: []byte{0x83, 0x80, 0x80, 0x80, 0x00}, expected: 3, expectedRead: 5},
		{name: "unused bits set", input: []byte{0xff, 0xff, 0xff, 0xff, 0x1f}, expectedErr: "overflows a 32-bit integer"},
		{name: "too long", input: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, expectedErr: "overflows a 32-bit integer"},
		{name: "empty", input: []byte{}, expectedErr: "readByte failed: EOF"},
		{name: "truncated", input: []byte{0x80}, expectedErr: "readByte failed: EOF"},
	}, LoadUint32, func(r *bytes.Reader) (uint32, uint64, error) { return DecodeUint32(r) })
}

func TestDecodeUint64(t *testing.T) {
	requireDecodes(t, []decodeTest[uint64]{
		{name: "zero", input: []byte{0x00}, expected: 0, expectedRead: 1},
		{name: "above 32 bits", input: []byte{0x80, 0x80, 0x80, 0x80, 0x10}, expected: 1 << 32, expectedRead: 5},
		{name: "max", input: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, expected: math.MaxUint64, expectedRead: 10},
		{name: "unused bits set", input: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02}, expectedErr: "overflows a 64-bit integer"},
		{name: "too long", input: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, expectedErr: "overflows a 64-bit integer"},
		{name: "truncated", input: []byte{0xff, 0xff}, expectedErr: "readByte failed: EOF"},
	}, LoadUint64, func(r *bytes.Reader) (uint64, uint64, error) { return DecodeUint64(r) })
}

func TestDecodeInt32(t *testing.T) {
	requireDecodes(t, []decodeTest[int32]{
		{name: "minus one", input: []byte{0x7f}, expected: -1, expectedRead: 1, trailingBytes: true},
		{name: "sign bit of the first byte", input: []byte{0x40}, expected: -64, expectedRead: 1},
		{name: "positive with sign bit in the second byte", input: []byte{0xc0, 0x00}, expected: 64, expectedRead: 2},
		{name: "min", input: []byte{0x80, 0x80, 0x80, 0x80, 0x78}, expected: math.MinInt32, expectedRead: 5},
		{name: "max", input: []byte{0xff, 0xff, 0xff, 0xff, 0x07}, expected: math.MaxInt32, expectedRead: 5},
		{name: "sign padding", input: []byte{0xff, 0xff, 0xff, 0xff, 0x7f}, expected: -1, expectedRead: 5},
		{name: "zero padding", input: []byte{0x81, 0x80, 0x80, 0x80, 0x00}, expected: 1, expectedRead: 5},
		{name: "positive with unused bits unset", input: []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, expectedErr: "overflows a 32-bit integer"},
		{name: "zero with unused bits set", input: []byte{0x80, 0x80, 0x80, 0x80, 0x70}, expectedErr: "overflows a 32-bit integer"},
		{name: "too long", input: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, expectedErr: "overflows a 32-bit integer"},
		{name: "truncated", input: []byte{0xff}, expectedErr: "readByte failed: EOF"},
	}, LoadInt32, func(r *bytes.Reader) (int32, uint64, error) { return DecodeInt32(r) })
}

func TestDecodeInt64(t *testing.T) {
	requireDecodes(t, []decodeTest[int64]{
		{name: "minus one", input: []byte{0x7f}, expected: -1, expectedRead: 1},
		{name: "i32 min is sign-extended", input: []byte{0x80, 0x80, 0x80, 0x80, 0x78}, expected: math.MinInt32, expectedRead: 5},
		{name: "min", input: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x7f}, expected: math.MinInt64, expectedRead: 10},
		{name: "max", input: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}, expected: math.MaxInt64, expectedRead: 10, trailingBytes: true},
		{name: "positive with unused bits unset", input: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, expectedErr: "overflows a 64-bit integer"},
		{name: "too long", input: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, expectedErr: "overflows a 64-bit integer"},
		{name: "truncated", input: []byte{0x80, 0x80}, expectedErr: "readByte failed: EOF"},
	}, LoadInt64, func(r *bytes.Reader) (int64, uint64, error) { return DecodeInt64(r) })
}

// TestDecodeInt33AsInt64 uses block types: negative values are value types and non-negative values type indices.
func TestDecodeInt33AsInt64(t *testing.T) {
	tests := []struct {
		name         string
		input        []byte
		expected     int64
		expectedRead uint64
		expectedErr  string
	}{
		{name: "empty block type", input: []byte{0x40}, expected: -64, expectedRead: 1},
		{name: "i32 block type", input: []byte{0x7f}, expected: -1, expectedRead: 1},
		{name: "type index", input: []byte{0x05}, expected: 5, expectedRead: 1},
		{name: "type index needing two bytes", input: []byte{0xc0, 0x00}, expected: 64, expectedRead: 2},
		{name: "max", input: []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, expected: math.MaxUint32, expectedRead: 5},
		{name: "min", input: []byte{0x80, 0x80, 0x80, 0x80, 0x70}, expected: -(1 << 32), expectedRead: 5},
		{name: "negative with unused bits unset", input: []byte{0xff, 0xff, 0xff, 0xff, 0x1f}, expectedErr: "overflows a 33-bit integer"},
		{name: "zero with unused bits set", input: []byte{0x80, 0x80, 0x80, 0x80, 0x60}, expectedErr: "overflows a 33-bit integer"},
		{name: "too long", input: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, expectedErr: "overflows a 33-bit integer"},
		{name: "truncated", input: []byte{0x80}, expectedErr: "readByte failed: EOF"},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			actual, n, err := DecodeInt33AsInt64(bytes.NewReader(tc.input))
			if tc.expectedErr != "" {
				require.EqualError(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, actual)
			require.Equal(t, tc.expectedRead, n)
		})
	}
}
