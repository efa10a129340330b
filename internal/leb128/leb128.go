// Package leb128 encodes and decodes the LEB128 variable-length integers used throughout the binary format.
package leb128

import (
	"errors"
	"fmt"
	"io"
)

const (
	maxVarintLen32 = 5
	maxVarintLen64 = 10

	int33Mask  int64 = 1 << 7
	int33Mask2       = ^int33Mask
	int33Mask3       = 1 << 6
	int33Mask4       = 8589934591 // 2^33-1
	int33Mask5       = 1 << 32
	int33Mask6       = int33Mask4 + 1 // 2^33
)

var (
	errOverflow32 = errors.New("overflows a 32-bit integer")
	errOverflow33 = errors.New("overflows a 33-bit integer")
	errOverflow64 = errors.New("overflows a 64-bit integer")
)

// EncodeInt32 encodes the signed value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_signed_integer
func EncodeInt32(value int32) []byte {
	return EncodeInt64(int64(value))
}

// EncodeInt64 encodes the signed value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_signed_integer
func EncodeInt64(value int64) (buf []byte) {
	for {
		// Take 7 remaining low-order bits from the value into b.
		b := uint8(value & 0x7f)
		// Extract the sign bit.
		s := uint8(value & 0x40)
		value >>= 7

		// Signed values are done when the remaining bits are all copies of the sign bit.
		if (value != -1 || s == 0) && (value != 0 || s != 0) {
			b |= 0x80
		}

		buf = append(buf, b)
		if b&0x80 == 0 {
			break
		}
	}
	return buf
}

// EncodeUint32 encodes the value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_unsigned_integer
func EncodeUint32(value uint32) []byte {
	return EncodeUint64(uint64(value))
}

// EncodeUint64 encodes the value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_unsigned_integer
func EncodeUint64(value uint64) (buf []byte) {
	for {
		b := uint8(value & 0x7f)
		value = value >> 7
		if value != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if b&0x80 == 0 {
			return buf
		}
	}
}

type nextByte func(i int) (byte, error)

func loader(buf []byte) nextByte {
	return func(i int) (byte, error) {
		if i >= len(buf) {
			return 0, io.EOF
		}
		return buf[i], nil
	}
}

// DecodeUint32 reads an unsigned 32-bit value from r, returning the value and the count of bytes consumed.
func DecodeUint32(r io.ByteReader) (ret uint32, bytesRead uint64, err error) {
	return decodeUint32(func(_ int) (byte, error) { return r.ReadByte() })
}

// LoadUint32 is like DecodeUint32, except it reads from the head of buf.
func LoadUint32(buf []byte) (ret uint32, bytesRead uint64, err error) {
	return decodeUint32(loader(buf))
}

func decodeUint32(next nextByte) (ret uint32, bytesRead uint64, err error) {
	var s uint32
	for i := 0; i < maxVarintLen32; i++ {
		b, err := next(i)
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		if b < 0x80 {
			// Unused bits must be all zero.
			if i == maxVarintLen32-1 && (b&0xf0) > 0 {
				return 0, 0, errOverflow32
			}
			return ret | uint32(b)<<s, uint64(i) + 1, nil
		}
		ret |= (uint32(b) & 0x7f) << s
		s += 7
	}
	return 0, 0, errOverflow32
}

// DecodeUint64 reads an unsigned 64-bit value from r, returning the value and the count of bytes consumed.
func DecodeUint64(r io.ByteReader) (ret uint64, bytesRead uint64, err error) {
	return decodeUint64(func(_ int) (byte, error) { return r.ReadByte() })
}

// LoadUint64 is like DecodeUint64, except it reads from the head of buf.
func LoadUint64(buf []byte) (ret uint64, bytesRead uint64, err error) {
	return decodeUint64(loader(buf))
}

func decodeUint64(next nextByte) (ret uint64, bytesRead uint64, err error) {
	var s uint64
	for i := 0; i < maxVarintLen64; i++ {
		b, err := next(i)
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		if b < 0x80 {
			// Only the lowest bit of the tenth byte is usable.
			if i == maxVarintLen64-1 && b > 1 {
				return 0, 0, errOverflow64
			}
			return ret | uint64(b)<<s, uint64(i) + 1, nil
		}
		ret |= (uint64(b) & 0x7f) << s
		s += 7
	}
	return 0, 0, errOverflow64
}

// DecodeInt32 reads a signed 32-bit value from r, returning the value and the count of bytes consumed.
func DecodeInt32(r io.ByteReader) (ret int32, bytesRead uint64, err error) {
	return decodeInt32(func(_ int) (byte, error) { return r.ReadByte() })
}

// LoadInt32 is like DecodeInt32, except it reads from the head of buf.
func LoadInt32(buf []byte) (ret int32, bytesRead uint64, err error) {
	return decodeInt32(loader(buf))
}

func decodeInt32(next nextByte) (ret int32, bytesRead uint64, err error) {
	var shift int
	var b byte
	for {
		b, err = next(int(bytesRead))
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		ret |= (int32(b) & 0x7f) << shift
		shift += 7
		bytesRead++
		if b&0x80 == 0 {
			if shift < 32 && (b&0x40) != 0 {
				ret |= ^0 << shift
			}
			// The unused bits of the last byte must extend the sign.
			if bytesRead > maxVarintLen32 {
				return 0, 0, errOverflow32
			} else if unused := b & 0b00110000; bytesRead == maxVarintLen32 && ret < 0 && unused != 0b00110000 {
				return 0, 0, errOverflow32
			} else if bytesRead == maxVarintLen32 && ret >= 0 && unused != 0x00 {
				return 0, 0, errOverflow32
			}
			return
		} else if bytesRead >= maxVarintLen32 {
			return 0, 0, errOverflow32
		}
	}
}

// DecodeInt33AsInt64 is a special cased decoder for the signed 33-bit block type index. The result is sign-extended
// into an int64.
//
// See https://webassembly.github.io/spec/core/binary/instructions.html#control-instructions
func DecodeInt33AsInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	var shift int
	var b int64
	var rb byte
	for shift < 35 {
		rb, err = r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		b = int64(rb)
		ret |= (b & int33Mask2) << shift
		shift += 7
		bytesRead++
		if b&int33Mask == 0 {
			break
		}
	}
	if b&int33Mask != 0 {
		return 0, 0, errOverflow33
	}

	if shift < 33 && (b&int33Mask3) == int33Mask3 {
		ret |= int33Mask4 << shift
	}
	ret = ret & int33Mask4

	// When the 33rd bit is set, this is a negative 33-bit value.
	if ret&int33Mask5 > 0 {
		ret = ret - int33Mask6
	}

	if bytesRead > maxVarintLen32 {
		return 0, 0, errOverflow33
	} else if unused := b & 0b00100000; bytesRead == maxVarintLen32 && ret < 0 && unused != 0b00100000 {
		return 0, 0, errOverflow33
	} else if bytesRead == maxVarintLen32 && ret >= 0 && unused != 0x00 {
		return 0, 0, errOverflow33
	}
	return ret, bytesRead, nil
}

// DecodeInt64 reads a signed 64-bit value from r, returning the value and the count of bytes consumed.
func DecodeInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	return decodeInt64(func(_ int) (byte, error) { return r.ReadByte() })
}

// LoadInt64 is like DecodeInt64, except it reads from the head of buf.
func LoadInt64(buf []byte) (ret int64, bytesRead uint64, err error) {
	return decodeInt64(loader(buf))
}

func decodeInt64(next nextByte) (ret int64, bytesRead uint64, err error) {
	var shift int
	var b byte
	for {
		b, err = next(int(bytesRead))
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		ret |= (int64(b) & 0x7f) << shift
		shift += 7
		bytesRead++
		if b&0x80 == 0 {
			if shift < 64 && (b&0x40) != 0 {
				ret |= ^0 << shift
			}
			if bytesRead > maxVarintLen64 {
				return 0, 0, errOverflow64
			} else if unused := b & 0b00111110; bytesRead == maxVarintLen64 && ret < 0 && unused != 0b00111110 {
				return 0, 0, errOverflow64
			} else if bytesRead == maxVarintLen64 && ret >= 0 && unused != 0x00 {
				return 0, 0, errOverflow64
			}
			return
		} else if bytesRead >= maxVarintLen64 {
			return 0, 0, errOverflow64
		}
	}
}
