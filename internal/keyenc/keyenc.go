// Package keyenc implements the canonical, order-preserving byte encoding
// that stateful plugins use for composite keys: a byte-slice comparison of
// two encoded keys must agree with the canonical ordering of the original
// values, across mixed types.
//
// Canonical type order: Uint8Array < string < number < bigint < boolean.
// Each component is tagged with a one-byte type marker so a multi-component
// key compares component-by-component without ambiguity. Byte and string
// payloads are written with 0x00 escaped as 0x00 0xFF and closed by a 0x00
// terminator, so they compare lexicographically ("ab" < "b") and a shorter
// payload sorts before any longer one it is a prefix of.
package keyenc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
)

type tag byte

const (
	tagBytes tag = iota
	tagString
	tagNumber
	tagBigInt
	tagBool
)

// Value is one component of a composite key. Exactly one field is set,
// matching the union described by the canonical order above.
type Value struct {
	Bytes    []byte
	String   string
	Number   float64
	BigInt   *big.Int
	Bool     bool
	IsBytes  bool
	IsString bool
	IsNumber bool
	IsBigInt bool
	IsBool   bool
}

// Bytes wraps a []byte component.
func Bytes(b []byte) Value { return Value{Bytes: b, IsBytes: true} }

// String wraps a string component.
func String(s string) Value { return Value{String: s, IsString: true} }

// Number wraps a numeric component. Integer and float inputs both encode
// through float64; ordering within the type is the natural numeric order.
func Number(n float64) Value { return Value{Number: n, IsNumber: true} }

// BigIntValue wraps an arbitrary-precision integer component, ordered
// between number and boolean per the canonical type order.
func BigIntValue(n *big.Int) Value { return Value{BigInt: n, IsBigInt: true} }

// Bool wraps a boolean component.
func Bool(b bool) Value { return Value{Bool: b, IsBool: true} }

// Encode produces the order-preserving byte encoding of a composite key.
// For any two key slices a, b of Values: Encode(a) < Encode(b) (as a byte
// slice comparison) if and only if a < b under the canonical order,
// comparing component by component, shorter-prefix-sorts-first on a
// common prefix.
func Encode(key []Value) []byte {
	var buf bytes.Buffer
	for _, v := range key {
		encodeValue(&buf, v)
	}
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v Value) {
	switch {
	case v.IsBytes:
		buf.WriteByte(byte(tagBytes))
		writeTerminated(buf, v.Bytes)
	case v.IsString:
		buf.WriteByte(byte(tagString))
		writeTerminated(buf, []byte(v.String))
	case v.IsNumber:
		buf.WriteByte(byte(tagNumber))
		buf.Write(encodeFloat(v.Number))
	case v.IsBigInt:
		buf.WriteByte(byte(tagBigInt))
		encodeBigInt(buf, v.BigInt)
	case v.IsBool:
		buf.WriteByte(byte(tagBool))
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	default:
		panic(fmt.Sprintf("keyenc: empty Value in key: %#v", v))
	}
}

// writeTerminated writes the payload with every 0x00 byte escaped as
// 0x00 0xFF, followed by a single 0x00 terminator. Byte comparison of the
// result is lexicographic on the payload, and components never blend:
// ["ab","c"] sorts before ["abc"] because the terminator 0x00 is lower than
// 'c', and an embedded 0x00 (escaped to 0x00 0xFF) sorts after the
// terminator that ends a shorter payload.
func writeTerminated(buf *bytes.Buffer, b []byte) {
	for _, c := range b {
		buf.WriteByte(c)
		if c == 0x00 {
			buf.WriteByte(0xFF)
		}
	}
	buf.WriteByte(0x00)
}

// encodeFloat produces an 8-byte big-endian encoding of a float64 such that
// unsigned byte comparison matches the natural numeric order, including
// negative numbers: flip the sign bit for positive numbers, flip every bit
// for negative numbers.
func encodeFloat(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], bits)
	return out[:]
}

// encodeBigInt produces an order-preserving encoding of an arbitrary
// precision integer: a one-byte sign marker (negative < zero < positive),
// followed by a magnitude encoding. Positive magnitudes are length-prefixed
// and written as-is, since big.Int.Bytes never carries a leading zero byte
// and a longer byte string is always the larger value. Negative magnitudes
// invert both the length and every byte, so that a more negative number
// (larger magnitude) produces a smaller encoding and sorts first.
func encodeBigInt(buf *bytes.Buffer, n *big.Int) {
	switch n.Sign() {
	case -1:
		buf.WriteByte(0)
		writeInvertedMagnitude(buf, new(big.Int).Neg(n).Bytes())
	case 0:
		buf.WriteByte(1)
	default:
		buf.WriteByte(2)
		writeMagnitude(buf, n.Bytes())
	}
}

func writeMagnitude(buf *bytes.Buffer, mag []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(mag)))
	buf.Write(lenBuf[:])
	buf.Write(mag)
}

func writeInvertedMagnitude(buf *bytes.Buffer, mag []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], ^uint32(len(mag)))
	buf.Write(lenBuf[:])
	inv := make([]byte, len(mag))
	for i, b := range mag {
		inv[i] = ^b
	}
	buf.Write(inv)
}

// Compare reports -1, 0, or 1 comparing two composite keys' canonical
// order, without needing to encode either side first.
func Compare(a, b []Value) int {
	return bytes.Compare(Encode(a), Encode(b))
}
