package kv

import (
	"encoding/binary"
	"math"
)

// PutUint64BE appends a big-endian uint64 to dst (8 bytes).
func PutUint64BE(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

// GetUint64BE reads a big-endian uint64 from b.
func GetUint64BE(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// PutFloat64BE appends a big-endian IEEE 754 float64 to dst (8 bytes).
func PutFloat64BE(dst []byte, v float64) []byte {
	return PutUint64BE(dst, math.Float64bits(v))
}

// GetFloat64BE reads a big-endian IEEE 754 float64 from b.
func GetFloat64BE(b []byte) float64 {
	return math.Float64frombits(GetUint64BE(b))
}
