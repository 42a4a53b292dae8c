// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

// bitArray is a fixed-width packed array of unsigned values over a byte
// buffer, LSB-first within each byte as the extended tables store them.
// Widths from 0 to 64 bits are supported; a zero width always reads zero
// and writes nothing.
type bitArray struct {
	data []byte
}

// newBitArray allocates a buffer large enough for count entries of width
// bits each.
func newBitArray(count int, width uint) *bitArray {
	bits := uint64(count) * uint64(width)
	return &bitArray{data: make([]byte, (bits+7)/8)}
}

// bitArrayFrom wraps an existing buffer.
func bitArrayFrom(data []byte) *bitArray {
	return &bitArray{data: data}
}

// readBits returns the width-bit value stored at the given bit offset.
// Reads past the end of the buffer yield zero bits.
func (a *bitArray) readBits(bitOffset uint64, width uint) uint64 {
	if width == 0 {
		return 0
	}

	var value uint64
	for i := uint(0); i < width; i++ {
		pos := bitOffset + uint64(i)
		byteIndex := pos >> 3
		if byteIndex >= uint64(len(a.data)) {
			break
		}
		bit := (a.data[byteIndex] >> (pos & 7)) & 1
		value |= uint64(bit) << i
	}
	return value
}

// writeBits stores the low width bits of value at the given bit offset,
// leaving every other bit in the covering bytes untouched.
func (a *bitArray) writeBits(bitOffset uint64, width uint, value uint64) {
	for i := uint(0); i < width; i++ {
		pos := bitOffset + uint64(i)
		byteIndex := pos >> 3
		if byteIndex >= uint64(len(a.data)) {
			return
		}
		mask := byte(1) << (pos & 7)
		if value&(1<<i) != 0 {
			a.data[byteIndex] |= mask
		} else {
			a.data[byteIndex] &^= mask
		}
	}
}

// readEntry reads slot index from an array of width-bit entries.
func (a *bitArray) readEntry(index uint64, width uint) uint64 {
	return a.readBits(index*uint64(width), width)
}

// writeEntry writes slot index in an array of width-bit entries.
func (a *bitArray) writeEntry(index uint64, width uint, value uint64) {
	a.writeBits(index*uint64(width), width, value)
}

// bitsNeeded returns how many bits are required to represent max.
// bitsNeeded(0) is 0: an array of always-zero values needs no storage.
func bitsNeeded(max uint64) uint {
	var n uint
	for max != 0 {
		n++
		max >>= 1
	}
	return n
}
