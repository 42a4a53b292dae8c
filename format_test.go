// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTripAllVersions(t *testing.T) {
	for _, v := range []Version{V1, V2, V3, V4} {
		h := &Header{}
		h.Magic = mpqMagic
		h.FormatVersion = uint16(v)
		h.HeaderSize = v.HeaderSize()
		h.ArchiveSize = 0x12345678
		h.SectorSizeShift = 3
		h.HashTablePos = 0x1000
		h.BlockTablePos = 0x2000
		h.HashTableSize = 16
		h.BlockTableSize = 5

		if v >= V2 {
			h.HashTablePosHi = 0x0001
			h.HiBlockTablePos64 = 0x3000
		}
		if v >= V3 {
			h.ArchiveSize64 = 0x1_0000_0000
			h.HetTablePos64 = 0x4000
			h.BetTablePos64 = 0x5000
		}
		if v >= V4 {
			h.HashTableSize64 = 256
			h.RawChunkSize = 0x4000
			h.MD5Header = [16]byte{1, 2, 3}
		}

		raw := headerBytes(h)
		require.Equal(t, int(v.HeaderSize()), len(raw), "version %d", v)

		parsed, err := readHeaderAt(bytes.NewReader(raw))
		require.NoError(t, err, "version %d", v)
		assert.Equal(t, *h, *parsed, "version %d", v)
	}
}

func TestHeader64BitPositions(t *testing.T) {
	h := &Header{}
	h.FormatVersion = uint16(V2)
	h.setHashTablePos64(0x1_2345_6789)
	assert.Equal(t, uint64(0x1_2345_6789), h.HashTablePos64())
	assert.Equal(t, uint32(0x2345_6789), h.HashTablePos)
	assert.Equal(t, uint16(1), h.HashTablePosHi)

	// V1 headers ignore the high bits.
	h.FormatVersion = uint16(V1)
	assert.Equal(t, uint64(0x2345_6789), h.HashTablePos64())
}

func TestVersionHeaderSizes(t *testing.T) {
	assert.Equal(t, uint32(0x20), V1.HeaderSize())
	assert.Equal(t, uint32(0x2C), V2.HeaderSize())
	assert.Equal(t, uint32(0x44), V3.HeaderSize())
	assert.Equal(t, uint32(0xD0), V4.HeaderSize())
}

func TestFindHeaderSkipsForeignData(t *testing.T) {
	// A stray "MPQ\x1A" inside unaligned junk must not be picked up; the
	// real header sits at the next 512-byte boundary.
	junk := make([]byte, headerScanAlign)
	copy(junk[100:], []byte("MPQ\x1A"))

	h := &Header{}
	h.Magic = mpqMagic
	h.FormatVersion = uint16(V1)
	h.HeaderSize = headerSizeV1
	real := headerBytes(h)

	data := append(junk, real...)
	offset, ud, parsed, err := findHeader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Nil(t, ud)
	assert.Equal(t, uint64(headerScanAlign), offset)
	assert.Equal(t, uint16(V1), parsed.FormatVersion)
}

func TestFindHeaderRejectsGarbage(t *testing.T) {
	_, _, _, err := findHeader(bytes.NewReader(make([]byte, 2048)))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestNextPowerOf2(t *testing.T) {
	assert.Equal(t, uint32(1), nextPowerOf2(0))
	assert.Equal(t, uint32(1), nextPowerOf2(1))
	assert.Equal(t, uint32(2), nextPowerOf2(2))
	assert.Equal(t, uint32(4), nextPowerOf2(3))
	assert.Equal(t, uint32(16), nextPowerOf2(16))
	assert.Equal(t, uint32(32), nextPowerOf2(17))
}
