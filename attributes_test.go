// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributesRoundTrip(t *testing.T) {
	a := newAttributesFile(attrFlagCRC32|attrFlagFiletime|attrFlagMD5, 3)
	a.set(0, []byte("first file"), 0x01D0000000000001)
	a.set(1, []byte("second file"), 0x01D0000000000002)
	// Slot 2 stays zeroed.

	data := a.bytes(3)
	parsed, err := parseAttributes(data, 3)
	require.NoError(t, err)

	fa := parsed.view(0)
	assert.True(t, fa.HasCRC32)
	assert.True(t, fa.HasFiletime)
	assert.True(t, fa.HasMD5)
	assert.Equal(t, fileCRC32([]byte("first file")), fa.CRC32)
	assert.Equal(t, fileMD5([]byte("first file")), fa.MD5)
	assert.Equal(t, uint64(0x01D0000000000001), fa.Filetime)

	fa = parsed.view(2)
	assert.Zero(t, fa.CRC32)
	assert.Zero(t, fa.Filetime)
	assert.Equal(t, [16]byte{}, fa.MD5)
}

func TestAttributesShortArrays(t *testing.T) {
	// Some writers size the arrays for blockCount-1 entries, leaving the
	// attributes file's own slot out. Parsing zero-extends.
	a := newAttributesFile(attrFlagCRC32, 2)
	a.set(0, []byte("payload"), 0)
	a.set(1, []byte("last"), 0)
	data := a.bytes(2)

	parsed, err := parseAttributes(data, 3)
	require.NoError(t, err)
	assert.Equal(t, fileCRC32([]byte("payload")), parsed.view(0).CRC32)
	assert.Equal(t, fileCRC32([]byte("last")), parsed.view(1).CRC32)
	assert.Zero(t, parsed.view(2).CRC32)
}

func TestAttributesPartialFlags(t *testing.T) {
	a := newAttributesFile(attrFlagCRC32, 1)
	a.set(0, []byte("x"), 12345)

	fa := a.view(0)
	assert.True(t, fa.HasCRC32)
	assert.False(t, fa.HasFiletime, "filetime not stored when flag is off")
	assert.False(t, fa.HasMD5)

	parsed, err := parseAttributes(a.bytes(1), 1)
	require.NoError(t, err)
	fa = parsed.view(0)
	assert.Equal(t, fileCRC32([]byte("x")), fa.CRC32)
	assert.False(t, fa.HasMD5)
}

func TestAttributesSetNilClears(t *testing.T) {
	a := newAttributesFile(attrFlagCRC32|attrFlagMD5, 1)
	a.set(0, []byte("content"), 0)
	require.NotZero(t, a.view(0).CRC32)

	a.set(0, nil, 0)
	assert.Zero(t, a.view(0).CRC32)
	assert.Equal(t, [16]byte{}, a.view(0).MD5)
}

func TestAttributesRejectsBadInput(t *testing.T) {
	_, err := parseAttributes([]byte{1, 2, 3}, 1)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	// Unknown version.
	bad := newAttributesFile(attrFlagCRC32, 1).bytes(1)
	bad[0] = 99
	_, err = parseAttributes(bad, 1)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestAttributesResizeGrows(t *testing.T) {
	a := newAttributesFile(attrFlagCRC32, 1)
	a.set(0, []byte("keep"), 0)
	a.resize(4)
	assert.Equal(t, fileCRC32([]byte("keep")), a.view(0).CRC32)
	assert.Zero(t, a.view(3).CRC32)
}
