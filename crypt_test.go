// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashStringKnownValues(t *testing.T) {
	// The table keys every MPQ implementation agrees on.
	assert.Equal(t, uint32(0xC3AF3770), hashString("(hash table)", hashTypeFileKey))
	assert.Equal(t, uint32(0xEC83B3A3), hashString("(block table)", hashTypeFileKey))
	// The package-level keys must come from the populated crypt table,
	// not the zero value it has before var initialization finishes.
	assert.Equal(t, uint32(0xC3AF3770), keyHashTable)
	assert.Equal(t, uint32(0xEC83B3A3), keyBlockTable)
}

func TestHashStringNormalization(t *testing.T) {
	assert.Equal(t,
		hashString("Data\\File.TXT", hashTypeNameA),
		hashString("data/file.txt", hashTypeNameA))
	assert.NotEqual(t,
		hashString("data\\file.txt", hashTypeNameA),
		hashString("data\\other.txt", hashTypeNameA))
}

func TestEncryptDecryptBytesRoundTrip(t *testing.T) {
	original := []byte("The quick brown fox jumps over the lazy dog 0123")
	require.Zero(t, len(original)%4)

	data := append([]byte(nil), original...)
	encryptBytes(data, 0xDEADBEEF)
	assert.False(t, bytes.Equal(data, original))

	decryptBytes(data, 0xDEADBEEF)
	assert.Equal(t, original, data)
}

func TestEncryptBytesTrailingBytesUntouched(t *testing.T) {
	// Only full dwords participate; a trailing partial word stays plain.
	data := []byte{1, 2, 3, 4, 5, 6, 7}
	tail := append([]byte(nil), data[4:]...)
	encryptBytes(data, 42)
	assert.Equal(t, tail, data[4:])

	decryptBytes(data, 42)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7}, data)
}

func TestFileKeyUsesPlainName(t *testing.T) {
	assert.Equal(t,
		fileKey("war3map.j", 0, 0, fileEncrypted),
		fileKey("scripts\\war3map.j", 0, 0, fileEncrypted))
	assert.Equal(t,
		fileKey("war3map.j", 0, 0, fileEncrypted),
		fileKey("scripts/war3map.j", 0, 0, fileEncrypted))
}

func TestFileKeyFixKey(t *testing.T) {
	base := fileKey("a.bin", 0, 0, fileEncrypted)
	salted := fileKey("a.bin", 0x1000, 0x200, fileEncrypted|fileFixKey)
	assert.Equal(t, (base+0x1000)^0x200, salted)

	// Same name at different offsets must differ.
	assert.NotEqual(t,
		fileKey("a.bin", 0x1000, 0x200, fileEncrypted|fileFixKey),
		fileKey("a.bin", 0x2000, 0x200, fileEncrypted|fileFixKey))
}

func TestHashlittle2KnownValues(t *testing.T) {
	// The self-test vectors published with lookup3.c. pc is the primary
	// hash, pb the secondary.
	pc, pb := hashlittle2([]byte("Four score and seven years ago"), 0, 0)
	assert.Equal(t, uint32(0x17770551), pc)
	assert.Equal(t, uint32(0xCE7226E6), pb)

	pc, pb = hashlittle2(nil, 0, 0)
	assert.Equal(t, uint32(0xDEADBEEF), pc)
	assert.Equal(t, uint32(0xDEADBEEF), pb)
}

func TestJenkinsHashWordOrder(t *testing.T) {
	// The 64-bit table hash carries pc in the high word and pb in the
	// low word.
	name := "four score and seven years ago" // already in normalized form
	pc, pb := hashlittle2([]byte(name), 0, 0)
	assert.Equal(t, uint64(pc)<<32|uint64(pb), jenkinsHash(name))
}

func TestJenkinsHashNormalization(t *testing.T) {
	assert.Equal(t, jenkinsHash("Data\\File.TXT"), jenkinsHash("data/file.txt"))
	assert.NotEqual(t, jenkinsHash("data\\a.txt"), jenkinsHash("data\\b.txt"))
}

func TestJenkinsHashDistribution(t *testing.T) {
	// Distinct names should not collide in 64 bits at this scale.
	seen := make(map[uint64]string)
	for _, n := range testFileNames(500) {
		h := jenkinsHash(n)
		prev, dup := seen[h]
		require.False(t, dup, "collision between %s and %s", n, prev)
		seen[h] = n
	}
}
