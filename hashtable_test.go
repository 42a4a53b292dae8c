// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFileNames generates n distinct archive paths.
func testFileNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("Data\\Dir%02d\\File%04d.dat", i%10, i)
	}
	return names
}

func TestHashTableInsertFind(t *testing.T) {
	ht := newHashTable(64)
	names := testFileNames(40)

	for i, name := range names {
		_, err := ht.insert(name, localeNeutral, uint32(i))
		require.NoError(t, err, name)
	}

	for i, name := range names {
		idx, ok := ht.find(name, localeNeutral)
		require.True(t, ok, name)
		assert.Equal(t, uint32(i), ht.entries[idx].BlockIndex)
	}

	_, ok := ht.find("not\\there.txt", localeNeutral)
	assert.False(t, ok)
}

func TestHashTableFindIsCaseAndSlashInsensitive(t *testing.T) {
	ht := newHashTable(16)
	_, err := ht.insert("Data\\File.TXT", localeNeutral, 7)
	require.NoError(t, err)

	idx, ok := ht.find("data/file.txt", localeNeutral)
	require.True(t, ok)
	assert.Equal(t, uint32(7), ht.entries[idx].BlockIndex)
}

func TestHashTableRemoveAndReuse(t *testing.T) {
	ht := newHashTable(16)
	names := testFileNames(10)
	for i, name := range names {
		_, err := ht.insert(name, localeNeutral, uint32(i))
		require.NoError(t, err)
	}

	idx, ok := ht.find(names[3], localeNeutral)
	require.True(t, ok)
	ht.remove(idx)

	_, ok = ht.find(names[3], localeNeutral)
	assert.False(t, ok)

	// Deleted slots continue probe chains: everything else stays findable.
	for i, name := range names {
		if i == 3 {
			continue
		}
		_, ok := ht.find(name, localeNeutral)
		assert.True(t, ok, name)
	}

	// A deleted slot is reusable.
	newIdx, err := ht.insert(names[3], localeNeutral, 99)
	require.NoError(t, err)
	assert.Equal(t, idx, newIdx)
}

func TestHashTableLocalePreference(t *testing.T) {
	ht := newHashTable(16)
	_, err := ht.insert("ui\\strings.txt", localeNeutral, 1)
	require.NoError(t, err)
	_, err = ht.insert("ui\\strings.txt", 0x407, 2)
	require.NoError(t, err)

	idx, ok := ht.find("ui\\strings.txt", 0x407)
	require.True(t, ok)
	assert.Equal(t, uint32(2), ht.entries[idx].BlockIndex)

	idx, ok = ht.find("ui\\strings.txt", localeNeutral)
	require.True(t, ok)
	assert.Equal(t, uint32(1), ht.entries[idx].BlockIndex)

	// An unknown locale falls back to the first name match.
	_, ok = ht.find("ui\\strings.txt", 0x409)
	assert.True(t, ok)
}

func TestHashTableFull(t *testing.T) {
	ht := newHashTable(4)
	names := testFileNames(5)
	for i := 0; i < 4; i++ {
		_, err := ht.insert(names[i], localeNeutral, uint32(i))
		require.NoError(t, err)
	}
	_, err := ht.insert(names[4], localeNeutral, 4)
	assert.ErrorIs(t, err, errHashTableFull)
}

func TestHashTableSerializationRoundTrip(t *testing.T) {
	ht := newHashTable(16)
	names := testFileNames(8)
	for i, name := range names {
		_, err := ht.insert(name, localeNeutral, uint32(i))
		require.NoError(t, err)
	}

	stored := ht.encryptedBytes()
	decryptBytes(stored, keyHashTable)

	words := make([]uint32, len(stored)/4)
	for i := range words {
		words[i] = uint32(stored[i*4]) | uint32(stored[i*4+1])<<8 |
			uint32(stored[i*4+2])<<16 | uint32(stored[i*4+3])<<24
	}
	parsed := parseHashTable(words)
	require.Equal(t, ht.size(), parsed.size())

	for i, name := range names {
		idx, ok := parsed.find(name, localeNeutral)
		require.True(t, ok, name)
		assert.Equal(t, uint32(i), parsed.entries[idx].BlockIndex)
	}
}
