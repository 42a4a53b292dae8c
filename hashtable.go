// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
)

// hashEntry is one 16-byte slot of the classic hash table.
type hashEntry struct {
	HashA      uint32
	HashB      uint32
	Locale     uint16
	Platform   uint16
	BlockIndex uint32
}

// Slot states are carried in BlockIndex: hashTableEmpty terminates probes,
// hashTableDeleted keeps them going and marks the slot reusable.
func (e *hashEntry) empty() bool   { return e.BlockIndex == hashTableEmpty }
func (e *hashEntry) deleted() bool { return e.BlockIndex == hashTableDeleted }

// hashTable is the classic open-addressed file index. Size is always a
// power of two; on disk the whole table is encrypted with the fixed
// "(hash table)" key.
type hashTable struct {
	entries []hashEntry
}

// newHashTable creates an empty table with the given slot count.
func newHashTable(size uint32) *hashTable {
	t := &hashTable{entries: make([]hashEntry, size)}
	for i := range t.entries {
		t.entries[i] = hashEntry{
			HashA:      0xFFFFFFFF,
			HashB:      0xFFFFFFFF,
			Locale:     0xFFFF,
			Platform:   0xFFFF,
			BlockIndex: hashTableEmpty,
		}
	}
	return t
}

// parseHashTable builds a table from decrypted 4-word records.
func parseHashTable(data []uint32) *hashTable {
	count := len(data) / 4
	t := &hashTable{entries: make([]hashEntry, count)}
	for i := range t.entries {
		t.entries[i] = hashEntry{
			HashA:      data[i*4],
			HashB:      data[i*4+1],
			Locale:     uint16(data[i*4+2] & 0xFFFF),
			Platform:   uint16(data[i*4+2] >> 16),
			BlockIndex: data[i*4+3],
		}
	}
	return t
}

// size returns the slot count.
func (t *hashTable) size() uint32 {
	return uint32(len(t.entries))
}

// plainBytes serializes the table without encryption.
func (t *hashTable) plainBytes() []byte {
	words := make([]uint32, 0, len(t.entries)*4)
	for i := range t.entries {
		e := &t.entries[i]
		words = append(words, e.HashA, e.HashB,
			uint32(e.Locale)|uint32(e.Platform)<<16, e.BlockIndex)
	}
	var buf writerBuffer
	_ = writeUint32Array(&buf, words)
	return buf.data
}

// encryptedBytes serializes the table and encrypts it for disk.
func (t *hashTable) encryptedBytes() []byte {
	out := t.plainBytes()
	encryptBytes(out, keyHashTable)
	return out
}

// find locates the slot for name. An exact locale match wins; otherwise the
// first name match is returned. The probe stops at a never-used slot and
// skips deleted ones.
func (t *hashTable) find(name string, locale uint16) (int, bool) {
	if len(t.entries) == 0 {
		return 0, false
	}

	hashA := hashString(name, hashTypeNameA)
	hashB := hashString(name, hashTypeNameB)
	size := uint32(len(t.entries))
	startIndex := hashString(name, hashTypeTableOffset) % size

	firstMatch := -1
	for i := uint32(0); i < size; i++ {
		idx := (startIndex + i) % size
		entry := &t.entries[idx]

		if entry.empty() {
			break
		}
		if entry.deleted() {
			continue
		}
		if entry.HashA == hashA && entry.HashB == hashB {
			if entry.Locale == locale {
				return int(idx), true
			}
			if firstMatch < 0 {
				firstMatch = int(idx)
			}
		}
	}

	if firstMatch >= 0 {
		return firstMatch, true
	}
	return 0, false
}

// insert places name into the first free (empty or deleted) slot of its
// probe sequence.
func (t *hashTable) insert(name string, locale uint16, blockIndex uint32) (int, error) {
	size := uint32(len(t.entries))
	if size == 0 {
		return 0, &ArchiveError{Op: "hash insert", Err: ErrInvalidFormat}
	}

	hashA := hashString(name, hashTypeNameA)
	hashB := hashString(name, hashTypeNameB)
	startIndex := hashString(name, hashTypeTableOffset) % size

	for i := uint32(0); i < size; i++ {
		idx := (startIndex + i) % size
		entry := &t.entries[idx]

		if entry.empty() || entry.deleted() {
			*entry = hashEntry{
				HashA:      hashA,
				HashB:      hashB,
				Locale:     locale,
				Platform:   0,
				BlockIndex: blockIndex,
			}
			return int(idx), nil
		}
	}

	return 0, &ArchiveError{Op: "hash insert", Path: name, Err: errHashTableFull}
}

// remove marks slot idx as deleted so later probes continue past it and
// later inserts may reuse it.
func (t *hashTable) remove(idx int) {
	t.entries[idx] = hashEntry{
		HashA:      0xFFFFFFFF,
		HashB:      0xFFFFFFFF,
		Locale:     0xFFFF,
		Platform:   0xFFFF,
		BlockIndex: hashTableDeleted,
	}
}

var errHashTableFull = errors.New("hash table full")
