// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"io"
)

// blockEntry is one 16-byte record of the classic block table, extended
// in memory with the hi-block table's high position bits.
type blockEntry struct {
	FilePos        uint32 // Offset of the file data (low 32 bits, archive-relative)
	CompressedSize uint32
	FileSize       uint32
	Flags          uint32
	FilePosHi      uint16 // High 16 bits, from the hi-block table
}

func (b *blockEntry) pos64() uint64 {
	return uint64(b.FilePos) | uint64(b.FilePosHi)<<32
}

func (b *blockEntry) setPos64(pos uint64) {
	b.FilePos = uint32(pos)
	b.FilePosHi = uint16(pos >> 32)
}

func (b *blockEntry) exists() bool {
	return b.Flags&fileExists != 0
}

// blockTable is the dense per-file metadata array. On disk the 16-byte
// records are encrypted with the fixed "(block table)" key; the optional
// hi-block table is stored unencrypted.
type blockTable struct {
	entries []blockEntry
}

// parseBlockTable builds a table from decrypted 4-word records.
func parseBlockTable(data []uint32) *blockTable {
	count := len(data) / 4
	t := &blockTable{entries: make([]blockEntry, count)}
	for i := range t.entries {
		t.entries[i] = blockEntry{
			FilePos:        data[i*4],
			CompressedSize: data[i*4+1],
			FileSize:       data[i*4+2],
			Flags:          data[i*4+3],
		}
	}
	return t
}

// applyHiTable merges a parallel hi-block array into the entries.
func (t *blockTable) applyHiTable(hi []uint16) {
	for i := range t.entries {
		if i < len(hi) {
			t.entries[i].FilePosHi = hi[i]
		}
	}
}

// readHiBlockTable reads the parallel uint16 array at offset.
func readHiBlockTable(r io.ReadSeeker, offset uint64, count uint32) ([]uint16, error) {
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}
	hi := make([]uint16, count)
	if err := readUint16Array(r, hi); err != nil {
		return nil, err
	}
	return hi, nil
}

// plainBytes serializes the table without encryption.
func (t *blockTable) plainBytes() []byte {
	words := make([]uint32, 0, len(t.entries)*4)
	for i := range t.entries {
		e := &t.entries[i]
		words = append(words, e.FilePos, e.CompressedSize, e.FileSize, e.Flags)
	}
	var buf writerBuffer
	_ = writeUint32Array(&buf, words)
	return buf.data
}

// encryptedBytes serializes the table and encrypts it for disk.
func (t *blockTable) encryptedBytes() []byte {
	out := t.plainBytes()
	encryptBytes(out, keyBlockTable)
	return out
}

// hiBytes serializes the hi-block table (unencrypted).
func (t *blockTable) hiBytes() []byte {
	hi := make([]uint16, len(t.entries))
	for i := range t.entries {
		hi[i] = t.entries[i].FilePosHi
	}
	var buf writerBuffer
	_ = writeUint16Array(&buf, hi)
	return buf.data
}

// needsHiTable reports whether any entry has high position bits set.
func (t *blockTable) needsHiTable() bool {
	for i := range t.entries {
		if t.entries[i].FilePosHi != 0 {
			return true
		}
	}
	return false
}

// endOfData returns the archive-relative offset just past the last byte of
// file data referenced by any existing entry.
func (t *blockTable) endOfData() uint64 {
	var end uint64
	for i := range t.entries {
		e := &t.entries[i]
		if !e.exists() {
			continue
		}
		if p := e.pos64() + uint64(e.CompressedSize); p > end {
			end = p
		}
	}
	return end
}
