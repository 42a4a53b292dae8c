// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
)

// betHeaderSize is the fixed part of the BET body, before the flag palette
// and the packed arrays.
const betHeaderSize = 76

// betTable is the Block Extended Table: one bit-packed record per file with
// independently sized fields, a deduplicated flag palette, and a parallel
// packed array of name-hash remainders for lookup verification.
type betTable struct {
	entryCount uint32
	entrySize  uint // bits per record

	bitFilePos   uint
	bitFileSize  uint
	bitCmpSize   uint
	bitFlagIndex uint

	cntFilePos   uint
	cntFileSize  uint
	cntCmpSize   uint
	cntFlagIndex uint

	hashBits uint // bits stored per name-hash entry

	flags   []uint32
	records *bitArray
	hashes  *bitArray
}

// betFileInfo is the unpacked view of one BET record.
type betFileInfo struct {
	FilePos        uint64
	FileSize       uint64
	CompressedSize uint64
	Flags          uint32
}

// fileInfo reconstructs the record at index by splitting the entry-sized
// bit window into its sub-fields and mapping the flag index through the
// palette.
func (t *betTable) fileInfo(index uint32) (betFileInfo, bool) {
	if index >= t.entryCount {
		return betFileInfo{}, false
	}

	base := uint64(index) * uint64(t.entrySize)
	info := betFileInfo{
		FilePos:        t.records.readBits(base+uint64(t.bitFilePos), t.cntFilePos),
		FileSize:       t.records.readBits(base+uint64(t.bitFileSize), t.cntFileSize),
		CompressedSize: t.records.readBits(base+uint64(t.bitCmpSize), t.cntCmpSize),
	}

	flagIndex := t.records.readBits(base+uint64(t.bitFlagIndex), t.cntFlagIndex)
	if int(flagIndex) < len(t.flags) {
		info.Flags = t.flags[flagIndex]
	}
	return info, true
}

// nameHash returns the stored hash remainder for entry index.
func (t *betTable) nameHash(index uint32) uint64 {
	return t.hashes.readEntry(uint64(index), t.hashBits)
}

// buildBetTable packs the given block entries. names must be parallel to
// blocks; the record order, and therefore the BET file index, is the block
// index.
func buildBetTable(names []string, blocks []blockEntry, hashBits uint) *betTable {
	var maxPos, maxFileSize, maxCmpSize uint64

	// Deduplicate flags into the palette in first-seen order.
	flagIndex := make(map[uint32]uint32)
	var flags []uint32
	for i := range blocks {
		if p := blocks[i].pos64(); p > maxPos {
			maxPos = p
		}
		if s := uint64(blocks[i].FileSize); s > maxFileSize {
			maxFileSize = s
		}
		if s := uint64(blocks[i].CompressedSize); s > maxCmpSize {
			maxCmpSize = s
		}
		if _, ok := flagIndex[blocks[i].Flags]; !ok {
			flagIndex[blocks[i].Flags] = uint32(len(flags))
			flags = append(flags, blocks[i].Flags)
		}
	}

	t := &betTable{
		entryCount:  uint32(len(blocks)),
		cntFilePos:  bitsNeeded(maxPos),
		cntFileSize: bitsNeeded(maxFileSize),
		cntCmpSize:  bitsNeeded(maxCmpSize),
		hashBits:    hashBits - 8,
		flags:       flags,
	}
	if len(flags) > 1 {
		t.cntFlagIndex = bitsNeeded(uint64(len(flags) - 1))
	}

	t.bitFilePos = 0
	t.bitFileSize = t.bitFilePos + t.cntFilePos
	t.bitCmpSize = t.bitFileSize + t.cntFileSize
	t.bitFlagIndex = t.bitCmpSize + t.cntCmpSize
	t.entrySize = t.bitFlagIndex + t.cntFlagIndex

	t.records = newBitArray(len(blocks), t.entrySize)
	t.hashes = newBitArray(len(blocks), t.hashBits)

	andMask, orMask := hetMasks(hashBits)
	betMask := (uint64(1) << (hashBits - 8)) - 1

	for i := range blocks {
		base := uint64(i) * uint64(t.entrySize)
		t.records.writeBits(base+uint64(t.bitFilePos), t.cntFilePos, blocks[i].pos64())
		t.records.writeBits(base+uint64(t.bitFileSize), t.cntFileSize, uint64(blocks[i].FileSize))
		t.records.writeBits(base+uint64(t.bitCmpSize), t.cntCmpSize, uint64(blocks[i].CompressedSize))
		t.records.writeBits(base+uint64(t.bitFlagIndex), t.cntFlagIndex, uint64(flagIndex[blocks[i].Flags]))

		full := (jenkinsHash(names[i]) & andMask) | orMask
		t.hashes.writeEntry(uint64(i), t.hashBits, full&betMask)
	}

	return t
}

// parseBetTable decodes the decrypted, decompressed BET body.
func parseBetTable(body []byte) (*betTable, error) {
	if len(body) < betHeaderSize {
		return nil, fmt.Errorf("bet table too small: %w", ErrInvalidFormat)
	}

	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(body[off:]) }

	t := &betTable{
		entryCount:   u32(4),
		entrySize:    uint(u32(12)),
		bitFilePos:   uint(u32(16)),
		bitFileSize:  uint(u32(20)),
		bitCmpSize:   uint(u32(24)),
		bitFlagIndex: uint(u32(28)),
		cntFilePos:   uint(u32(36)),
		cntFileSize:  uint(u32(40)),
		cntCmpSize:   uint(u32(44)),
		cntFlagIndex: uint(u32(48)),
		hashBits:     uint(u32(56)), // total bits per stored name-hash entry
	}
	hashArraySize := u32(68)
	flagCount := u32(72)

	if t.entrySize > 64*4 || t.hashBits > 64 {
		return nil, fmt.Errorf("bet field widths out of range: %w", ErrInvalidFormat)
	}

	recordBytes := (uint64(t.entryCount)*uint64(t.entrySize) + 7) / 8
	need := uint64(betHeaderSize) + uint64(flagCount)*4 + recordBytes + uint64(hashArraySize)
	if need > uint64(len(body)) {
		return nil, fmt.Errorf("bet arrays exceed table size: %w", ErrInvalidFormat)
	}

	off := uint64(betHeaderSize)
	t.flags = make([]uint32, flagCount)
	for i := range t.flags {
		t.flags[i] = binary.LittleEndian.Uint32(body[off:])
		off += 4
	}

	t.records = bitArrayFrom(append([]byte(nil), body[off:off+recordBytes]...))
	off += recordBytes
	t.hashes = bitArrayFrom(append([]byte(nil), body[off:off+uint64(hashArraySize)]...))

	return t, nil
}

// bodyBytes serializes the BET body (header plus arrays, unencrypted).
func (t *betTable) bodyBytes() []byte {
	recordBytes := len(t.records.data)
	hashBytes := len(t.hashes.data)
	body := make([]byte, betHeaderSize+len(t.flags)*4+recordBytes+hashBytes)

	put := func(off int, v uint32) { binary.LittleEndian.PutUint32(body[off:], v) }
	put(0, uint32(len(body)))
	put(4, t.entryCount)
	put(8, 0x10) // unknown, fixed by the format
	put(12, uint32(t.entrySize))
	put(16, uint32(t.bitFilePos))
	put(20, uint32(t.bitFileSize))
	put(24, uint32(t.bitCmpSize))
	put(28, uint32(t.bitFlagIndex))
	put(32, uint32(t.entrySize)) // unknown bit index, end of record
	put(36, uint32(t.cntFilePos))
	put(40, uint32(t.cntFileSize))
	put(44, uint32(t.cntCmpSize))
	put(48, uint32(t.cntFlagIndex))
	put(52, 0) // unknown bit count
	put(56, uint32(t.hashBits))
	put(60, 0) // extra name-hash bits
	put(64, uint32(t.hashBits))
	put(68, uint32(hashBytes))
	put(72, uint32(len(t.flags)))

	off := betHeaderSize
	for _, f := range t.flags {
		binary.LittleEndian.PutUint32(body[off:], f)
		off += 4
	}
	copy(body[off:], t.records.data)
	off += recordBytes
	copy(body[off:], t.hashes.data)
	return body
}
