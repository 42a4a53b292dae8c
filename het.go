// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
)

// hetHeaderSize is the fixed part of the HET body, before the hash and
// index arrays.
const hetHeaderSize = 32

// hetTable is the Hash Extended Table: an 8-bit truncated name hash per
// slot plus a bit-packed array of file indices. Eight bits of hash admit
// frequent collisions, so lookups yield candidates the caller must verify.
type hetTable struct {
	entryCount uint32 // occupied slots
	totalCount uint32 // slot count
	hashBits   uint   // effective name hash width
	indexBits  uint   // width of one packed file index

	hashes  []byte // one truncated hash per slot, 0 = never used
	indices *bitArray

	andMask uint64
	orMask  uint64
}

func hetMasks(hashBits uint) (and, or uint64) {
	and = ^uint64(0)
	if hashBits < 64 {
		and = (uint64(1) << hashBits) - 1
	}
	or = uint64(1) << (hashBits - 1)
	return and, or
}

// nameHash returns the full extended-table hash plus its truncated 8-bit
// slot hash. The or-mask keeps the top bit set so a stored hash byte is
// never zero and zero can mark a free slot.
func (t *hetTable) nameHash(name string) (uint64, byte) {
	h := (jenkinsHash(name) & t.andMask) | t.orMask
	return h, byte(h >> (t.hashBits - 8))
}

// betHashMask returns the mask selecting the low bits that the BET hash
// array stores for verification.
func (t *hetTable) betHashMask() uint64 {
	return (uint64(1) << (t.hashBits - 8)) - 1
}

// findCandidates probes the 8-bit hash array and returns the file index of
// every slot matching the truncated hash. The probe stops at a never-used
// slot.
func (t *hetTable) findCandidates(name string) []uint32 {
	if t.totalCount == 0 {
		return nil
	}

	full, truncated := t.nameHash(name)
	start := uint32(full % uint64(t.totalCount))

	var candidates []uint32
	for i := uint32(0); i < t.totalCount; i++ {
		idx := (start + i) % t.totalCount
		stored := t.hashes[idx]
		if stored == 0 {
			break
		}
		if stored == truncated {
			candidates = append(candidates, uint32(t.indices.readEntry(uint64(idx), t.indexBits)))
		}
	}
	return candidates
}

// insert registers fileIndex under name. Used by the build path only; the
// incremental edit path rebuilds the table wholesale on flush.
func (t *hetTable) insert(name string, fileIndex uint32) error {
	full, truncated := t.nameHash(name)
	start := uint32(full % uint64(t.totalCount))

	for i := uint32(0); i < t.totalCount; i++ {
		idx := (start + i) % t.totalCount
		if t.hashes[idx] == 0 {
			t.hashes[idx] = truncated
			t.indices.writeEntry(uint64(idx), t.indexBits, uint64(fileIndex))
			t.entryCount++
			return nil
		}
	}
	return fmt.Errorf("het table full: %w", ErrInvalidParameter)
}

// newHetTable sizes an empty table for fileCount files with 4/3 slot
// headroom, the conventional load factor for the 8-bit probe array.
func newHetTable(fileCount uint32) *hetTable {
	totalCount := fileCount*4/3 + 1
	if totalCount < 4 {
		totalCount = 4
	}

	indexBits := bitsNeeded(uint64(fileCount))
	if indexBits == 0 {
		indexBits = 1
	}

	t := &hetTable{
		totalCount: totalCount,
		hashBits:   64,
		indexBits:  indexBits,
		hashes:     make([]byte, totalCount),
		indices:    newBitArray(int(totalCount), indexBits),
	}
	t.andMask, t.orMask = hetMasks(t.hashBits)
	return t
}

// parseHetTable decodes the decrypted, decompressed HET body.
func parseHetTable(body []byte) (*hetTable, error) {
	if len(body) < hetHeaderSize {
		return nil, fmt.Errorf("het table too small: %w", ErrInvalidFormat)
	}

	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(body[off:]) }
	entryCount := u32(4)
	totalCount := u32(8)
	hashBits := u32(12)
	indexSizeTotal := u32(16)
	indexTableSize := u32(28)

	if hashBits < 8 || hashBits > 64 {
		return nil, fmt.Errorf("het name hash width %d: %w", hashBits, ErrInvalidFormat)
	}
	if uint64(hetHeaderSize)+uint64(totalCount)+uint64(indexTableSize) > uint64(len(body)) {
		return nil, fmt.Errorf("het arrays exceed table size: %w", ErrInvalidFormat)
	}

	hashes := body[hetHeaderSize : hetHeaderSize+totalCount]
	indexData := body[hetHeaderSize+totalCount : hetHeaderSize+totalCount+indexTableSize]

	t := &hetTable{
		entryCount: entryCount,
		totalCount: totalCount,
		hashBits:   uint(hashBits),
		indexBits:  uint(indexSizeTotal),
		hashes:     append([]byte(nil), hashes...),
		indices:    bitArrayFrom(append([]byte(nil), indexData...)),
	}
	t.andMask, t.orMask = hetMasks(t.hashBits)
	return t, nil
}

// bodyBytes serializes the HET body (header plus arrays, unencrypted).
func (t *hetTable) bodyBytes() []byte {
	indexTableSize := len(t.indices.data)
	body := make([]byte, hetHeaderSize+len(t.hashes)+indexTableSize)

	binary.LittleEndian.PutUint32(body[0:], uint32(len(body)))
	binary.LittleEndian.PutUint32(body[4:], t.entryCount)
	binary.LittleEndian.PutUint32(body[8:], t.totalCount)
	binary.LittleEndian.PutUint32(body[12:], uint32(t.hashBits))
	binary.LittleEndian.PutUint32(body[16:], uint32(t.indexBits)) // total index width
	binary.LittleEndian.PutUint32(body[20:], 0)                   // extra index bits
	binary.LittleEndian.PutUint32(body[24:], uint32(t.indexBits))
	binary.LittleEndian.PutUint32(body[28:], uint32(indexTableSize))

	copy(body[hetHeaderSize:], t.hashes)
	copy(body[hetHeaderSize+len(t.hashes):], t.indices.data)
	return body
}
