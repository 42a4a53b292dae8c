// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
	"time"
)

// The (attributes) pseudo-file stores per-file integrity metadata as
// parallel arrays gated by a flags mask, one entry per block table entry.

const (
	attributesVersion = 100

	attrFlagCRC32    = 0x00000001
	attrFlagFiletime = 0x00000002
	attrFlagMD5      = 0x00000004
	attrFlagPatchBit = 0x00000008
)

// FileAttributes is the resolved per-file view handed to callers.
type FileAttributes struct {
	CRC32       uint32
	Filetime    uint64 // Windows FILETIME, 100ns ticks since 1601-01-01
	MD5         [16]byte
	HasCRC32    bool
	HasFiletime bool
	HasMD5      bool
}

// attributesFile holds the decoded arrays, resized to the block count.
type attributesFile struct {
	flags     uint32
	crc32s    []uint32
	filetimes []uint64
	md5s      [][16]byte
}

func newAttributesFile(flags uint32, blockCount int) *attributesFile {
	a := &attributesFile{flags: flags}
	a.resize(blockCount)
	return a
}

func (a *attributesFile) resize(blockCount int) {
	if a.flags&attrFlagCRC32 != 0 {
		a.crc32s = resizeSlice(a.crc32s, blockCount)
	}
	if a.flags&attrFlagFiletime != 0 {
		a.filetimes = resizeSlice(a.filetimes, blockCount)
	}
	if a.flags&attrFlagMD5 != 0 {
		a.md5s = resizeSlice(a.md5s, blockCount)
	}
}

func resizeSlice[T any](s []T, n int) []T {
	if len(s) >= n {
		return s[:n]
	}
	out := make([]T, n)
	copy(out, s)
	return out
}

// set records the checksums of a block's current uncompressed content.
func (a *attributesFile) set(blockIndex int, data []byte, filetime uint64) {
	if a.flags&attrFlagCRC32 != 0 && blockIndex < len(a.crc32s) {
		if data == nil {
			a.crc32s[blockIndex] = 0
		} else {
			a.crc32s[blockIndex] = fileCRC32(data)
		}
	}
	if a.flags&attrFlagMD5 != 0 && blockIndex < len(a.md5s) {
		if data == nil {
			a.md5s[blockIndex] = [16]byte{}
		} else {
			a.md5s[blockIndex] = fileMD5(data)
		}
	}
	if a.flags&attrFlagFiletime != 0 && blockIndex < len(a.filetimes) {
		a.filetimes[blockIndex] = filetime
	}
}

// stamp updates only the filetime of a block.
func (a *attributesFile) stamp(blockIndex int, filetime uint64) {
	if a.flags&attrFlagFiletime != 0 && blockIndex < len(a.filetimes) {
		a.filetimes[blockIndex] = filetime
	}
}

// view returns the resolved attributes for one block.
func (a *attributesFile) view(blockIndex int) FileAttributes {
	var fa FileAttributes
	if a.flags&attrFlagCRC32 != 0 && blockIndex < len(a.crc32s) {
		fa.CRC32 = a.crc32s[blockIndex]
		fa.HasCRC32 = true
	}
	if a.flags&attrFlagFiletime != 0 && blockIndex < len(a.filetimes) {
		fa.Filetime = a.filetimes[blockIndex]
		fa.HasFiletime = true
	}
	if a.flags&attrFlagMD5 != 0 && blockIndex < len(a.md5s) {
		fa.MD5 = a.md5s[blockIndex]
		fa.HasMD5 = true
	}
	return fa
}

// parseAttributes decodes (attributes) content. Archives disagree on
// whether arrays cover blockCount or blockCount-1 entries (the attributes
// file's own slot); both are accepted, short arrays are zero-extended.
func parseAttributes(data []byte, blockCount int) (*attributesFile, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("attributes too small: %w", ErrInvalidFormat)
	}

	version := binary.LittleEndian.Uint32(data[0:4])
	flags := binary.LittleEndian.Uint32(data[4:8])
	if version != attributesVersion {
		return nil, fmt.Errorf("attributes version %d: %w", version, ErrInvalidFormat)
	}

	// Figure out how many entries the arrays were sized for.
	entrySize := 0
	if flags&attrFlagCRC32 != 0 {
		entrySize += 4
	}
	if flags&attrFlagFiletime != 0 {
		entrySize += 8
	}
	if flags&attrFlagMD5 != 0 {
		entrySize += 16
	}

	count := blockCount
	if entrySize > 0 {
		avail := (len(data) - 8)
		if flags&attrFlagPatchBit != 0 {
			avail -= (blockCount + 7) / 8
		}
		stored := avail / entrySize
		if stored == blockCount-1 || stored < blockCount {
			count = stored
		}
	}
	if count < 0 {
		count = 0
	}

	a := &attributesFile{flags: flags}
	off := 8

	if flags&attrFlagCRC32 != 0 {
		if off+count*4 > len(data) {
			return nil, fmt.Errorf("attributes crc array truncated: %w", ErrInvalidFormat)
		}
		a.crc32s = make([]uint32, count)
		for i := 0; i < count; i++ {
			a.crc32s[i] = binary.LittleEndian.Uint32(data[off:])
			off += 4
		}
	}
	if flags&attrFlagFiletime != 0 {
		if off+count*8 > len(data) {
			return nil, fmt.Errorf("attributes filetime array truncated: %w", ErrInvalidFormat)
		}
		a.filetimes = make([]uint64, count)
		for i := 0; i < count; i++ {
			a.filetimes[i] = binary.LittleEndian.Uint64(data[off:])
			off += 8
		}
	}
	if flags&attrFlagMD5 != 0 {
		if off+count*16 > len(data) {
			return nil, fmt.Errorf("attributes md5 array truncated: %w", ErrInvalidFormat)
		}
		a.md5s = make([][16]byte, count)
		for i := 0; i < count; i++ {
			copy(a.md5s[i][:], data[off:off+16])
			off += 16
		}
	}

	a.resize(blockCount)
	return a, nil
}

// bytes serializes the attributes content for blockCount entries. Arrays
// always cover the full block table, including the attributes file's own
// (zeroed) slot.
func (a *attributesFile) bytes(blockCount int) []byte {
	a.resize(blockCount)

	size := 8
	if a.flags&attrFlagCRC32 != 0 {
		size += blockCount * 4
	}
	if a.flags&attrFlagFiletime != 0 {
		size += blockCount * 8
	}
	if a.flags&attrFlagMD5 != 0 {
		size += blockCount * 16
	}

	out := make([]byte, size)
	binary.LittleEndian.PutUint32(out[0:4], attributesVersion)
	binary.LittleEndian.PutUint32(out[4:8], a.flags)

	off := 8
	if a.flags&attrFlagCRC32 != 0 {
		for i := 0; i < blockCount; i++ {
			binary.LittleEndian.PutUint32(out[off:], a.crc32s[i])
			off += 4
		}
	}
	if a.flags&attrFlagFiletime != 0 {
		for i := 0; i < blockCount; i++ {
			binary.LittleEndian.PutUint64(out[off:], a.filetimes[i])
			off += 8
		}
	}
	if a.flags&attrFlagMD5 != 0 {
		for i := 0; i < blockCount; i++ {
			copy(out[off:off+16], a.md5s[i][:])
			off += 16
		}
	}
	return out
}

// currentFiletime returns the current time as a Windows FILETIME.
func currentFiletime() uint64 {
	const epochDelta = 116444736000000000 // 1601-01-01 to 1970-01-01 in 100ns ticks
	return uint64(time.Now().UnixNano()/100) + epochDelta
}
