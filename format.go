// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"io"
)

// MPQ format constants
const (
	// Magic signatures "MPQ\x1A" and "MPQ\x1B" in little-endian
	mpqMagic      = 0x1A51504D
	userDataMagic = 0x1B51504D

	// Extended table signatures "HET\x1A" and "BET\x1A"
	hetMagic = 0x1A544548
	betMagic = 0x1A544542

	// Header sizes per format version
	headerSizeV1 = 0x20 // 32 bytes
	headerSizeV2 = 0x2C // 44 bytes
	headerSizeV3 = 0x44 // 68 bytes
	headerSizeV4 = 0xD0 // 208 bytes

	// The V4 header MD5 covers everything before the digest itself.
	headerMD5Span = 0xC0

	// Block table entry flags
	fileImplode      = 0x00000100 // Imploded (PKWARE compression, no method prefix)
	fileCompress     = 0x00000200 // Compressed (multi-algorithm, method prefix byte)
	fileEncrypted    = 0x00010000 // Encrypted
	fileFixKey       = 0x00020000 // Key adjusted by block offset
	filePatchFile    = 0x00100000 // Patch file
	fileSingleUnit   = 0x01000000 // Single unit (not split into sectors)
	fileDeleteMarker = 0x02000000 // File is a deletion marker
	fileSectorCRC    = 0x04000000 // Sector checksum table present
	fileExists       = 0x80000000 // File exists

	// Hash table entry constants
	hashTableEmpty   = 0xFFFFFFFF
	hashTableDeleted = 0xFFFFFFFE

	// Locale
	localeNeutral = 0x0000

	// Default sector size (4096 bytes = 2^12, sector = 512 << shift)
	defaultSectorShift = 3
	defaultSectorSize  = 512 << defaultSectorShift

	// Headers are found only at 512-byte boundaries.
	headerScanAlign = 0x200

	// New file data written by MutableArchive is 512-byte aligned.
	dataAlign = 0x200

	// Reserved pseudo-file names stored inside the archive.
	nameListfile      = "(listfile)"
	nameAttributes    = "(attributes)"
	nameSignature     = "(signature)"
	namePatchMetadata = "(patch_metadata)"
)

// Version selects the on-disk MPQ header generation.
type Version uint16

const (
	// V1 is the original format (archives up to 4GB).
	V1 Version = 0
	// V2 adds 64-bit table offsets and the hi-block table.
	V2 Version = 1
	// V3 adds the 64-bit archive size and the HET/BET extended tables.
	V3 Version = 2
	// V4 adds explicit compressed table sizes and MD5 integrity digests.
	V4 Version = 3
)

// HeaderSize returns the fixed header size for the version.
func (v Version) HeaderSize() uint32 {
	switch v {
	case V1:
		return headerSizeV1
	case V2:
		return headerSizeV2
	case V3:
		return headerSizeV3
	default:
		return headerSizeV4
	}
}

// headerV1 is the original 32-byte MPQ header.
type headerV1 struct {
	Magic           uint32
	HeaderSize      uint32
	ArchiveSize     uint32 // Deprecated in V2+
	FormatVersion   uint16
	SectorSizeShift uint16
	HashTablePos    uint32
	BlockTablePos   uint32
	HashTableSize   uint32
	BlockTableSize  uint32
}

// headerV2 extends V1 with 64-bit offset support (12 bytes).
type headerV2 struct {
	HiBlockTablePos64 uint64
	HashTablePosHi    uint16
	BlockTablePosHi   uint16
}

// headerV3 extends V2 with the 64-bit archive size and the extended table
// positions (24 bytes).
type headerV3 struct {
	ArchiveSize64 uint64
	BetTablePos64 uint64
	HetTablePos64 uint64
}

// headerV4 extends V3 with compressed table sizes and MD5 digests
// (140 bytes).
type headerV4 struct {
	HashTableSize64    uint64
	BlockTableSize64   uint64
	HiBlockTableSize64 uint64
	HetTableSize64     uint64
	BetTableSize64     uint64
	RawChunkSize       uint32
	MD5BlockTable      [16]byte
	MD5HashTable       [16]byte
	MD5HiBlockTable    [16]byte
	MD5BetTable        [16]byte
	MD5HetTable        [16]byte
	MD5Header          [16]byte
}

// Header is the full MPQ archive header. Fields beyond the declared format
// version are zero.
type Header struct {
	headerV1
	headerV2
	headerV3
	headerV4
}

// The read-only accessors take value receivers so they can be called on
// the header copy Archive.Header returns.

// Version returns the header's format version.
func (h Header) Version() Version {
	return Version(h.FormatVersion)
}

// SectorSize returns the archive sector size in bytes.
func (h Header) SectorSize() uint32 {
	return 512 << h.SectorSizeShift
}

// HashTablePos64 returns the full 64-bit hash table offset.
func (h Header) HashTablePos64() uint64 {
	if h.FormatVersion >= uint16(V2) {
		return uint64(h.HashTablePos) | uint64(h.HashTablePosHi)<<32
	}
	return uint64(h.HashTablePos)
}

// BlockTablePos64 returns the full 64-bit block table offset.
func (h Header) BlockTablePos64() uint64 {
	if h.FormatVersion >= uint16(V2) {
		return uint64(h.BlockTablePos) | uint64(h.BlockTablePosHi)<<32
	}
	return uint64(h.BlockTablePos)
}

func (h *Header) setHashTablePos64(pos uint64) {
	h.HashTablePos = uint32(pos)
	h.HashTablePosHi = uint16(pos >> 32)
}

func (h *Header) setBlockTablePos64(pos uint64) {
	h.BlockTablePos = uint32(pos)
	h.BlockTablePosHi = uint16(pos >> 32)
}

// UserData is the optional preamble in front of the real header, used by
// shell formats that wrap an archive (StarCraft II maps and similar).
type UserData struct {
	// DataSize is the declared byte size of the user data block.
	DataSize uint32
	// HeaderOffset is the archive header position relative to the block start.
	HeaderOffset uint32
	// Data holds the raw user data bytes up to DataSize.
	Data []byte
}

// readHeaderAt parses a full header at the current position of r. Fields
// past the declared version stay zero.
func readHeaderAt(r io.Reader) (*Header, error) {
	h := &Header{}
	if err := binary.Read(r, binary.LittleEndian, &h.headerV1); err != nil {
		return nil, err
	}
	if h.FormatVersion >= uint16(V2) && h.HeaderSize >= headerSizeV2 {
		if err := binary.Read(r, binary.LittleEndian, &h.headerV2); err != nil {
			return nil, err
		}
	}
	if h.FormatVersion >= uint16(V3) && h.HeaderSize >= headerSizeV3 {
		if err := binary.Read(r, binary.LittleEndian, &h.headerV3); err != nil {
			return nil, err
		}
	}
	if h.FormatVersion >= uint16(V4) && h.HeaderSize >= headerSizeV4 {
		if err := binary.Read(r, binary.LittleEndian, &h.headerV4); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// writeHeader serializes the header for its declared version, emitting the
// full fixed size with absent optional fields zero-filled.
func writeHeader(w io.Writer, h *Header) error {
	if err := binary.Write(w, binary.LittleEndian, &h.headerV1); err != nil {
		return err
	}
	if h.FormatVersion >= uint16(V2) {
		if err := binary.Write(w, binary.LittleEndian, &h.headerV2); err != nil {
			return err
		}
	}
	if h.FormatVersion >= uint16(V3) {
		if err := binary.Write(w, binary.LittleEndian, &h.headerV3); err != nil {
			return err
		}
	}
	if h.FormatVersion >= uint16(V4) {
		if err := binary.Write(w, binary.LittleEndian, &h.headerV4); err != nil {
			return err
		}
	}
	return nil
}

// headerBytes serializes the header into a byte slice.
func headerBytes(h *Header) []byte {
	var buf writerBuffer
	_ = writeHeader(&buf, h)
	return buf.data
}

// writerBuffer is a minimal growing io.Writer over a byte slice.
type writerBuffer struct {
	data []byte
}

func (b *writerBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// findHeader scans the stream for an MPQ header, honoring an optional user
// data preamble. It returns the archive byte offset (where the real header
// starts), the user data block if present, and the parsed header.
func findHeader(r io.ReadSeeker) (uint64, *UserData, *Header, error) {
	fileSize, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, nil, nil, err
	}

	var userData *UserData

	for offset := int64(0); offset < fileSize; offset += headerScanAlign {
		if _, err := r.Seek(offset, io.SeekStart); err != nil {
			return 0, nil, nil, err
		}

		var magic uint32
		if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
			break
		}

		switch magic {
		case mpqMagic:
			if _, err := r.Seek(offset, io.SeekStart); err != nil {
				return 0, nil, nil, err
			}
			h, err := readHeaderAt(r)
			if err != nil {
				return 0, nil, nil, &ArchiveError{Op: "read header", Err: err}
			}
			if !plausibleHeader(h) {
				// Stray signature bytes inside foreign data; keep scanning.
				continue
			}
			return uint64(offset), userData, h, nil

		case userDataMagic:
			// The user data block declares where the real header lives.
			var ud struct {
				UserDataSize   uint32
				HeaderOffset   uint32
				UserDataHeader uint32
			}
			if err := binary.Read(r, binary.LittleEndian, &ud); err != nil {
				continue
			}
			headerPos := offset + int64(ud.HeaderOffset)
			if headerPos <= offset || headerPos >= fileSize {
				continue
			}

			data := make([]byte, ud.UserDataSize)
			if _, err := r.Seek(offset+16, io.SeekStart); err == nil {
				if n, _ := io.ReadFull(r, data); n < len(data) {
					data = data[:n]
				}
			}

			if _, err := r.Seek(headerPos, io.SeekStart); err != nil {
				return 0, nil, nil, err
			}
			var hm uint32
			if err := binary.Read(r, binary.LittleEndian, &hm); err != nil || hm != mpqMagic {
				continue
			}
			if _, err := r.Seek(headerPos, io.SeekStart); err != nil {
				return 0, nil, nil, err
			}
			h, err := readHeaderAt(r)
			if err != nil {
				return 0, nil, nil, &ArchiveError{Op: "read header", Err: err}
			}
			if !plausibleHeader(h) {
				continue
			}
			userData = &UserData{
				DataSize:     ud.UserDataSize,
				HeaderOffset: ud.HeaderOffset,
				Data:         data,
			}
			return uint64(headerPos), userData, h, nil
		}
	}

	return 0, nil, nil, &ArchiveError{Op: "find header", Err: ErrInvalidFormat}
}

// plausibleHeader rejects signature bytes that are not followed by a header
// a loader could use. Real-world archives violate plenty of invariants, so
// only the declared size / version relationship is checked.
func plausibleHeader(h *Header) bool {
	if h.Magic != mpqMagic {
		return false
	}
	if h.FormatVersion > uint16(V4) {
		return false
	}
	return h.HeaderSize >= headerSizeV1
}

// readUint32Array reads an array of uint32 values
func readUint32Array(r io.Reader, data []uint32) error {
	return binary.Read(r, binary.LittleEndian, data)
}

// readUint16Array reads an array of uint16 values
func readUint16Array(r io.Reader, data []uint16) error {
	return binary.Read(r, binary.LittleEndian, data)
}

// writeUint32Array writes an array of uint32 values
func writeUint32Array(w io.Writer, data []uint32) error {
	return binary.Write(w, binary.LittleEndian, data)
}

// writeUint16Array writes an array of uint16 values
func writeUint16Array(w io.Writer, data []uint16) error {
	return binary.Write(w, binary.LittleEndian, data)
}

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}
