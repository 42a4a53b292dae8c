// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
	"io"
)

// File content recovery: the inverse of pack.go. The read path is lenient
// by default; a sector that fails to decompress becomes zero bytes with a
// warning instead of failing the whole read, because real-world archives
// are full of locally-damaged files that are otherwise usable.

// readFileContents reads and decodes one file's bytes given its resolved
// location. Warnings are appended to warn (may be nil in strict mode).
func readFileContents(r io.ReadSeeker, info *FileInfo, sectorSize uint32, strict bool, warn *[]Warning) ([]byte, error) {
	if info.Flags&filePatchFile != 0 {
		return nil, fmt.Errorf("read patch file %s: %w", info.Name, ErrOperationNotSupported)
	}

	if _, err := r.Seek(int64(info.FilePos), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to file data: %w", err)
	}
	raw := make([]byte, info.CompressedSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read file data: %w", err)
	}

	var key uint32
	if info.Flags&fileEncrypted != 0 {
		key = fileKey(info.Name, info.blockPos, info.FileSize, info.Flags)
	}

	if info.Flags&fileSingleUnit != 0 {
		return readSingleUnit(raw, info, key)
	}
	return readSectored(raw, info, key, sectorSize, strict, warn)
}

func readSingleUnit(raw []byte, info *FileInfo, key uint32) ([]byte, error) {
	if info.Flags&fileEncrypted != 0 {
		decryptBytes(raw, key)
	}

	// Equal sizes mean stored even when a compression flag is set; some
	// archives in the wild flag incompressible single units that way.
	if info.CompressedSize == info.FileSize {
		return raw, nil
	}

	switch {
	case info.Flags&fileCompress != 0:
		return decompress(raw, info.FileSize)
	case info.Flags&fileImplode != 0:
		return decompressImploded(raw, info.FileSize)
	default:
		return raw, nil
	}
}

func readSectored(raw []byte, info *FileInfo, key uint32, sectorSize uint32, strict bool, warn *[]Warning) ([]byte, error) {
	sectorCount := (info.FileSize + sectorSize - 1) / sectorSize
	compressed := info.Flags&(fileCompress|fileImplode) != 0
	hasCRC := info.Flags&fileSectorCRC != 0
	encrypted := info.Flags&fileEncrypted != 0

	if !compressed && !hasCRC {
		// Raw fixed-size sectors, no offset table.
		if encrypted {
			for i := uint32(0); i < sectorCount; i++ {
				start := i * sectorSize
				end := start + sectorSize
				if end > uint32(len(raw)) {
					end = uint32(len(raw))
				}
				decryptBytes(raw[start:end], key+i)
			}
		}
		if uint32(len(raw)) > info.FileSize {
			raw = raw[:info.FileSize]
		}
		return raw, nil
	}

	// The checksum table rides as one extra sector after the data.
	storedSectors := sectorCount
	if hasCRC {
		storedSectors++
	}
	offsetCount := storedSectors + 1
	tableBytes := offsetCount * 4

	if uint32(len(raw)) < tableBytes {
		return nil, fmt.Errorf("sector offset table truncated: %w", ErrInvalidFormat)
	}

	offsetData := append([]byte(nil), raw[:tableBytes]...)
	if encrypted {
		decryptBytes(offsetData, key-1)
	}
	offsets := make([]uint32, offsetCount)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(offsetData[i*4:])
	}

	sector := func(i uint32) ([]byte, error) {
		start, end := offsets[i], offsets[i+1]
		if start > uint32(len(raw)) || end > uint32(len(raw)) || end < start {
			return nil, fmt.Errorf("sector %d offsets %d..%d: %w", i, start, end, ErrInvalidFormat)
		}
		s := append([]byte(nil), raw[start:end]...)
		if encrypted {
			decryptBytes(s, key+i)
		}
		return s, nil
	}

	var checksums []uint32
	if hasCRC {
		crc, err := sector(sectorCount)
		if err == nil && len(crc) >= int(sectorCount)*4 {
			checksums = make([]uint32, sectorCount)
			for i := range checksums {
				checksums[i] = binary.LittleEndian.Uint32(crc[i*4:])
			}
		} else if strict {
			if err == nil {
				err = fmt.Errorf("sector checksum table short: %w", ErrInvalidFormat)
			}
			return nil, err
		} else {
			addWarning(warn, "read sectors", fmt.Sprintf("%s: unreadable sector checksum table", info.Name), err)
		}
	}

	result := make([]byte, 0, info.FileSize)
	for i := uint32(0); i < sectorCount; i++ {
		expected := sectorSize
		if i == sectorCount-1 {
			expected = info.FileSize - i*sectorSize
		}

		s, err := sector(i)
		if err != nil {
			return nil, err
		}

		if checksums != nil {
			if got := adler32(s); got != checksums[i] {
				cerr := &ChecksumError{Name: info.Name, Expected: checksums[i], Actual: got}
				if strict {
					return nil, cerr
				}
				addWarning(warn, "read sectors", fmt.Sprintf("%s: sector %d checksum", info.Name, i), cerr)
			}
		}

		// A stored sector is exactly its expected size; anything shorter
		// was compressed.
		if compressed && uint32(len(s)) < expected {
			var out []byte
			var derr error
			if info.Flags&fileCompress != 0 {
				out, derr = decompress(s, expected)
			} else {
				out, derr = decompressImploded(s, expected)
			}
			if derr != nil || uint32(len(out)) != expected {
				if derr == nil {
					derr = fmt.Errorf("sector decompressed to %d of %d bytes", len(out), expected)
				}
				if strict {
					return nil, fmt.Errorf("decompress sector %d of %s: %w", i, info.Name, derr)
				}
				logger.Warn("sector decompress failed, zero-filling",
					"file", info.Name, "sector", i, "error", derr)
				addWarning(warn, "read sectors", fmt.Sprintf("%s: sector %d zero-filled", info.Name, i), derr)
				out = make([]byte, expected)
			}
			result = append(result, out...)
		} else {
			if uint32(len(s)) > expected {
				s = s[:expected]
			}
			result = append(result, s...)
		}
	}

	return result, nil
}

func addWarning(warn *[]Warning, op, detail string, err error) {
	if warn == nil {
		return
	}
	*warn = append(*warn, Warning{Op: op, Detail: detail, Err: err})
}
