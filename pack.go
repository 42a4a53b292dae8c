// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
)

// FileOptions control how one file is packed into the archive. The zero
// value stores the file unencrypted with zlib compression, split into
// sectors when larger than one sector.
type FileOptions struct {
	// Compression selects the sector codec. CompressionNone stores raw.
	Compression Compression
	// Encrypt enables the stream cipher keyed by the file name.
	Encrypt bool
	// FixKey salts the encryption key with file position and size.
	// Implies Encrypt.
	FixKey bool
	// SingleUnit forces one-block storage regardless of size.
	SingleUnit bool
	// SectorCRC appends an adler32 checksum table for sectored files.
	SectorCRC bool
	// Locale tags the hash table entry. Zero is the neutral locale.
	Locale uint16
	// ReplaceExisting lets MutableArchive.AddFile overwrite an entry of
	// the same name and locale instead of returning ErrFileExists. The
	// builder ignores it.
	ReplaceExisting bool
}

// DefaultFileOptions are the options the builder applies when none are
// given.
func DefaultFileOptions() FileOptions {
	return FileOptions{Compression: CompressionZlib}
}

// packedFile is the on-disk image of one file plus its block metadata.
type packedFile struct {
	data  []byte
	flags uint32
}

// packFileData produces the exact bytes the archive stores for data,
// mirroring the read path's key derivation and sector layout so that what
// the builder writes the reader recovers.
//
// blockPos is the archive-relative position the data will land at; it
// participates in fix-key encryption and must be final before packing.
func packFileData(name string, data []byte, blockPos uint64, sectorSize uint32, opts FileOptions) (packedFile, error) {
	flags := uint32(fileExists)
	if opts.FixKey {
		opts.Encrypt = true
		flags |= fileFixKey
	}
	if opts.Encrypt {
		flags |= fileEncrypted
	}

	singleUnit := opts.SingleUnit || uint32(len(data)) <= sectorSize
	if singleUnit {
		flags |= fileSingleUnit
		return packSingleUnit(name, data, blockPos, flags, opts)
	}
	return packSectored(name, data, blockPos, sectorSize, flags, opts)
}

func packSingleUnit(name string, data []byte, blockPos uint64, flags uint32, opts FileOptions) (packedFile, error) {
	out := data
	if opts.Compression != CompressionNone {
		compressed, err := compress(data, opts.Compression)
		if err != nil {
			return packedFile{}, err
		}
		// Keep compression only when it shrinks the data; the method
		// prefix convention breaks down otherwise.
		if len(compressed) < len(data) {
			out = compressed
			flags |= fileCompress
		}
	}

	stored := append([]byte(nil), out...)
	if opts.Encrypt {
		key := fileKey(name, blockPos, uint32(len(data)), flags)
		encryptBytes(stored, key)
	}

	return packedFile{data: stored, flags: flags}, nil
}

func packSectored(name string, data []byte, blockPos uint64, sectorSize uint32, flags uint32, opts FileOptions) (packedFile, error) {
	sectorCount := (uint32(len(data)) + sectorSize - 1) / sectorSize
	compressing := opts.Compression != CompressionNone

	sectors := make([][]byte, 0, sectorCount)
	anyCompressed := false
	for i := uint32(0); i < sectorCount; i++ {
		start := i * sectorSize
		end := start + sectorSize
		if end > uint32(len(data)) {
			end = uint32(len(data))
		}
		raw := data[start:end]

		stored := raw
		if compressing {
			compressed, err := compress(raw, opts.Compression)
			if err != nil {
				return packedFile{}, err
			}
			if len(compressed) < len(raw) {
				stored = compressed
				anyCompressed = true
			}
		}
		sectors = append(sectors, append([]byte(nil), stored...))
	}

	withCRC := opts.SectorCRC

	if anyCompressed {
		flags |= fileCompress
	}
	if withCRC {
		flags |= fileSectorCRC
	}

	// The reader infers offset-table presence from the compressed and
	// sector-CRC flags, so raw sectored storage (encrypted or not) is a
	// plain concatenation of fixed-size sectors.
	if !anyCompressed && !withCRC {
		out := make([]byte, 0, len(data))
		for _, s := range sectors {
			out = append(out, s...)
		}
		if opts.Encrypt {
			key := fileKey(name, blockPos, uint32(len(data)), flags)
			off := uint32(0)
			for i, s := range sectors {
				encryptBytes(out[off:off+uint32(len(s))], key+uint32(i))
				off += uint32(len(s))
			}
		}
		return packedFile{data: out, flags: flags}, nil
	}

	// Sector checksums cover the stored (pre-encryption) sector bytes. The
	// checksum table itself rides as one extra sector.
	var crcSector []byte
	if withCRC {
		crcSector = make([]byte, 4*len(sectors))
		for i, s := range sectors {
			binary.LittleEndian.PutUint32(crcSector[i*4:], adler32(s))
		}
		sectors = append(sectors, crcSector)
	}

	offsetCount := len(sectors) + 1
	tableBytes := uint32(offsetCount * 4)

	offsets := make([]uint32, offsetCount)
	pos := tableBytes
	for i, s := range sectors {
		offsets[i] = pos
		pos += uint32(len(s))
	}
	offsets[len(sectors)] = pos

	out := make([]byte, tableBytes, pos)
	for i, v := range offsets {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	for _, s := range sectors {
		out = append(out, s...)
	}

	if opts.Encrypt {
		key := fileKey(name, blockPos, uint32(len(data)), flags)
		encryptBytes(out[:tableBytes], key-1)
		off := tableBytes
		for i, s := range sectors {
			encryptBytes(out[off:off+uint32(len(s))], key+uint32(i))
			off += uint32(len(s))
		}
	}

	return packedFile{data: out, flags: flags}, nil
}

// alignUp rounds n up to the next multiple of align.
func alignUp(n uint64, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
