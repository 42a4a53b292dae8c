// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ArchiveBuilder assembles a new archive from scratch and writes it out in
// one pass. Configuration is fluent; errors latch and surface from Build.
//
//	err := mpq.NewArchiveBuilder().
//		WithVersion(mpq.V2).
//		AddFile("hello.txt", []byte("hello")).
//		Build("out.mpq")
type ArchiveBuilder struct {
	version        Version
	sectorShift    uint16
	listfile       bool
	attributes     bool
	compressTables bool

	entries []builderEntry
	err     error
}

type builderEntry struct {
	name string
	data []byte
	opts FileOptions
}

// NewArchiveBuilder returns a builder with defaults: version V1, 4KB
// sectors, a generated (listfile) and (attributes).
func NewArchiveBuilder() *ArchiveBuilder {
	return &ArchiveBuilder{
		version:     V1,
		sectorShift: defaultSectorShift,
		listfile:    true,
		attributes:  true,
	}
}

// WithVersion selects the on-disk header generation.
func (b *ArchiveBuilder) WithVersion(v Version) *ArchiveBuilder {
	if v > V4 {
		b.fail(fmt.Errorf("version %d: %w", v, ErrInvalidParameter))
		return b
	}
	b.version = v
	return b
}

// WithSectorSize sets the sector size, which must be 512 shifted by a
// power of two (512, 1024, ... 262144).
func (b *ArchiveBuilder) WithSectorSize(size uint32) *ArchiveBuilder {
	for shift := uint16(0); shift <= 9; shift++ {
		if uint32(512)<<shift == size {
			b.sectorShift = shift
			return b
		}
	}
	b.fail(fmt.Errorf("sector size %d: %w", size, ErrInvalidParameter))
	return b
}

// WithListfile controls whether a (listfile) is generated.
func (b *ArchiveBuilder) WithListfile(enabled bool) *ArchiveBuilder {
	b.listfile = enabled
	return b
}

// WithAttributes controls whether an (attributes) file with CRC32,
// filetime and MD5 entries is generated.
func (b *ArchiveBuilder) WithAttributes(enabled bool) *ArchiveBuilder {
	b.attributes = enabled
	return b
}

// WithCompressTables stores the classic and extended tables compressed.
// Only V4 headers can record the stored sizes, so this is ignored for
// earlier versions.
func (b *ArchiveBuilder) WithCompressTables(enabled bool) *ArchiveBuilder {
	b.compressTables = enabled
	return b
}

// AddFile schedules data to be stored under name. Without options the
// file is zlib-compressed and unencrypted.
func (b *ArchiveBuilder) AddFile(name string, data []byte, opts ...FileOptions) *ArchiveBuilder {
	if b.err != nil {
		return b
	}
	if name == "" {
		b.fail(fmt.Errorf("empty file name: %w", ErrInvalidParameter))
		return b
	}
	if isReservedName(name) {
		b.fail(fmt.Errorf("%s is generated by the builder: %w", name, ErrInvalidParameter))
		return b
	}

	opt := DefaultFileOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	for _, e := range b.entries {
		if normalizePath(e.name) == normalizePath(name) && e.opts.Locale == opt.Locale {
			b.fail(fmt.Errorf("add %s: %w", name, ErrFileExists))
			return b
		}
	}

	b.entries = append(b.entries, builderEntry{name: name, data: data, opts: opt})
	return b
}

// AddFileFromDisk schedules the contents of srcPath to be stored under
// name.
func (b *ArchiveBuilder) AddFileFromDisk(name, srcPath string, opts ...FileOptions) *ArchiveBuilder {
	if b.err != nil {
		return b
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		b.fail(fmt.Errorf("read %s: %w", srcPath, err))
		return b
	}
	return b.AddFile(name, data, opts...)
}

func (b *ArchiveBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build writes the archive to path. The output is assembled in a
// temporary file in the same directory and atomically renamed into place
// on success.
func (b *ArchiveBuilder) Build(path string) error {
	if b.err != nil {
		return &ArchiveError{Op: "build", Path: path, Err: b.err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return &ArchiveError{Op: "build", Path: path, Err: err}
	}
	tmpName := tmp.Name()

	if err := b.writeArchive(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &ArchiveError{Op: "build", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &ArchiveError{Op: "build", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &ArchiveError{Op: "build", Path: path, Err: err}
	}
	return nil
}

func (b *ArchiveBuilder) writeArchive(f *os.File) error {
	sectorSize := uint32(512) << b.sectorShift

	// The attributes file occupies a block of its own, written last so it
	// can describe every other block.
	blockCount := len(b.entries)
	if b.listfile {
		blockCount++
	}
	if b.attributes {
		blockCount++
	}

	hashSize := nextPowerOf2(uint32(blockCount) * 2)
	if hashSize < 16 {
		hashSize = 16
	}

	hdr := &Header{}
	hdr.Magic = mpqMagic
	hdr.FormatVersion = uint16(b.version)
	hdr.HeaderSize = b.version.HeaderSize()
	hdr.SectorSizeShift = b.sectorShift

	// Header placeholder; patched once the table positions are known.
	if _, err := f.Write(make([]byte, hdr.HeaderSize)); err != nil {
		return err
	}
	pos := uint64(hdr.HeaderSize)

	hashTab := newHashTable(hashSize)
	var blocks []blockEntry
	var names []string

	var attrs *attributesFile
	if b.attributes {
		attrs = newAttributesFile(attrFlagCRC32|attrFlagFiletime|attrFlagMD5, blockCount)
	}
	now := currentFiletime()

	writeOne := func(name string, data []byte, opts FileOptions) error {
		packed, err := packFileData(name, data, pos, sectorSize, opts)
		if err != nil {
			return fmt.Errorf("pack %s: %w", name, err)
		}
		if _, err := hashTab.insert(name, opts.Locale, uint32(len(blocks))); err != nil {
			return err
		}
		if attrs != nil && name != nameAttributes {
			attrs.set(len(blocks), data, now)
		}

		entry := blockEntry{
			CompressedSize: uint32(len(packed.data)),
			FileSize:       uint32(len(data)),
			Flags:          packed.flags,
		}
		entry.setPos64(pos)
		blocks = append(blocks, entry)
		names = append(names, name)

		if _, err := f.Write(packed.data); err != nil {
			return err
		}
		pos += uint64(len(packed.data))
		return nil
	}

	for _, e := range b.entries {
		if err := writeOne(e.name, e.data, e.opts); err != nil {
			return err
		}
	}

	internalOpts := DefaultFileOptions()
	if b.listfile {
		all := make([]string, 0, blockCount)
		for _, e := range b.entries {
			all = append(all, e.name)
		}
		all = append(all, nameListfile)
		if b.attributes {
			all = append(all, nameAttributes)
		}
		if err := writeOne(nameListfile, buildListfile(all), internalOpts); err != nil {
			return err
		}
	}
	if b.attributes {
		// Its own slot stays zeroed; there is no fixed point to computing
		// a file's checksum over content that contains that checksum.
		if err := writeOne(nameAttributes, attrs.bytes(blockCount), internalOpts); err != nil {
			return err
		}
	}

	blockTab := &blockTable{entries: blocks}
	compressTables := b.compressTables && b.version >= V4

	// HET and BET precede the classic tables when the version carries them.
	if b.version >= V3 {
		het := newHetTable(uint32(len(blocks)))
		for i, name := range names {
			if err := het.insert(name, uint32(i)); err != nil {
				return err
			}
		}
		bet := buildBetTable(names, blocks, het.hashBits)

		hetData := writeExtTable(het.bodyBytes(), hetMagic, keyHashTable, compressTables)
		betData := writeExtTable(bet.bodyBytes(), betMagic, keyBlockTable, compressTables)

		hdr.HetTablePos64 = pos
		hdr.HetTableSize64 = uint64(len(hetData))
		if _, err := f.Write(hetData); err != nil {
			return err
		}
		pos += uint64(len(hetData))

		hdr.BetTablePos64 = pos
		hdr.BetTableSize64 = uint64(len(betData))
		if _, err := f.Write(betData); err != nil {
			return err
		}
		pos += uint64(len(betData))

		hdr.MD5HetTable = fileMD5(hetData)
		hdr.MD5BetTable = fileMD5(betData)
	}

	hashData := storedTableBytes(hashTab.plainBytes(), keyHashTable, compressTables)
	blockData := storedTableBytes(blockTab.plainBytes(), keyBlockTable, compressTables)

	hdr.setHashTablePos64(pos)
	hdr.HashTableSize = hashSize
	hdr.HashTableSize64 = uint64(len(hashData))
	if _, err := f.Write(hashData); err != nil {
		return err
	}
	pos += uint64(len(hashData))

	hdr.setBlockTablePos64(pos)
	hdr.BlockTableSize = uint32(len(blocks))
	hdr.BlockTableSize64 = uint64(len(blockData))
	if _, err := f.Write(blockData); err != nil {
		return err
	}
	pos += uint64(len(blockData))

	if b.version >= V2 && blockTab.needsHiTable() {
		hiData := blockTab.hiBytes()
		hdr.HiBlockTablePos64 = pos
		hdr.HiBlockTableSize64 = uint64(len(hiData))
		if _, err := f.Write(hiData); err != nil {
			return err
		}
		pos += uint64(len(hiData))
	}

	if b.version == V1 && pos > 0xFFFFFFFF {
		return fmt.Errorf("archive exceeds 4GB, needs version 2 or later: %w", ErrInvalidParameter)
	}

	hdr.ArchiveSize = uint32(pos)
	if pos > 0xFFFFFFFF {
		hdr.ArchiveSize = 0
	}
	if b.version >= V3 {
		hdr.ArchiveSize64 = pos
	}
	if b.version >= V4 {
		hdr.RawChunkSize = 0x4000
		hdr.MD5HashTable = fileMD5(hashData)
		hdr.MD5BlockTable = fileMD5(blockData)
		if hdr.HiBlockTablePos64 != 0 {
			hdr.MD5HiBlockTable = fileMD5(blockTab.hiBytes())
		}
		raw := headerBytes(hdr)
		hdr.MD5Header = fileMD5(raw[:headerMD5Span])
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return writeHeader(f, hdr)
}

// storedTableBytes produces the on-disk form of a classic table:
// optionally compressed (kept when smaller), then encrypted.
func storedTableBytes(plain []byte, key uint32, compressTable bool) []byte {
	stored := plain
	if compressTable && len(plain) > 0 {
		if c, err := compress(plain, CompressionZlib); err == nil && len(c) < len(plain) {
			stored = c
		}
	}
	out := append([]byte(nil), stored...)
	encryptBytes(out, key)
	return out
}
