// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"os"
)

// MutableArchive edits an existing archive in place. New file data is
// appended past the current data region; the tables are rewritten on
// Flush and the header patched. Removal only releases table entries, so
// the freed bytes stay in the file until Compact.
type MutableArchive struct {
	a  *Archive
	rw *os.File

	// writePos is the archive-relative append cursor. It starts at the
	// end of the existing file data, which means appends consume the old
	// table region; Flush writes fresh tables past all data.
	writePos uint64

	modified map[uint32]struct{}
	dirty    bool
}

// OpenMutable opens path for editing. The archive must carry classic
// hash and block tables; extended-table-only archives cannot be edited
// incrementally.
func OpenMutable(path string) (*MutableArchive, error) {
	a, err := Open(path)
	if err != nil {
		return nil, err
	}
	if a.hashTable == nil || a.blockTable == nil {
		a.Close()
		return nil, &ArchiveError{Op: "open mutable", Path: path,
			Err: fmt.Errorf("archive has no classic tables: %w", ErrOperationNotSupported)}
	}

	rw, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		a.Close()
		return nil, &ArchiveError{Op: "open mutable", Path: path, Err: err}
	}

	m := &MutableArchive{
		a:        a,
		rw:       rw,
		modified: make(map[uint32]struct{}),
	}
	m.writePos = alignUp(m.endOfData(), dataAlign)
	return m, nil
}

// Archive returns the underlying read view. Unflushed edits are visible
// through it.
func (m *MutableArchive) Archive() *Archive { return m.a }

func (m *MutableArchive) endOfData() uint64 {
	end := uint64(m.a.header.HeaderSize)
	if e := m.a.blockTable.endOfData(); e > end {
		end = e
	}
	return end
}

// AddFile stores data under name. An existing entry of the same name and
// locale is an error unless opts.ReplaceExisting is set.
func (m *MutableArchive) AddFile(name string, data []byte, opts ...FileOptions) error {
	if err := m.addFile(name, data, opts...); err != nil {
		return &ArchiveError{Op: "add", Path: name, Err: err}
	}
	return nil
}

func (m *MutableArchive) addFile(name string, data []byte, opts ...FileOptions) error {
	if name == "" {
		return ErrInvalidParameter
	}
	if isReservedName(name) {
		return fmt.Errorf("%s is maintained automatically: %w", name, ErrInvalidParameter)
	}

	opt := DefaultFileOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	// A neutral entry found under another locale's lookup is not a
	// collision; the new locale variant becomes a fresh entry.
	if idx, ok := m.a.hashTable.find(name, opt.Locale); ok && m.a.hashTable.entries[idx].Locale == opt.Locale {
		if !opt.ReplaceExisting {
			return ErrFileExists
		}
		if err := m.removeAt(idx); err != nil {
			return err
		}
	}

	return m.appendFile(name, data, opt)
}

// appendFile packs data at the append cursor and registers it in the
// in-memory tables.
func (m *MutableArchive) appendFile(name string, data []byte, opt FileOptions) error {
	packed, err := packFileData(name, data, m.writePos, m.a.sectorSize, opt)
	if err != nil {
		return err
	}

	blockIndex := m.freeBlockIndex()
	if _, err := m.a.hashTable.insert(name, opt.Locale, blockIndex); err != nil {
		return err
	}

	entry := blockEntry{
		CompressedSize: uint32(len(packed.data)),
		FileSize:       uint32(len(data)),
		Flags:          packed.flags,
	}
	entry.setPos64(m.writePos)
	if int(blockIndex) == len(m.a.blockTable.entries) {
		m.a.blockTable.entries = append(m.a.blockTable.entries, entry)
	} else {
		m.a.blockTable.entries[blockIndex] = entry
	}

	if _, err := m.rw.WriteAt(packed.data, int64(m.a.archiveOffset+m.writePos)); err != nil {
		return err
	}
	m.writePos = alignUp(m.writePos+uint64(len(packed.data)), dataAlign)

	m.a.names[blockIndex] = name
	if m.a.attributes != nil {
		m.a.attributes.resize(len(m.a.blockTable.entries))
		m.a.attributes.set(int(blockIndex), data, currentFiletime())
	}
	m.modified[blockIndex] = struct{}{}
	m.dirty = true
	return nil
}

// freeBlockIndex returns a released block slot, or the next fresh index.
func (m *MutableArchive) freeBlockIndex() uint32 {
	for i := range m.a.blockTable.entries {
		e := &m.a.blockTable.entries[i]
		if !e.exists() && e.Flags == 0 && e.CompressedSize == 0 {
			return uint32(i)
		}
	}
	return uint32(len(m.a.blockTable.entries))
}

// RemoveFile releases name's table entries. The file bytes remain in the
// archive until Compact.
func (m *MutableArchive) RemoveFile(name string) error {
	idx, ok := m.a.hashTable.find(name, localeNeutral)
	if !ok {
		return &ArchiveError{Op: "remove", Path: name, Err: ErrFileNotFound}
	}
	if err := m.removeAt(idx); err != nil {
		return &ArchiveError{Op: "remove", Path: name, Err: err}
	}
	return nil
}

func (m *MutableArchive) removeAt(hashIdx int) error {
	blockIndex := m.a.hashTable.entries[hashIdx].BlockIndex
	m.a.hashTable.remove(hashIdx)
	if blockIndex < uint32(len(m.a.blockTable.entries)) {
		m.a.blockTable.entries[blockIndex] = blockEntry{}
		if m.a.attributes != nil {
			m.a.attributes.set(int(blockIndex), nil, 0)
		}
	}
	delete(m.a.names, blockIndex)
	m.modified[blockIndex] = struct{}{}
	m.dirty = true
	return nil
}

// RenameFile changes oldName to newName. Encrypted data is keyed by its
// name, so encrypted entries are re-read and re-packed under the new
// name; plain entries only move in the hash table.
func (m *MutableArchive) RenameFile(oldName, newName string) error {
	if err := m.renameFile(oldName, newName); err != nil {
		return &ArchiveError{Op: "rename", Path: oldName, Err: err}
	}
	return nil
}

func (m *MutableArchive) renameFile(oldName, newName string) error {
	if newName == "" || isReservedName(newName) || isReservedName(oldName) {
		return ErrInvalidParameter
	}
	if _, ok := m.a.hashTable.find(newName, localeNeutral); ok {
		return ErrFileExists
	}
	idx, ok := m.a.hashTable.find(oldName, localeNeutral)
	if !ok {
		return ErrFileNotFound
	}

	entry := m.a.hashTable.entries[idx]
	blockIndex := entry.BlockIndex
	block := &m.a.blockTable.entries[blockIndex]

	if block.Flags&fileEncrypted != 0 {
		info := m.a.fileInfoFor(oldName, blockIndex, block, entry.Locale)
		data, err := m.a.readInfo(info)
		if err != nil {
			return err
		}
		opt := optionsFromFlags(block.Flags, entry.Locale)
		if err := m.removeAt(idx); err != nil {
			return err
		}
		return m.appendFile(newName, data, opt)
	}

	m.a.hashTable.remove(idx)
	if _, err := m.a.hashTable.insert(newName, entry.Locale, blockIndex); err != nil {
		return err
	}
	m.a.names[blockIndex] = newName
	m.modified[blockIndex] = struct{}{}
	m.dirty = true
	return nil
}

// optionsFromFlags reconstructs packing options from block flags. The
// original codec is not recorded per file, so compressed entries repack
// with the default codec.
func optionsFromFlags(flags uint32, locale uint16) FileOptions {
	opt := FileOptions{Locale: locale}
	if flags&(fileCompress|fileImplode) != 0 {
		opt.Compression = CompressionZlib
	}
	opt.Encrypt = flags&fileEncrypted != 0
	opt.FixKey = flags&fileFixKey != 0
	opt.SingleUnit = flags&fileSingleUnit != 0
	opt.SectorCRC = flags&fileSectorCRC != 0
	return opt
}

// Flush regenerates the internal files, rewrites the tables past the data
// region and patches the header.
func (m *MutableArchive) Flush() error {
	if !m.dirty {
		return nil
	}
	if err := m.flush(); err != nil {
		return &ArchiveError{Op: "flush", Path: m.a.path, Err: err}
	}
	m.dirty = false
	m.modified = make(map[uint32]struct{})
	return nil
}

func (m *MutableArchive) flush() error {
	if err := m.updateInternalFiles(); err != nil {
		return err
	}

	a := m.a
	hdr := a.header
	pos := m.writePos

	writeChunk := func(data []byte) error {
		if _, err := m.rw.WriteAt(data, int64(a.archiveOffset+pos)); err != nil {
			return err
		}
		pos += uint64(len(data))
		return nil
	}

	compressTables := hdr.Version() >= V4 && hdr.HashTableSize64 != 0 &&
		hdr.HashTableSize64 < uint64(a.hashTable.size())*16

	if hdr.Version() >= V3 {
		// BET records stay parallel to the classic block table so a BET
		// file index is a block index. HET gets entries only for the live
		// blocks whose names are known; anything else remains reachable
		// through the classic tables.
		blocks := a.blockTable.entries
		names := make([]string, len(blocks))
		for bi, name := range a.names {
			if int(bi) < len(names) {
				names[bi] = name
			}
		}
		het := newHetTable(uint32(len(blocks)))
		bet := buildBetTable(names, blocks, het.hashBits)
		for bi, name := range names {
			if name == "" || !blocks[bi].exists() {
				continue
			}
			if err := het.insert(name, uint32(bi)); err != nil {
				return err
			}
		}

		hetData := writeExtTable(het.bodyBytes(), hetMagic, keyHashTable, compressTables)
		hdr.HetTablePos64 = pos
		hdr.HetTableSize64 = uint64(len(hetData))
		if err := writeChunk(hetData); err != nil {
			return err
		}
		hdr.MD5HetTable = fileMD5(hetData)

		betData := writeExtTable(bet.bodyBytes(), betMagic, keyBlockTable, compressTables)
		hdr.BetTablePos64 = pos
		hdr.BetTableSize64 = uint64(len(betData))
		if err := writeChunk(betData); err != nil {
			return err
		}
		hdr.MD5BetTable = fileMD5(betData)

		a.het, a.bet = het, bet
	}

	hashData := storedTableBytes(a.hashTable.plainBytes(), keyHashTable, compressTables)
	hdr.setHashTablePos64(pos)
	hdr.HashTableSize = a.hashTable.size()
	hdr.HashTableSize64 = uint64(len(hashData))
	if err := writeChunk(hashData); err != nil {
		return err
	}

	blockData := storedTableBytes(a.blockTable.plainBytes(), keyBlockTable, compressTables)
	hdr.setBlockTablePos64(pos)
	hdr.BlockTableSize = uint32(len(a.blockTable.entries))
	hdr.BlockTableSize64 = uint64(len(blockData))
	if err := writeChunk(blockData); err != nil {
		return err
	}

	hdr.HiBlockTablePos64 = 0
	hdr.HiBlockTableSize64 = 0
	if hdr.Version() >= V2 && a.blockTable.needsHiTable() {
		hiData := a.blockTable.hiBytes()
		hdr.HiBlockTablePos64 = pos
		hdr.HiBlockTableSize64 = uint64(len(hiData))
		if err := writeChunk(hiData); err != nil {
			return err
		}
		if hdr.Version() >= V4 {
			hdr.MD5HiBlockTable = fileMD5(hiData)
		}
	}

	if hdr.Version() == V1 && pos > 0xFFFFFFFF {
		return fmt.Errorf("archive exceeds 4GB: %w", ErrInvalidParameter)
	}

	hdr.ArchiveSize = uint32(pos)
	if pos > 0xFFFFFFFF {
		hdr.ArchiveSize = 0
	}
	if hdr.Version() >= V3 {
		hdr.ArchiveSize64 = pos
	}
	if hdr.Version() >= V4 {
		hdr.MD5HashTable = fileMD5(hashData)
		hdr.MD5BlockTable = fileMD5(blockData)
		raw := headerBytes(hdr)
		hdr.MD5Header = fileMD5(raw[:headerMD5Span])
	}

	if _, err := m.rw.WriteAt(headerBytes(hdr), int64(a.archiveOffset)); err != nil {
		return err
	}
	if err := m.rw.Truncate(int64(a.archiveOffset + pos)); err != nil {
		return err
	}
	a.fileSize = int64(a.archiveOffset + pos)
	return m.rw.Sync()
}

// updateInternalFiles rewrites (listfile) and (attributes) when the
// archive carries them. Content that still fits reuses the entry's
// existing bytes on disk; otherwise the data moves to the append cursor.
func (m *MutableArchive) updateInternalFiles() error {
	a := m.a

	if _, ok := a.hashTable.find(nameListfile, localeNeutral); ok {
		all := make([]string, 0, len(a.names)+2)
		for _, n := range a.names {
			all = append(all, n)
		}
		all = append(all, nameListfile)
		if a.attributes != nil {
			all = append(all, nameAttributes)
		}
		if err := m.writeInternal(nameListfile, buildListfile(all)); err != nil {
			return err
		}
	}

	if a.attributes != nil {
		idx, ok := a.hashTable.find(nameAttributes, localeNeutral)
		if !ok {
			return nil
		}
		blockCount := len(a.blockTable.entries)
		a.attributes.resize(blockCount)
		// Everything touched this session shares the flush timestamp.
		now := currentFiletime()
		for bi := range m.modified {
			if int(bi) < blockCount && a.blockTable.entries[bi].exists() {
				a.attributes.stamp(int(bi), now)
			}
		}
		// Its own slot is zeroed before serializing; there is no fixed
		// point to a checksum over content containing that checksum.
		a.attributes.set(int(a.hashTable.entries[idx].BlockIndex), nil, 0)
		if err := m.writeInternal(nameAttributes, a.attributes.bytes(blockCount)); err != nil {
			return err
		}
	}
	return nil
}

func (m *MutableArchive) writeInternal(name string, data []byte) error {
	a := m.a
	idx, ok := a.hashTable.find(name, localeNeutral)
	if !ok {
		return m.appendFile(name, data, DefaultFileOptions())
	}
	blockIndex := a.hashTable.entries[idx].BlockIndex
	block := &a.blockTable.entries[blockIndex]

	packed, err := packFileData(name, data, block.pos64(), a.sectorSize, DefaultFileOptions())
	if err != nil {
		return err
	}
	if uint32(len(packed.data)) <= block.CompressedSize {
		if _, err := m.rw.WriteAt(packed.data, int64(a.archiveOffset+block.pos64())); err != nil {
			return err
		}
		block.CompressedSize = uint32(len(packed.data))
		block.FileSize = uint32(len(data))
		block.Flags = packed.flags
		return nil
	}

	if err := m.removeAt(idx); err != nil {
		return err
	}
	return m.appendFile(name, data, DefaultFileOptions())
}

// Compact rewrites the archive from its live entries, dropping the holes
// left by removals and replacements. Every live entry must have a known
// name, because file keys and table hashes derive from names.
func (m *MutableArchive) Compact() error {
	if err := m.compact(); err != nil {
		return &ArchiveError{Op: "compact", Path: m.a.path, Err: err}
	}
	return nil
}

func (m *MutableArchive) compact() error {
	if err := m.Flush(); err != nil {
		return err
	}
	a := m.a

	for i := range a.blockTable.entries {
		e := &a.blockTable.entries[i]
		if !e.exists() || e.Flags&fileDeleteMarker != 0 {
			continue
		}
		if _, ok := a.names[uint32(i)]; !ok {
			if n, ok2 := m.reservedNameFor(uint32(i)); ok2 {
				a.names[uint32(i)] = n
				continue
			}
			return fmt.Errorf("block %d has no known name: %w", i, ErrOperationNotSupported)
		}
	}

	b := NewArchiveBuilder().
		WithVersion(a.header.Version()).
		WithSectorSize(a.sectorSize).
		WithAttributes(a.attributes != nil)
	_, hasListfile := a.hashTable.find(nameListfile, localeNeutral)
	b.WithListfile(hasListfile)

	for i := range a.blockTable.entries {
		e := &a.blockTable.entries[i]
		if !e.exists() || e.Flags&fileDeleteMarker != 0 {
			continue
		}
		name := a.names[uint32(i)]
		if isReservedName(name) {
			continue // regenerated by the builder
		}
		hashIdx, ok := a.hashTable.find(name, localeNeutral)
		if !ok {
			return fmt.Errorf("entry %s not in hash table: %w", name, ErrInvalidFormat)
		}
		locale := a.hashTable.entries[hashIdx].Locale
		info := a.fileInfoFor(name, uint32(i), e, locale)
		data, err := a.readInfo(info)
		if err != nil {
			return err
		}
		b.AddFile(name, data, optionsFromFlags(e.Flags, locale))
	}

	// Build to a sibling path, swap, reopen.
	tmpPath := a.path + ".compact"
	if err := b.Build(tmpPath); err != nil {
		return err
	}

	path := a.path
	strict := a.strict
	m.rw.Close()
	a.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	reopened, err := OpenWithOptions(path, OpenOptions{Strict: strict})
	if err != nil {
		return err
	}
	rw, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		reopened.Close()
		return err
	}
	m.a = reopened
	m.rw = rw
	m.writePos = alignUp(m.endOfData(), dataAlign)
	m.dirty = false
	m.modified = make(map[uint32]struct{})
	return nil
}

// reservedNameFor resolves a nameless block by trying the reserved
// pseudo-file names against the hash table.
func (m *MutableArchive) reservedNameFor(blockIndex uint32) (string, bool) {
	for _, n := range []string{nameListfile, nameAttributes, nameSignature, namePatchMetadata} {
		if idx, ok := m.a.hashTable.find(n, localeNeutral); ok {
			if m.a.hashTable.entries[idx].BlockIndex == blockIndex {
				return n, true
			}
		}
	}
	return "", false
}

// Close flushes pending edits and releases both handles. A flush failure
// is logged and returned, but the handles are closed regardless.
func (m *MutableArchive) Close() error {
	if m.rw == nil {
		return nil
	}
	flushErr := m.Flush()
	if flushErr != nil {
		logger.Error("flush on close failed", "path", m.a.path, "error", flushErr)
	}
	closeErr := m.rw.Close()
	m.rw = nil
	m.a.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
