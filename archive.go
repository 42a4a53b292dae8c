// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Archive is a read-only view of an MPQ archive on disk.
//
// Open is lenient: malformed optional structures (extended tables,
// attributes, damaged sectors) degrade into entries in Warnings rather
// than failing the open. OpenOptions.Strict turns every such condition
// into a hard error.
type Archive struct {
	file          *os.File
	path          string
	archiveOffset uint64
	fileSize      int64

	header   *Header
	userData *UserData

	hashTable  *hashTable
	blockTable *blockTable
	het        *hetTable
	bet        *betTable

	attributes *attributesFile
	names      map[uint32]string

	sectorSize uint32
	strict     bool
	warnings   []Warning
}

// OpenOptions controls archive opening behavior.
type OpenOptions struct {
	// Strict promotes recoverable defects (truncated tables, bad
	// checksums, undecodable sectors) to errors.
	Strict bool
}

// FileInfo describes one file entry in an archive. FilePos is absolute
// within the containing disk file.
type FileInfo struct {
	Name           string
	BlockIndex     uint32
	FilePos        int64
	CompressedSize uint32
	FileSize       uint32
	Flags          uint32
	Locale         uint16

	blockPos uint64
}

// Compressed reports whether the entry uses any compression.
func (fi *FileInfo) Compressed() bool {
	return fi.Flags&(fileCompress|fileImplode) != 0
}

// Encrypted reports whether the entry is encrypted.
func (fi *FileInfo) Encrypted() bool {
	return fi.Flags&fileEncrypted != 0
}

// Open opens the archive at path with default (lenient) options.
func Open(path string) (*Archive, error) {
	return OpenWithOptions(path, OpenOptions{})
}

// OpenWithOptions opens the archive at path.
func OpenWithOptions(path string, opts OpenOptions) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ArchiveError{Op: "open", Path: path, Err: err}
	}

	a := &Archive{file: f, path: path, strict: opts.Strict}
	if err := a.load(); err != nil {
		f.Close()
		if _, ok := err.(*ArchiveError); ok {
			return nil, err
		}
		return nil, &ArchiveError{Op: "open", Path: path, Err: err}
	}
	return a, nil
}

func (a *Archive) load() error {
	st, err := a.file.Stat()
	if err != nil {
		return err
	}
	a.fileSize = st.Size()

	offset, ud, hdr, err := findHeader(a.file)
	if err != nil {
		return err
	}
	a.header = hdr
	a.userData = ud
	a.archiveOffset = offset
	a.sectorSize = hdr.SectorSize()

	if hdr.Version() >= V4 {
		if err := a.verifyHeaderMD5(); err != nil {
			if a.strict {
				return err
			}
			a.warn("open", "header MD5 mismatch", err)
		}
	}

	if err := a.loadExtendedTables(); err != nil {
		if a.strict {
			return err
		}
		a.warn("open", "extended tables unreadable", err)
		a.het, a.bet = nil, nil
	}
	if err := a.loadClassicTables(); err != nil {
		if a.het == nil || a.bet == nil || a.strict {
			return err
		}
		a.warn("open", "classic tables unreadable", err)
		a.hashTable, a.blockTable = nil, nil
	}
	if a.hashTable == nil && a.het == nil {
		return fmt.Errorf("no usable file table: %w", ErrInvalidFormat)
	}

	a.names = make(map[uint32]string)
	a.loadListfile()
	a.loadAttributes()
	return nil
}

func (a *Archive) verifyHeaderMD5() error {
	buf := make([]byte, headerMD5Span)
	if _, err := a.file.ReadAt(buf, int64(a.archiveOffset)); err != nil {
		return fmt.Errorf("read header for MD5: %w", err)
	}
	got := fileMD5(buf)
	if !bytes.Equal(got[:], a.header.MD5Header[:]) {
		return fmt.Errorf("header MD5: %w", ErrChecksumMismatch)
	}
	return nil
}

// loadClassicTables reads the hash and block tables, salvaging the entries
// that fit inside the physical file when a declared count overruns it.
func (a *Archive) loadClassicTables() error {
	hdr := a.header
	if hdr.HashTableSize == 0 && hdr.BlockTableSize == 0 {
		return nil
	}

	const entrySize = 16 // both classic tables use 16-byte entries

	hashCount := hdr.HashTableSize
	hashPos := hdr.HashTablePos64()
	capped, ok := a.capEntryCount(hashPos, hdr.HashTableSize64, hashCount, entrySize)
	if !ok {
		return fmt.Errorf("hash table offset beyond file end: %w", ErrInvalidFormat)
	}
	if capped != hashCount {
		if a.strict {
			return fmt.Errorf("hash table truncated: %w", ErrInvalidFormat)
		}
		a.warn("open", fmt.Sprintf("hash table truncated, using %d of %d entries", capped, hashCount), nil)
		hashCount = capped
	}

	hashRaw, err := a.readClassicTable(hashPos, hdr.HashTableSize64, hashCount*4, keyHashTable)
	if err != nil {
		return fmt.Errorf("read hash table: %w", err)
	}
	a.hashTable = parseHashTable(hashRaw)

	blockCount := hdr.BlockTableSize
	blockPos := hdr.BlockTablePos64()
	capped, ok = a.capEntryCount(blockPos, hdr.BlockTableSize64, blockCount, entrySize)
	if !ok {
		return fmt.Errorf("block table offset beyond file end: %w", ErrInvalidFormat)
	}
	if capped != blockCount {
		if a.strict {
			return fmt.Errorf("block table truncated: %w", ErrInvalidFormat)
		}
		a.warn("open", fmt.Sprintf("block table truncated, using %d of %d entries", capped, blockCount), nil)
		blockCount = capped
	}

	blockRaw, err := a.readClassicTable(blockPos, hdr.BlockTableSize64, blockCount*4, keyBlockTable)
	if err != nil {
		return fmt.Errorf("read block table: %w", err)
	}
	a.blockTable = parseBlockTable(blockRaw)

	if hdr.Version() >= V2 && hdr.HiBlockTablePos64 != 0 {
		hi, err := readHiBlockTable(a.file, a.archiveOffset+hdr.HiBlockTablePos64, blockCount)
		if err != nil {
			if a.strict {
				return fmt.Errorf("read hi-block table: %w", err)
			}
			a.warn("open", "hi-block table unreadable", err)
		} else {
			a.blockTable.applyHiTable(hi)
		}
	}
	return nil
}

// capEntryCount limits a declared entry count so the table fits between
// its offset and the end of the physical file. A table whose stored size
// is declared smaller than its raw size is compressed on disk and keeps
// its full entry count; only the stored bytes are bounds-checked.
func (a *Archive) capEntryCount(tablePos, storedSize uint64, count, entrySize uint32) (uint32, bool) {
	abs := a.archiveOffset + tablePos
	if abs >= uint64(a.fileSize) {
		return 0, false
	}
	if storedSize != 0 && storedSize < uint64(count)*uint64(entrySize) {
		if abs+storedSize > uint64(a.fileSize) {
			return 0, false
		}
		return count, true
	}
	avail := (uint64(a.fileSize) - abs) / uint64(entrySize)
	if uint64(count) > avail {
		return uint32(avail), true
	}
	return count, true
}

// readClassicTable reads a hash or block table. storedSize, when nonzero
// and smaller than the raw size, marks a V4 table that was compressed
// before encryption. dwordCount is the uncompressed size in uint32s.
func (a *Archive) readClassicTable(tablePos, storedSize uint64, dwordCount uint32, key uint32) ([]uint32, error) {
	rawSize := uint64(dwordCount) * 4
	if storedSize == 0 || storedSize > rawSize {
		storedSize = rawSize
	}
	abs := a.archiveOffset + tablePos
	if avail := uint64(a.fileSize) - abs; storedSize > avail {
		storedSize = avail &^ 3
	}

	buf := make([]byte, storedSize)
	if _, err := a.file.ReadAt(buf, int64(abs)); err != nil {
		return nil, err
	}
	decryptBytes(buf, key)

	if storedSize < rawSize {
		if out, err := decompress(buf, uint32(rawSize)); err == nil && uint64(len(out)) == rawSize {
			buf = out
		}
		// A short uncompressed table is the truncation case; the caller
		// already capped dwordCount to what is readable.
	}

	table := make([]uint32, len(buf)/4)
	if err := readUint32Array(bytes.NewReader(buf), table); err != nil {
		return nil, err
	}
	return table, nil
}

func (a *Archive) loadExtendedTables() error {
	hdr := a.header
	if hdr.Version() < V3 || hdr.HetTablePos64 == 0 || hdr.BetTablePos64 == 0 {
		return nil
	}

	hetBody, err := readExtTable(a.file, a.archiveOffset+hdr.HetTablePos64, hdr.HetTableSize64, hetMagic, keyHashTable)
	if err != nil {
		return fmt.Errorf("read HET table: %w", err)
	}
	het, err := parseHetTable(hetBody)
	if err != nil {
		return fmt.Errorf("parse HET table: %w", err)
	}

	betBody, err := readExtTable(a.file, a.archiveOffset+hdr.BetTablePos64, hdr.BetTableSize64, betMagic, keyBlockTable)
	if err != nil {
		return fmt.Errorf("read BET table: %w", err)
	}
	bet, err := parseBetTable(betBody)
	if err != nil {
		return fmt.Errorf("parse BET table: %w", err)
	}

	a.het, a.bet = het, bet
	return nil
}

func (a *Archive) loadListfile() {
	info, err := a.findFile(nameListfile, localeNeutral)
	if err != nil {
		return
	}
	data, err := readFileContents(a.file, info, a.sectorSize, false, &a.warnings)
	if err != nil {
		a.warn("open", "listfile unreadable", err)
		return
	}
	for _, name := range parseListfile(data) {
		if fi, err := a.findFile(name, localeNeutral); err == nil {
			a.names[fi.BlockIndex] = name
		}
	}
}

func (a *Archive) loadAttributes() {
	info, err := a.findFile(nameAttributes, localeNeutral)
	if err != nil {
		return
	}
	data, err := readFileContents(a.file, info, a.sectorSize, false, &a.warnings)
	if err != nil {
		a.warn("open", "attributes file unreadable", err)
		return
	}
	attrs, err := parseAttributes(data, int(a.blockCount()))
	if err != nil {
		a.warn("open", "attributes file malformed", err)
		return
	}
	a.attributes = attrs
}

func (a *Archive) blockCount() uint32 {
	if a.blockTable != nil {
		return uint32(len(a.blockTable.entries))
	}
	if a.bet != nil {
		return a.bet.entryCount
	}
	return 0
}

// FindFile looks up name and returns its entry, or ErrFileNotFound.
func (a *Archive) FindFile(name string) (*FileInfo, error) {
	return a.findFile(name, localeNeutral)
}

// FindFileLocale looks up name with a locale preference. An exact locale
// match wins over a neutral entry.
func (a *Archive) FindFileLocale(name string, locale uint16) (*FileInfo, error) {
	return a.findFile(name, locale)
}

func (a *Archive) findFile(name string, locale uint16) (*FileInfo, error) {
	if a.het != nil && a.bet != nil {
		info, err := a.findFileExt(name)
		if err == nil {
			return info, nil
		}
		if err != ErrFileNotFound || a.hashTable == nil {
			return nil, err
		}
		// Fall through: the extended pair may predate entries that only
		// the classic tables know about.
	}
	return a.findFileClassic(name, locale)
}

func (a *Archive) findFileClassic(name string, locale uint16) (*FileInfo, error) {
	if a.hashTable == nil || a.blockTable == nil {
		return nil, ErrFileNotFound
	}
	idx, ok := a.hashTable.find(name, locale)
	if !ok {
		return nil, ErrFileNotFound
	}
	entry := &a.hashTable.entries[idx]
	if entry.BlockIndex >= uint32(len(a.blockTable.entries)) {
		return nil, fmt.Errorf("block index %d out of range: %w", entry.BlockIndex, ErrInvalidFormat)
	}
	block := &a.blockTable.entries[entry.BlockIndex]
	if !block.exists() || block.Flags&fileDeleteMarker != 0 {
		return nil, ErrFileNotFound
	}
	return a.fileInfoFor(name, entry.BlockIndex, block, entry.Locale), nil
}

func (a *Archive) findFileExt(name string) (*FileInfo, error) {
	candidates := a.het.findCandidates(name)
	if len(candidates) == 0 {
		return nil, ErrFileNotFound
	}

	// Screen candidates against the BET name hash remainder before
	// falling back to anything slower.
	full, _ := a.het.nameHash(name)
	want := full & a.het.betHashMask()

	var matched []uint32
	for _, idx := range candidates {
		if idx >= a.bet.entryCount {
			continue
		}
		if a.bet.nameHash(idx) == want {
			matched = append(matched, idx)
		}
	}
	if len(matched) == 0 {
		return nil, ErrFileNotFound
	}
	if len(matched) > 1 && a.hashTable != nil {
		// Truncated-hash collision; the classic tables hold full hashes
		// and can arbitrate.
		return a.findFileClassic(name, localeNeutral)
	}

	idx := matched[0]
	bi, ok := a.bet.fileInfo(idx)
	if !ok {
		return nil, ErrFileNotFound
	}
	block := &blockEntry{
		FilePos:        uint32(bi.FilePos),
		FilePosHi:      uint16(bi.FilePos >> 32),
		CompressedSize: uint32(bi.CompressedSize),
		FileSize:       uint32(bi.FileSize),
		Flags:          bi.Flags,
	}
	if !block.exists() || block.Flags&fileDeleteMarker != 0 {
		return nil, ErrFileNotFound
	}
	return a.fileInfoFor(name, idx, block, localeNeutral), nil
}

func (a *Archive) fileInfoFor(name string, blockIndex uint32, block *blockEntry, locale uint16) *FileInfo {
	return &FileInfo{
		Name:           name,
		BlockIndex:     blockIndex,
		FilePos:        int64(a.archiveOffset + block.pos64()),
		CompressedSize: block.CompressedSize,
		FileSize:       block.FileSize,
		Flags:          block.Flags,
		Locale:         locale,
		blockPos:       block.pos64(),
	}
}

// ReadFile returns the full contents of name.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	return a.ReadFileLocale(name, localeNeutral)
}

// ReadFileLocale returns the contents of name for a specific locale.
func (a *Archive) ReadFileLocale(name string, locale uint16) ([]byte, error) {
	info, err := a.findFile(name, locale)
	if err != nil {
		return nil, &ArchiveError{Op: "read", Path: name, Err: err}
	}
	data, err := a.readInfo(info)
	if err != nil {
		return nil, &ArchiveError{Op: "read", Path: name, Err: err}
	}
	return data, nil
}

func (a *Archive) readInfo(info *FileInfo) ([]byte, error) {
	data, err := readFileContents(a.file, info, a.sectorSize, a.strict, &a.warnings)
	if err != nil {
		return nil, err
	}
	if a.attributes != nil && !isReservedName(info.Name) {
		if err := a.checkAttributes(info, data); err != nil {
			if a.strict {
				return nil, err
			}
			a.warn("read", info.Name, err)
		}
	}
	return data, nil
}

func (a *Archive) checkAttributes(info *FileInfo, data []byte) error {
	at := a.attributes
	idx := int(info.BlockIndex)
	if at.flags&attrFlagCRC32 != 0 && idx < len(at.crc32s) && at.crc32s[idx] != 0 {
		if got := fileCRC32(data); got != at.crc32s[idx] {
			return &ChecksumError{Name: info.Name, Expected: at.crc32s[idx], Actual: got}
		}
	}
	if at.flags&attrFlagMD5 != 0 && idx < len(at.md5s) {
		var zero [16]byte
		if at.md5s[idx] != zero {
			if got := fileMD5(data); got != at.md5s[idx] {
				return fmt.Errorf("MD5 mismatch for %s: %w", info.Name, ErrChecksumMismatch)
			}
		}
	}
	return nil
}

// List returns the file names known to the archive, sorted. Names come
// from the listfile plus the reserved pseudo-files, so an archive without
// a listfile only lists what can be found by name.
func (a *Archive) List() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		key := strings.ToUpper(n)
		if !seen[key] {
			seen[key] = true
			names = append(names, n)
		}
	}
	for _, n := range a.names {
		add(n)
	}
	for _, n := range []string{nameListfile, nameAttributes, nameSignature} {
		if _, err := a.findFile(n, localeNeutral); err == nil {
			add(n)
		}
	}
	sort.Strings(names)
	return names
}

// Files returns FileInfo for every listable entry, sorted by name.
func (a *Archive) Files() []*FileInfo {
	var infos []*FileInfo
	for _, n := range a.List() {
		if info, err := a.findFile(n, localeNeutral); err == nil {
			infos = append(infos, info)
		}
	}
	return infos
}

// Contains reports whether name resolves to a live entry.
func (a *Archive) Contains(name string) bool {
	_, err := a.findFile(name, localeNeutral)
	return err == nil
}

// GetFileAttributes returns the stored per-file attributes for name. The
// second result is false when the archive carries no attributes file.
func (a *Archive) GetFileAttributes(name string) (FileAttributes, bool, error) {
	info, err := a.findFile(name, localeNeutral)
	if err != nil {
		return FileAttributes{}, false, err
	}
	if a.attributes == nil {
		return FileAttributes{}, false, nil
	}
	return a.attributes.view(int(info.BlockIndex)), true, nil
}

// Header returns a copy of the parsed archive header.
func (a *Archive) Header() Header { return *a.header }

// UserData returns the user-data preamble, or nil when the archive starts
// directly at the MPQ header.
func (a *Archive) UserData() *UserData { return a.userData }

// Warnings returns the recoverable defects observed so far.
func (a *Archive) Warnings() []Warning { return a.warnings }

// Path returns the file path the archive was opened from.
func (a *Archive) Path() string { return a.path }

// SectorSize returns the archive's sector size in bytes.
func (a *Archive) SectorSize() uint32 { return a.sectorSize }

// Close releases the underlying file.
func (a *Archive) Close() error {
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

func (a *Archive) warn(op, detail string, err error) {
	logger.Warn(detail, "op", op, "path", a.path, "error", err)
	a.warnings = append(a.warnings, Warning{Op: op, Detail: detail, Err: err})
}
