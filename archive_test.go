// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndReadHello(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.mpq")

	err := NewArchiveBuilder().
		WithVersion(V2).
		AddFile("hello.txt", []byte("hello")).
		Build(path)
	require.NoError(t, err)

	archive, err := Open(path)
	require.NoError(t, err)
	defer archive.Close()

	assert.Equal(t, V2, archive.Header().Version())
	data, err := archive.ReadFile("hello.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestBuildOpenReadAllVersions(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	random := make([]byte, 20000)
	r.Read(random)

	files := map[string][]byte{
		"readme.txt":            []byte("plain short text"),
		"data\\big.txt":         compressibleData(30000), // multi-sector
		"data\\noise.bin":       random,                  // incompressible
		"data\\empty.dat":       {},
		"sound\\locked.bin":     compressibleData(5000),
		"sound\\fixed.bin":      compressibleData(5000),
		"maps\\checksummed.dat": compressibleData(15000),
	}
	opts := map[string]FileOptions{
		"sound\\locked.bin":     {Compression: CompressionZlib, Encrypt: true},
		"sound\\fixed.bin":      {Compression: CompressionZlib, FixKey: true},
		"maps\\checksummed.dat": {Compression: CompressionZlib, SectorCRC: true},
		"data\\noise.bin":       {Compression: CompressionNone},
	}

	for _, v := range []Version{V1, V2, V3, V4} {
		path := filepath.Join(t.TempDir(), "test.mpq")

		b := NewArchiveBuilder().WithVersion(v)
		if v == V4 {
			b.WithCompressTables(true)
		}
		for name, data := range files {
			if o, ok := opts[name]; ok {
				b.AddFile(name, data, o)
			} else {
				b.AddFile(name, data)
			}
		}
		require.NoError(t, b.Build(path), "version %d", v)

		archive, err := Open(path)
		require.NoError(t, err, "version %d", v)

		for name, want := range files {
			got, err := archive.ReadFile(name)
			require.NoError(t, err, "version %d file %s", v, name)
			if len(want) == 0 {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, want, got, "version %d file %s", v, name)
			}
		}

		if v >= V3 {
			assert.NotNil(t, archive.het, "version %d", v)
			assert.NotNil(t, archive.bet, "version %d", v)
		}
		assert.Empty(t, archive.Warnings(), "version %d", v)
		require.NoError(t, archive.Close())
	}
}

func TestCompressedTablesOpenStrict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctables.mpq")

	names := testFileNames(20)
	b := NewArchiveBuilder().WithVersion(V4).WithCompressTables(true)
	contents := make(map[string][]byte, len(names))
	for i, name := range names {
		contents[name] = compressibleData(700 + i)
		b.AddFile(name, contents[name])
	}
	require.NoError(t, b.Build(path))

	// Strict mode turns any table salvage into a hard open failure, so a
	// clean open proves the compressed tables parsed at full size.
	archive, err := OpenWithOptions(path, OpenOptions{Strict: true})
	require.NoError(t, err)
	defer archive.Close()

	hdr := archive.Header()
	assert.Less(t, hdr.HashTableSize64, uint64(hdr.HashTableSize)*16,
		"hash table is stored compressed")

	for name, want := range contents {
		got, err := archive.ReadFile(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	assert.Empty(t, archive.Warnings())
}

func TestArchiveList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.mpq")
	err := NewArchiveBuilder().
		AddFile("b.txt", []byte("b")).
		AddFile("a.txt", []byte("a")).
		Build(path)
	require.NoError(t, err)

	archive, err := Open(path)
	require.NoError(t, err)
	defer archive.Close()

	names := archive.List()
	assert.Contains(t, names, "a.txt")
	assert.Contains(t, names, "b.txt")
	assert.Contains(t, names, nameListfile)
	assert.Contains(t, names, nameAttributes)
	assert.True(t, archive.Contains("A.TXT"), "lookups are case-insensitive")

	infos := archive.Files()
	require.Len(t, infos, len(names))
}

func TestFileInfoFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.mpq")
	err := NewArchiveBuilder().
		AddFile("enc.bin", compressibleData(2000), FileOptions{Compression: CompressionZlib, Encrypt: true}).
		AddFile("raw.bin", []byte("xyz"), FileOptions{Compression: CompressionNone}).
		Build(path)
	require.NoError(t, err)

	archive, err := Open(path)
	require.NoError(t, err)
	defer archive.Close()

	enc, err := archive.FindFile("enc.bin")
	require.NoError(t, err)
	assert.True(t, enc.Encrypted())
	assert.True(t, enc.Compressed())
	assert.Equal(t, uint32(2000), enc.FileSize)
	assert.Less(t, enc.CompressedSize, enc.FileSize)

	raw, err := archive.FindFile("raw.bin")
	require.NoError(t, err)
	assert.False(t, raw.Encrypted())
	assert.False(t, raw.Compressed())
}

func TestFileAttributes(t *testing.T) {
	content := []byte("attributed content")
	path := filepath.Join(t.TempDir(), "attr.mpq")
	err := NewArchiveBuilder().
		AddFile("file.txt", content).
		Build(path)
	require.NoError(t, err)

	archive, err := Open(path)
	require.NoError(t, err)
	defer archive.Close()

	fa, present, err := archive.GetFileAttributes("file.txt")
	require.NoError(t, err)
	require.True(t, present)
	assert.True(t, fa.HasCRC32)
	assert.Equal(t, fileCRC32(content), fa.CRC32)
	assert.True(t, fa.HasMD5)
	assert.Equal(t, fileMD5(content), fa.MD5)
	assert.True(t, fa.HasFiletime)
	assert.NotZero(t, fa.Filetime)
}

func TestLocaleVariants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locale.mpq")
	err := NewArchiveBuilder().
		AddFile("ui\\strings.txt", []byte("neutral")).
		AddFile("ui\\strings.txt", []byte("deutsch"), FileOptions{Compression: CompressionZlib, Locale: 0x407}).
		Build(path)
	require.NoError(t, err)

	archive, err := Open(path)
	require.NoError(t, err)
	defer archive.Close()

	got, err := archive.ReadFileLocale("ui\\strings.txt", 0x407)
	require.NoError(t, err)
	assert.Equal(t, []byte("deutsch"), got)

	got, err = archive.ReadFile("ui\\strings.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("neutral"), got)
}

func TestUserDataPreamble(t *testing.T) {
	dir := t.TempDir()
	inner := filepath.Join(dir, "inner.mpq")
	err := NewArchiveBuilder().
		AddFile("map.txt", []byte("map payload")).
		Build(inner)
	require.NoError(t, err)

	archiveBytes, err := os.ReadFile(inner)
	require.NoError(t, err)

	// Shell: 16-byte user data header, payload, archive at offset 512.
	shell := make([]byte, headerScanAlign)
	binary.LittleEndian.PutUint32(shell[0:], userDataMagic)
	binary.LittleEndian.PutUint32(shell[4:], 24) // user data size
	binary.LittleEndian.PutUint32(shell[8:], headerScanAlign)
	binary.LittleEndian.PutUint32(shell[12:], 24)
	copy(shell[16:], []byte("user payload bytes here!"))

	outer := filepath.Join(dir, "outer.SC2Map")
	require.NoError(t, os.WriteFile(outer, append(shell, archiveBytes...), 0644))

	archive, err := Open(outer)
	require.NoError(t, err)
	defer archive.Close()

	ud := archive.UserData()
	require.NotNil(t, ud)
	assert.Equal(t, uint32(headerScanAlign), ud.HeaderOffset)
	assert.Equal(t, []byte("user payload bytes here!"), ud.Data)

	data, err := archive.ReadFile("map.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("map payload"), data)
}

func TestTruncatedBlockTableSalvage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunc.mpq")
	err := NewArchiveBuilder().
		AddFile("a.txt", []byte("aaa")).
		AddFile("b.txt", []byte("bbb")).
		Build(path)
	require.NoError(t, err)

	// Cut half a block table entry off the end.
	st, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, st.Size()-8))

	archive, err := Open(path)
	require.NoError(t, err, "lenient open must salvage")
	defer archive.Close()
	assert.NotEmpty(t, archive.Warnings())

	_, err = OpenWithOptions(path, OpenOptions{Strict: true})
	assert.Error(t, err, "strict open must refuse a truncated table")
}

func TestCorruptSectorZeroFilledInLenientMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.mpq")
	content := compressibleData(30000)
	err := NewArchiveBuilder().
		AddFile("big.txt", content).
		Build(path)
	require.NoError(t, err)

	archive, err := Open(path)
	require.NoError(t, err)
	info, err := archive.FindFile("big.txt")
	require.NoError(t, err)
	require.True(t, info.Compressed())
	require.NoError(t, archive.Close())

	// Stomp bytes in the middle of the file's stored data, past the
	// sector offset table.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		info.FilePos+int64(info.CompressedSize)/2)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	archive, err = Open(path)
	require.NoError(t, err)
	defer archive.Close()

	data, err := archive.ReadFile("big.txt")
	require.NoError(t, err, "lenient read returns partial content")
	require.Len(t, data, len(content))
	assert.NotEqual(t, content, data)
	assert.NotEmpty(t, archive.Warnings())

	strict, err := OpenWithOptions(path, OpenOptions{Strict: true})
	require.NoError(t, err)
	defer strict.Close()
	_, err = strict.ReadFile("big.txt")
	assert.Error(t, err)
}

func TestSectorChecksumDetectsBitRot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crc.mpq")
	content := compressibleData(20000)
	err := NewArchiveBuilder().
		AddFile("data.bin", content, FileOptions{Compression: CompressionNone, SectorCRC: true}).
		Build(path)
	require.NoError(t, err)

	archive, err := Open(path)
	require.NoError(t, err)
	info, err := archive.FindFile("data.bin")
	require.NoError(t, err)
	require.NotZero(t, info.Flags&fileSectorCRC)
	require.NoError(t, archive.Close())

	// Uncompressed sectors decode regardless, so only the checksum can
	// notice a flipped byte.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xAA}, info.FilePos+5000)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	archive, err = Open(path)
	require.NoError(t, err)
	defer archive.Close()
	_, err = archive.ReadFile("data.bin")
	require.NoError(t, err)
	found := false
	for _, w := range archive.Warnings() {
		if w.Err != nil && bytes.Contains([]byte(w.String()), []byte("checksum")) {
			found = true
		}
	}
	assert.True(t, found, "expected a checksum warning, got %v", archive.Warnings())

	strict, err := OpenWithOptions(path, OpenOptions{Strict: true})
	require.NoError(t, err)
	defer strict.Close()
	_, err = strict.ReadFile("data.bin")
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestOpenRejectsNonArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.mpq")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0644))
	_, err := Open(path)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestReadFileNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.mpq")
	require.NoError(t, NewArchiveBuilder().AddFile("x.txt", []byte("x")).Build(path))

	archive, err := Open(path)
	require.NoError(t, err)
	defer archive.Close()

	_, err = archive.ReadFile("missing.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestBuilderValidation(t *testing.T) {
	dir := t.TempDir()

	err := NewArchiveBuilder().
		AddFile("(listfile)", []byte("x")).
		Build(filepath.Join(dir, "a.mpq"))
	assert.ErrorIs(t, err, ErrInvalidParameter)

	err = NewArchiveBuilder().
		AddFile("dup.txt", []byte("1")).
		AddFile("DUP.TXT", []byte("2")).
		Build(filepath.Join(dir, "b.mpq"))
	assert.ErrorIs(t, err, ErrFileExists)

	err = NewArchiveBuilder().
		WithSectorSize(1000).
		AddFile("x.txt", []byte("x")).
		Build(filepath.Join(dir, "c.mpq"))
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestBuilderWithoutInternalFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.mpq")
	err := NewArchiveBuilder().
		WithListfile(false).
		WithAttributes(false).
		AddFile("only.txt", []byte("content")).
		Build(path)
	require.NoError(t, err)

	archive, err := Open(path)
	require.NoError(t, err)
	defer archive.Close()

	// No listfile, so the name is only reachable by direct lookup.
	data, err := archive.ReadFile("only.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)
	assert.NotContains(t, archive.List(), nameListfile)
}

func TestManyFilesExtendedLookup(t *testing.T) {
	names := testFileNames(300)
	path := filepath.Join(t.TempDir(), "many.mpq")

	b := NewArchiveBuilder().WithVersion(V3)
	for i, name := range names {
		b.AddFile(name, []byte(name), FileOptions{Compression: CompressionZlib, Locale: 0, SingleUnit: i%2 == 0})
	}
	require.NoError(t, b.Build(path))

	archive, err := Open(path)
	require.NoError(t, err)
	defer archive.Close()
	require.NotNil(t, archive.het)

	for _, name := range names {
		data, err := archive.ReadFile(name)
		require.NoError(t, err, name)
		assert.Equal(t, []byte(name), data, name)
	}
}

func TestLargeSectorSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sector.mpq")
	content := compressibleData(100000)
	err := NewArchiveBuilder().
		WithSectorSize(65536).
		AddFile("big.bin", content).
		Build(path)
	require.NoError(t, err)

	archive, err := Open(path)
	require.NoError(t, err)
	defer archive.Close()
	assert.Equal(t, uint32(65536), archive.SectorSize())

	data, err := archive.ReadFile("big.bin")
	require.NoError(t, err)
	assert.Equal(t, content, data)
}
