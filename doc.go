// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package mpq provides pure Go support for reading and writing MPQ (Mo'PaQ) archives.

MPQ is an archive format created by Blizzard Entertainment, used in games like
Diablo, StarCraft, and World of Warcraft. This package supports all four MPQ
format generations: V1 (original, up to 4GB), V2 (64-bit offsets), V3 (HET/BET
extended tables), and V4 (table digests and compressed tables).

# Features

  - Read archives, including damaged ones (lenient mode with collected warnings)
  - Build new archives with the fluent [ArchiveBuilder]
  - Edit archives in place with [MutableArchive]
  - Zlib, bzip2, LZMA, PKWare, sparse and ADPCM sector codecs
  - File encryption, sector checksums, (listfile) and (attributes) handling
  - Weak and strong signature verification with caller-supplied keys

# Reading an archive

	archive, err := mpq.Open("game.mpq")
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	data, err := archive.ReadFile("Data\\file.txt")
	if err != nil {
		log.Fatal(err)
	}

Open is lenient by default: recoverable defects (truncated tables, bad sector
checksums) are collected via [Archive.Warnings] instead of failing. Pass
[OpenOptions] with Strict set to make them errors.

# Building an archive

	err := mpq.NewArchiveBuilder().
		WithVersion(mpq.V2).
		AddFile("readme.txt", data).
		AddFile("secret.bin", secret, mpq.FileOptions{Encrypt: true}).
		Build("out.mpq")

The builder generates a (listfile) and an (attributes) file unless disabled.

# Editing an archive

	m, err := mpq.OpenMutable("out.mpq")
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	m.AddFile("new.txt", content)
	m.RemoveFile("old.txt")

Removal releases table entries without reclaiming bytes;
[MutableArchive.Compact] rewrites the archive to drop the holes.

# Path conventions

MPQ archives use backslash (\) as the path separator and compare names
case-insensitively. Forward slashes are accepted everywhere and converted.
*/
package mpq
