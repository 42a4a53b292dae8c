// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"crypto/md5"
	"hash/crc32"
)

// adler32 computes the Adler-32 checksum. Despite the flag's name, MPQ
// sector "CRCs" are Adler-32 values.
func adler32(data []byte) uint32 {
	const mod = 65521
	var a uint32 = 1
	var b uint32
	for _, v := range data {
		a = (a + uint32(v)) % mod
		b = (b + a) % mod
	}
	return (b << 16) | a
}

// fileCRC32 computes the CRC32 (IEEE) used by the (attributes) file.
func fileCRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// fileMD5 computes the MD5 digest used by the (attributes) file and the V4
// header integrity block.
func fileMD5(data []byte) [md5.Size]byte {
	return md5.Sum(data)
}
