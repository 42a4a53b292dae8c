// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

// Jenkins lookup3 hash, used by the HET/BET extended tables. The table
// format stores a 64-bit name hash built from the (pc, pb) pair returned by
// hashlittle2, computed over the lowercased, backslash-normalized name.

func jenkinsRot(x uint32, k uint) uint32 {
	return (x << k) | (x >> (32 - k))
}

func jenkinsMix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= c
	a ^= jenkinsRot(c, 4)
	c += b
	b -= a
	b ^= jenkinsRot(a, 6)
	a += c
	c -= b
	c ^= jenkinsRot(b, 8)
	b += a
	a -= c
	a ^= jenkinsRot(c, 16)
	c += b
	b -= a
	b ^= jenkinsRot(a, 19)
	a += c
	c -= b
	c ^= jenkinsRot(b, 4)
	b += a
	return a, b, c
}

func jenkinsFinal(a, b, c uint32) (uint32, uint32, uint32) {
	c ^= b
	c -= jenkinsRot(b, 14)
	a ^= c
	a -= jenkinsRot(c, 11)
	b ^= a
	b -= jenkinsRot(a, 25)
	c ^= b
	c -= jenkinsRot(b, 16)
	a ^= c
	a -= jenkinsRot(c, 4)
	b ^= a
	b -= jenkinsRot(a, 14)
	c ^= b
	c -= jenkinsRot(b, 24)
	return a, b, c
}

// hashlittle2 is the byte-at-a-time variant of Bob Jenkins' lookup3 hash,
// returning both 32-bit results.
func hashlittle2(key []byte, pc, pb uint32) (uint32, uint32) {
	length := uint32(len(key))
	a := 0xDEADBEEF + length + pc
	b := a
	c := a + pb

	k := key
	for len(k) > 12 {
		a += uint32(k[0]) | uint32(k[1])<<8 | uint32(k[2])<<16 | uint32(k[3])<<24
		b += uint32(k[4]) | uint32(k[5])<<8 | uint32(k[6])<<16 | uint32(k[7])<<24
		c += uint32(k[8]) | uint32(k[9])<<8 | uint32(k[10])<<16 | uint32(k[11])<<24
		a, b, c = jenkinsMix(a, b, c)
		k = k[12:]
	}

	switch len(k) {
	case 12:
		c += uint32(k[11]) << 24
		fallthrough
	case 11:
		c += uint32(k[10]) << 16
		fallthrough
	case 10:
		c += uint32(k[9]) << 8
		fallthrough
	case 9:
		c += uint32(k[8])
		fallthrough
	case 8:
		b += uint32(k[7]) << 24
		fallthrough
	case 7:
		b += uint32(k[6]) << 16
		fallthrough
	case 6:
		b += uint32(k[5]) << 8
		fallthrough
	case 5:
		b += uint32(k[4])
		fallthrough
	case 4:
		a += uint32(k[3]) << 24
		fallthrough
	case 3:
		a += uint32(k[2]) << 16
		fallthrough
	case 2:
		a += uint32(k[1]) << 8
		fallthrough
	case 1:
		a += uint32(k[0])
	case 0:
		return c, b
	}

	a, b, c = jenkinsFinal(a, b, c)
	return c, b
}

// jenkinsHash computes the 64-bit extended-table name hash of an archive
// path: lowercase, backslash separators, hashlittle2 with zero seeds. The
// primary result pc is the high word, pb the low, matching the assignment
// order the extended-table format was defined with.
func jenkinsHash(name string) uint64 {
	buf := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if ch >= 'A' && ch <= 'Z' {
			ch += 0x20
		}
		if ch == '/' {
			ch = '\\'
		}
		buf[i] = ch
	}

	pc, pb := hashlittle2(buf, 0, 0)
	return uint64(pc)<<32 | uint64(pb)
}
