// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Both extended tables share a 12-byte header that is never encrypted or
// compressed, followed by a body that may be both.
type extTableHeader struct {
	Magic    uint32
	Version  uint32
	DataSize uint32 // uncompressed body size
}

const extHeaderSize = 12

// readExtTable reads an extended table at offset: parses the plain header,
// decrypts the body with key, and decompresses it when the stored size is
// smaller than the declared data size.
func readExtTable(r io.ReadSeeker, offset uint64, storedSize uint64, magic uint32, key uint32) ([]byte, error) {
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}

	var hdr extTableHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if hdr.Magic != magic {
		return nil, fmt.Errorf("extended table signature 0x%08X: %w", hdr.Magic, ErrInvalidFormat)
	}
	if hdr.Version != 1 {
		return nil, fmt.Errorf("extended table version %d: %w", hdr.Version, ErrInvalidFormat)
	}

	bodySize := hdr.DataSize
	if storedSize >= extHeaderSize {
		// The header's stored size wins when it is explicit (V4) or derived
		// from the next table's position (V3); a smaller body means the
		// table was compressed.
		bodySize = uint32(storedSize - extHeaderSize)
	}

	body := make([]byte, bodySize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	decryptBytes(body, key)

	if bodySize < hdr.DataSize {
		out, err := decompress(body, hdr.DataSize)
		if err != nil {
			return nil, fmt.Errorf("decompress extended table: %w", err)
		}
		body = out
	}

	return body, nil
}

// writeExtTable serializes an extended table: plain header, then the body,
// optionally compressed (kept only when smaller) and always encrypted.
func writeExtTable(body []byte, magic uint32, key uint32, compressBody bool) []byte {
	stored := append([]byte(nil), body...)
	if compressBody && len(body) > 0 {
		if c, err := compress(body, CompressionZlib); err == nil && len(c) < len(body) {
			stored = c
		}
	}

	encryptBytes(stored, key)

	out := make([]byte, extHeaderSize+len(stored))
	binary.LittleEndian.PutUint32(out[0:4], magic)
	binary.LittleEndian.PutUint32(out[4:8], 1)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(body)))
	copy(out[extHeaderSize:], stored)
	return out
}
