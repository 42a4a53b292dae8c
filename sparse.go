// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
)

// Sparse compression is run-length encoding of zero runs: a 4-byte
// big-endian uncompressed size, then control bytes. The high control bit
// marks a literal chunk of (n&0x7F)+1 bytes; otherwise (n&0x7F)+3 zero
// bytes are emitted. Zero runs shorter than 3 are carried as literals.

const (
	sparseMaxLiteral = 0x80 // (0x7F)+1
	sparseMaxZeroRun = 0x82 // (0x7F)+3
	sparseMinZeroRun = 3
)

func sparseCompress(data []byte) []byte {
	out := make([]byte, 4, len(data)/2+8)
	binary.BigEndian.PutUint32(out, uint32(len(data)))

	i := 0
	for i < len(data) {
		// Zero run?
		run := 0
		for i+run < len(data) && data[i+run] == 0 && run < sparseMaxZeroRun {
			run++
		}
		if run >= sparseMinZeroRun {
			out = append(out, byte(run-sparseMinZeroRun))
			i += run
			continue
		}

		// Literal chunk up to the next worthwhile zero run.
		start := i
		for i < len(data) && i-start < sparseMaxLiteral {
			if data[i] == 0 {
				z := 0
				for i+z < len(data) && data[i+z] == 0 && z < sparseMinZeroRun {
					z++
				}
				if z >= sparseMinZeroRun {
					break
				}
			}
			i++
		}
		out = append(out, 0x80|byte(i-start-1))
		out = append(out, data[start:i]...)
	}

	return out
}

func sparseDecompress(data []byte, uncompressedSize uint32) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("sparse data too small: %w", ErrInvalidFormat)
	}

	declared := binary.BigEndian.Uint32(data)
	out := make([]byte, 0, declared)
	pos := 4

	for pos < len(data) && uint32(len(out)) < declared {
		ctl := data[pos]
		pos++

		if ctl&0x80 != 0 {
			n := int(ctl&0x7F) + 1
			if pos+n > len(data) {
				return nil, fmt.Errorf("sparse literal run truncated: %w", ErrInvalidFormat)
			}
			out = append(out, data[pos:pos+n]...)
			pos += n
		} else {
			n := int(ctl) + sparseMinZeroRun
			for i := 0; i < n; i++ {
				out = append(out, 0)
			}
		}
	}

	if uint32(len(out)) > declared {
		out = out[:declared]
	}
	if declared != uncompressedSize && uncompressedSize != 0 {
		// Trust the outer size; the embedded one exists for stacked codecs.
		if uint32(len(out)) > uncompressedSize {
			out = out[:uncompressedSize]
		}
	}
	return out, nil
}
