// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"

	dsbzip2 "github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz/lzma"
)

// Compression identifies a sector compression method. The on-disk value is
// the method byte prefixed to compressed data; most values are single bits
// so methods can be stacked, but LZMA reuses a two-bit combination as an
// exact value and must be matched before mask dispatch.
type Compression byte

const (
	// CompressionNone stores data uncompressed.
	CompressionNone Compression = 0x00
	// CompressionHuffman is the legacy Huffman codec (wave files only).
	CompressionHuffman Compression = 0x01
	// CompressionZlib is zlib/deflate, the most common method.
	CompressionZlib Compression = 0x02
	// CompressionPKWare is the PKWare Data Compression Library codec.
	CompressionPKWare Compression = 0x08
	// CompressionBzip2 is bzip2.
	CompressionBzip2 Compression = 0x10
	// CompressionLZMA is LZMA. The value is not a single bit and is matched
	// exactly, never as part of a mask.
	CompressionLZMA Compression = 0x12
	// CompressionSparse is run-length encoding of zero runs.
	CompressionSparse Compression = 0x20
	// CompressionADPCMMono is lossy IMA ADPCM for mono audio.
	CompressionADPCMMono Compression = 0x40
	// CompressionADPCMStereo is lossy IMA ADPCM for stereo audio.
	CompressionADPCMStereo Compression = 0x80
)

// compress applies method to data and returns the method-prefixed result.
// Callers keep the result only when it is smaller than the input; the
// format's prefix convention assumes compression always shrinks data.
func compress(data []byte, method Compression) ([]byte, error) {
	if method == CompressionNone {
		return data, nil
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(method))

	switch method {
	case CompressionZlib:
		w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("create zlib writer: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("zlib write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib close: %w", err)
		}

	case CompressionBzip2:
		w, err := dsbzip2.NewWriter(&buf, &dsbzip2.WriterConfig{Level: dsbzip2.BestCompression})
		if err != nil {
			return nil, fmt.Errorf("create bzip2 writer: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("bzip2 write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("bzip2 close: %w", err)
		}

	case CompressionLZMA:
		w, err := lzma.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("create lzma writer: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("lzma write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lzma close: %w", err)
		}

	case CompressionPKWare:
		buf.Write(implode(data))

	case CompressionSparse:
		buf.Write(sparseCompress(data))

	case CompressionADPCMMono:
		buf.Write(adpcmCompress(data, 1))

	case CompressionADPCMStereo:
		buf.Write(adpcmCompress(data, 2))

	default:
		return nil, fmt.Errorf("compression method 0x%02X: %w", byte(method), ErrOperationNotSupported)
	}

	return buf.Bytes(), nil
}

// decompress reverses method-prefixed compression. Stacked methods are
// undone in reverse application order: primary codec first, then sparse,
// then ADPCM.
func decompress(data []byte, uncompressedSize uint32) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty compressed data: %w", ErrInvalidFormat)
	}

	method := Compression(data[0])
	payload := data[1:]

	// LZMA's method byte overlaps the zlib and bzip2 bits.
	if method == CompressionLZMA {
		return decompressLZMA(payload, uncompressedSize)
	}

	result := payload
	var err error

	switch {
	case method&CompressionBzip2 != 0:
		result, err = decompressBzip2(result, uncompressedSize)
	case method&CompressionZlib != 0:
		result, err = decompressZlib(result, uncompressedSize)
	case method&CompressionPKWare != 0:
		result, err = explode(result, uncompressedSize)
	}
	if err != nil {
		return nil, err
	}

	if method&CompressionSparse != 0 {
		result, err = sparseDecompress(result, uncompressedSize)
		if err != nil {
			return nil, err
		}
	}

	if method&CompressionHuffman != 0 {
		return nil, fmt.Errorf("huffman compression: %w", ErrOperationNotSupported)
	}

	switch {
	case method&CompressionADPCMStereo != 0:
		result, err = adpcmDecompress(result, 2)
	case method&CompressionADPCMMono != 0:
		result, err = adpcmDecompress(result, 1)
	}
	if err != nil {
		return nil, err
	}

	known := CompressionZlib | CompressionBzip2 | CompressionPKWare |
		CompressionSparse | CompressionHuffman | CompressionADPCMMono | CompressionADPCMStereo
	if method&^known != 0 {
		return nil, fmt.Errorf("compression method 0x%02X: %w", byte(method), ErrInvalidFormat)
	}

	return result, nil
}

// decompressImploded handles legacy imploded files, which carry no method
// prefix byte.
func decompressImploded(data []byte, uncompressedSize uint32) ([]byte, error) {
	return explode(data, uncompressedSize)
}

func decompressZlib(data []byte, uncompressedSize uint32) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create zlib reader: %w", err)
	}
	defer r.Close()
	return readAll(r, uncompressedSize, "zlib")
}

func decompressBzip2(data []byte, uncompressedSize uint32) ([]byte, error) {
	return readAll(bzip2.NewReader(bytes.NewReader(data)), uncompressedSize, "bzip2")
}

func decompressLZMA(data []byte, uncompressedSize uint32) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create lzma reader: %w", err)
	}
	return readAll(r, uncompressedSize, "lzma")
}

func readAll(r io.Reader, uncompressedSize uint32, codec string) ([]byte, error) {
	result := make([]byte, uncompressedSize)
	n, err := io.ReadFull(r, result)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%s decompress: %w", codec, err)
	}
	return result[:n], nil
}
