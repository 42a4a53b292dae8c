// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compressibleData returns text-like bytes that every codec can shrink.
func compressibleData(n int) []byte {
	phrase := []byte("the rain in spain stays mainly in the plain. ")
	out := make([]byte, 0, n)
	for len(out) < n {
		out = append(out, phrase...)
	}
	return out[:n]
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	data := compressibleData(10000)

	for _, method := range []Compression{
		CompressionZlib,
		CompressionBzip2,
		CompressionLZMA,
		CompressionPKWare,
		CompressionSparse,
	} {
		compressed, err := compress(data, method)
		require.NoError(t, err, "method 0x%02X", byte(method))
		require.Equal(t, byte(method), compressed[0])

		out, err := decompress(compressed, uint32(len(data)))
		require.NoError(t, err, "method 0x%02X", byte(method))
		assert.Equal(t, data, out, "method 0x%02X", byte(method))
	}
}

func TestCompressShrinksText(t *testing.T) {
	data := compressibleData(8192)
	compressed, err := compress(data, CompressionZlib)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(data))
}

func TestDecompressHuffmanUnsupported(t *testing.T) {
	_, err := decompress([]byte{byte(CompressionHuffman), 1, 2, 3}, 16)
	assert.ErrorIs(t, err, ErrOperationNotSupported)
}

func TestDecompressUnknownMethod(t *testing.T) {
	_, err := decompress([]byte{0x04, 1, 2, 3}, 16)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestDecompressEmpty(t *testing.T) {
	_, err := decompress(nil, 16)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestDecompressStackedZlibSparse(t *testing.T) {
	data := make([]byte, 4096)
	copy(data[100:], []byte("island of data in a sea of zeros"))

	// Apply sparse, then zlib, and tag the result with both bits the way
	// stacked sectors are stored.
	sparse := sparseCompress(data)
	zlibbed, err := compress(sparse, CompressionZlib)
	require.NoError(t, err)

	stacked := append([]byte{byte(CompressionZlib | CompressionSparse)}, zlibbed[1:]...)
	out, err := decompress(stacked, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestImplodeExplodeRoundTrip(t *testing.T) {
	cases := map[string][]byte{
		"empty":      {},
		"single":     {0x42},
		"short":      []byte("abc"),
		"repetitive": bytes.Repeat([]byte("abcdef"), 600),
		"text":       compressibleData(5000),
	}
	r := rand.New(rand.NewSource(7))
	random := make([]byte, 3000)
	r.Read(random)
	cases["random"] = random

	for name, data := range cases {
		imploded := implode(data)
		out, err := explode(imploded, uint32(len(data)))
		require.NoError(t, err, name)
		assert.Equal(t, data, out, name)
	}
}

func TestExplodeOverlappingMatches(t *testing.T) {
	// Runs force distance-1 copies whose source overlaps the output being
	// written.
	data := bytes.Repeat([]byte{0xAA}, 1000)
	out, err := explode(implode(data), uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestSparseRoundTrip(t *testing.T) {
	cases := map[string][]byte{
		"all zero":   make([]byte, 1000),
		"no zero":    compressibleData(200),
		"mixed":      append(append(make([]byte, 500), []byte("payload")...), make([]byte, 500)...),
		"short runs": {0, 0, 1, 0, 0, 0, 2, 0},
		"empty":      {},
	}
	for name, data := range cases {
		out, err := sparseDecompress(sparseCompress(data), uint32(len(data)))
		require.NoError(t, err, name)
		assert.Equal(t, data, out, name)
	}
}

func TestAdpcmSilenceIsLossless(t *testing.T) {
	for _, channels := range []int{1, 2} {
		data := make([]byte, 2048) // int16 silence
		out, err := adpcmDecompress(adpcmCompress(data, channels), channels)
		require.NoError(t, err)
		assert.Equal(t, data, out, "channels %d", channels)
	}
}

func TestAdpcmLossyApproximation(t *testing.T) {
	// A slow sine-like ramp stays within a coarse tolerance; ADPCM is
	// lossy so only shape is preserved.
	const samples = 512
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16((i % 64) * 100)
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}

	out, err := adpcmDecompress(adpcmCompress(data, 1), 1)
	require.NoError(t, err)
	require.Equal(t, len(data), len(out))
}

func TestAdpcmOddTailByte(t *testing.T) {
	// A trailing byte that is not part of a full sample must survive.
	data := append(make([]byte, 600), 0x7F)
	out, err := adpcmDecompress(adpcmCompress(data, 1), 1)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestAdpcmViaCompressDispatch(t *testing.T) {
	data := make([]byte, 4096)
	compressed, err := compress(data, CompressionADPCMStereo)
	require.NoError(t, err)
	out, err := decompress(compressed, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
