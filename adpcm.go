// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
)

// IMA ADPCM codec for 16-bit PCM audio, mono or stereo. Lossy: a decoded
// stream has the same length as the input but approximated sample values,
// which is why the builder only applies it when a caller explicitly asks
// for an ADPCM method.
//
// Container: [channels:u8][flags:u8][sampleCount:u32le]
// [initial predictor:i16le per channel][4-bit codes, two per byte]
// [optional raw tail byte when the input length was odd, flag bit 0].

const adpcmHeaderSize = 6

var adpcmIndexTable = [16]int{
	-1, -1, -1, -1, 2, 4, 6, 8,
	-1, -1, -1, -1, 2, 4, 6, 8,
}

var adpcmStepTable = [89]int{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17,
	19, 21, 23, 25, 28, 31, 34, 37, 41, 45,
	50, 55, 60, 66, 73, 80, 88, 97, 107, 118,
	130, 143, 157, 173, 190, 209, 230, 253, 279, 307,
	337, 371, 408, 449, 494, 544, 598, 658, 724, 796,
	876, 963, 1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066,
	2272, 2499, 2749, 3024, 3327, 3660, 4026, 4428, 4871, 5358,
	5894, 6484, 7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794, 32767,
}

type adpcmState struct {
	predictor int
	index     int
}

func (s *adpcmState) encode(sample int) byte {
	step := adpcmStepTable[s.index]
	diff := sample - s.predictor

	var code byte
	if diff < 0 {
		code = 8
		diff = -diff
	}
	if diff >= step {
		code |= 4
		diff -= step
	}
	if diff >= step>>1 {
		code |= 2
		diff -= step >> 1
	}
	if diff >= step>>2 {
		code |= 1
	}

	s.decodeStep(code)
	return code
}

// decodeStep applies code to the predictor, shared by encode (to track the
// decoder's view) and decode.
func (s *adpcmState) decodeStep(code byte) int {
	step := adpcmStepTable[s.index]

	diff := step >> 3
	if code&4 != 0 {
		diff += step
	}
	if code&2 != 0 {
		diff += step >> 1
	}
	if code&1 != 0 {
		diff += step >> 2
	}
	if code&8 != 0 {
		s.predictor -= diff
	} else {
		s.predictor += diff
	}

	if s.predictor > 32767 {
		s.predictor = 32767
	} else if s.predictor < -32768 {
		s.predictor = -32768
	}

	s.index += adpcmIndexTable[code]
	if s.index < 0 {
		s.index = 0
	} else if s.index > 88 {
		s.index = 88
	}
	return s.predictor
}

func adpcmCompress(data []byte, channels int) []byte {
	sampleBytes := len(data) &^ 1
	tail := len(data) & 1
	sampleCount := sampleBytes / 2

	out := make([]byte, adpcmHeaderSize, adpcmHeaderSize+channels*2+sampleCount/2+2)
	out[0] = byte(channels)
	out[1] = byte(tail)
	binary.LittleEndian.PutUint32(out[2:], uint32(sampleCount))

	states := make([]adpcmState, channels)

	// Seed each channel's predictor with its first sample, stored raw.
	for ch := 0; ch < channels; ch++ {
		var s int16
		if ch < sampleCount {
			s = int16(binary.LittleEndian.Uint16(data[ch*2:]))
		}
		states[ch].predictor = int(s)
		out = append(out, byte(uint16(s)), byte(uint16(s)>>8))
	}

	var nibbles []byte
	for i := channels; i < sampleCount; i++ {
		ch := i % channels
		sample := int(int16(binary.LittleEndian.Uint16(data[i*2:])))
		nibbles = append(nibbles, states[ch].encode(sample))
	}

	for i := 0; i < len(nibbles); i += 2 {
		b := nibbles[i]
		if i+1 < len(nibbles) {
			b |= nibbles[i+1] << 4
		}
		out = append(out, b)
	}

	if tail == 1 {
		out = append(out, data[len(data)-1])
	}
	return out
}

func adpcmDecompress(data []byte, channels int) ([]byte, error) {
	if len(data) < adpcmHeaderSize {
		return nil, fmt.Errorf("adpcm data too small: %w", ErrInvalidFormat)
	}
	if int(data[0]) != channels {
		// The method byte decides mono/stereo; the header must agree.
		return nil, fmt.Errorf("adpcm channel mismatch: %w", ErrInvalidFormat)
	}
	tail := int(data[1] & 1)
	sampleCount := int(binary.LittleEndian.Uint32(data[2:]))

	pos := adpcmHeaderSize
	if pos+channels*2 > len(data) && sampleCount > 0 {
		return nil, fmt.Errorf("adpcm predictors truncated: %w", ErrInvalidFormat)
	}

	out := make([]byte, 0, sampleCount*2+tail)
	states := make([]adpcmState, channels)

	// One predictor per channel is always present, even when there are
	// fewer samples than channels.
	for ch := 0; ch < channels && pos+2 <= len(data); ch++ {
		s := int16(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		states[ch].predictor = int(s)
		if ch < sampleCount {
			out = append(out, byte(uint16(s)), byte(uint16(s)>>8))
		}
	}

	coded := sampleCount - channels
	if coded < 0 {
		coded = 0
	}
	for i := 0; i < coded; i++ {
		byteIndex := pos + i/2
		if byteIndex >= len(data) {
			return nil, fmt.Errorf("adpcm codes truncated: %w", ErrInvalidFormat)
		}
		code := data[byteIndex]
		if i%2 == 1 {
			code >>= 4
		}
		code &= 0x0F

		ch := (i + channels) % channels
		sample := states[ch].decodeStep(code)
		out = append(out, byte(uint16(int16(sample))), byte(uint16(int16(sample))>>8))
	}

	if tail == 1 {
		out = append(out, data[len(data)-1])
	}
	return out, nil
}
