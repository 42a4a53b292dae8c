// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
)

// PKWare Data Compression Library ("implode") codec, the legacy MPQ
// compression. The bitstream is LSB-first: a control bit selects literal
// (0) or length/distance pair (1); lengths and distances use prefix codes
// with the DCL code lengths, plus raw extra bits. Binary mode only; the
// ASCII literal mode never appears in archive data sectors.

const (
	pkBinaryMode = 0
	pkDictBits   = 6 // 4KB dictionary
	pkDictSize   = 1 << (pkDictBits + 6)
	pkMinMatch   = 3
	pkMaxMatch   = 518
	pkEOFLength  = 519 // length symbol 15 with all extra bits set terminates
)

// Code lengths from the DCL specification; the codes themselves are
// canonical prefix codes generated from these lengths, bit-reversed for
// LSB-first output.
var (
	pkLenBits   = [16]uint{3, 2, 3, 3, 4, 4, 4, 5, 5, 5, 5, 6, 6, 6, 7, 7}
	pkExLenBits = [16]uint{0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}
	pkLenBase   = [16]uint32{2, 3, 4, 5, 6, 7, 8, 9, 10, 12, 16, 24, 40, 72, 136, 264}

	pkDistBits [64]uint

	pkLenCode  [16]uint32
	pkDistCode [64]uint32
)

func init() {
	pkDistBits[0] = 2
	for i := 1; i <= 2; i++ {
		pkDistBits[i] = 4
	}
	for i := 3; i <= 6; i++ {
		pkDistBits[i] = 5
	}
	for i := 7; i <= 21; i++ {
		pkDistBits[i] = 6
	}
	for i := 22; i <= 47; i++ {
		pkDistBits[i] = 7
	}
	for i := 48; i <= 63; i++ {
		pkDistBits[i] = 8
	}

	genCanonicalCodes(pkLenBits[:], pkLenCode[:])
	genCanonicalCodes(pkDistBits[:], pkDistCode[:])
}

// genCanonicalCodes assigns canonical prefix codes for the given lengths
// and bit-reverses each code so it can be emitted LSB-first.
func genCanonicalCodes(bits []uint, codes []uint32) {
	var maxBits uint
	for _, b := range bits {
		if b > maxBits {
			maxBits = b
		}
	}

	next := uint32(0)
	for length := uint(1); length <= maxBits; length++ {
		for i, b := range bits {
			if b != length {
				continue
			}
			codes[i] = reverseBits(next, length)
			next++
		}
		next <<= 1
	}
}

func reverseBits(v uint32, width uint) uint32 {
	var out uint32
	for i := uint(0); i < width; i++ {
		out = out<<1 | (v>>i)&1
	}
	return out
}

// pkBitReader reads an LSB-first bitstream.
type pkBitReader struct {
	data []byte
	pos  int
	bits uint32
	cnt  uint
}

func (r *pkBitReader) read(n uint) (uint32, error) {
	for r.cnt < n {
		if r.pos >= len(r.data) {
			return 0, fmt.Errorf("pkware stream truncated: %w", ErrInvalidFormat)
		}
		r.bits |= uint32(r.data[r.pos]) << r.cnt
		r.pos++
		r.cnt += 8
	}
	v := r.bits & ((1 << n) - 1)
	r.bits >>= n
	r.cnt -= n
	return v, nil
}

// readCode decodes one prefix-coded symbol against parallel code/length
// tables, one bit at a time.
func (r *pkBitReader) readCode(codes []uint32, bits []uint) (int, error) {
	var value uint32
	for n := uint(1); n <= 8; n++ {
		b, err := r.read(1)
		if err != nil {
			return 0, err
		}
		value |= b << (n - 1)
		for i := range codes {
			if bits[i] == n && codes[i] == value {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("pkware code not found: %w", ErrInvalidFormat)
}

// pkBitWriter emits an LSB-first bitstream.
type pkBitWriter struct {
	out  []byte
	bits uint32
	cnt  uint
}

func (w *pkBitWriter) write(v uint32, n uint) {
	w.bits |= v << w.cnt
	w.cnt += n
	for w.cnt >= 8 {
		w.out = append(w.out, byte(w.bits))
		w.bits >>= 8
		w.cnt -= 8
	}
}

func (w *pkBitWriter) flush() []byte {
	if w.cnt > 0 {
		w.out = append(w.out, byte(w.bits))
	}
	return w.out
}

// explode decompresses DCL-imploded data.
func explode(data []byte, uncompressedSize uint32) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("pkware data too small: %w", ErrInvalidFormat)
	}
	if data[0] != pkBinaryMode {
		return nil, fmt.Errorf("pkware ascii literal mode: %w", ErrOperationNotSupported)
	}
	dictBits := uint(data[1])
	if dictBits < 4 || dictBits > 6 {
		return nil, fmt.Errorf("pkware dictionary bits %d: %w", dictBits, ErrInvalidFormat)
	}

	r := &pkBitReader{data: data[2:]}
	out := make([]byte, 0, uncompressedSize)

	for uint32(len(out)) < uncompressedSize {
		ctl, err := r.read(1)
		if err != nil {
			return nil, err
		}

		if ctl == 0 {
			lit, err := r.read(8)
			if err != nil {
				return nil, err
			}
			out = append(out, byte(lit))
			continue
		}

		sym, err := r.readCode(pkLenCode[:], pkLenBits[:])
		if err != nil {
			return nil, err
		}
		extra, err := r.read(pkExLenBits[sym])
		if err != nil {
			return nil, err
		}
		length := pkLenBase[sym] + extra
		if length == pkEOFLength {
			break
		}

		distSym, err := r.readCode(pkDistCode[:], pkDistBits[:])
		if err != nil {
			return nil, err
		}

		// Length-2 matches carry only two low distance bits.
		lowBits := dictBits + 6
		if length == 2 {
			lowBits = 2
		}
		low, err := r.read(lowBits)
		if err != nil {
			return nil, err
		}
		dist := int(uint32(distSym)<<lowBits|low) + 1

		if dist > len(out) {
			return nil, fmt.Errorf("pkware distance %d beyond output: %w", dist, ErrInvalidFormat)
		}
		for i := uint32(0); i < length; i++ {
			out = append(out, out[len(out)-dist])
		}
	}

	if uint32(len(out)) > uncompressedSize {
		out = out[:uncompressedSize]
	}
	return out, nil
}

// implode compresses data with a greedy dictionary search.
func implode(data []byte) []byte {
	w := &pkBitWriter{}
	w.out = append(w.out, pkBinaryMode, pkDictBits)

	// Positions of each 3-byte prefix, newest first, bounded chains.
	const maxChain = 32
	heads := make(map[uint32][]int)

	pos := 0
	for pos < len(data) {
		bestLen, bestDist := 0, 0

		if pos+pkMinMatch <= len(data) {
			key := uint32(data[pos]) | uint32(data[pos+1])<<8 | uint32(data[pos+2])<<16
			for _, cand := range heads[key] {
				if pos-cand > pkDictSize {
					break
				}
				l := matchLength(data, cand, pos, pkMaxMatch)
				if l > bestLen {
					bestLen = l
					bestDist = pos - cand
					if l >= pkMaxMatch {
						break
					}
				}
			}
		}

		if bestLen >= pkMinMatch {
			w.write(1, 1)
			writeLenCode(w, uint32(bestLen))
			writeDistCode(w, bestDist, uint32(bestLen))
			end := pos + bestLen
			for ; pos < end && pos+pkMinMatch <= len(data); pos++ {
				key := uint32(data[pos]) | uint32(data[pos+1])<<8 | uint32(data[pos+2])<<16
				chain := heads[key]
				if len(chain) >= maxChain {
					chain = chain[:maxChain-1]
				}
				heads[key] = append([]int{pos}, chain...)
			}
			pos = end
		} else {
			w.write(0, 1)
			w.write(uint32(data[pos]), 8)
			if pos+pkMinMatch <= len(data) {
				key := uint32(data[pos]) | uint32(data[pos+1])<<8 | uint32(data[pos+2])<<16
				chain := heads[key]
				if len(chain) >= maxChain {
					chain = chain[:maxChain-1]
				}
				heads[key] = append([]int{pos}, chain...)
			}
			pos++
		}
	}

	// Terminator: maximum length symbol with all extra bits set.
	w.write(1, 1)
	writeLenCode(w, pkEOFLength)

	return w.flush()
}

func matchLength(data []byte, cand, pos, limit int) int {
	n := 0
	for pos+n < len(data) && n < limit && data[cand+n] == data[pos+n] {
		n++
	}
	return n
}

func writeLenCode(w *pkBitWriter, length uint32) {
	for s := 15; s >= 0; s-- {
		base := pkLenBase[s]
		if length >= base && length-base < 1<<pkExLenBits[s] {
			w.write(pkLenCode[s], pkLenBits[s])
			w.write(length-base, pkExLenBits[s])
			return
		}
	}
}

func writeDistCode(w *pkBitWriter, dist int, length uint32) {
	d := uint32(dist - 1)
	lowBits := uint(pkDictBits + 6)
	if length == 2 {
		lowBits = 2
	}
	sym := d >> lowBits
	w.write(pkDistCode[sym], pkDistBits[sym])
	w.write(d&((1<<lowBits)-1), lowBits)
}
