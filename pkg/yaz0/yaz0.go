// Package yaz0 implements the Yaz0 LZ compression used by .szs archives.
//
// A stream is a 16 byte header ("Yaz0", big-endian decompressed size, 8
// reserved bytes) followed by groups of one code byte and up to eight
// chunks. Code bits are read most significant first: a set bit copies one
// literal byte, a clear bit is a back-reference into the last 0x1000 bytes.
package yaz0

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Magic      = "Yaz0"
	HeaderSize = 0x10

	// MaxQuality searches the whole window with lazy matching. Quality 0
	// emits literals only.
	MaxQuality = 10

	windowSize = 0x1000
	minMatch   = 3
	maxMatch   = 0xFF + 0x12
	hashBits   = 14
)

var (
	ErrNotCompressed = errors.New("yaz0: missing Yaz0 magic")
	ErrCorrupt       = errors.New("yaz0: corrupt stream")
)

// IsCompressed reports whether data starts with the Yaz0 magic.
func IsCompressed(data []byte) bool {
	return len(data) >= len(Magic) && string(data[:len(Magic)]) == Magic
}

// DecompressedSize returns the size recorded in the header.
func DecompressedSize(data []byte) (int, error) {
	if !IsCompressed(data) {
		return 0, ErrNotCompressed
	}
	if len(data) < HeaderSize {
		return 0, fmt.Errorf("%w: header is %d bytes", ErrCorrupt, len(data))
	}
	return int(binary.BigEndian.Uint32(data[4:])), nil
}

// Decompress expands a Yaz0 stream.
func Decompress(data []byte) ([]byte, error) {
	size, err := DecompressedSize(data)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, size)
	src := HeaderSize
	var code byte
	bits := 0
	for len(out) < size {
		if bits == 0 {
			if src >= len(data) {
				return nil, fmt.Errorf("%w: out of input at %d of %d bytes", ErrCorrupt, len(out), size)
			}
			code = data[src]
			src++
			bits = 8
		}

		if code&0x80 != 0 {
			if src >= len(data) {
				return nil, fmt.Errorf("%w: missing literal at 0x%X", ErrCorrupt, src)
			}
			out = append(out, data[src])
			src++
		} else {
			if src+2 > len(data) {
				return nil, fmt.Errorf("%w: short back-reference at 0x%X", ErrCorrupt, src)
			}
			b1, b2 := data[src], data[src+1]
			src += 2
			dist := (int(b1&0x0F)<<8 | int(b2)) + 1
			n := int(b1 >> 4)
			if n == 0 {
				if src >= len(data) {
					return nil, fmt.Errorf("%w: missing length byte at 0x%X", ErrCorrupt, src)
				}
				n = int(data[src]) + 0x12
				src++
			} else {
				n += 2
			}

			start := len(out) - dist
			if start < 0 {
				return nil, fmt.Errorf("%w: back-reference %d before start of output at %d", ErrCorrupt, dist, len(out))
			}
			n = min(n, size-len(out))
			for i := 0; i < n; i++ {
				out = append(out, out[start+i])
			}
		}
		code <<= 1
		bits--
	}
	return out, nil
}

// Compress encodes data as a Yaz0 stream. Quality is clamped to
// [0, MaxQuality]; higher values search more candidates per position.
func Compress(data []byte, quality int) []byte {
	quality = min(max(quality, 0), MaxQuality)

	out := make([]byte, HeaderSize, HeaderSize+len(data)+len(data)/8+1)
	copy(out, Magic)
	binary.BigEndian.PutUint32(out[4:], uint32(len(data)))

	m := newMatcher(data, quality)
	pos := 0
	for pos < len(data) {
		codePos := len(out)
		out = append(out, 0)
		for bit := 7; bit >= 0 && pos < len(data); bit-- {
			length, dist := m.longest(pos)
			if length >= minMatch && m.lazy {
				// Defer to a longer match starting at the next byte.
				if next, _ := m.longest(pos + 1); next > length {
					length = 0
				}
			}

			if length < minMatch {
				out[codePos] |= 1 << bit
				out = append(out, data[pos])
				pos++
				continue
			}

			d := dist - 1
			if length >= 0x12 {
				out = append(out, byte(d>>8), byte(d), byte(length-0x12))
			} else {
				out = append(out, byte((length-2)<<4|d>>8), byte(d))
			}
			pos += length
		}
	}
	return out
}

// matcher finds back-references through hash chains over 3 byte prefixes.
type matcher struct {
	data  []byte
	head  []int32
	prev  []int32
	next  int
	chain int
	lazy  bool
}

func newMatcher(data []byte, quality int) *matcher {
	m := &matcher{data: data, lazy: quality >= 6}
	if quality == 0 {
		return m
	}
	m.chain = 1 << quality
	m.head = make([]int32, 1<<hashBits)
	m.prev = make([]int32, len(data))
	return m
}

func (m *matcher) hash(pos int) uint32 {
	d := m.data[pos:]
	v := uint32(d[0])<<16 | uint32(d[1])<<8 | uint32(d[2])
	return (v * 2654435761) >> (32 - hashBits)
}

// insertUpTo adds every position before pos to the chains. Chain links are
// stored as position+1 so that zero means empty.
func (m *matcher) insertUpTo(pos int) {
	for ; m.next < pos && m.next+minMatch <= len(m.data); m.next++ {
		h := m.hash(m.next)
		m.prev[m.next] = m.head[h]
		m.head[h] = int32(m.next + 1)
	}
}

// longest returns the longest match for data[pos:] within the window.
func (m *matcher) longest(pos int) (length, dist int) {
	if m.chain == 0 || pos+minMatch > len(m.data) {
		return 0, 0
	}
	m.insertUpTo(pos)

	limit := min(maxMatch, len(m.data)-pos)
	cand := int(m.head[m.hash(pos)]) - 1
	for tries := 0; cand >= 0 && pos-cand <= windowSize && tries < m.chain; tries++ {
		n := 0
		for n < limit && m.data[cand+n] == m.data[pos+n] {
			n++
		}
		if n > length {
			length, dist = n, pos-cand
			if n == limit {
				break
			}
		}
		cand = int(m.prev[cand]) - 1
	}
	return length, dist
}
