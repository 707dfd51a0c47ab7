package bmg

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var errNotCP1252 = errors.New("character not representable in windows-1252")

// windows1252 follows the WHATWG mapping: the five bytes charmap leaves
// undefined decode to the C1 control with the same value, so every byte
// survives a round trip.
type windows1252 struct{}

func (windows1252) NewDecoder() *encoding.Decoder {
	return &encoding.Decoder{Transformer: cp1252Decoder{}}
}

func (windows1252) NewEncoder() *encoding.Encoder {
	return &encoding.Encoder{Transformer: cp1252Encoder{}}
}

func cp1252Passthrough(b byte) bool {
	switch b {
	case 0x81, 0x8D, 0x8F, 0x90, 0x9D:
		return true
	}
	return false
}

type cp1252Decoder struct{ transform.NopResetter }

func (cp1252Decoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		b := src[nSrc]
		r := rune(b)
		if !cp1252Passthrough(b) {
			r = charmap.Windows1252.DecodeByte(b)
		}
		if nDst+utf8.RuneLen(r) > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		nDst += utf8.EncodeRune(dst[nDst:], r)
		nSrc++
	}
	return nDst, nSrc, nil
}

type cp1252Encoder struct{ transform.NopResetter }

func (cp1252Encoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		if !atEOF && !utf8.FullRune(src[nSrc:]) {
			return nDst, nSrc, transform.ErrShortSrc
		}
		r, size := utf8.DecodeRune(src[nSrc:])
		if r == utf8.RuneError && size == 1 {
			return nDst, nSrc, encoding.ErrInvalidUTF8
		}
		var b byte
		if r < 0x100 && cp1252Passthrough(byte(r)) {
			b = byte(r)
		} else if c, ok := charmap.Windows1252.EncodeRune(r); ok {
			b = c
		} else {
			return nDst, nSrc, errNotCP1252
		}
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = b
		nDst++
		nSrc += size
	}
	return nDst, nSrc, nil
}
