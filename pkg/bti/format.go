package bti

import (
	"encoding/binary"
	"fmt"
	"image/color"
)

// Format is the dense index of a texture pixel format.
type Format uint8

const (
	I4 Format = iota
	I8
	IA4
	IA8
	RGB565
	RGB5A3
	RGBA32
	C4
	C8
	C14X2
	CMPR

	numFormats
)

var formatNames = [...]string{"I4", "I8", "IA4", "IA8", "RGB565", "RGB5A3", "RGBA32", "C4", "C8", "C14X2", "CMPR"}

func (f Format) String() string {
	if f < numFormats {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// Indexed reports whether pixels are palette indices.
func (f Format) Indexed() bool {
	return f == C4 || f == C8 || f == C14X2
}

// FormatFromByte maps the raw header code to a Format. The indexed codes
// 0x8, 0x9, 0xA and CMPR's 0xE follow RGBA32 in the dense order; every other
// code maps to itself.
func FormatFromByte(b byte) (Format, error) {
	f := Format(b)
	switch b {
	case 0x8:
		f = C4
	case 0x9:
		f = C8
	case 0xA:
		f = C14X2
	case 0xE:
		f = CMPR
	}
	if f >= numFormats {
		return 0, fmt.Errorf("%w: 0x%X", ErrUnsupportedFormat, b)
	}
	return f, nil
}

// Palette entry formats.
const (
	PaletteIA8    = 0
	PaletteRGB565 = 1
	PaletteRGB5A3 = 2
)

type blockDecoder func(block []byte, palette []color.NRGBA, out []color.NRGBA)

type formatInfo struct {
	blockWidth  int
	blockHeight int
	blockBytes  int
	decode      blockDecoder
}

var formats = [numFormats]formatInfo{
	I4:     {8, 8, 32, decodeI4},
	I8:     {8, 4, 32, decodeI8},
	IA4:    {8, 4, 32, decodeIA4},
	IA8:    {4, 4, 32, decodeIA8},
	RGB565: {4, 4, 32, decodeRGB565},
	RGB5A3: {4, 4, 32, decodeRGB5A3},
	RGBA32: {4, 4, 64, decodeRGBA32},
	C4:     {8, 8, 32, decodeC4},
	C8:     {8, 4, 32, decodeC8},
	C14X2:  {4, 4, 32, decodeC14X2},
	CMPR:   {8, 8, 32, decodeCMPR},
}

// BlockSize returns the tile dimensions and encoded byte size of a block.
func (f Format) BlockSize() (width, height, size int) {
	info := formats[f]
	return info.blockWidth, info.blockHeight, info.blockBytes
}

func decodeI4(block []byte, _ []color.NRGBA, out []color.NRGBA) {
	for i, b := range block {
		out[i*2] = intensity(expand4(b >> 4))
		out[i*2+1] = intensity(expand4(b & 0xF))
	}
}

func decodeI8(block []byte, _ []color.NRGBA, out []color.NRGBA) {
	for i, b := range block {
		out[i] = intensity(b)
	}
}

func decodeIA4(block []byte, _ []color.NRGBA, out []color.NRGBA) {
	for i, b := range block {
		out[i] = ia4(b)
	}
}

func decodeIA8(block []byte, _ []color.NRGBA, out []color.NRGBA) {
	for i := range out {
		out[i] = ia8(binary.BigEndian.Uint16(block[i*2:]))
	}
}

func decodeRGB565(block []byte, _ []color.NRGBA, out []color.NRGBA) {
	for i := range out {
		out[i] = rgb565(binary.BigEndian.Uint16(block[i*2:]))
	}
}

func decodeRGB5A3(block []byte, _ []color.NRGBA, out []color.NRGBA) {
	for i := range out {
		out[i] = rgb5a3(binary.BigEndian.Uint16(block[i*2:]))
	}
}

// decodeRGBA32 reads the two 32 byte halves of a block: red/green pairs
// first, then blue/alpha pairs.
func decodeRGBA32(block []byte, _ []color.NRGBA, out []color.NRGBA) {
	for i := range out {
		out[i] = color.NRGBA{
			R: block[i*2],
			G: block[i*2+1],
			B: block[32+i*2],
			A: block[33+i*2],
		}
	}
}

func lookup(palette []color.NRGBA, index int) color.NRGBA {
	if index >= len(palette) {
		return transparent
	}
	return palette[index]
}

func decodeC4(block []byte, palette []color.NRGBA, out []color.NRGBA) {
	for i, b := range block {
		out[i*2] = lookup(palette, int(b>>4))
		out[i*2+1] = lookup(palette, int(b&0xF))
	}
}

func decodeC8(block []byte, palette []color.NRGBA, out []color.NRGBA) {
	for i, b := range block {
		out[i] = lookup(palette, int(b))
	}
}

func decodeC14X2(block []byte, palette []color.NRGBA, out []color.NRGBA) {
	for i := range out {
		out[i] = lookup(palette, int(binary.BigEndian.Uint16(block[i*2:])&0x3FFF))
	}
}

// decodeCMPR expands an 8x8 tile made of four 4x4 sub-blocks laid out
// left-to-right, top-to-bottom. Each sub-block holds two RGB565 endpoints
// and sixteen 2-bit ramp indices, most significant first.
func decodeCMPR(block []byte, _ []color.NRGBA, out []color.NRGBA) {
	for sub := 0; sub < 4; sub++ {
		b := block[sub*8:]
		ramp := cmprPalette(binary.BigEndian.Uint16(b[0:]), binary.BigEndian.Uint16(b[2:]))
		indices := binary.BigEndian.Uint32(b[4:])
		x0 := (sub % 2) * 4
		y0 := (sub / 2) * 4
		for i := 0; i < 16; i++ {
			idx := (indices >> uint((15-i)*2)) & 3
			out[(y0+i/4)*8+x0+i%4] = ramp[idx]
		}
	}
}
