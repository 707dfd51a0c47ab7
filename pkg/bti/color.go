package bti

import "image/color"

// Channel widening repeats the high bits of an N-bit value into the low
// bits, the way the GPU expands texels.

func expand3(v uint8) uint8 { return v<<5 | v<<2 | v>>1 }
func expand4(v uint8) uint8 { return v<<4 | v }
func expand5(v uint8) uint8 { return v<<3 | v>>2 }
func expand6(v uint8) uint8 { return v<<2 | v>>4 }

var transparent = color.NRGBA{}

func intensity(v uint8) color.NRGBA {
	return color.NRGBA{R: v, G: v, B: v, A: v}
}

// ia8 holds intensity in the low byte and alpha in the high byte.
func ia8(c uint16) color.NRGBA {
	i := uint8(c)
	return color.NRGBA{R: i, G: i, B: i, A: uint8(c >> 8)}
}

// ia4 holds alpha in the high nibble and intensity in the low nibble.
func ia4(c uint8) color.NRGBA {
	i := expand4(c & 0xF)
	return color.NRGBA{R: i, G: i, B: i, A: expand4(c >> 4)}
}

func rgb565(c uint16) color.NRGBA {
	return color.NRGBA{
		R: expand5(uint8(c>>11) & 0x1F),
		G: expand6(uint8(c>>5) & 0x3F),
		B: expand5(uint8(c) & 0x1F),
		A: 0xFF,
	}
}

// rgb5a3 is RGB555 when the top bit is set, otherwise ARGB3444.
func rgb5a3(c uint16) color.NRGBA {
	if c&0x8000 != 0 {
		return color.NRGBA{
			R: expand5(uint8(c>>10) & 0x1F),
			G: expand5(uint8(c>>5) & 0x1F),
			B: expand5(uint8(c) & 0x1F),
			A: 0xFF,
		}
	}
	return color.NRGBA{
		R: expand4(uint8(c>>8) & 0xF),
		G: expand4(uint8(c>>4) & 0xF),
		B: expand4(uint8(c) & 0xF),
		A: expand3(uint8(c>>12) & 0x7),
	}
}

// cmprPalette builds the four colour ramp of a CMPR sub-block. When the
// first endpoint is numerically greater the ramp holds two interpolated
// colours, otherwise one midpoint and transparent black.
func cmprPalette(c0, c1 uint16) [4]color.NRGBA {
	a := rgb565(c0)
	b := rgb565(c1)
	blend := func(x, y uint8, wx, wy int) uint8 {
		return uint8((int(x)*wx + int(y)*wy) / (wx + wy))
	}
	if c0 > c1 {
		return [4]color.NRGBA{
			a,
			b,
			{R: blend(a.R, b.R, 2, 1), G: blend(a.G, b.G, 2, 1), B: blend(a.B, b.B, 2, 1), A: 0xFF},
			{R: blend(a.R, b.R, 1, 2), G: blend(a.G, b.G, 1, 2), B: blend(a.B, b.B, 1, 2), A: 0xFF},
		}
	}
	// Each channel is halved before summing, so two odd values round down twice.
	half := func(x, y uint8) uint8 { return x/2 + y/2 }
	return [4]color.NRGBA{
		a,
		b,
		{R: half(a.R, b.R), G: half(a.G, b.G), B: half(a.B, b.B), A: 0xFF},
		transparent,
	}
}
