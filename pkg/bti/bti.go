// Package bti decodes BTI textures into RGBA8 images.
//
// A BTI file is a 0x20 byte header followed by optional palette data and a
// chain of mipmaps. Image data is stored in fixed-size blocks whose
// dimensions depend on the pixel format; blocks at the right and bottom
// edges may extend past the image.
package bti

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/falk/cube-go/pkg/binutil"
)

const HeaderSize = 0x20

var (
	ErrUnsupportedFormat        = errors.New("bti: unsupported pixel format")
	ErrUnsupportedPaletteFormat = errors.New("bti: unsupported palette format")
	ErrTruncated                = errors.New("bti: truncated file")
)

// Header is the fixed BTI header.
type Header struct {
	Format        Format
	AlphaSetting  uint8
	Width         uint16
	Height        uint16
	WrapS         uint8
	WrapT         uint8
	PaletteOn     bool
	PaletteFormat uint8
	PaletteCount  uint16
	PaletteOffset uint32
	MinFilter     uint8
	MagFilter     uint8
	MinLOD        uint8
	MaxLOD        uint8
	MipmapCount   uint8
	LODBias       uint16
	ImageOffset   uint32
}

// ParseHeader reads the fixed header. A stored mipmap count of zero is
// reported as one.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs 0x%X bytes, have 0x%X", ErrTruncated, HeaderSize, len(data))
	}
	f, err := FormatFromByte(data[0x0])
	if err != nil {
		return Header{}, err
	}
	h := Header{
		Format:        f,
		AlphaSetting:  data[0x1],
		WrapS:         data[0x6],
		WrapT:         data[0x7],
		PaletteOn:     data[0x8] != 0,
		PaletteFormat: data[0x9],
		MinFilter:     data[0x14],
		MagFilter:     data[0x15],
		MinLOD:        data[0x16],
		MaxLOD:        data[0x17],
		MipmapCount:   data[0x18],
	}
	h.Width, _ = binutil.U16(data, 0x2)
	h.Height, _ = binutil.U16(data, 0x4)
	h.PaletteCount, _ = binutil.U16(data, 0xA)
	h.PaletteOffset, _ = binutil.U32(data, 0xC)
	h.LODBias, _ = binutil.U16(data, 0x1A)
	h.ImageOffset, _ = binutil.U32(data, 0x1C)
	if h.MipmapCount == 0 {
		h.MipmapCount = 1
	}
	return h, nil
}

// MipmapOffset returns the byte offset of mipmap level relative to the start
// of the image data. Each level halves the dimensions of the previous one.
func MipmapOffset(level int, width, height int, f Format) int {
	bw, bh, size := f.BlockSize()
	offset := 0
	for ; level > 0; level-- {
		offset += levelSize(width, height, bw, bh, size)
		width /= 2
		height /= 2
	}
	return offset
}

func levelSize(width, height, bw, bh, size int) int {
	return ((width + bw - 1) / bw) * ((height + bh - 1) / bh) * size
}

// Image is a decoded texture: Width*Height pixels of non-premultiplied
// RGBA, row-major.
type Image struct {
	Width  uint32
	Height uint32
	Pix    []uint8
}

// At returns the colour of the pixel at x, y.
func (m *Image) At(x, y int) color.NRGBA {
	i := (y*int(m.Width) + x) * 4
	return color.NRGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: m.Pix[i+3]}
}

// NRGBA wraps the pixel buffer in an image.NRGBA without copying.
func (m *Image) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    m.Pix,
		Stride: int(m.Width) * 4,
		Rect:   image.Rect(0, 0, int(m.Width), int(m.Height)),
	}
}

// DecodePalette converts count big-endian palette entries.
func DecodePalette(data []byte, format uint8, count int) ([]color.NRGBA, error) {
	var conv func(uint16) color.NRGBA
	switch format {
	case PaletteIA8:
		conv = ia8
	case PaletteRGB565:
		conv = rgb565
	case PaletteRGB5A3:
		conv = rgb5a3
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPaletteFormat, format)
	}
	colors := make([]color.NRGBA, count)
	for i := range colors {
		c, err := binutil.U16(data, i*2)
		if err != nil {
			return nil, fmt.Errorf("%w: palette entry %d: %v", ErrTruncated, i, err)
		}
		colors[i] = conv(c)
	}
	return colors, nil
}

// Decode decodes the first mipmap level of a BTI file.
func Decode(data []byte) (*Image, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	info := formats[h.Format]
	width, height := int(h.Width), int(h.Height)

	size := levelSize(width, height, info.blockWidth, info.blockHeight, info.blockBytes)
	pixels, err := binutil.Bytes(data, int(h.ImageOffset), size)
	if err != nil {
		return nil, fmt.Errorf("%w: %s image data: %v", ErrTruncated, h.Format, err)
	}

	var palette []color.NRGBA
	if h.Format.Indexed() {
		raw, err := binutil.Bytes(data, int(h.PaletteOffset), int(h.PaletteCount)*2)
		if err != nil {
			return nil, fmt.Errorf("%w: palette: %v", ErrTruncated, err)
		}
		palette, err = DecodePalette(raw, h.PaletteFormat, int(h.PaletteCount))
		if err != nil {
			return nil, err
		}
	}

	img := &Image{
		Width:  uint32(width),
		Height: uint32(height),
		Pix:    make([]uint8, width*height*4),
	}
	block := make([]color.NRGBA, info.blockWidth*info.blockHeight)
	offset := 0
	for by := 0; by < height; by += info.blockHeight {
		for bx := 0; bx < width; bx += info.blockWidth {
			info.decode(pixels[offset:offset+info.blockBytes], palette, block)
			offset += info.blockBytes

			for i, c := range block {
				x := bx + i%info.blockWidth
				y := by + i/info.blockWidth
				if x >= width || y >= height {
					continue
				}
				p := (y*width + x) * 4
				img.Pix[p] = c.R
				img.Pix[p+1] = c.G
				img.Pix[p+2] = c.B
				img.Pix[p+3] = c.A
			}
		}
	}
	return img, nil
}
