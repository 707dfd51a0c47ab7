package bti

import (
	"image"
	"io"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/disintegration/imaging"
)

// EncodePNG writes the decoded texture as a PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return imgio.PNGEncoder()(w, img)
}

// Scale enlarges the texture by an integer factor with nearest-neighbour
// sampling so texel edges stay sharp.
func Scale(m *Image, factor int) image.Image {
	if factor <= 1 {
		return m.NRGBA()
	}
	return imaging.Resize(m.NRGBA(), int(m.Width)*factor, int(m.Height)*factor, imaging.NearestNeighbor)
}
