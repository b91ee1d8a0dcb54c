package sdk

import (
	"image"

	"github.com/andresmejia3/neptune/internal/engine"
)

// Flatten copies the pixels of img into a packed RGB buffer, row-major,
// of exactly width*height*3 bytes. Alpha is dropped after premultiplying,
// so straight-alpha sources match what color.Color.RGBA reports.
func Flatten(img image.Image) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return []byte{}
	}
	out := make([]byte, w*h*engine.BytesPerPixel)

	switch src := img.(type) {
	case *image.RGBA:
		flattenRGBA(out, src.Pix, src.Stride, src.PixOffset(b.Min.X, b.Min.Y), w, h)
	case *image.NRGBA:
		flattenNRGBA(out, src.Pix, src.Stride, src.PixOffset(b.Min.X, b.Min.Y), w, h)
	default:
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				out[i] = byte(r >> 8)
				out[i+1] = byte(g >> 8)
				out[i+2] = byte(bl >> 8)
				i += engine.BytesPerPixel
			}
		}
	}
	return out
}

func flattenRGBA(out, pix []byte, stride, offset, w, h int) {
	i := 0
	for y := 0; y < h; y++ {
		row := pix[offset+y*stride : offset+y*stride+w*4]
		for x := 0; x < w; x++ {
			out[i] = row[x*4]
			out[i+1] = row[x*4+1]
			out[i+2] = row[x*4+2]
			i += engine.BytesPerPixel
		}
	}
}

func flattenNRGBA(out, pix []byte, stride, offset, w, h int) {
	i := 0
	for y := 0; y < h; y++ {
		row := pix[offset+y*stride : offset+y*stride+w*4]
		for x := 0; x < w; x++ {
			a := uint32(row[x*4+3])
			out[i] = premultiply(row[x*4], a)
			out[i+1] = premultiply(row[x*4+1], a)
			out[i+2] = premultiply(row[x*4+2], a)
			i += engine.BytesPerPixel
		}
	}
}

// premultiply mirrors color.NRGBA.RGBA truncated to 8 bits.
func premultiply(c byte, a uint32) byte {
	v := uint32(c)
	v |= v << 8
	v *= a
	v /= 0xff
	return byte(v >> 8)
}
