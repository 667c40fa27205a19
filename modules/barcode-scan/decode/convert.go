package decode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/e7canasta/orion-care-sensor/modules/framesupplier"
)

// Blob is an encoded image (PNG, JPEG or GIF).
type Blob []byte

// ErrUnsupportedSource is returned by Detect for inputs it cannot rasterize.
var ErrUnsupportedSource = errors.New("decode: unsupported image source: want image.Image, *framesupplier.Frame, framesupplier.Frame or decode.Blob")

// supported reports whether src is a kind Detect can convert.
func supported(src any) bool {
	switch s := src.(type) {
	case image.Image:
		return s != nil
	case *framesupplier.Frame:
		return s != nil
	case framesupplier.Frame, Blob:
		return true
	default:
		return false
	}
}

// luma converts 8-bit RGB to luma with the fixed-point weights the engine
// expects: (306R + 601G + 117B + 512) >> 10.
func luma(r, g, b uint32) byte {
	return byte((306*r + 601*g + 117*b + 0x200) >> 10)
}

// scratch is the reusable luma buffer of a bridge.
type scratch struct {
	buf     []byte
	width   int
	height  int
	resizes int
}

// reserve sizes the buffer for a w×h frame, reallocating only when the
// dimensions change.
func (s *scratch) reserve(w, h int) []byte {
	if w != s.width || h != s.height || s.buf == nil {
		n := w * h
		if cap(s.buf) >= n && s.buf != nil {
			s.buf = s.buf[:n]
		} else {
			s.buf = make([]byte, n)
		}
		s.width, s.height = w, h
		s.resizes++
	}
	return s.buf
}

// toLuma rasterizes src into the scratch buffer.
func (s *scratch) toLuma(src any) ([]byte, int, int, error) {
	switch v := src.(type) {
	case *framesupplier.Frame:
		return s.frame(v)
	case framesupplier.Frame:
		return s.frame(&v)
	case Blob:
		img, _, err := image.Decode(bytes.NewReader(v))
		if err != nil {
			return nil, 0, 0, fmt.Errorf("decode: decode blob: %w", err)
		}
		return s.image(img)
	case image.Image:
		return s.image(v)
	default:
		return nil, 0, 0, ErrUnsupportedSource
	}
}

func (s *scratch) frame(f *framesupplier.Frame) ([]byte, int, int, error) {
	if err := f.Validate(); err != nil {
		return nil, 0, 0, err
	}

	w, h := f.Width, f.Height
	stride := f.RowStride()
	out := s.reserve(w, h)

	switch f.Format {
	case framesupplier.FormatGray8, framesupplier.FormatI420, framesupplier.FormatNV12:
		// Planar YUV layouts start with the Y plane.
		for y := 0; y < h; y++ {
			copy(out[y*w:(y+1)*w], f.Data[y*stride:y*stride+w])
		}

	case framesupplier.FormatRGB, framesupplier.FormatRGBA:
		bpp := f.Format.BytesPerPixel()
		for y := 0; y < h; y++ {
			row := f.Data[y*stride:]
			for x := 0; x < w; x++ {
				p := row[x*bpp:]
				out[y*w+x] = luma(uint32(p[0]), uint32(p[1]), uint32(p[2]))
			}
		}

	default:
		return nil, 0, 0, fmt.Errorf("decode: unsupported pixel format %s", f.Format)
	}

	return out, w, h, nil
}

func (s *scratch) image(img image.Image) ([]byte, int, int, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, 0, 0, fmt.Errorf("decode: empty image %dx%d", w, h)
	}
	out := s.reserve(w, h)

	switch m := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			off := m.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out[y*w:(y+1)*w], m.Pix[off:off+w])
		}

	case *image.YCbCr:
		for y := 0; y < h; y++ {
			off := m.YOffset(b.Min.X, b.Min.Y+y)
			copy(out[y*w:(y+1)*w], m.Y[off:off+w])
		}

	case *image.RGBA:
		for y := 0; y < h; y++ {
			off := m.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < w; x++ {
				p := m.Pix[off+x*4:]
				out[y*w+x] = luma(uint32(p[0]), uint32(p[1]), uint32(p[2]))
			}
		}

	case *image.NRGBA:
		for y := 0; y < h; y++ {
			off := m.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < w; x++ {
				p := m.Pix[off+x*4:]
				out[y*w+x] = luma(uint32(p[0]), uint32(p[1]), uint32(p[2]))
			}
		}

	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				out[y*w+x] = luma(r>>8, g>>8, bl>>8)
			}
		}
	}

	return out, w, h, nil
}
