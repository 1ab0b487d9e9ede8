package render

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/zsiec/playback/internal/media"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

var ErrUnsupportedFormat = errors.New("unsupported pixel format")

// Interpolator maps a scaler hint to an x/image/draw interpolator. Unknown
// hints fall back to bilinear.
func Interpolator(hint string) draw.Interpolator {
	switch strings.ToLower(hint) {
	case "nearest", "point", "neighbor":
		return draw.NearestNeighbor
	case "fast_bilinear", "fast":
		return draw.ApproxBiLinear
	case "bicubic", "lanczos", "spline", "catmullrom":
		return draw.CatmullRom
	default:
		return draw.BiLinear
	}
}

// Converter scales, crops and rotates decoded frames into RGBA surfaces.
// It is rebuilt whenever the source or destination geometry changes.
type Converter struct {
	srcFormat media.PixelFormat
	srcW      int
	srcH      int
	dstW      int
	dstH      int
	rotate    int
	interp    draw.Interpolator

	chroma []byte
	rgba   *image.RGBA
}

// NewConverter creates a converter for frames of srcFormat sized srcW x srcH
// drawn into a dstW x dstH region, rotated clockwise by rotate degrees.
func NewConverter(srcFormat media.PixelFormat, srcW, srcH, dstW, dstH, rotate int, hint string) *Converter {
	return &Converter{
		srcFormat: srcFormat,
		srcW:      srcW,
		srcH:      srcH,
		dstW:      dstW,
		dstH:      dstH,
		rotate:    normalizeRotation(rotate),
		interp:    Interpolator(hint),
	}
}

// Matches reports whether the converter was built for this geometry.
func (c *Converter) Matches(srcFormat media.PixelFormat, srcW, srcH, dstW, dstH int) bool {
	return c.srcFormat == srcFormat && c.srcW == srcW && c.srcH == srcH &&
		c.dstW == dstW && c.dstH == dstH
}

// Convert draws the crop region of f into dr of dst.
func (c *Converter) Convert(dst *image.RGBA, dr image.Rectangle, f *media.VideoFrame, crop media.Rect) error {
	src, err := c.source(f)
	if err != nil {
		return err
	}
	sr := image.Rect(crop.Left, crop.Top, crop.Right, crop.Bottom).Intersect(src.Bounds())
	if sr.Empty() || dr.Empty() {
		return nil
	}

	if c.rotate == 0 {
		c.interp.Scale(dst, dr, src, sr, draw.Src, nil)
		return nil
	}
	c.interp.Transform(dst, rotation(c.rotate, sr, dr), src, sr, draw.Src, nil)
	return nil
}

// source wraps the frame planes in an image.Image without copying where the
// layout allows it.
func (c *Converter) source(f *media.VideoFrame) (image.Image, error) {
	bounds := image.Rect(0, 0, f.Width, f.Height)
	switch f.Format {
	case media.PixelFormatYUV420P:
		if len(f.Planes) < 3 || len(f.Stride) < 3 {
			return nil, fmt.Errorf("%w: yuv420p needs 3 planes", ErrUnsupportedFormat)
		}
		cw, ch := (f.Width+1)/2, (f.Height+1)/2
		if !planeFits(f.Planes[0], f.Stride[0], f.Width, f.Height) ||
			!planeFits(f.Planes[1], f.Stride[1], cw, ch) || !planeFits(f.Planes[2], f.Stride[2], cw, ch) {
			return nil, fmt.Errorf("%w: short yuv420p plane", ErrUnsupportedFormat)
		}
		return &image.YCbCr{
			Y:              f.Planes[0],
			Cb:             f.Planes[1],
			Cr:             f.Planes[2],
			YStride:        f.Stride[0],
			CStride:        f.Stride[1],
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           bounds,
		}, nil

	case media.PixelFormatNV12, media.PixelFormatNV21:
		if len(f.Planes) < 2 || len(f.Stride) < 2 {
			return nil, fmt.Errorf("%w: %s needs 2 planes", ErrUnsupportedFormat, f.Format)
		}
		cw, ch := (f.Width+1)/2, (f.Height+1)/2
		if !planeFits(f.Planes[0], f.Stride[0], f.Width, f.Height) {
			return nil, fmt.Errorf("%w: short %s luma plane", ErrUnsupportedFormat, f.Format)
		}
		if len(c.chroma) < cw*ch*2 {
			c.chroma = make([]byte, cw*ch*2)
		}
		cb, cr := c.chroma[:cw*ch], c.chroma[cw*ch:cw*ch*2]
		ui, vi := 0, 1
		if f.Format == media.PixelFormatNV21 {
			ui, vi = 1, 0
		}
		uv := f.Planes[1]
		for y := 0; y < ch && y*f.Stride[1] < len(uv); y++ {
			row := uv[y*f.Stride[1]:]
			for x := 0; x < cw && x*2+1 < len(row); x++ {
				cb[y*cw+x] = row[x*2+ui]
				cr[y*cw+x] = row[x*2+vi]
			}
		}
		return &image.YCbCr{
			Y:              f.Planes[0],
			Cb:             cb,
			Cr:             cr,
			YStride:        f.Stride[0],
			CStride:        cw,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           bounds,
		}, nil

	case media.PixelFormatRGBA, media.PixelFormatBGRA, media.PixelFormatRGB565:
		bpp := 4
		if f.Format == media.PixelFormatRGB565 {
			bpp = 2
		}
		if len(f.Planes) < 1 || len(f.Stride) < 1 || !planeFits(f.Planes[0], f.Stride[0], f.Width*bpp, f.Height) {
			return nil, fmt.Errorf("%w: short %s plane", ErrUnsupportedFormat, f.Format)
		}
		if f.Format != media.PixelFormatRGBA {
			return c.unpack(f, bounds), nil
		}
		return &image.RGBA{Pix: f.Planes[0], Stride: f.Stride[0], Rect: bounds}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Format)
}

// unpack converts packed BGRA or RGB565 pixels into the scratch RGBA image.
func (c *Converter) unpack(f *media.VideoFrame, bounds image.Rectangle) *image.RGBA {
	img := c.scratch(bounds)
	for y := 0; y < f.Height; y++ {
		row := f.Planes[0][y*f.Stride[0]:]
		out := img.Pix[y*img.Stride:]
		for x := 0; x < f.Width; x++ {
			if f.Format == media.PixelFormatBGRA {
				out[x*4+0] = row[x*4+2]
				out[x*4+1] = row[x*4+1]
				out[x*4+2] = row[x*4+0]
				out[x*4+3] = row[x*4+3]
				continue
			}
			v := uint16(row[x*2]) | uint16(row[x*2+1])<<8
			r, g, b := byte(v>>11&0x1f), byte(v>>5&0x3f), byte(v&0x1f)
			out[x*4+0] = r<<3 | r>>2
			out[x*4+1] = g<<2 | g>>4
			out[x*4+2] = b<<3 | b>>2
			out[x*4+3] = 0xff
		}
	}
	return img
}

func planeFits(p []byte, stride, rowBytes, rows int) bool {
	return rows > 0 && stride >= rowBytes && len(p) >= stride*(rows-1)+rowBytes
}

func (c *Converter) scratch(r image.Rectangle) *image.RGBA {
	if c.rgba == nil || c.rgba.Bounds() != r {
		c.rgba = image.NewRGBA(r)
	}
	return c.rgba
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg / 90 * 90
}

// rotation returns the source to destination transform that rotates sr
// clockwise by deg and fits it into dr.
func rotation(deg int, sr, dr image.Rectangle) f64.Aff3 {
	sw, sh := float64(sr.Dx()), float64(sr.Dy())
	dw, dh := float64(dr.Dx()), float64(dr.Dy())
	sx0, sy0 := float64(sr.Min.X), float64(sr.Min.Y)
	dx0, dy0 := float64(dr.Min.X), float64(dr.Min.Y)

	switch deg {
	case 90:
		kx, ky := dw/sh, dh/sw
		return f64.Aff3{0, -kx, dx0 + kx*(sy0+sh), ky, 0, dy0 - ky*sx0}
	case 180:
		kx, ky := dw/sw, dh/sh
		return f64.Aff3{-kx, 0, dx0 + kx*(sx0+sw), 0, -ky, dy0 + ky*(sy0+sh)}
	case 270:
		kx, ky := dw/sh, dh/sw
		return f64.Aff3{0, kx, dx0 - kx*sy0, -ky, 0, dy0 + ky*(sx0+sw)}
	}
	kx, ky := dw/sw, dh/sh
	return f64.Aff3{kx, 0, dx0 - kx*sx0, 0, ky, dy0 - ky*sy0}
}

// rotatedSize returns the display size of a w x h region after rotation.
func rotatedSize(w, h, deg int) (int, int) {
	if normalizeRotation(deg)%180 == 90 {
		return h, w
	}
	return w, h
}
