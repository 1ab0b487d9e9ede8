package render

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zsiec/playback/internal/media"
	"golang.org/x/image/draw"
)

func solidYUV(w, h int, y, cb, cr byte) *media.VideoFrame {
	f := media.NewVideoFrame(w, h, media.PixelFormatYUV420P)
	fill(f.Planes[0], y)
	fill(f.Planes[1], cb)
	fill(f.Planes[2], cr)
	f.PTS = 0
	return f
}

func solidRGBA(w, h int, c color.RGBA) *media.VideoFrame {
	f := media.NewVideoFrame(w, h, media.PixelFormatRGBA)
	for i := 0; i < len(f.Planes[0]); i += 4 {
		f.Planes[0][i], f.Planes[0][i+1], f.Planes[0][i+2], f.Planes[0][i+3] = c.R, c.G, c.B, c.A
	}
	f.PTS = 0
	return f
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func assertColor(t *testing.T, want color.RGBA, got color.RGBA) {
	t.Helper()
	assert.InDelta(t, want.R, got.R, 2)
	assert.InDelta(t, want.G, got.G, 2)
	assert.InDelta(t, want.B, got.B, 2)
}

func TestInterpolator(t *testing.T) {
	assert.Equal(t, draw.NearestNeighbor, Interpolator("nearest"))
	assert.Equal(t, draw.ApproxBiLinear, Interpolator("FAST_BILINEAR"))
	assert.Equal(t, draw.CatmullRom, Interpolator("bicubic"))
	assert.Equal(t, draw.BiLinear, Interpolator(""))
}

func TestConvertFormats(t *testing.T) {
	r, g, b := color.YCbCrToRGB(81, 90, 240)
	red := color.RGBA{r, g, b, 0xff}

	nv12 := media.NewVideoFrame(8, 8, media.PixelFormatNV12)
	fill(nv12.Planes[0], 81)
	for i := 0; i < len(nv12.Planes[1]); i += 2 {
		nv12.Planes[1][i], nv12.Planes[1][i+1] = 90, 240
	}
	nv21 := media.NewVideoFrame(8, 8, media.PixelFormatNV21)
	fill(nv21.Planes[0], 81)
	for i := 0; i < len(nv21.Planes[1]); i += 2 {
		nv21.Planes[1][i], nv21.Planes[1][i+1] = 240, 90
	}
	bgra := media.NewVideoFrame(8, 8, media.PixelFormatBGRA)
	for i := 0; i < len(bgra.Planes[0]); i += 4 {
		bgra.Planes[0][i], bgra.Planes[0][i+2], bgra.Planes[0][i+3] = 0x20, 0xc0, 0xff
	}
	rgb565 := media.NewVideoFrame(8, 8, media.PixelFormatRGB565)
	for i := 0; i < len(rgb565.Planes[0]); i += 2 {
		rgb565.Planes[0][i], rgb565.Planes[0][i+1] = 0x00, 0xf8
	}

	tests := []struct {
		name  string
		frame *media.VideoFrame
		want  color.RGBA
	}{
		{"yuv420p", solidYUV(8, 8, 81, 90, 240), red},
		{"nv12", nv12, red},
		{"nv21", nv21, red},
		{"rgba", solidRGBA(8, 8, color.RGBA{10, 20, 30, 0xff}), color.RGBA{10, 20, 30, 0xff}},
		{"bgra", bgra, color.RGBA{0xc0, 0, 0x20, 0xff}},
		{"rgb565", rgb565, color.RGBA{0xff, 0, 0, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := image.NewRGBA(image.Rect(0, 0, 16, 16))
			c := NewConverter(tt.frame.Format, 8, 8, 16, 16, 0, "bilinear")
			require.NoError(t, c.Convert(dst, dst.Bounds(), tt.frame, media.NewRect(0, 0, 8, 8)))
			assertColor(t, tt.want, dst.RGBAAt(8, 8))
		})
	}
}

func TestConvertUnsupported(t *testing.T) {
	f := &media.VideoFrame{Width: 2, Height: 2, Format: media.PixelFormatNone}
	c := NewConverter(f.Format, 2, 2, 2, 2, 0, "")
	err := c.Convert(image.NewRGBA(image.Rect(0, 0, 2, 2)), image.Rect(0, 0, 2, 2), f, media.NewRect(0, 0, 2, 2))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestConvertCropAndOffset(t *testing.T) {
	f := solidRGBA(4, 2, color.RGBA{0, 0, 0, 0xff})
	// right half white
	for y := 0; y < 2; y++ {
		for x := 2; x < 4; x++ {
			copy(f.Planes[0][y*f.Stride[0]+x*4:], []byte{0xff, 0xff, 0xff, 0xff})
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, 6, 2))
	dr := image.Rect(2, 0, 4, 2)
	c := NewConverter(f.Format, 2, 2, 2, 2, 0, "nearest")
	require.NoError(t, c.Convert(dst, dr, f, media.Rect{Left: 2, Top: 0, Right: 4, Bottom: 2}))

	assert.Equal(t, color.RGBA{0xff, 0xff, 0xff, 0xff}, dst.RGBAAt(2, 0))
	assert.Equal(t, color.RGBA{0xff, 0xff, 0xff, 0xff}, dst.RGBAAt(3, 1))
	assert.Equal(t, color.RGBA{}, dst.RGBAAt(0, 0), "outside the video rect is untouched")
}

func TestConvertRotation(t *testing.T) {
	red := color.RGBA{0xff, 0, 0, 0xff}
	blue := color.RGBA{0, 0, 0xff, 0xff}
	f := solidRGBA(2, 1, red)
	copy(f.Planes[0][4:], []byte{0, 0, 0xff, 0xff})

	tests := []struct {
		rotate      int
		w, h        int
		first, last image.Point
	}{
		{90, 1, 2, image.Pt(0, 0), image.Pt(0, 1)},
		{180, 2, 1, image.Pt(1, 0), image.Pt(0, 0)},
		{270, 1, 2, image.Pt(0, 1), image.Pt(0, 0)},
		{-90, 1, 2, image.Pt(0, 1), image.Pt(0, 0)},
	}
	for _, tt := range tests {
		dst := image.NewRGBA(image.Rect(0, 0, tt.w, tt.h))
		c := NewConverter(f.Format, 2, 1, tt.w, tt.h, tt.rotate, "nearest")
		require.NoError(t, c.Convert(dst, dst.Bounds(), f, media.NewRect(0, 0, 2, 1)))
		assert.Equal(t, red, dst.RGBAAt(tt.first.X, tt.first.Y), "rotate %d", tt.rotate)
		assert.Equal(t, blue, dst.RGBAAt(tt.last.X, tt.last.Y), "rotate %d", tt.rotate)
	}
}

func TestRotatedSize(t *testing.T) {
	w, h := rotatedSize(1920, 1080, 90)
	assert.Equal(t, []int{1080, 1920}, []int{w, h})
	w, h = rotatedSize(1920, 1080, 180)
	assert.Equal(t, []int{1920, 1080}, []int{w, h})
	w, h = rotatedSize(1920, 1080, -270)
	assert.Equal(t, []int{1080, 1920}, []int{w, h})
}

func TestDefinition(t *testing.T) {
	flat := solidYUV(16, 16, 128, 128, 128)
	assert.Equal(t, 0.0, Definition(flat))

	checker := solidYUV(16, 16, 0, 128, 128)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if (x+y)%2 == 0 {
				checker.Planes[0][y*16+x] = 255
			}
		}
	}
	assert.Greater(t, Definition(checker), 1000.0)

	rgba := solidRGBA(8, 8, color.RGBA{0x80, 0x80, 0x80, 0xff})
	assert.Equal(t, 0.0, Definition(rgba))

	assert.Equal(t, 0.0, Definition(&media.VideoFrame{Width: 2, Height: 2}))
}
