package render

import "github.com/zsiec/playback/internal/media"

// Definition scores frame sharpness as the mean absolute response of a 3x3
// Laplacian over the luma plane. Higher is sharper.
func Definition(f *media.VideoFrame) float64 {
	luma, stride := lumaPlane(f)
	w, h := f.Width, f.Height
	if luma == nil || w < 3 || h < 3 || stride < w || len(luma) < stride*(h-1)+w {
		return 0
	}

	var sum int64
	for y := 1; y < h-1; y++ {
		pre, cur, nxt := luma[(y-1)*stride:], luma[y*stride:], luma[(y+1)*stride:]
		for x := 1; x < w-1; x++ {
			l := int(pre[x-1]) + 4*int(pre[x]) + int(pre[x+1]) +
				4*int(cur[x-1]) - 20*int(cur[x]) + 4*int(cur[x+1]) +
				int(nxt[x-1]) + 4*int(nxt[x]) + int(nxt[x+1])
			if l < 0 {
				l = -l
			}
			sum += int64(l)
		}
	}
	return float64(sum) / float64((w-2)*(h-2))
}

// lumaPlane returns the Y plane, deriving it for packed RGB formats.
func lumaPlane(f *media.VideoFrame) ([]byte, int) {
	if len(f.Planes) == 0 || len(f.Stride) == 0 {
		return nil, 0
	}
	switch f.Format {
	case media.PixelFormatYUV420P, media.PixelFormatNV12, media.PixelFormatNV21:
		return f.Planes[0], f.Stride[0]
	case media.PixelFormatRGBA, media.PixelFormatBGRA:
		ri, bi := 0, 2
		if f.Format == media.PixelFormatBGRA {
			ri, bi = 2, 0
		}
		y := make([]byte, f.Width*f.Height)
		for row := 0; row < f.Height; row++ {
			px := f.Planes[0][row*f.Stride[0]:]
			for x := 0; x < f.Width; x++ {
				r, g, b := int(px[x*4+ri]), int(px[x*4+1]), int(px[x*4+bi])
				y[row*f.Width+x] = byte((77*r + 150*g + 29*b) >> 8)
			}
		}
		return y, f.Width
	}
	return nil, 0
}
