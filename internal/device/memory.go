package device

import (
	"image"
	"image/draw"
	"sync"

	"github.com/zsiec/playback/internal/clock"
	"github.com/zsiec/playback/internal/logger"
	"github.com/zsiec/playback/internal/media"
)

// MemoryVideo renders into an in-memory RGBA surface the size of the render
// rectangle. The most recent presented frame is kept for inspection.
type MemoryVideo struct {
	*VideoBase

	frameMu  sync.Mutex
	surface  *image.RGBA
	front    *image.RGBA
	frontPTS int64
	lockPTS  int64
	ready    bool
}

// NewMemoryVideo creates a headless video sink.
func NewMemoryVideo(opts VideoOptions, clk *clock.Clock, log logger.Logger) *MemoryVideo {
	return &MemoryVideo{
		VideoBase: NewVideoBase(opts, clk, log),
		frontPTS:  -1,
	}
}

// Lock implements VideoSink. The surface stays locked until Unlock.
func (m *MemoryVideo) Lock(pts int64) (*Buffer, bool) {
	m.frameMu.Lock()
	m.ready = false
	m.lockPTS = pts

	if m.closed() || m.late(pts) {
		return nil, false
	}

	rr := m.RenderRect()
	size := image.Rect(0, 0, rr.Width(), rr.Height())
	clearSurface := m.takeClear()
	if m.surface == nil || m.surface.Bounds() != size {
		m.surface = image.NewRGBA(size)
		clearSurface = true
	} else if clearSurface {
		draw.Draw(m.surface, m.surface.Bounds(), image.Black, image.Point{}, draw.Src)
	}

	m.ready = true
	return &Buffer{
		Image:  m.surface,
		Rect:   m.bufferRect(),
		Format: media.PixelFormatRGBA,
		Clear:  clearSurface,
	}, true
}

// Unlock implements VideoSink. A frame drawn under Lock becomes the front
// frame and the sink then sleeps until the next frame is due.
func (m *MemoryVideo) Unlock() {
	ready, pts := m.ready, m.lockPTS
	if ready {
		if m.front == nil || m.front.Bounds() != m.surface.Bounds() {
			m.front = image.NewRGBA(m.surface.Bounds())
		}
		copy(m.front.Pix, m.surface.Pix)
		m.frontPTS = pts
		m.presentedFrame(pts)
	}
	m.ready = false
	m.frameMu.Unlock()

	if ready {
		m.avsync(pts)
	}
}

// LastFrame returns a copy of the most recently presented frame and its
// pts. img is nil before the first frame.
func (m *MemoryVideo) LastFrame() (img *image.RGBA, pts int64) {
	m.frameMu.Lock()
	defer m.frameMu.Unlock()
	if m.front == nil {
		return nil, -1
	}
	out := image.NewRGBA(m.front.Bounds())
	copy(out.Pix, m.front.Pix)
	return out, m.frontPTS
}

// GetParam implements VideoSink
func (m *MemoryVideo) GetParam(id media.Param) (any, error) {
	if id == media.ParamVdevGetContext {
		return m, nil
	}
	return m.VideoBase.GetParam(id)
}

// Close implements VideoSink
func (m *MemoryVideo) Close() error {
	m.closeBase()
	return nil
}
