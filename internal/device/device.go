// Package device defines the audio and video sinks the render engine writes
// into, the state they share, and the headless implementations used when
// no platform output is attached.
package device

import (
	"errors"
	"image"

	"github.com/zsiec/playback/internal/media"
)

const (
	// SampleRate is the fixed device output rate. Output is always S16
	// interleaved stereo.
	SampleRate = 48000
	// Channels is the fixed device channel count.
	Channels = 2
	// BytesPerFrame is the size of one stereo S16 sample frame.
	BytesPerFrame = Channels * 2
)

var (
	ErrClosed          = errors.New("device closed")
	ErrUnsupported     = errors.New("unsupported device parameter")
	ErrUnknownRenderer = errors.New("unknown render type")
)

// AudioSink consumes fixed-size S16 stereo buffers at SampleRate.
type AudioSink interface {
	// Write queues buf for playback with its presentation time in ms. It
	// blocks while the sink's buffers are full and returns once queued or
	// once the sink is closed.
	Write(buf []byte, pts int64)
	// Pause stops draining buffers without discarding them.
	Pause(paused bool)
	// Reset discards buffers queued but not yet played.
	Reset()
	SetParam(id media.Param, v any) error
	GetParam(id media.Param) (any, error)
	Close() error
}

// Buffer is a locked video output surface. Image is the whole render
// rectangle; Rect is the area video should be drawn into.
type Buffer struct {
	Image  *image.RGBA
	Rect   image.Rectangle
	Format media.PixelFormat
	Clear  bool
}

// VideoSink presents converted frames and paces them against the shared
// clock.
type VideoSink interface {
	// Lock returns the output buffer for a frame with the given pts. ready
	// is false when the frame should not be drawn (late, closed, or no
	// surface). Unlock must be called after every Lock.
	Lock(pts int64) (buf *Buffer, ready bool)
	Unlock()
	// SetRect sets the render rectangle on the output surface.
	SetRect(x, y, w, h int)
	// SetVideoSize sets the size of the source region being displayed.
	SetVideoSize(w, h int)
	SetParam(id media.Param, v any) error
	GetParam(id media.Param) (any, error)
	Close() error
}
