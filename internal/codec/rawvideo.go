package codec

import (
	"fmt"

	"github.com/zsiec/playback/internal/media"
)

// RawVideo treats each packet as one tightly packed frame of the stream's
// declared size and pixel format.
type RawVideo struct {
	slot
	info  media.StreamInfo
	size  int
	frame *media.VideoFrame
}

// NewRawVideo creates a rawvideo decoder.
func NewRawVideo(info media.StreamInfo) (*RawVideo, error) {
	size := media.FrameSize(info.Width, info.Height, info.PixelFormat)
	if info.Width <= 0 || info.Height <= 0 || size == 0 {
		return nil, fmt.Errorf("%w: rawvideo %dx%d %s", ErrInvalidData, info.Width, info.Height, info.PixelFormat)
	}
	return &RawVideo{
		info:  info,
		size:  size,
		frame: media.NewVideoFrame(info.Width, info.Height, info.PixelFormat),
	}, nil
}

// Send implements Decoder
func (d *RawVideo) Send(pkt *media.Packet) error {
	if err := d.send(); err != nil {
		return err
	}
	if len(pkt.Data) < d.size {
		return fmt.Errorf("%w: rawvideo packet %d bytes, want %d", ErrInvalidData, len(pkt.Data), d.size)
	}
	off := 0
	for _, p := range d.frame.Planes {
		off += copy(p, pkt.Data[off:])
	}
	d.frame.PTS = pkt.PTS
	d.pending = true
	return nil
}

// Receive implements Decoder
func (d *RawVideo) Receive() (media.Frame, error) {
	if err := d.receive(); err != nil {
		return nil, err
	}
	return d.frame, nil
}

// Flush implements Decoder
func (d *RawVideo) Flush() { d.pending = false }

// Close implements Decoder
func (d *RawVideo) Close() error {
	d.closed = true
	return nil
}
