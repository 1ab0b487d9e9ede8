package codec

import (
	"github.com/zsiec/playback/internal/media"
)

const (
	defaultTimingWidth  = 640
	defaultTimingHeight = 360
)

// Timing stands in for a compressed video decoder: every packet yields one
// black frame of the declared size carrying the packet's timestamp.
type Timing struct {
	slot
	frame *media.VideoFrame
}

// NewTiming creates a timing decoder. Streams with an unknown size use
// 640x360.
func NewTiming(info media.StreamInfo) (*Timing, error) {
	w, h := info.Width, info.Height
	if w <= 0 || h <= 0 {
		w, h = defaultTimingWidth, defaultTimingHeight
	}
	f := media.NewVideoFrame(w, h, media.PixelFormatYUV420P)
	// black in limited range
	for i := range f.Planes[0] {
		f.Planes[0][i] = 16
	}
	for _, p := range f.Planes[1:] {
		for i := range p {
			p[i] = 128
		}
	}
	return &Timing{frame: f}, nil
}

// Send implements Decoder
func (d *Timing) Send(pkt *media.Packet) error {
	if err := d.send(); err != nil {
		return err
	}
	pts := pkt.PTS
	if pts == media.NoPTS {
		pts = pkt.DTS
	}
	d.frame.PTS = pts
	d.pending = true
	return nil
}

// Receive implements Decoder
func (d *Timing) Receive() (media.Frame, error) {
	if err := d.receive(); err != nil {
		return nil, err
	}
	return d.frame, nil
}

// Flush implements Decoder
func (d *Timing) Flush() { d.pending = false }

// Close implements Decoder
func (d *Timing) Close() error {
	d.closed = true
	return nil
}

// Silence stands in for a compressed audio decoder: every packet yields
// one codec frame worth of silence.
type Silence struct {
	slot
	frame media.AudioFrame
	buf   []byte
}

// NewSilence creates a silence decoder sized by the codec's frame length.
func NewSilence(info media.StreamInfo) (*Silence, error) {
	rate, ch := info.SampleRate, info.Channels
	if rate <= 0 {
		rate = 48000
	}
	if ch <= 0 {
		ch = 2
	}
	samples := samplesPerFrame(info.Codec)
	buf := make([]byte, samples*ch*2)
	return &Silence{
		buf: buf,
		frame: media.AudioFrame{
			Data:       [][]byte{buf},
			Samples:    samples,
			Format:     media.SampleFormatS16,
			SampleRate: rate,
			Channels:   ch,
		},
	}, nil
}

func samplesPerFrame(c media.CodecType) int {
	switch c {
	case media.CodecMP2:
		return 1152
	case media.CodecAC3:
		return 1536
	default:
		return 1024
	}
}

// Send implements Decoder
func (d *Silence) Send(pkt *media.Packet) error {
	if err := d.send(); err != nil {
		return err
	}
	d.frame.PTS = pkt.PTS
	d.pending = true
	return nil
}

// Receive implements Decoder
func (d *Silence) Receive() (media.Frame, error) {
	if err := d.receive(); err != nil {
		return nil, err
	}
	return &d.frame, nil
}

// Flush implements Decoder
func (d *Silence) Flush() { d.pending = false }

// Close implements Decoder
func (d *Silence) Close() error {
	d.closed = true
	return nil
}
