package codec

import (
	"fmt"

	"github.com/zsiec/playback/internal/media"
)

// PCM decodes interleaved signed 16-bit little-endian audio.
type PCM struct {
	slot
	info  media.StreamInfo
	frame media.AudioFrame
	buf   []byte
}

// NewPCM creates a pcm_s16le decoder.
func NewPCM(info media.StreamInfo) (*PCM, error) {
	if info.SampleRate <= 0 || info.Channels <= 0 {
		return nil, fmt.Errorf("%w: pcm needs sample rate and channels", ErrInvalidData)
	}
	return &PCM{info: info}, nil
}

// Send implements Decoder
func (d *PCM) Send(pkt *media.Packet) error {
	if err := d.send(); err != nil {
		return err
	}
	frameSize := 2 * d.info.Channels
	n := len(pkt.Data) / frameSize
	if n == 0 {
		return fmt.Errorf("%w: short pcm packet", ErrInvalidData)
	}
	d.buf = append(d.buf[:0], pkt.Data[:n*frameSize]...)
	d.frame = media.AudioFrame{
		Data:       [][]byte{d.buf},
		Samples:    n,
		Format:     media.SampleFormatS16,
		SampleRate: d.info.SampleRate,
		Channels:   d.info.Channels,
		PTS:        pkt.PTS,
	}
	d.pending = true
	return nil
}

// Receive implements Decoder
func (d *PCM) Receive() (media.Frame, error) {
	if err := d.receive(); err != nil {
		return nil, err
	}
	return &d.frame, nil
}

// Flush implements Decoder
func (d *PCM) Flush() { d.pending = false }

// Close implements Decoder
func (d *PCM) Close() error {
	d.closed = true
	return nil
}
