package codec

import (
	"fmt"

	"github.com/pion/opus"
	"github.com/zsiec/playback/internal/media"
)

const (
	opusSampleRate = 48000
	// opusMaxFrameBytes fits 120ms of stereo S16 at 48kHz.
	opusMaxFrameBytes = 120 * 48 * 2 * 2
)

// Opus decodes Opus packets with the pure Go pion decoder. Output is S16
// at 48kHz.
type Opus struct {
	slot
	dec   opus.Decoder
	out   []byte
	frame media.AudioFrame
}

// NewOpus creates an Opus decoder.
func NewOpus(info media.StreamInfo) (*Opus, error) {
	return &Opus{
		dec: opus.NewDecoder(),
		out: make([]byte, opusMaxFrameBytes),
	}, nil
}

// Send implements Decoder
func (d *Opus) Send(pkt *media.Packet) error {
	if err := d.send(); err != nil {
		return err
	}
	dur := opusPacketDuration(pkt.Data)
	if dur == 0 {
		return fmt.Errorf("%w: bad opus toc", ErrInvalidData)
	}

	clear(d.out)
	_, stereo, err := d.dec.Decode(pkt.Data, d.out)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	ch := 1
	if stereo {
		ch = 2
	}
	samples := dur * opusSampleRate / 1000 / 10
	n := min(samples*ch*2, len(d.out))
	d.frame = media.AudioFrame{
		Data:       [][]byte{d.out[:n]},
		Samples:    n / (ch * 2),
		Format:     media.SampleFormatS16,
		SampleRate: opusSampleRate,
		Channels:   ch,
		PTS:        pkt.PTS,
	}
	d.pending = true
	return nil
}

// Receive implements Decoder
func (d *Opus) Receive() (media.Frame, error) {
	if err := d.receive(); err != nil {
		return nil, err
	}
	return &d.frame, nil
}

// Flush implements Decoder
func (d *Opus) Flush() {
	d.pending = false
	d.dec = opus.NewDecoder()
}

// Close implements Decoder
func (d *Opus) Close() error {
	d.closed = true
	return nil
}

// opusFrameTenths is the frame duration in 0.1ms units for each TOC config
// (RFC 6716 section 3.1).
var opusFrameTenths = [32]int{
	100, 200, 400, 600, // SILK NB
	100, 200, 400, 600, // SILK MB
	100, 200, 400, 600, // SILK WB
	100, 200, // Hybrid SWB
	100, 200, // Hybrid FB
	25, 50, 100, 200, // CELT NB
	25, 50, 100, 200, // CELT WB
	25, 50, 100, 200, // CELT SWB
	25, 50, 100, 200, // CELT FB
}

// opusPacketDuration returns the packet duration in 0.1ms units, or 0 when
// the packet is malformed.
func opusPacketDuration(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	frame := opusFrameTenths[p[0]>>3]
	switch p[0] & 0x3 {
	case 0:
		return frame
	case 1, 2:
		return frame * 2
	default:
		if len(p) < 2 {
			return 0
		}
		n := int(p[1] & 0x3f)
		if n == 0 || frame*n > 1200 {
			return 0
		}
		return frame * n
	}
}
