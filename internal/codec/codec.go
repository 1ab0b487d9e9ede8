// Package codec turns packets into frames. Decoders follow a send/receive
// model: Send queues one packet and Receive returns decoded frames until it
// reports ErrAgain.
package codec

import (
	"errors"
	"fmt"

	"github.com/zsiec/playback/internal/config"
	"github.com/zsiec/playback/internal/logger"
	"github.com/zsiec/playback/internal/media"
)

var (
	// ErrAgain from Send means output must be received first; from
	// Receive it means more input is needed.
	ErrAgain = errors.New("codec: try again")
	// ErrUnsupportedCodec is returned by New for codecs with no decoder.
	ErrUnsupportedCodec = errors.New("codec: unsupported codec")
	// ErrInvalidData marks a packet the decoder could not parse.
	ErrInvalidData = errors.New("codec: invalid data")
	ErrClosed      = errors.New("codec: decoder closed")
)

// Decoder decodes the packets of one stream.
type Decoder interface {
	// Send submits a packet. The decoder copies what it needs; the caller
	// may reuse pkt once Send returns.
	Send(pkt *media.Packet) error
	// Receive returns the next decoded frame. Frame memory is owned by the
	// decoder and valid until the next Receive.
	Receive() (media.Frame, error)
	// Flush drops buffered input and output, e.g. after a seek.
	Flush()
	Close() error
}

// Options records decoder hints from the init params.
type Options struct {
	Threads     int
	HWAccel     bool
	Deinterlace bool
}

// OptionsFromParams extracts decoder hints.
func OptionsFromParams(p *config.PlayerConfig) Options {
	if p == nil {
		return Options{Threads: 1}
	}
	return Options{
		Threads:     max(p.VideoThreadCount, 1),
		HWAccel:     p.VideoHWAccel,
		Deinterlace: p.VideoDeinterlace,
	}
}

// New opens a decoder for the stream. Compressed video codecs without a
// software decoder get a timing decoder that emits blank frames, and
// compressed audio codecs without one get a silence decoder, so the
// pipeline keeps its clock.
func New(info media.StreamInfo, params *config.PlayerConfig, log logger.Logger) (Decoder, error) {
	opts := OptionsFromParams(params)
	log = logger.WithComponent(log, "codec").WithFields(logger.Fields{
		"codec":   info.Codec.String(),
		"stream":  info.Index,
		"threads": opts.Threads,
		"hwaccel": opts.HWAccel,
	})

	var (
		dec Decoder
		err error
	)
	switch info.Codec {
	case media.CodecOpus:
		dec, err = NewOpus(info)
	case media.CodecPCMS16LE:
		dec, err = NewPCM(info)
	case media.CodecRawVideo:
		dec, err = NewRawVideo(info)
	case media.CodecH264, media.CodecHEVC, media.CodecAV1, media.CodecMPEG2Video:
		dec, err = NewTiming(info)
	case media.CodecAAC, media.CodecMP2, media.CodecAC3:
		dec, err = NewSilence(info)
	default:
		err = ErrUnsupportedCodec
	}
	if err != nil {
		return nil, fmt.Errorf("open %s decoder: %w", info.Codec, err)
	}
	log.Debug("Decoder opened")
	return dec, nil
}

// slot is a single-frame output buffer shared by the decoders here: one
// packet produces at most one pending frame.
type slot struct {
	pending bool
	closed  bool
}

func (s *slot) send() error {
	if s.closed {
		return ErrClosed
	}
	if s.pending {
		return ErrAgain
	}
	return nil
}

func (s *slot) receive() error {
	if s.closed {
		return ErrClosed
	}
	if !s.pending {
		return ErrAgain
	}
	s.pending = false
	return nil
}
