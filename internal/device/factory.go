package device

import (
	"fmt"
	"os"
	"strings"

	"github.com/zsiec/playback/internal/clock"
	"github.com/zsiec/playback/internal/logger"
)

// NewAudio creates the audio sink named by kind:
//
//	null       discard samples, clocked in real time
//	raw:<path> write S16LE stereo 48 kHz samples to path ("-" for stdout)
func NewAudio(kind string, clk *clock.Clock, log logger.Logger) (AudioSink, error) {
	name, arg, _ := strings.Cut(kind, ":")
	switch name {
	case "", "null":
		return NewNullAudio(0, 0, true, clk, log), nil
	case "raw":
		if arg == "" {
			return nil, fmt.Errorf("%w: raw audio needs a path", ErrUnknownRenderer)
		}
		var out *os.File
		if arg == "-" {
			out = os.Stdout
		} else {
			f, err := os.Create(arg)
			if err != nil {
				return nil, fmt.Errorf("open raw audio output: %w", err)
			}
			out = f
		}
		w := &WriterOutput{W: out, Realtime: true}
		if out == os.Stdout {
			w.W = nopCloser{out}
		}
		return NewAudioBase(w, 0, 0, clk, log), nil
	}
	return nil, fmt.Errorf("%w: audio %q", ErrUnknownRenderer, kind)
}

// NewVideo creates the video sink named by kind. Only the in-memory
// surface is built in.
func NewVideo(kind string, opts VideoOptions, clk *clock.Clock, log logger.Logger) (VideoSink, error) {
	switch kind {
	case "", "memory", "null":
		return NewMemoryVideo(opts, clk, log), nil
	}
	return nil, fmt.Errorf("%w: video %q", ErrUnknownRenderer, kind)
}

type nopCloser struct{ *os.File }

func (nopCloser) Close() error { return nil }
