// Package source opens media sources and demultiplexes them into encoded
// packets for the player.
//
// Supported locations:
//
//	/path/to/file.ts, file:///path/to/file.ts   MPEG-TS file, seekable
//	udp://host:port                             MPEG-TS over UDP, live
//	srt://host:port?streamid=...&latency=...    MPEG-TS over SRT (caller), live
//	rtp://host:port?video=96:h264&audio=111:opus RTP over UDP, live
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/zsiec/playback/internal/config"
	"github.com/zsiec/playback/internal/logger"
	"github.com/zsiec/playback/internal/media"
)

var (
	// ErrEOF is returned by ReadPacket once a finite source is exhausted.
	ErrEOF = errors.New("source: end of stream")
	// ErrNotSeekable is returned by Seek on live sources.
	ErrNotSeekable = errors.New("source: not seekable")
	// ErrUnsupportedScheme is returned by Open for unknown URL schemes.
	ErrUnsupportedScheme = errors.New("source: unsupported scheme")
	// ErrNoStreams is returned when probing finds no playable stream.
	ErrNoStreams = errors.New("source: no playable streams")
	// ErrClosed is returned by operations on a closed demuxer.
	ErrClosed = errors.New("source: closed")
)

// Demuxer splits a container into elementary stream packets. Packet
// timestamps are expressed in the TimeBase of the stream they belong to.
type Demuxer interface {
	Streams() []media.StreamInfo
	// ReadPacket fills pkt with the next packet. It returns ErrEOF at the
	// end of a finite source and a timeout error when a live source stalls.
	ReadPacket(pkt *media.Packet) error
	// Seek repositions the source near ms on the session timeline.
	Seek(ms int64) error
	// Duration returns the length in milliseconds, or 0 when unknown.
	Duration() int64
	// StartTime returns the first presentation time in milliseconds.
	StartTime() int64
	Live() bool
	Close() error
}

// Opener opens a demuxer for a location. The player accepts a custom
// Opener so hosts can feed in their own sources.
type Opener func(ctx context.Context, location string, opts Options) (Demuxer, error)

const (
	DefaultInitTimeout = 5 * time.Second
	DefaultReadTimeout = 5 * time.Second
	// DefaultProbeSize bounds how many bytes are inspected while probing.
	DefaultProbeSize = 2 << 20
)

// Options configure how a source is opened.
type Options struct {
	// InitTimeout bounds connection setup and probing.
	InitTimeout time.Duration
	// ReadTimeout bounds a single read on network sources.
	ReadTimeout time.Duration
	// Transport is a hint for sources with more than one transport.
	Transport string
	ProbeSize int
	Logger    logger.Logger
}

// OptionsFromParams derives source options from the session init params.
func OptionsFromParams(p *config.PlayerConfig, log logger.Logger) Options {
	opts := Options{
		InitTimeout: p.InitTimeout,
		ReadTimeout: p.InitTimeout,
		Transport:   p.RTSPTransport,
		Logger:      log,
	}
	if p.AutoReconnect > 0 {
		opts.ReadTimeout = p.AutoReconnect
	}
	return opts.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.InitTimeout <= 0 {
		o.InitTimeout = DefaultInitTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.ProbeSize <= 0 {
		o.ProbeSize = DefaultProbeSize
	}
	o.Logger = logger.OrNull(o.Logger)
	return o
}

// Open dispatches on the location's scheme.
func Open(ctx context.Context, location string, opts Options) (Demuxer, error) {
	opts = opts.withDefaults()

	scheme, rest := "", location
	if i := strings.Index(location, "://"); i > 0 {
		scheme = strings.ToLower(location[:i])
		rest = location[i+3:]
	}

	ctx, cancel := context.WithTimeout(ctx, opts.InitTimeout)
	defer cancel()

	switch scheme {
	case "", "file":
		return asDemuxer(OpenFile(ctx, rest, opts))
	case "udp":
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("invalid location %q: %w", location, err)
		}
		return asDemuxer(OpenUDP(ctx, u, opts))
	case "srt":
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("invalid location %q: %w", location, err)
		}
		return asDemuxer(OpenSRT(ctx, u, opts))
	case "rtp":
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("invalid location %q: %w", location, err)
		}
		return asDemuxer(OpenRTP(ctx, u, opts))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
}

// asDemuxer keeps a typed nil from leaking into the interface.
func asDemuxer[T Demuxer](d T, err error) (Demuxer, error) {
	if err != nil {
		return nil, err
	}
	return d, nil
}

// FirstStream returns the index into streams of the sel-th stream of kind,
// falling back to the last stream of that kind when sel is out of range
// and to the first one when sel is negative. It returns -1 when there is
// none.
func FirstStream(streams []media.StreamInfo, kind media.StreamKind, sel int) int {
	idx, cur := -1, -1
	for i, s := range streams {
		if s.Kind != kind {
			continue
		}
		idx = i
		cur++
		if sel < 0 || cur == sel {
			break
		}
	}
	return idx
}

// CountStreams returns the number of streams of kind.
func CountStreams(streams []media.StreamInfo, kind media.StreamKind) int {
	n := 0
	for _, s := range streams {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// deadline returns the earlier of the context deadline and now+d.
func deadline(ctx context.Context, d time.Duration) time.Time {
	t := time.Now().Add(d)
	if dl, ok := ctx.Deadline(); ok && dl.Before(t) {
		return dl
	}
	return t
}
