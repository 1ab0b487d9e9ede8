package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zsiec/playback/internal/media"
)

const (
	// scanChunk is how much of the file is inspected per timestamp probe.
	scanChunk = 1024 * PacketSize
	// tailScan is how much of the file end is scanned for the last PTS.
	tailScan = 4096 * PacketSize
	// seekSteps bounds the bisection when seeking.
	seekSteps = 32
	// seekSlack is how far before the target the bisection aims, so the
	// decoders can run up to it.
	seekSlack = 500
)

// FileDemuxer reads MPEG-TS from a local file.
type FileDemuxer struct {
	*tsDemuxer

	f        *os.File
	path     string
	size     int64
	syncOff  int64
	primary  uint16
	first    int64
	last     int64
	duration int64
	closed   bool
}

// OpenFile opens and probes a transport stream file.
func OpenFile(ctx context.Context, path string, opts Options) (*FileDemuxer, error) {
	opts = opts.withDefaults()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	d := &FileDemuxer{
		tsDemuxer: newTSDemuxer(f, false, opts.Logger.WithField("source", "file")),
		f:         f,
		path:      path,
		size:      st.Size(),
		first:     -1,
		last:      -1,
	}
	if err := d.probe(ctx, opts.ProbeSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to probe %s: %w", path, err)
	}
	d.primary = d.primaryPID()
	d.syncOff = d.findSync()
	d.scanBounds()

	d.log.WithField("path", path).
		WithField("streams", len(d.streams)).
		WithField("duration_ms", d.duration).
		Info("Opened file source")
	return d, nil
}

// primaryPID picks the stream timestamps are scanned on: video when present.
func (d *FileDemuxer) primaryPID() uint16 {
	var pid uint16
	for _, s := range d.order {
		if s.info.Kind == media.StreamVideo {
			return s.pid
		}
		if pid == 0 {
			pid = s.pid
		}
	}
	return pid
}

func (d *FileDemuxer) findSync() int64 {
	buf := make([]byte, 3*PacketSize)
	n, _ := d.f.ReadAt(buf, 0)
	for i := 0; i+2*PacketSize < n; i++ {
		if buf[i] == SyncByte && buf[i+PacketSize] == SyncByte && buf[i+2*PacketSize] == SyncByte {
			return int64(i)
		}
	}
	return 0
}

func (d *FileDemuxer) align(off int64) int64 {
	if off <= d.syncOff {
		return d.syncOff
	}
	return d.syncOff + (off-d.syncOff)/PacketSize*PacketSize
}

// scanBounds finds the first and last timestamps of the primary stream.
func (d *FileDemuxer) scanBounds() {
	if pts, ok := d.ptsAt(d.syncOff, false); ok {
		d.first = pts
	}
	tail := max(d.syncOff, d.align(d.size-tailScan))
	if pts, ok := d.ptsAt(tail, true); ok {
		d.last = pts
	}
	if d.first >= 0 && d.last > d.first {
		d.duration = d.last - d.first
	}
	if d.first >= 0 && (d.startTime < 0 || d.first < d.startTime) {
		d.startTime = d.first
	}
}

// ptsAt returns the first (or, when last is set, the final) PES timestamp
// of the primary stream in the chunk at off, in milliseconds.
func (d *FileDemuxer) ptsAt(off int64, last bool) (int64, bool) {
	size := int64(scanChunk)
	if last {
		size = tailScan
	}
	buf := make([]byte, size)
	n, err := d.f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, false
	}
	buf = buf[:n]

	var pkt tsPacket
	found := false
	var result int64
	for i := 0; i+PacketSize <= len(buf); {
		if buf[i] != SyncByte {
			i++
			continue
		}
		if parseTSPacket(buf[i:i+PacketSize], &pkt) == nil &&
			pkt.pid == d.primary && pkt.payloadStart && pkt.hasPayload {
			if h, err := parsePESHeader(pkt.payload); err == nil && h.hasPTS {
				result = media.ToMillis(h.pts, media.TimeBase90kHz)
				found = true
				if !last {
					break
				}
			}
		}
		i += PacketSize
	}
	return result, found
}

func (d *FileDemuxer) Duration() int64 { return d.duration }

// Seek positions the file so the next packets start at or before ms. It
// bisects on byte offsets, starting from a byte-rate estimate, comparing
// the first primary-stream timestamp found at each probe point.
func (d *FileDemuxer) Seek(ms int64) error {
	if d.closed {
		return ErrClosed
	}
	target := ms - seekSlack
	off := d.syncOff

	if d.first >= 0 && target > d.first {
		lo, hi := d.syncOff, d.size
		guess := int64(-1)
		if d.duration > 0 {
			guess = d.align(d.syncOff + (target-d.first)*(d.size-d.syncOff)/d.duration)
		}
		for step := 0; step < seekSteps && hi-lo > scanChunk; step++ {
			mid := d.align((lo + hi) / 2)
			if guess > lo && guess < hi {
				mid, guess = guess, -1
			}
			pts, ok := d.ptsAt(mid, false)
			if ok && pts <= target {
				lo = mid
			} else {
				hi = mid
			}
		}
		off = lo
	}

	if _, err := d.f.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek %s: %w", d.path, err)
	}
	d.scan.reset(d.f, off)
	d.discard()
	d.log.WithField("target_ms", ms).WithField("offset", off).Debug("Seeked file source")
	return nil
}

// Close releases the file.
func (d *FileDemuxer) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.f.Close()
}
