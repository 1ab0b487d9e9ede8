package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	srt "github.com/datarhei/gosrt"
)

// maxDatagram is large enough for any UDP payload.
const maxDatagram = 64 * 1024

// deadlineReader is a message-oriented connection with read deadlines.
type deadlineReader interface {
	io.ReadCloser
	SetReadDeadline(t time.Time) error
}

// datagramReader turns a message-oriented connection into a byte stream.
// Each underlying read is given a fresh deadline so a stalled peer surfaces
// as a timeout error instead of a blocked goroutine.
type datagramReader struct {
	conn    deadlineReader
	timeout time.Duration
	buf     []byte
	data    []byte
	until   time.Time
}

func newDatagramReader(conn deadlineReader, timeout time.Duration) *datagramReader {
	return &datagramReader{conn: conn, timeout: timeout, buf: make([]byte, maxDatagram)}
}

func (r *datagramReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		dl := time.Now().Add(r.timeout)
		if !r.until.IsZero() && r.until.Before(dl) {
			dl = r.until
		}
		_ = r.conn.SetReadDeadline(dl)
		n, err := r.conn.Read(r.buf)
		if n == 0 {
			if err == nil {
				err = io.ErrNoProgress
			}
			return 0, err
		}
		r.data = r.buf[:n]
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

// StreamDemuxer reads MPEG-TS from a live network connection.
type StreamDemuxer struct {
	*tsDemuxer

	reader    *datagramReader
	conn      io.Closer
	closeOnce sync.Once
	closeErr  error
}

func openStream(ctx context.Context, kind string, conn deadlineReader, opts Options) (*StreamDemuxer, error) {
	r := newDatagramReader(conn, opts.ReadTimeout)
	if dl, ok := ctx.Deadline(); ok {
		r.until = dl
	}
	d := &StreamDemuxer{
		tsDemuxer: newTSDemuxer(r, true, opts.Logger.WithField("source", kind)),
		reader:    r,
		conn:      conn,
	}
	if err := d.probe(ctx, opts.ProbeSize); err != nil {
		conn.Close()
		return nil, err
	}
	r.until = time.Time{}
	d.log.WithField("streams", len(d.streams)).Info("Opened live source")
	return d, nil
}

// Duration is unknown for live sources.
func (d *StreamDemuxer) Duration() int64 { return 0 }

// Seek is not supported on live sources; the player reconnects instead.
func (d *StreamDemuxer) Seek(int64) error { return ErrNotSeekable }

// Close closes the connection. Safe to call more than once.
func (d *StreamDemuxer) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.conn.Close()
	})
	return d.closeErr
}

// OpenUDP listens for MPEG-TS datagrams on u.Host. Multicast groups are
// joined on the default interface.
func OpenUDP(ctx context.Context, u *url.URL, opts Options) (*StreamDemuxer, error) {
	opts = opts.withDefaults()
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", u.Host, err)
	}

	var conn *net.UDPConn
	if addr.IP != nil && addr.IP.IsMulticast() {
		conn, err = net.ListenMulticastUDP("udp", nil, addr)
	} else {
		conn, err = net.ListenUDP("udp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", u.Host, err)
	}
	if size, err := strconv.Atoi(u.Query().Get("buffer_size")); err == nil && size > 0 {
		_ = conn.SetReadBuffer(size)
	}

	d, err := openStream(ctx, "udp", conn, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", u.Redacted(), err)
	}
	return d, nil
}

// srtConfig builds the caller configuration from the URL query:
// streamid, latency (ms), passphrase and payload_size.
func srtConfig(u *url.URL, opts Options) srt.Config {
	cfg := srt.DefaultConfig()
	q := u.Query()

	if id := q.Get("streamid"); id != "" {
		cfg.StreamId = id
	}
	if ms, err := strconv.Atoi(q.Get("latency")); err == nil && ms > 0 {
		cfg.Latency = time.Duration(ms) * time.Millisecond
	}
	if pass := q.Get("passphrase"); pass != "" {
		cfg.Passphrase = pass
	}
	if size, err := strconv.Atoi(q.Get("payload_size")); err == nil && size > 0 {
		cfg.PayloadSize = uint32(size)
	}
	cfg.ConnectionTimeout = opts.InitTimeout
	return cfg
}

// OpenSRT connects to an SRT listener in caller mode and demuxes the
// MPEG-TS it carries.
func OpenSRT(ctx context.Context, u *url.URL, opts Options) (*StreamDemuxer, error) {
	opts = opts.withDefaults()
	cfg := srtConfig(u, opts)

	type result struct {
		conn srt.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := srt.Dial("srt", u.Host, cfg)
		done <- result{conn, err}
	}()

	var conn srt.Conn
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", u.Host, r.err)
		}
		conn = r.conn
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("failed to connect to %s: %w", u.Host, ctx.Err())
	}

	d, err := openStream(ctx, "srt", conn, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", u.Host, err)
	}
	d.log.WithField("stream_id", cfg.StreamId).Debug("SRT caller connected")
	return d, nil
}

var (
	_ Demuxer = (*StreamDemuxer)(nil)
	_ Demuxer = (*FileDemuxer)(nil)
)
