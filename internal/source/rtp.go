package source

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/zsiec/playback/internal/logger"
	"github.com/zsiec/playback/internal/media"
)

// H.264 RTP payload structures (RFC 6184)
const (
	nalTypeSTAPA = 24
	nalTypeFUA   = 28

	maxNALUnitSize = 4 << 20
)

// h264Depacketizer reassembles NAL units from RTP payloads.
type h264Depacketizer struct {
	fragment []byte
	lastSeq  uint16
	started  bool
}

// depacketize returns the complete NAL units carried by p, without start
// codes.
func (d *h264Depacketizer) depacketize(p *rtp.Packet) ([][]byte, error) {
	payload := p.Payload
	if len(payload) < 1 {
		return nil, errors.New("payload too short")
	}
	seq := p.SequenceNumber
	lost := d.started && seq != d.lastSeq+1
	d.lastSeq, d.started = seq, true

	switch t := payload[0] & 0x1F; {
	case t >= 1 && t <= 23:
		return [][]byte{payload}, nil

	case t == nalTypeSTAPA:
		var nalus [][]byte
		for off := 1; off+2 <= len(payload); {
			size := int(binary.BigEndian.Uint16(payload[off:]))
			off += 2
			if size == 0 {
				continue
			}
			if off+size > len(payload) {
				return nalus, fmt.Errorf("STAP-A NAL unit out of bounds: offset=%d, size=%d, available=%d",
					off, size, len(payload)-off)
			}
			nalus = append(nalus, payload[off:off+size])
			off += size
		}
		return nalus, nil

	case t == nalTypeFUA:
		if len(payload) < 3 {
			return nil, nil
		}
		fuHeader := payload[1]
		start, end := fuHeader&0x80 != 0, fuHeader&0x40 != 0
		if start {
			d.fragment = append(d.fragment[:0], payload[0]&0xE0|fuHeader&0x1F)
		} else if lost || len(d.fragment) == 0 {
			// Packet loss mid-fragment: drop the partial NAL unit.
			d.fragment = d.fragment[:0]
			return nil, nil
		}
		if len(d.fragment)+len(payload)-2 > maxNALUnitSize {
			d.fragment = d.fragment[:0]
			return nil, errors.New("fragmented NAL unit too large")
		}
		d.fragment = append(d.fragment, payload[2:]...)
		if !end {
			return nil, nil
		}
		nalu := append([]byte(nil), d.fragment...)
		d.fragment = d.fragment[:0]
		return [][]byte{nalu}, nil

	default:
		return nil, fmt.Errorf("unsupported NAL type: %d", t)
	}
}

func (d *h264Depacketizer) reset() {
	d.fragment = d.fragment[:0]
	d.started = false
}

// rtpStream maps one payload type to an elementary stream.
type rtpStream struct {
	pt   uint8
	info media.StreamInfo

	h264 *h264Depacketizer
	au   []byte
	auTS uint32

	haveBase bool
	baseTS   uint32
	lastTS   uint32
	cycles   int64
}

// timestamp returns ts relative to the first packet, unwrapped.
func (s *rtpStream) timestamp(ts uint32) int64 {
	if !s.haveBase {
		s.haveBase = true
		s.baseTS, s.lastTS = ts, ts
	}
	if ts < s.lastTS && s.lastTS-ts > 1<<31 {
		s.cycles++
	}
	s.lastTS = ts
	return s.cycles<<32 + int64(ts) - int64(s.baseTS)
}

// parseRTPStream parses "pt:codec[/rate[/channels]]".
func parseRTPStream(spec string, kind media.StreamKind) (*rtpStream, error) {
	ptStr, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, fmt.Errorf("invalid RTP stream %q", spec)
	}
	pt, err := strconv.Atoi(ptStr)
	if err != nil || pt < 0 || pt > 127 {
		return nil, fmt.Errorf("invalid payload type in %q", spec)
	}
	parts := strings.Split(strings.ToLower(rest), "/")

	s := &rtpStream{pt: uint8(pt)}
	s.info.Kind = kind
	switch parts[0] {
	case "h264":
		s.info.Codec = media.CodecH264
		s.info.PixelFormat = media.PixelFormatYUV420P
		s.h264 = &h264Depacketizer{}
	case "opus":
		s.info.Codec = media.CodecOpus
		s.info.SampleRate, s.info.Channels = 48000, 2
	case "l16":
		s.info.Codec = media.CodecPCMS16LE
		s.info.SampleRate, s.info.Channels = 44100, 2
	default:
		return nil, fmt.Errorf("unsupported RTP codec %q", parts[0])
	}
	if s.info.Codec.IsVideo() != (kind == media.StreamVideo) {
		return nil, fmt.Errorf("codec %s is not a %s codec", parts[0], kind)
	}
	if len(parts) > 1 {
		if rate, err := strconv.Atoi(parts[1]); err == nil && rate > 0 {
			s.info.SampleRate = rate
		}
	}
	if len(parts) > 2 {
		if ch, err := strconv.Atoi(parts[2]); err == nil && ch > 0 {
			s.info.Channels = ch
		}
	}
	s.info.SampleFormat = media.SampleFormatS16

	clock := s.info.SampleRate
	if kind == media.StreamVideo {
		clock = 90000
	}
	s.info.TimeBase = media.Rational{Num: 1, Den: clock}
	return s, nil
}

// RTPDemuxer receives RTP over UDP. Streams are declared in the location,
// e.g. rtp://:5004?video=96:h264&audio=111:opus; without declarations it
// expects H.264 on 96 and Opus on 111.
type RTPDemuxer struct {
	conn    *net.UDPConn
	timeout time.Duration
	log     logger.Logger

	streams []*rtpStream
	infos   []media.StreamInfo
	byPT    map[uint8]int

	buf     []byte
	pkt     rtp.Packet
	pending []media.Packet

	closeOnce sync.Once
	closeErr  error
}

// OpenRTP listens on u.Host and waits, bounded by the context, for the
// first RTP packet.
func OpenRTP(ctx context.Context, u *url.URL, opts Options) (*RTPDemuxer, error) {
	opts = opts.withDefaults()
	d := &RTPDemuxer{
		timeout: opts.ReadTimeout,
		log:     opts.Logger.WithField("source", "rtp"),
		byPT:    make(map[uint8]int),
		buf:     make([]byte, maxDatagram),
	}

	q := u.Query()
	videos, audios := q["video"], q["audio"]
	if len(videos) == 0 && len(audios) == 0 {
		videos, audios = []string{"96:h264"}, []string{"111:opus"}
	}
	for _, spec := range videos {
		if err := d.addStream(spec, media.StreamVideo); err != nil {
			return nil, err
		}
	}
	for _, spec := range audios {
		if err := d.addStream(spec, media.StreamAudio); err != nil {
			return nil, err
		}
	}

	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", u.Host, err)
	}
	if addr.IP != nil && addr.IP.IsMulticast() {
		d.conn, err = net.ListenMulticastUDP("udp", nil, addr)
	} else {
		d.conn, err = net.ListenUDP("udp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", u.Host, err)
	}

	_ = d.conn.SetReadDeadline(deadline(ctx, opts.InitTimeout))
	n, err := d.conn.Read(d.buf)
	if err != nil {
		d.conn.Close()
		return nil, fmt.Errorf("no RTP packets on %s: %w", u.Host, err)
	}
	d.handle(d.buf[:n])

	d.log.WithField("addr", d.conn.LocalAddr().String()).
		WithField("streams", len(d.infos)).
		Info("Opened RTP source")
	return d, nil
}

func (d *RTPDemuxer) addStream(spec string, kind media.StreamKind) error {
	s, err := parseRTPStream(spec, kind)
	if err != nil {
		return err
	}
	if _, dup := d.byPT[s.pt]; dup {
		return fmt.Errorf("duplicate RTP payload type %d", s.pt)
	}
	s.info.Index = len(d.streams)
	d.byPT[s.pt] = len(d.streams)
	d.streams = append(d.streams, s)
	d.infos = append(d.infos, s.info)
	return nil
}

func (d *RTPDemuxer) Streams() []media.StreamInfo { return d.infos }
func (d *RTPDemuxer) Duration() int64             { return 0 }
func (d *RTPDemuxer) StartTime() int64            { return 0 }
func (d *RTPDemuxer) Live() bool                  { return true }
func (d *RTPDemuxer) Seek(int64) error            { return ErrNotSeekable }

// ReadPacket returns the next access unit or audio frame.
func (d *RTPDemuxer) ReadPacket(pkt *media.Packet) error {
	for len(d.pending) == 0 {
		_ = d.conn.SetReadDeadline(time.Now().Add(d.timeout))
		n, err := d.conn.Read(d.buf)
		if err != nil {
			return err
		}
		d.handle(d.buf[:n])
	}
	p := d.pending[0]
	d.pending = d.pending[1:]
	pkt.SetData(p.Data)
	pkt.Kind = p.Kind
	pkt.StreamIndex = p.StreamIndex
	pkt.PTS = p.PTS
	pkt.DTS = p.DTS
	pkt.Keyframe = p.Keyframe
	return nil
}

// handle depacketizes one datagram into zero or more pending packets.
func (d *RTPDemuxer) handle(b []byte) {
	if err := d.pkt.Unmarshal(b); err != nil {
		d.log.WithError(err).Debug("Dropping malformed RTP packet")
		return
	}
	i, ok := d.byPT[d.pkt.PayloadType]
	if !ok {
		return
	}
	s := d.streams[i]

	switch s.info.Codec {
	case media.CodecH264:
		if len(s.au) > 0 && d.pkt.Timestamp != s.auTS {
			d.emitAU(s)
		}
		nalus, err := s.h264.depacketize(&d.pkt)
		if err != nil {
			d.log.WithError(err).Debug("H.264 depacketization failed")
		}
		for _, n := range nalus {
			s.au = appendNALU(s.au, n)
		}
		s.auTS = d.pkt.Timestamp
		if d.pkt.Marker && len(s.au) > 0 {
			d.emitAU(s)
		}
	case media.CodecPCMS16LE:
		// L16 is big-endian on the wire.
		data := make([]byte, len(d.pkt.Payload)&^1)
		for j := 0; j+1 < len(data); j += 2 {
			data[j], data[j+1] = d.pkt.Payload[j+1], d.pkt.Payload[j]
		}
		d.push(s, data, s.timestamp(d.pkt.Timestamp), true)
	default:
		d.push(s, append([]byte(nil), d.pkt.Payload...), s.timestamp(d.pkt.Timestamp), true)
	}
}

func (d *RTPDemuxer) emitAU(s *rtpStream) {
	au := append([]byte(nil), s.au...)
	s.au = s.au[:0]
	if s.info.Width == 0 {
		if sps := h264FindSPS(au); sps != nil {
			if w, h, err := h264Size(sps); err == nil {
				s.info.Width, s.info.Height = w, h
				d.infos[s.info.Index].Width, d.infos[s.info.Index].Height = w, h
			}
		}
	}
	d.push(s, au, s.timestamp(s.auTS), h264Keyframe(au))
}

func (d *RTPDemuxer) push(s *rtpStream, data []byte, ts int64, key bool) {
	d.pending = append(d.pending, media.Packet{
		Data:        data,
		Kind:        s.info.Kind,
		StreamIndex: s.info.Index,
		PTS:         ts,
		DTS:         ts,
		Keyframe:    key,
	})
}

// Close stops receiving. Safe to call more than once.
func (d *RTPDemuxer) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.conn.Close()
	})
	return d.closeErr
}

var _ Demuxer = (*RTPDemuxer)(nil)
