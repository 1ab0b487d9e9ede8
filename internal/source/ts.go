package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/playback/internal/logger"
	"github.com/zsiec/playback/internal/media"
)

const (
	// MPEG-TS constants
	PacketSize = 188
	SyncByte   = 0x47
	MaxPID     = 8191

	pidPAT  = 0x0000
	pidNull = 0x1FFF

	// maxResync bounds the bytes skipped looking for a sync byte.
	maxResync = 64 * PacketSize
	// maxPESSize drops runaway PES assembly on broken streams.
	maxPESSize = 8 << 20

	ptsWrap = int64(1) << 33
)

var errLostSync = errors.New("lost MPEG-TS sync")

// tsPacket is a parsed transport packet header plus its payload.
type tsPacket struct {
	pid          uint16
	payloadStart bool
	hasPayload   bool
	randomAccess bool
	continuity   uint8
	payload      []byte
}

// parseTSPacket parses a single 188-byte transport packet.
func parseTSPacket(data []byte, pkt *tsPacket) error {
	if len(data) != PacketSize {
		return fmt.Errorf("invalid packet size: %d", len(data))
	}
	if data[0] != SyncByte {
		return errors.New("missing sync byte")
	}
	if data[1]&0x80 != 0 {
		return errors.New("transport error indicator set")
	}

	*pkt = tsPacket{
		pid:          uint16(data[1]&0x1F)<<8 | uint16(data[2]),
		payloadStart: data[1]&0x40 != 0,
		continuity:   data[3] & 0x0F,
	}

	afc := (data[3] >> 4) & 0x03
	pkt.hasPayload = afc&0x01 != 0

	offset := 4
	if afc&0x02 != 0 {
		afLen := int(data[offset])
		offset++
		if afLen > 0 && offset < PacketSize {
			pkt.randomAccess = data[offset]&0x40 != 0
		}
		offset += afLen
	}

	if pkt.hasPayload && offset < PacketSize {
		pkt.payload = data[offset:]
	} else {
		pkt.hasPayload = false
	}
	return nil
}

// pesHeader is the part of a PES header the demuxer uses.
type pesHeader struct {
	streamID   byte
	length     int // bytes of payload following the header, 0 when unbounded
	hasPTS     bool
	hasDTS     bool
	pts        int64
	dts        int64
	dataOffset int
}

// parsePESHeader extracts PTS/DTS from the start of a PES packet.
func parsePESHeader(b []byte) (pesHeader, error) {
	var h pesHeader
	if len(b) < 9 {
		return h, errors.New("PES header too short")
	}
	if b[0] != 0x00 || b[1] != 0x00 || b[2] != 0x01 {
		return h, errors.New("invalid PES start code")
	}
	h.streamID = b[3]
	pesLen := int(b[4])<<8 | int(b[5])

	switch h.streamID {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xFF, 0xF2, 0xF8:
		// No optional header on these stream ids.
		h.dataOffset = 6
		h.length = pesLen
		return h, nil
	}

	hdrLen := int(b[8])
	h.dataOffset = 9 + hdrLen
	if h.dataOffset > len(b) {
		return h, errors.New("PES header extends past packet")
	}
	if pesLen > 0 {
		h.length = pesLen - 3 - hdrLen
	}

	flags := (b[7] >> 6) & 0x03
	if flags&0x02 != 0 {
		if len(b) < 14 {
			return h, errors.New("PES payload too short for PTS")
		}
		h.pts = readTimestamp(b[9:])
		h.hasPTS = true
		if flags&0x01 != 0 {
			if len(b) < 19 {
				return h, errors.New("PES payload too short for DTS")
			}
			h.dts = readTimestamp(b[14:])
			h.hasDTS = true
		}
	}
	return h, nil
}

// readTimestamp decodes a 33-bit PES timestamp from 5 bytes.
func readTimestamp(b []byte) int64 {
	return int64(b[0]&0x0E)<<29 |
		int64(b[1])<<22 |
		int64(b[2]&0xFE)<<14 |
		int64(b[3])<<7 |
		int64(b[4])>>1
}

// psiSection returns the section following the pointer field.
func psiSection(payload []byte, tableID byte) ([]byte, bool) {
	if len(payload) == 0 {
		return nil, false
	}
	offset := int(payload[0]) + 1
	if offset >= len(payload) {
		return nil, false
	}
	data := payload[offset:]
	if len(data) < 3 || data[0] != tableID {
		return nil, false
	}
	sectionLen := int(uint16(data[1]&0x0F)<<8 | uint16(data[2]))
	if len(data) < sectionLen+3 {
		return nil, false
	}
	return data[:sectionLen+3], true
}

// parsePAT returns the PMT PID of the first non-zero program.
func parsePAT(payload []byte) (uint16, bool) {
	data, ok := psiSection(payload, 0x00)
	if !ok || len(data) < 12 {
		return 0, false
	}
	end := len(data) - 4 // CRC
	for i := 8; i+4 <= end; i += 4 {
		program := uint16(data[i])<<8 | uint16(data[i+1])
		pid := (uint16(data[i+2])&0x1F)<<8 | uint16(data[i+3])
		if program != 0 {
			return pid, true
		}
	}
	return 0, false
}

// pmtEntry is one elementary stream of a PMT.
type pmtEntry struct {
	pid        uint16
	streamType uint8
	codec      media.CodecType
	kind       media.StreamKind
}

// parsePMT lists the elementary streams of a program.
func parsePMT(payload []byte) ([]pmtEntry, bool) {
	data, ok := psiSection(payload, 0x02)
	if !ok || len(data) < 16 {
		return nil, false
	}
	infoLen := int(uint16(data[10]&0x0F)<<8 | uint16(data[11]))
	end := len(data) - 4
	var entries []pmtEntry
	for i := 12 + infoLen; i+5 <= end; {
		streamType := data[i]
		pid := (uint16(data[i+1])&0x1F)<<8 | uint16(data[i+2])
		esInfoLen := int(uint16(data[i+3]&0x0F)<<8 | uint16(data[i+4]))
		var desc []byte
		if i+5+esInfoLen <= end {
			desc = data[i+5 : i+5+esInfoLen]
		}
		codec := streamCodec(streamType, desc)
		if codec != media.CodecUnknown {
			kind := media.StreamAudio
			if codec.IsVideo() {
				kind = media.StreamVideo
			}
			entries = append(entries, pmtEntry{pid: pid, streamType: streamType, codec: codec, kind: kind})
		}
		i += 5 + esInfoLen
	}
	return entries, true
}

// streamCodec maps a PMT stream type, and for private streams the ES
// descriptors, to a codec.
func streamCodec(streamType uint8, desc []byte) media.CodecType {
	switch streamType {
	case 0x01, 0x02: // MPEG-1/2 Video
		return media.CodecMPEG2Video
	case 0x1B: // H.264 Video
		return media.CodecH264
	case 0x24: // HEVC Video
		return media.CodecHEVC
	case 0x51: // AV1 Video
		return media.CodecAV1
	case 0x03, 0x04: // MPEG-1/2 Audio
		return media.CodecMP2
	case 0x0F, 0x11: // AAC Audio
		return media.CodecAAC
	case 0x81: // AC-3 Audio
		return media.CodecAC3
	case 0x06: // private data, identified by descriptors
		for off := 0; off+2 <= len(desc); {
			tag, n := desc[off], int(desc[off+1])
			if off+2+n > len(desc) {
				break
			}
			body := desc[off+2 : off+2+n]
			switch {
			case tag == 0x05 && n >= 4 && string(body[:4]) == "Opus":
				return media.CodecOpus
			case tag == 0x6A:
				return media.CodecAC3
			}
			off += 2 + n
		}
	}
	return media.CodecUnknown
}

// tsScanner yields aligned transport packets from a byte stream.
type tsScanner struct {
	r      *bufio.Reader
	buf    [PacketSize]byte
	offset int64
}

func newTSScanner(r io.Reader) *tsScanner {
	return &tsScanner{r: bufio.NewReaderSize(r, 64*PacketSize)}
}

func (s *tsScanner) reset(r io.Reader, offset int64) {
	s.r.Reset(r)
	s.offset = offset
}

func (s *tsScanner) next() ([]byte, error) {
	for skipped := 0; ; skipped++ {
		b, err := s.r.Peek(1)
		if err != nil {
			return nil, err
		}
		if b[0] == SyncByte {
			break
		}
		if skipped >= maxResync {
			return nil, errLostSync
		}
		if _, err := s.r.Discard(1); err != nil {
			return nil, err
		}
		s.offset++
	}
	if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	s.offset += PacketSize
	return s.buf[:], nil
}

// esStream assembles the PES packets of one elementary stream.
type esStream struct {
	pid   uint16
	index int
	info  *media.StreamInfo

	buf      []byte
	want     int
	pts      int64
	dts      int64
	keyframe bool
	active   bool

	// 33-bit unwrap state
	lastPTS int64
	wrap    int64
	units   int
}

func (s *esStream) unwrap(ts int64) int64 {
	if s.lastPTS >= 0 && ts+s.wrap < s.lastPTS-ptsWrap/2 {
		s.wrap += ptsWrap
	}
	ts += s.wrap
	s.lastPTS = ts
	return ts
}

func (s *esStream) reset() {
	s.buf = s.buf[:0]
	s.active = false
	s.want = 0
	s.keyframe = false
}

// pesUnit is a completed PES payload waiting to be handed out.
type pesUnit struct {
	stream   *esStream
	data     []byte
	pts      int64
	dts      int64
	keyframe bool
}

// tsDemuxer demultiplexes MPEG-TS from a scanner. The file, UDP and SRT
// sources all wrap one.
type tsDemuxer struct {
	scan *tsScanner
	live bool
	log  logger.Logger

	pmtPID  uint16
	hasPMT  bool
	streams []media.StreamInfo
	es      map[uint16]*esStream
	order   []*esStream
	queue   []pesUnit
	free    [][]byte

	startTime int64
	pkt       tsPacket
}

func newTSDemuxer(r io.Reader, live bool, log logger.Logger) *tsDemuxer {
	return &tsDemuxer{
		scan:      newTSScanner(r),
		live:      live,
		log:       logger.OrNull(log),
		es:        make(map[uint16]*esStream),
		startTime: -1,
	}
}

func (d *tsDemuxer) Streams() []media.StreamInfo { return d.streams }
func (d *tsDemuxer) Live() bool                  { return d.live }

// StartTime returns the first presentation time seen while probing.
func (d *tsDemuxer) StartTime() int64 {
	if d.startTime < 0 {
		return 0
	}
	return d.startTime
}

// probe reads until the program is known and every stream produced a unit,
// or until the probe budget or the context runs out. Units read while
// probing are replayed by ReadPacket.
func (d *tsDemuxer) probe(ctx context.Context, maxBytes int) error {
	var read int
	var videoPTS []int64
	for read < maxBytes {
		if err := ctx.Err(); err != nil {
			if d.hasPMT && len(d.streams) > 0 {
				break
			}
			return fmt.Errorf("probe: %w", err)
		}
		raw, err := d.scan.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.flush()
				break
			}
			if d.hasPMT && len(d.streams) > 0 {
				break
			}
			return fmt.Errorf("probe: %w", err)
		}
		read += PacketSize
		before := len(d.queue)
		d.feed(raw)
		for _, u := range d.queue[before:] {
			if u.stream.info.Kind == media.StreamVideo && u.pts != media.NoPTS && len(videoPTS) < 2 {
				videoPTS = append(videoPTS, u.pts)
			}
		}
		if d.probed() && len(videoPTS) >= 2 {
			break
		}
		if d.probed() && !d.hasVideo() {
			break
		}
	}
	if !d.hasPMT || len(d.streams) == 0 {
		return ErrNoStreams
	}

	for _, u := range d.queue {
		if u.stream.info.Codec == media.CodecH264 && u.stream.info.Width == 0 {
			if sps := h264FindSPS(u.data); sps != nil {
				if w, h, err := h264Size(sps); err == nil {
					u.stream.info.Width, u.stream.info.Height = w, h
				}
			}
		}
		if u.pts == media.NoPTS {
			continue
		}
		ms := media.ToMillis(u.pts, media.TimeBase90kHz)
		if d.startTime < 0 || ms < d.startTime {
			d.startTime = ms
		}
	}
	if len(videoPTS) == 2 && videoPTS[1] > videoPTS[0] {
		for i := range d.streams {
			if d.streams[i].Kind == media.StreamVideo && !d.streams[i].FrameRate.Valid() {
				d.streams[i].FrameRate = media.Rational{Num: 90000, Den: int(videoPTS[1] - videoPTS[0])}
			}
		}
	}
	return nil
}

func (d *tsDemuxer) hasVideo() bool {
	return CountStreams(d.streams, media.StreamVideo) > 0
}

func (d *tsDemuxer) probed() bool {
	if !d.hasPMT {
		return false
	}
	for _, s := range d.es {
		if s.units == 0 {
			return false
		}
	}
	return true
}

// feed processes one transport packet, queueing completed PES payloads.
func (d *tsDemuxer) feed(raw []byte) {
	pkt := &d.pkt
	if err := parseTSPacket(raw, pkt); err != nil {
		return
	}
	if pkt.pid == pidNull || !pkt.hasPayload {
		return
	}

	switch {
	case pkt.pid == pidPAT:
		if pkt.payloadStart && !d.hasPMT {
			if pid, ok := parsePAT(pkt.payload); ok {
				d.pmtPID = pid
			}
		}
		return
	case d.pmtPID != 0 && pkt.pid == d.pmtPID:
		if pkt.payloadStart && !d.hasPMT {
			d.parsePMT(pkt.payload)
		}
		return
	}

	s, ok := d.es[pkt.pid]
	if !ok {
		return
	}

	if pkt.payloadStart {
		if s.active && len(s.buf) > 0 {
			d.complete(s)
		}
		h, err := parsePESHeader(pkt.payload)
		if err != nil {
			s.reset()
			return
		}
		s.reset()
		s.active = true
		s.want = h.length
		s.keyframe = pkt.randomAccess
		s.pts, s.dts = media.NoPTS, media.NoPTS
		if h.hasPTS {
			s.pts = s.unwrap(h.pts)
			s.dts = s.pts
		}
		if h.hasDTS {
			s.dts = h.dts + s.wrap
		}
		s.buf = append(s.buf, pkt.payload[h.dataOffset:]...)
	} else if s.active {
		s.buf = append(s.buf, pkt.payload...)
		if len(s.buf) > maxPESSize {
			d.log.Warnf("dropping oversized PES on pid %d", s.pid)
			s.reset()
			return
		}
	} else {
		return
	}

	if s.want > 0 && len(s.buf) >= s.want {
		s.buf = s.buf[:s.want]
		d.complete(s)
	}
}

func (d *tsDemuxer) parsePMT(payload []byte) {
	entries, ok := parsePMT(payload)
	if !ok {
		return
	}
	d.hasPMT = true
	d.streams = d.streams[:0]
	for _, e := range entries {
		info := media.StreamInfo{
			Index:    len(d.streams),
			Kind:     e.kind,
			Codec:    e.codec,
			TimeBase: media.TimeBase90kHz,
		}
		if e.kind == media.StreamVideo {
			info.PixelFormat = media.PixelFormatYUV420P
		} else {
			info.SampleRate = 48000
			info.Channels = 2
			info.SampleFormat = media.SampleFormatS16
		}
		d.streams = append(d.streams, info)
	}
	for i, e := range entries {
		s := &esStream{pid: e.pid, index: i, info: &d.streams[i], lastPTS: -1}
		d.es[e.pid] = s
		d.order = append(d.order, s)
	}
	d.log.WithField("streams", len(d.streams)).Debug("Parsed PMT")
}

// complete moves the assembled payload of s to the output queue.
func (d *tsDemuxer) complete(s *esStream) {
	if len(s.buf) == 0 {
		s.reset()
		return
	}
	var data []byte
	if n := len(d.free); n > 0 {
		data = d.free[n-1][:0]
		d.free = d.free[:n-1]
	}
	data = append(data, s.buf...)
	key := s.keyframe
	if s.info.Codec == media.CodecH264 {
		key = key || h264Keyframe(data)
	} else if s.info.Kind == media.StreamAudio {
		key = true
	}
	d.queue = append(d.queue, pesUnit{stream: s, data: data, pts: s.pts, dts: s.dts, keyframe: key})
	s.units++
	s.reset()
}

// flush completes every partially assembled PES.
func (d *tsDemuxer) flush() {
	for _, s := range d.order {
		if s.active {
			d.complete(s)
		}
	}
}

// discard drops assembly state and queued units, keeping the program.
func (d *tsDemuxer) discard() {
	for _, u := range d.queue {
		d.free = append(d.free, u.data)
	}
	d.queue = d.queue[:0]
	for _, s := range d.es {
		s.reset()
	}
}

// ReadPacket returns the next completed PES payload.
func (d *tsDemuxer) ReadPacket(pkt *media.Packet) error {
	for len(d.queue) == 0 {
		raw, err := d.scan.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.flush()
				if len(d.queue) == 0 {
					return ErrEOF
				}
				break
			}
			return err
		}
		d.feed(raw)
	}

	u := d.queue[0]
	d.queue = d.queue[1:]
	pkt.SetData(u.data)
	pkt.Kind = u.stream.info.Kind
	pkt.StreamIndex = u.stream.index
	pkt.PTS = u.pts
	pkt.DTS = u.dts
	pkt.Keyframe = u.keyframe
	d.free = append(d.free, u.data)
	return nil
}
