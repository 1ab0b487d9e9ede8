package source

import (
	"bytes"
)

// tsMuxer writes a minimal single-program transport stream for tests.
type tsMuxer struct {
	buf bytes.Buffer
	cc  map[uint16]uint8
}

type tsTestStream struct {
	pid        uint16
	streamType uint8
	desc       []byte
}

func newTSMuxer() *tsMuxer {
	return &tsMuxer{cc: make(map[uint16]uint8)}
}

// packet writes one transport packet carrying as much of payload as fits,
// stuffing through the adaptation field, and returns the bytes consumed.
func (m *tsMuxer) packet(pid uint16, pusi, rai bool, payload []byte) int {
	pkt := make([]byte, PacketSize)
	pkt[0] = SyncByte
	pkt[1] = byte(pid>>8) & 0x1f
	if pusi {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)
	cc := m.cc[pid]
	m.cc[pid] = (cc + 1) & 0x0f

	n := len(payload)
	afLen := -1
	if rai {
		afLen = 1
	}
	room := 184
	if afLen >= 0 {
		room -= afLen + 1
	}
	if n < room {
		if afLen < 0 {
			afLen = 0
			room--
		}
		if n < room {
			afLen += room - n
			room = n
		}
	}
	n = min(n, room)

	hdr := 4
	if afLen >= 0 {
		pkt[3] = 0x30 | cc
		pkt[4] = byte(afLen)
		if afLen > 0 {
			if rai {
				pkt[5] = 0x40
			}
			for i := 6; i < 5+afLen; i++ {
				pkt[i] = 0xff
			}
		}
		hdr = 5 + afLen
	} else {
		pkt[3] = 0x10 | cc
	}
	copy(pkt[hdr:], payload[:n])
	m.buf.Write(pkt)
	return n
}

func (m *tsMuxer) psi(pid uint16, section []byte) {
	payload := append([]byte{0x00}, section...)
	m.packet(pid, true, false, payload)
}

func (m *tsMuxer) writePAT(pmtPID uint16) {
	m.psi(pidPAT, []byte{
		0x00, 0xB0, 13,
		0x00, 0x01, 0xC1, 0x00, 0x00,
		0x00, 0x01, 0xE0 | byte(pmtPID>>8), byte(pmtPID),
		0, 0, 0, 0,
	})
}

func (m *tsMuxer) writePMT(pmtPID, pcrPID uint16, streams []tsTestStream) {
	var es []byte
	for _, s := range streams {
		es = append(es, s.streamType, 0xE0|byte(s.pid>>8), byte(s.pid), 0xF0|byte(len(s.desc)>>8), byte(len(s.desc)))
		es = append(es, s.desc...)
	}
	length := 9 + len(es) + 4
	section := []byte{
		0x02, 0xB0 | byte(length>>8), byte(length),
		0x00, 0x01, 0xC1, 0x00, 0x00,
		0xE0 | byte(pcrPID>>8), byte(pcrPID), 0xF0, 0x00,
	}
	section = append(section, es...)
	section = append(section, 0, 0, 0, 0)
	m.psi(pmtPID, section)
}

func encodePTS(pts int64) []byte {
	return []byte{
		0x21 | byte((pts>>29)&0x0E),
		byte(pts >> 22),
		byte((pts>>14)&0xFE) | 1,
		byte(pts >> 7),
		byte(pts<<1) | 1,
	}
}

// writePES packetizes one PES. Unbounded PES (video) carry a zero length.
func (m *tsMuxer) writePES(pid uint16, streamID byte, pts int64, data []byte, bounded, rai bool) {
	pes := []byte{0x00, 0x00, 0x01, streamID, 0, 0, 0x80, 0x80, 0x05}
	pes = append(pes, encodePTS(pts)...)
	if bounded {
		n := 3 + 5 + len(data)
		pes[4], pes[5] = byte(n>>8), byte(n)
	}
	pes = append(pes, data...)

	first := true
	for len(pes) > 0 {
		n := m.packet(pid, first, first && rai, pes)
		pes = pes[n:]
		first = false
	}
}

func (m *tsMuxer) Bytes() []byte { return m.buf.Bytes() }

// testSPS is a baseline profile SPS for 1280x720.
var testSPS = []byte{0x67, 0x42, 0x00, 0x1f, 0xF4, 0x02, 0x80, 0x2D, 0xC8}

func testAccessUnit(key bool, size int) []byte {
	var au []byte
	if key {
		au = appendNALU(au, testSPS)
		au = appendNALU(au, append([]byte{0x65, 0x88, 0x84}, bytes.Repeat([]byte{0xAA}, size)...))
	} else {
		au = appendNALU(au, append([]byte{0x41, 0x9A, 0x02}, bytes.Repeat([]byte{0x55}, size)...))
	}
	return au
}

var opusRegistration = []byte{0x05, 0x04, 'O', 'p', 'u', 's'}

const (
	testPMTPID   = 0x1000
	testVideoPID = 0x100
	testAudioPID = 0x101
)

// buildTestTS writes frames video access units 40ms apart starting at 1s,
// interleaved with one Opus packet each, with an IDR every gop frames.
func buildTestTS(frames, gop, size int) []byte {
	m := newTSMuxer()
	m.writePAT(testPMTPID)
	m.writePMT(testPMTPID, testVideoPID, []tsTestStream{
		{pid: testVideoPID, streamType: 0x1B},
		{pid: testAudioPID, streamType: 0x06, desc: opusRegistration},
	})
	for i := 0; i < frames; i++ {
		pts := int64(90000 + i*3600)
		key := i%gop == 0
		m.writePES(testVideoPID, 0xE0, pts, testAccessUnit(key, size), false, key)
		m.writePES(testAudioPID, 0xBD, pts, []byte{0xFC, 0xFF, 0xFE}, true, false)
	}
	return m.Bytes()
}
