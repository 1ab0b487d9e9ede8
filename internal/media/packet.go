package media

// StreamKind tags which logical queue a packet belongs to.
type StreamKind uint8

const (
	StreamOther StreamKind = iota
	StreamAudio
	StreamVideo
	StreamSubtitle
)

// String returns the string representation of StreamKind
func (k StreamKind) String() string {
	switch k {
	case StreamAudio:
		return "audio"
	case StreamVideo:
		return "video"
	case StreamSubtitle:
		return "subtitle"
	default:
		return "other"
	}
}

// NoPTS marks a missing timestamp.
const NoPTS int64 = -1 << 63

// Packet is an encoded unit of media. Slots are owned by the packet pool and
// handed to exactly one stage at a time; Data is re-sliced on reuse so the
// backing array survives recycling.
type Packet struct {
	Data        []byte
	Kind        StreamKind
	StreamIndex int
	PTS         int64
	DTS         int64
	Keyframe    bool
}

// Size returns the payload size in bytes.
func (p *Packet) Size() int {
	return len(p.Data)
}

// SetData copies b into the packet, reusing the existing backing array when
// it is large enough.
func (p *Packet) SetData(b []byte) {
	if cap(p.Data) < len(b) {
		p.Data = make([]byte, len(b))
	}
	p.Data = p.Data[:len(b)]
	copy(p.Data, b)
}

// Unref drops the payload and resets metadata. Large backing arrays are
// released so a single oversized packet does not pin memory forever.
func (p *Packet) Unref() {
	if cap(p.Data) > maxRetainedPayload {
		p.Data = nil
	} else {
		p.Data = p.Data[:0]
	}
	p.Kind = StreamOther
	p.StreamIndex = -1
	p.PTS = NoPTS
	p.DTS = NoPTS
	p.Keyframe = false
}

const maxRetainedPayload = 1 << 20

// StreamInfo describes one elementary stream exposed by a demuxer.
type StreamInfo struct {
	Index    int
	Kind     StreamKind
	Codec    CodecType
	TimeBase Rational

	// Video
	Width       int
	Height      int
	PixelFormat PixelFormat
	FrameRate   Rational

	// Audio
	SampleRate   int
	Channels     int
	SampleFormat SampleFormat

	// Extradata carries codec configuration (SPS/PPS, OpusHead, ...).
	Extradata []byte
}
