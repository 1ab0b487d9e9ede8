package media

// PixelFormat identifies the memory layout of a video frame.
type PixelFormat int

const (
	PixelFormatNone PixelFormat = iota - 1
	PixelFormatYUV420P
	PixelFormatNV12
	PixelFormatNV21
	PixelFormatRGBA
	PixelFormatBGRA
	PixelFormatRGB565
)

// String returns the string representation of PixelFormat
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatYUV420P:
		return "yuv420p"
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatNV21:
		return "nv21"
	case PixelFormatRGBA:
		return "rgba"
	case PixelFormatBGRA:
		return "bgra"
	case PixelFormatRGB565:
		return "rgb565"
	default:
		return "none"
	}
}

// SampleFormat identifies the encoding of audio samples.
type SampleFormat int

const (
	SampleFormatNone SampleFormat = iota - 1
	SampleFormatS16
	SampleFormatS16P
	SampleFormatF32
	SampleFormatF32P
)

// Planar reports whether each channel lives in its own plane.
func (f SampleFormat) Planar() bool {
	return f == SampleFormatS16P || f == SampleFormatF32P
}

// BytesPerSample returns the size of one sample of one channel.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleFormatS16, SampleFormatS16P:
		return 2
	case SampleFormatF32, SampleFormatF32P:
		return 4
	default:
		return 0
	}
}

// String returns the string representation of SampleFormat
func (f SampleFormat) String() string {
	switch f {
	case SampleFormatS16:
		return "s16"
	case SampleFormatS16P:
		return "s16p"
	case SampleFormatF32:
		return "flt"
	case SampleFormatF32P:
		return "fltp"
	default:
		return "none"
	}
}

// Frame is a decoded unit handed from a decoder to the render engine.
type Frame interface {
	Kind() StreamKind
	Timestamp() int64
}

// AudioFrame holds decoded samples. For packed formats Data has one entry;
// for planar formats one entry per channel.
type AudioFrame struct {
	Data       [][]byte
	Samples    int
	Format     SampleFormat
	SampleRate int
	Channels   int
	PTS        int64
}

// Kind implements Frame
func (f *AudioFrame) Kind() StreamKind { return StreamAudio }

// Timestamp implements Frame
func (f *AudioFrame) Timestamp() int64 { return f.PTS }

// VideoFrame holds decoded pixel planes.
type VideoFrame struct {
	Planes [][]byte
	Stride []int
	Width  int
	Height int
	Format PixelFormat
	PTS    int64
}

// Kind implements Frame
func (f *VideoFrame) Kind() StreamKind { return StreamVideo }

// Timestamp implements Frame
func (f *VideoFrame) Timestamp() int64 { return f.PTS }

// NewVideoFrame allocates tightly packed planes for the given geometry.
func NewVideoFrame(w, h int, format PixelFormat) *VideoFrame {
	f := &VideoFrame{Width: w, Height: h, Format: format, PTS: NoPTS}
	cw, ch := (w+1)/2, (h+1)/2
	switch format {
	case PixelFormatYUV420P:
		f.Stride = []int{w, cw, cw}
		f.Planes = [][]byte{make([]byte, w*h), make([]byte, cw*ch), make([]byte, cw*ch)}
	case PixelFormatNV12, PixelFormatNV21:
		f.Stride = []int{w, cw * 2}
		f.Planes = [][]byte{make([]byte, w*h), make([]byte, cw*2*ch)}
	case PixelFormatRGB565:
		f.Stride = []int{w * 2}
		f.Planes = [][]byte{make([]byte, w*2*h)}
	default:
		f.Stride = []int{w * 4}
		f.Planes = [][]byte{make([]byte, w*4*h)}
	}
	return f
}

// FrameSize returns the number of bytes a tightly packed frame occupies.
func FrameSize(w, h int, format PixelFormat) int {
	cw, ch := (w+1)/2, (h+1)/2
	switch format {
	case PixelFormatYUV420P:
		return w*h + 2*cw*ch
	case PixelFormatNV12, PixelFormatNV21:
		return w*h + cw*2*ch
	case PixelFormatRGB565:
		return w * h * 2
	case PixelFormatRGBA, PixelFormatBGRA:
		return w * h * 4
	default:
		return 0
	}
}
