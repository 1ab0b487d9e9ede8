package media

// CodecType represents supported video/audio codecs
type CodecType uint8

const (
	CodecUnknown CodecType = iota
	CodecH264
	CodecHEVC
	CodecAV1
	CodecMPEG2Video
	CodecRawVideo
	// Audio codecs
	CodecAAC
	CodecOpus
	CodecMP2
	CodecAC3
	CodecPCMS16LE
)

// String returns the string representation of CodecType
func (c CodecType) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecHEVC:
		return "hevc"
	case CodecAV1:
		return "av1"
	case CodecMPEG2Video:
		return "mpeg2video"
	case CodecRawVideo:
		return "rawvideo"
	case CodecAAC:
		return "aac"
	case CodecOpus:
		return "opus"
	case CodecMP2:
		return "mp2"
	case CodecAC3:
		return "ac3"
	case CodecPCMS16LE:
		return "pcm_s16le"
	default:
		return "unknown"
	}
}

// IsVideo returns true if this is a video codec
func (c CodecType) IsVideo() bool {
	switch c {
	case CodecH264, CodecHEVC, CodecAV1, CodecMPEG2Video, CodecRawVideo:
		return true
	}
	return false
}

// IsAudio returns true if this is an audio codec
func (c CodecType) IsAudio() bool {
	switch c {
	case CodecAAC, CodecOpus, CodecMP2, CodecAC3, CodecPCMS16LE:
		return true
	}
	return false
}

// ParseCodec maps a codec name back to its CodecType.
func ParseCodec(name string) CodecType {
	for c := CodecH264; c <= CodecPCMS16LE; c++ {
		if c.String() == name {
			return c
		}
	}
	return CodecUnknown
}
