package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zsiec/playback/internal/config"
	"github.com/zsiec/playback/internal/media"
)

func packet(data []byte, pts int64) *media.Packet {
	return &media.Packet{Data: data, PTS: pts, DTS: pts}
}

func TestNewFactory(t *testing.T) {
	params := config.DefaultPlayerConfig()

	tests := []struct {
		name string
		info media.StreamInfo
		want any
		err  error
	}{
		{"opus", media.StreamInfo{Codec: media.CodecOpus}, &Opus{}, nil},
		{"pcm", media.StreamInfo{Codec: media.CodecPCMS16LE, SampleRate: 48000, Channels: 2}, &PCM{}, nil},
		{"pcm without layout", media.StreamInfo{Codec: media.CodecPCMS16LE}, nil, ErrInvalidData},
		{"rawvideo", media.StreamInfo{Codec: media.CodecRawVideo, Width: 4, Height: 4, PixelFormat: media.PixelFormatRGBA}, &RawVideo{}, nil},
		{"h264", media.StreamInfo{Codec: media.CodecH264, Width: 1280, Height: 720}, &Timing{}, nil},
		{"hevc", media.StreamInfo{Codec: media.CodecHEVC}, &Timing{}, nil},
		{"aac", media.StreamInfo{Codec: media.CodecAAC, SampleRate: 44100, Channels: 2}, &Silence{}, nil},
		{"unknown", media.StreamInfo{Codec: media.CodecUnknown}, nil, ErrUnsupportedCodec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := New(tt.info, &params, nil)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, dec)
			assert.NoError(t, dec.Close())
		})
	}
}

func TestOptionsFromParams(t *testing.T) {
	assert.Equal(t, Options{Threads: 1}, OptionsFromParams(nil))

	p := config.DefaultPlayerConfig()
	p.VideoThreadCount = 4
	p.VideoHWAccel = true
	assert.Equal(t, Options{Threads: 4, HWAccel: true}, OptionsFromParams(&p))
}

func TestPCMSendReceive(t *testing.T) {
	dec, err := NewPCM(media.StreamInfo{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)

	_, err = dec.Receive()
	assert.ErrorIs(t, err, ErrAgain)

	payload := []byte{1, 0, 2, 0, 3, 0, 4, 0, 9}
	require.NoError(t, dec.Send(packet(payload, 1000)))
	assert.ErrorIs(t, dec.Send(packet(payload, 1020)), ErrAgain, "pending frame must be received first")

	// caller reuses its buffer
	payload[0] = 0xff

	f, err := dec.Receive()
	require.NoError(t, err)
	af := f.(*media.AudioFrame)
	assert.Equal(t, 2, af.Samples)
	assert.Equal(t, int64(1000), af.PTS)
	assert.Equal(t, byte(1), af.Data[0][0])
	assert.Len(t, af.Data[0], 8)

	_, err = dec.Receive()
	assert.ErrorIs(t, err, ErrAgain)

	assert.ErrorIs(t, dec.Send(packet([]byte{1}, 0)), ErrInvalidData)
}

func TestRawVideo(t *testing.T) {
	dec, err := NewRawVideo(media.StreamInfo{Width: 2, Height: 2, PixelFormat: media.PixelFormatYUV420P})
	require.NoError(t, err)

	assert.ErrorIs(t, dec.Send(packet(make([]byte, 3), 0)), ErrInvalidData)

	require.NoError(t, dec.Send(packet([]byte{1, 2, 3, 4, 5, 6}, 40)))
	f, err := dec.Receive()
	require.NoError(t, err)
	vf := f.(*media.VideoFrame)
	assert.Equal(t, []byte{1, 2, 3, 4}, vf.Planes[0])
	assert.Equal(t, []byte{5}, vf.Planes[1])
	assert.Equal(t, []byte{6}, vf.Planes[2])
	assert.Equal(t, int64(40), vf.PTS)

	_, err = NewRawVideo(media.StreamInfo{PixelFormat: media.PixelFormatRGBA})
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestTimingDecoder(t *testing.T) {
	dec, err := NewTiming(media.StreamInfo{})
	require.NoError(t, err)

	pkt := packet([]byte{0, 0, 1}, media.NoPTS)
	pkt.DTS = 3600
	require.NoError(t, dec.Send(pkt))
	f, err := dec.Receive()
	require.NoError(t, err)

	vf := f.(*media.VideoFrame)
	assert.Equal(t, defaultTimingWidth, vf.Width)
	assert.Equal(t, defaultTimingHeight, vf.Height)
	assert.Equal(t, int64(3600), vf.PTS, "falls back to dts")
	assert.Equal(t, byte(16), vf.Planes[0][0])
	assert.Equal(t, byte(128), vf.Planes[1][0])
}

func TestSilenceDecoder(t *testing.T) {
	tests := []struct {
		codec   media.CodecType
		samples int
	}{
		{media.CodecAAC, 1024},
		{media.CodecMP2, 1152},
		{media.CodecAC3, 1536},
	}
	for _, tt := range tests {
		dec, err := NewSilence(media.StreamInfo{Codec: tt.codec, Channels: 1})
		require.NoError(t, err)
		require.NoError(t, dec.Send(packet([]byte{0xff}, 90000)))
		f, err := dec.Receive()
		require.NoError(t, err)
		af := f.(*media.AudioFrame)
		assert.Equal(t, tt.samples, af.Samples, tt.codec.String())
		assert.Equal(t, 48000, af.SampleRate)
		assert.Len(t, af.Data[0], tt.samples*2)
	}
}

func TestFlushAndClose(t *testing.T) {
	dec, err := NewTiming(media.StreamInfo{Width: 16, Height: 16})
	require.NoError(t, err)

	require.NoError(t, dec.Send(packet(nil, 0)))
	dec.Flush()
	_, err = dec.Receive()
	assert.ErrorIs(t, err, ErrAgain)

	require.NoError(t, dec.Close())
	assert.ErrorIs(t, dec.Send(packet(nil, 0)), ErrClosed)
	_, err = dec.Receive()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpusPacketDuration(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want int
	}{
		{"empty", nil, 0},
		{"silk wb 20ms", []byte{9 << 3}, 200},
		{"celt fb 20ms", []byte{31 << 3}, 200},
		{"celt nb 2.5ms", []byte{16 << 3}, 25},
		{"two frames", []byte{1<<3 | 1}, 400},
		{"arbitrary count", []byte{3<<3 | 3, 2}, 1200},
		{"arbitrary count too long", []byte{3<<3 | 3, 3}, 0},
		{"arbitrary count missing", []byte{3<<3 | 3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, opusPacketDuration(tt.data))
		})
	}
}

func TestOpusRejectsEmptyPacket(t *testing.T) {
	dec, err := NewOpus(media.StreamInfo{Codec: media.CodecOpus})
	require.NoError(t, err)
	assert.ErrorIs(t, dec.Send(packet(nil, 0)), ErrInvalidData)
	_, err = dec.Receive()
	assert.ErrorIs(t, err, ErrAgain)
}
