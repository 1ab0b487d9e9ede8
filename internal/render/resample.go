package render

import (
	"encoding/binary"
	"math"

	"github.com/zsiec/playback/internal/device"
	"github.com/zsiec/playback/internal/media"
)

type stereo [2]float32

// Resampler converts decoded audio of any supported sample format, rate and
// channel count into interleaved S16LE stereo at a fixed output rate using
// linear interpolation. Fractional position and the last input sample carry
// over between calls.
type Resampler struct {
	srcFormat media.SampleFormat
	srcRate   int
	srcCh     int
	dstRate   int

	step    float64
	pos     float64
	prev    stereo
	hasPrev bool

	in  []stereo
	out []byte
}

// NewResampler creates a resampler from the given source layout to dstRate.
func NewResampler(format media.SampleFormat, rate, channels, dstRate int) *Resampler {
	rate = max(rate, 1)
	dstRate = max(dstRate, 1)
	return &Resampler{
		srcFormat: format,
		srcRate:   rate,
		srcCh:     max(channels, 1),
		dstRate:   dstRate,
		step:      float64(rate) / float64(dstRate),
	}
}

// Matches reports whether the resampler was built for this source layout and
// output rate.
func (r *Resampler) Matches(f *media.AudioFrame, dstRate int) bool {
	return r.srcFormat == f.Format && r.srcRate == f.SampleRate &&
		r.srcCh == max(f.Channels, 1) && r.dstRate == dstRate
}

// OutputRate returns the rate samples are produced at.
func (r *Resampler) OutputRate() int { return r.dstRate }

// Convert resamples one frame. The returned slice is reused by the next
// call.
func (r *Resampler) Convert(f *media.AudioFrame) []byte {
	r.in = r.in[:0]
	if r.hasPrev {
		r.in = append(r.in, r.prev)
	}
	for i := 0; i < f.Samples; i++ {
		s, ok := r.sample(f, i)
		if !ok {
			break
		}
		r.in = append(r.in, s)
	}

	r.out = r.out[:0]
	if len(r.in) < 2 {
		if len(r.in) == 1 {
			r.prev, r.hasPrev = r.in[0], true
		}
		return r.out
	}

	last := float64(len(r.in) - 1)
	for r.pos < last {
		i := int(r.pos)
		frac := float32(r.pos - float64(i))
		a, b := r.in[i], r.in[i+1]
		r.out = appendS16(r.out, a[0]+(b[0]-a[0])*frac)
		r.out = appendS16(r.out, a[1]+(b[1]-a[1])*frac)
		r.pos += r.step
	}
	r.pos -= last
	r.prev, r.hasPrev = r.in[len(r.in)-1], true
	return r.out
}

// sample reads input frame i as stereo. Mono is duplicated; channels past
// the second are ignored.
func (r *Resampler) sample(f *media.AudioFrame, i int) (stereo, bool) {
	ch := max(f.Channels, 1)
	var s stereo
	for c := 0; c < min(ch, 2); c++ {
		v, ok := readSample(f, i, c, ch)
		if !ok {
			return s, false
		}
		s[c] = v
	}
	if ch == 1 {
		s[1] = s[0]
	}
	return s, true
}

func readSample(f *media.AudioFrame, i, c, channels int) (float32, bool) {
	bps := f.Format.BytesPerSample()
	if bps == 0 {
		return 0, false
	}
	plane, off := 0, (i*channels+c)*bps
	if f.Format.Planar() {
		plane, off = c, i*bps
	}
	if plane >= len(f.Data) || off+bps > len(f.Data[plane]) {
		return 0, false
	}
	b := f.Data[plane][off:]
	switch f.Format {
	case media.SampleFormatS16, media.SampleFormatS16P:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768, true
	case media.SampleFormatF32, media.SampleFormatF32P:
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), true
	}
	return 0, false
}

func appendS16(dst []byte, v float32) []byte {
	s := int32(v * 32768)
	s = min(max(s, -0x8000), 0x7fff)
	return binary.LittleEndian.AppendUint16(dst, uint16(int16(s)))
}

// outputRate returns the device-side rate the resampler targets for a speed
// setting. Resample-based speed changes the rate; pitch-preserving speed
// keeps the device rate and stretches afterwards.
func outputRate(speedType media.SpeedType, speed int) int {
	if speedType == media.SpeedPitchPreserving || speed <= 0 {
		return device.SampleRate
	}
	return int(float64(device.SampleRate) * 100 / float64(speed))
}
