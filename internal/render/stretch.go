package render

import (
	"encoding/binary"
	"math"
)

const stretchFrame = 1024

// Stretcher changes the tempo of S16LE stereo audio without changing its
// pitch. Analysis frames are Hann windowed and overlap-added at half-frame
// synthesis hops; the analysis hop is the synthesis hop scaled by tempo.
type Stretcher struct {
	tempo  float64
	hop    int
	window []float32

	in    []float32
	inPos float64
	tail  []float32
	seg   []float32
	out   []byte
}

// NewStretcher creates a stretcher for tempo (1.0 = unchanged).
func NewStretcher(tempo float64) *Stretcher {
	s := &Stretcher{
		hop:    stretchFrame / 2,
		window: make([]float32, stretchFrame),
		tail:   make([]float32, stretchFrame),
		seg:    make([]float32, stretchFrame*2),
	}
	for i := range s.window {
		s.window[i] = float32(0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/stretchFrame))
	}
	s.SetTempo(tempo)
	return s
}

// SetTempo changes the tempo for subsequent input.
func (s *Stretcher) SetTempo(tempo float64) {
	if tempo <= 0 {
		tempo = 1
	}
	s.tempo = tempo
}

// Tempo returns the current tempo.
func (s *Stretcher) Tempo() float64 { return s.tempo }

// Process consumes pcm and returns whatever output is ready. The returned
// slice is reused by the next call.
func (s *Stretcher) Process(pcm []byte) []byte {
	for i := 0; i+1 < len(pcm); i += 2 {
		s.in = append(s.in, float32(int16(binary.LittleEndian.Uint16(pcm[i:]))))
	}

	s.out = s.out[:0]
	frames := len(s.in) / 2
	for int(s.inPos)+stretchFrame <= frames {
		start := int(s.inPos) * 2
		for i := 0; i < stretchFrame; i++ {
			w := s.window[i]
			s.seg[i*2] = s.in[start+i*2] * w
			s.seg[i*2+1] = s.in[start+i*2+1] * w
		}
		for i := 0; i < s.hop*2; i++ {
			v := int32(s.seg[i] + s.tail[i])
			v = min(max(v, -0x8000), 0x7fff)
			s.out = binary.LittleEndian.AppendUint16(s.out, uint16(int16(v)))
		}
		copy(s.tail, s.seg[s.hop*2:])
		s.inPos += float64(s.hop) * s.tempo
	}

	if drop := int(s.inPos); drop > 0 {
		drop = min(drop, frames)
		s.in = append(s.in[:0], s.in[drop*2:]...)
		s.inPos -= float64(drop)
	}
	return s.out
}

// Reset drops buffered input and overlap state.
func (s *Stretcher) Reset() {
	s.in = s.in[:0]
	s.inPos = 0
	clear(s.tail)
}
