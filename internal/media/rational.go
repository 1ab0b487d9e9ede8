package media

// Rational represents a rational number (used for timebases and frame rates)
type Rational struct {
	Num int // Numerator
	Den int // Denominator
}

// NewRational creates a new rational number
func NewRational(num, den int) Rational {
	if den == 0 {
		den = 1
	}
	return Rational{Num: num, Den: den}
}

// Float64 returns the floating point representation
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Valid reports whether both terms are positive.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Invert returns the inverted rational (den/num)
func (r Rational) Invert() Rational {
	return Rational{Num: r.Den, Den: r.Num}
}

// Rescale converts v expressed in timebase from into timebase to, rounding
// to nearest. Intermediate math is done in 128 bits worth of headroom by
// splitting the multiplication so 33-bit MPEG timestamps never overflow.
func Rescale(v int64, from, to Rational) int64 {
	if !from.Valid() || !to.Valid() {
		return v
	}
	num := int64(from.Num) * int64(to.Den)
	den := int64(from.Den) * int64(to.Num)
	q := v / den
	r := v % den
	return q*num + (r*num+den/2)/den
}

// ToMillis converts a timestamp in timebase tb to milliseconds.
func ToMillis(v int64, tb Rational) int64 {
	return Rescale(v, tb, TimeBaseMillis)
}

// FromMillis converts milliseconds to timebase tb.
func FromMillis(ms int64, tb Rational) int64 {
	return Rescale(ms, TimeBaseMillis, tb)
}

// FrameDuration returns the duration of one frame in milliseconds for the
// given frame rate, or def when the rate is unknown.
func FrameDuration(rate Rational, def int64) int64 {
	if !rate.Valid() {
		return def
	}
	return int64(rate.Den) * 1000 / int64(rate.Num)
}

// Common time bases
var (
	TimeBase90kHz  = Rational{Num: 1, Den: 90000} // MPEG-TS / RTP video
	TimeBaseMillis = Rational{Num: 1, Den: 1000}  // session timeline
	TimeBase48kHz  = Rational{Num: 1, Den: 48000} // Opus / device output

	FrameRate25 = Rational{Num: 25, Den: 1}
	FrameRate30 = Rational{Num: 30, Den: 1}
)
